package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/learn"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the synthesis trigger server",
	Long:  "Exposes the pattern library and the synthesis/lifecycle jobs over HTTP so a scheduler can trigger them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/patterns", func(w http.ResponseWriter, req *http.Request) {
			patterns, err := e.Store.ListPatterns(req.Context())
			if err != nil {
				zap.L().Error("list patterns failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list patterns failed"})
				return
			}
			writeJSON(w, http.StatusOK, patterns)
		})

		r.Post("/synthesize", func(w http.ResponseWriter, req *http.Request) {
			opts := learn.Options{UseGroundTruth: true, UseSuggestions: true}
			if req.Body != nil && req.ContentLength != 0 {
				var body struct {
					UseGroundTruth       *bool    `json:"useGroundTruth"`
					UseSuggestions       *bool    `json:"useSuggestions"`
					MinSamplesPerCluster int      `json:"minSamplesPerCluster"`
					MinSuccessRate       *float64 `json:"minSuccessRate"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
					return
				}
				if body.UseGroundTruth != nil {
					opts.UseGroundTruth = *body.UseGroundTruth
				}
				if body.UseSuggestions != nil {
					opts.UseSuggestions = *body.UseSuggestions
				}
				opts.MinSamplesPerCluster = body.MinSamplesPerCluster
				if body.MinSuccessRate != nil {
					opts.MinSuccessRate = *body.MinSuccessRate
				}
			}

			synth := learn.NewSynthesizer(e.Store, e.Client, cfg.Anthropic.SynthesisModel, cfg.Learning)
			report, err := synth.Run(req.Context(), opts)
			if err != nil {
				zap.L().Error("synthesis run failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "synthesis failed"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Post("/lifecycle", func(w http.ResponseWriter, req *http.Request) {
			report, err := learn.NewLifecycleManager(e.Store, cfg.Learning).Run(req.Context())
			if err != nil {
				zap.L().Error("lifecycle run failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lifecycle failed"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
