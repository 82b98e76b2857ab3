package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gigmap/extract-cli/internal/learn"
)

var (
	synthUseGroundTruth bool
	synthUseSuggestions bool
	synthMinSamples     int
	synthMinSuccess     float64
)

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Synthesize new extraction patterns from accumulated samples",
	Long:  "Clusters pending suggestions and located ground-truth snippets by format, asks the model for one regex per cluster, and commits only candidates that replay successfully over their cluster.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		synth := learn.NewSynthesizer(e.Store, e.Client, cfg.Anthropic.SynthesisModel, cfg.Learning)
		report, err := synth.Run(ctx, learn.Options{
			UseGroundTruth:       synthUseGroundTruth,
			UseSuggestions:       synthUseSuggestions,
			MinSamplesPerCluster: synthMinSamples,
			MinSuccessRate:       synthMinSuccess,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	synthesizeCmd.Flags().BoolVar(&synthUseGroundTruth, "ground-truth", true, "include located ground-truth snippets")
	synthesizeCmd.Flags().BoolVar(&synthUseSuggestions, "suggestions", true, "include pending pattern suggestions")
	synthesizeCmd.Flags().IntVar(&synthMinSamples, "min-samples", 0, "minimum samples per cluster (default from config)")
	synthesizeCmd.Flags().Float64Var(&synthMinSuccess, "min-success", 0, "minimum replay success rate (default from config)")
	rootCmd.AddCommand(synthesizeCmd)
}
