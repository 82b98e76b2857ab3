package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/gigmap/extract-cli/internal/extract"
	"github.com/gigmap/extract-cli/internal/fetch"
	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/ocr"
	"github.com/gigmap/extract-cli/internal/pipeline"
	"github.com/gigmap/extract-cli/internal/resilience"
	"github.com/gigmap/extract-cli/internal/store"
	"github.com/gigmap/extract-cli/pkg/anthropic"
)

// env bundles the long-lived collaborators a command needs.
type env struct {
	Store  store.Store
	Client anthropic.Client
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the configured store, runs migrations, and builds the model
// client.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		OnStateChange: resilience.BreakerLogger("anthropic"),
	})
	return &env{
		Store:  st,
		Client: anthropic.WithBreaker(anthropic.NewClient(cfg.Anthropic.Key), breaker),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildPipeline assembles one pipeline over a fresh pattern snapshot.
func buildPipeline(ctx context.Context, e *env) (*pipeline.Pipeline, error) {
	regex, err := extract.NewRegexExtractor(ctx, e.Store)
	if err != nil {
		return nil, eris.Wrap(err, "load pattern snapshot")
	}
	reader, err := ocr.NewReader(cfg.OCR, e.Client, cfg.Anthropic.VisionModel)
	if err != nil {
		return nil, err
	}
	llm := extract.NewLLMExtractor(e.Client, reader, fetch.NewImageFetcher(cfg.Fetch),
		cfg.Anthropic, cfg.OCR, cfg.Extraction)
	return pipeline.New(e.Store, regex, llm, cfg), nil
}

// loadPosts reads a JSON array of posts from a file, or stdin for "-".
func loadPosts(path string) ([]model.Post, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read posts from %s", path)
	}

	var posts []model.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, eris.Wrapf(err, "parse posts from %s", path)
	}
	return posts, nil
}
