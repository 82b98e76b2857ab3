package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/fetch"
	"github.com/gigmap/extract-cli/internal/model"
	"github.com/gigmap/extract-cli/internal/ocr"
	"github.com/gigmap/extract-cli/internal/resilience"
	"github.com/gigmap/extract-cli/pkg/anthropic"
)

// LLMExtractor extracts a structured event candidate from a post using the
// language model, choosing between caption-only, OCR-assisted, and vision
// strategies. It is the pipeline's only suspend point.
type LLMExtractor struct {
	client     anthropic.Client
	reader     ocr.Reader
	fetcher    *fetch.ImageFetcher
	anthCfg    config.AnthropicConfig
	strategies []Strategy
	now        func() time.Time
}

// LLMResult is the model path's tagged output.
type LLMResult struct {
	Extraction *Extraction
	Method     model.ExtractionMethod
	Usage      anthropic.TokenUsage
}

// NewLLMExtractor wires the model extractor.
func NewLLMExtractor(client anthropic.Client, reader ocr.Reader, fetcher *fetch.ImageFetcher,
	anthCfg config.AnthropicConfig, ocrCfg config.OCRConfig, extCfg config.ExtractionConfig) *LLMExtractor {
	return &LLMExtractor{
		client:     client,
		reader:     reader,
		fetcher:    fetcher,
		anthCfg:    anthCfg,
		strategies: DefaultStrategies(ocrCfg, extCfg.ShortCaptionLen),
		now:        time.Now,
	}
}

// WithClock overrides the extractor's clock. Tests use this to pin "today".
func (e *LLMExtractor) WithClock(now func() time.Time) *LLMExtractor {
	e.now = now
	return e
}

// Extract runs the strategy chain for one post.
func (e *LLMExtractor) Extract(ctx context.Context, post model.Post, mem Memory) (*LLMResult, error) {
	log := zap.L().With(zap.String("post_id", post.ID))

	var img *fetch.Image
	if post.ImageURL != "" && e.fetcher != nil {
		fetched, err := e.fetcher.Fetch(ctx, post.ImageURL)
		if err != nil {
			// Degraded caption-only extraction; confidence is left to the
			// model, not forced down.
			log.Warn("image fetch failed, degrading to caption-only", zap.Error(err))
		} else {
			img = fetched
		}
	}

	in := StrategyInput{
		CaptionLen: len(post.Caption),
		HasImage:   img != nil,
	}

	// OCR only runs when the chain could actually pick the ocr_ai strategy:
	// with a short caption the vision strategy wins outright.
	if img != nil && OCRCouldDecide(e.strategies, in) {
		res, err := e.reader.ReadImage(ctx, img.Data, img.MediaType)
		if err != nil {
			log.Warn("ocr failed, falling through to vision", zap.Error(err))
		} else {
			in.OCRText = res.Text()
			in.OCRConfidence = res.Confidence
		}
	}

	method := SelectStrategy(e.strategies, in)

	prompt := BuildExtractionPrompt(post.Caption, post.Timestamp, e.now(), mem, ocrTextFor(method, in))
	msg := anthropic.Message{Role: "user"}
	if method == model.MethodVision {
		msg.Blocks = append(msg.Blocks, anthropic.Block{Image: img.Data, MediaType: img.MediaType})
	}
	msg.Blocks = append(msg.Blocks, anthropic.Block{Text: prompt})

	modelID := e.anthCfg.ExtractModel
	if method == model.MethodVision {
		modelID = e.anthCfg.VisionModel
	}

	resp, err := e.call(ctx, modelID, msg, nil)
	if err != nil {
		return nil, err
	}

	usage := resp.Usage
	extraction, parseErr := ParseExtraction(resp.Text())
	if parseErr != nil {
		// One retry in a stricter decoding mode before surfacing the failure.
		log.Warn("malformed model response, retrying strict", zap.Error(parseErr))
		strict := msg
		strict.Blocks = append([]anthropic.Block{}, msg.Blocks...)
		strict.Blocks[len(strict.Blocks)-1].Text = prompt + strictRetrySuffix
		zero := 0.0
		resp, err = e.call(ctx, modelID, strict, &zero)
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)
		extraction, parseErr = ParseExtraction(resp.Text())
		if parseErr != nil {
			return nil, eris.Wrap(parseErr, "extract: model response unparsable after strict retry")
		}
	}

	usage.LogCost(modelID, "extract")

	return &LLMResult{
		Extraction: extraction,
		Method:     method,
		Usage:      usage,
	}, nil
}

func (e *LLMExtractor) call(ctx context.Context, modelID string, msg anthropic.Message, temperature *float64) (*anthropic.MessageResponse, error) {
	retry := resilience.DefaultRetryConfig()
	if e.anthCfg.MaxRetries > 0 {
		retry.MaxAttempts = e.anthCfg.MaxRetries
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")

	timeout := time.Duration(e.anthCfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return e.client.CreateMessage(callCtx, anthropic.MessageRequest{
			Model:       modelID,
			MaxTokens:   2048,
			System:      extractSystemPrompt,
			Messages:    []anthropic.Message{msg},
			Temperature: temperature,
		})
	})
}

// ocrTextFor includes OCR text in the prompt only on the ocr_ai path; the
// vision path sends the image itself.
func ocrTextFor(method model.ExtractionMethod, in StrategyInput) string {
	if method == model.MethodOCRAI {
		return in.OCRText
	}
	return ""
}
