package extract

import (
	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/internal/model"
)

// StrategyInput carries the signals the strategy chain selects on.
type StrategyInput struct {
	CaptionLen    int
	HasImage      bool
	OCRText       string
	OCRConfidence float64
}

// Strategy is one entry in the ordered extraction-strategy chain. The first
// strategy whose predicate holds is used; its method tag is recorded on the
// resulting candidate.
type Strategy struct {
	Method  model.ExtractionMethod
	Applies func(in StrategyInput) bool
}

// DefaultStrategies returns the strategy chain, in selection order:
//  1. vision — image present and the caption is too short to carry the event
//  2. ocr_ai — image present and a prior OCR pass produced usable text
//  3. vision — image present but OCR was low-confidence or too short
//  4. ai — caption-only fallback, always applicable
func DefaultStrategies(ocrCfg config.OCRConfig, shortCaptionLen int) []Strategy {
	return []Strategy{
		{
			Method: model.MethodVision,
			Applies: func(in StrategyInput) bool {
				return in.HasImage && in.CaptionLen < shortCaptionLen
			},
		},
		{
			Method: model.MethodOCRAI,
			Applies: func(in StrategyInput) bool {
				return in.HasImage &&
					len(in.OCRText) >= ocrCfg.MinTextLen &&
					in.OCRConfidence >= ocrCfg.MinConfidence
			},
		},
		{
			Method: model.MethodVision,
			Applies: func(in StrategyInput) bool {
				return in.HasImage
			},
		},
		{
			Method:  model.MethodAI,
			Applies: func(in StrategyInput) bool { return true },
		},
	}
}

// OCRCouldDecide reports whether an OCR pass can still influence selection:
// true when an ocr_ai entry precedes the first strategy that already applies
// to the OCR-less input.
func OCRCouldDecide(chain []Strategy, in StrategyInput) bool {
	for _, s := range chain {
		if s.Method == model.MethodOCRAI {
			return true
		}
		if s.Applies(in) {
			return false
		}
	}
	return false
}

// SelectStrategy walks the chain and returns the first applicable method.
func SelectStrategy(chain []Strategy, in StrategyInput) model.ExtractionMethod {
	for _, s := range chain {
		if s.Applies(in) {
			return s.Method
		}
	}
	return model.MethodAI
}
