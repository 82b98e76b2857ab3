package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gigmap/extract-cli/internal/config"
	"github.com/gigmap/extract-cli/pkg/anthropic"
)

// Result is the text read from a poster image.
type Result struct {
	Lines      []string
	Confidence float64
}

// Text joins all lines into one block.
func (r *Result) Text() string {
	out := ""
	for i, l := range r.Lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Reader extracts text lines (with an overall confidence) from an image.
type Reader interface {
	ReadImage(ctx context.Context, image []byte, mediaType string) (*Result, error)
}

// NewReader creates a Reader based on config.
func NewReader(cfg config.OCRConfig, client anthropic.Client, model string) (Reader, error) {
	switch cfg.Provider {
	case "none", "":
		return &nullReader{}, nil
	case "claude":
		if client == nil {
			return nil, eris.New("ocr: claude provider requires an anthropic client")
		}
		return NewClaudeReader(client, model), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// nullReader reports no text; the strategy chain then falls through to the
// vision path for image posts.
type nullReader struct{}

func (*nullReader) ReadImage(ctx context.Context, image []byte, mediaType string) (*Result, error) {
	return &Result{}, nil
}
