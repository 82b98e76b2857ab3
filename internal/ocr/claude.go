package ocr

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gigmap/extract-cli/pkg/anthropic"
)

const ocrPrompt = `Transcribe all text visible in this image. Respond with a JSON object:
{"lines": ["..."], "confidence": 0.0-1.0}
lines holds each distinct line of text top to bottom. confidence reflects how legible the text was. If there is no text, return {"lines": [], "confidence": 1.0}. Respond with only the JSON object.`

// ClaudeReader reads poster text through a vision-capable Claude model.
type ClaudeReader struct {
	client anthropic.Client
	model  string
}

// NewClaudeReader creates a ClaudeReader.
func NewClaudeReader(client anthropic.Client, model string) *ClaudeReader {
	return &ClaudeReader{client: client, model: model}
}

func (r *ClaudeReader) ReadImage(ctx context.Context, image []byte, mediaType string) (*Result, error) {
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: 1024,
		Messages: []anthropic.Message{{
			Role: "user",
			Blocks: []anthropic.Block{
				{Image: image, MediaType: mediaType},
				{Text: ocrPrompt},
			},
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read image")
	}
	resp.Usage.LogCost(r.model, "ocr")

	text := strings.TrimSpace(resp.Text())
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var parsed struct {
		Lines      []string `json:"lines"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, eris.Wrap(err, "ocr: parse response")
	}

	return &Result{Lines: parsed.Lines, Confidence: parsed.Confidence}, nil
}
