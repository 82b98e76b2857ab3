package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "{\"isEvent\": "},
		{Type: "text", Text: "true}"},
	}}
	assert.Equal(t, `{"isEvent": true}`, resp.Text())

	assert.Empty(t, (&MessageResponse{}).Text())
}

func TestTextMessage(t *testing.T) {
	msg := TextMessage("user", "hello")
	assert.Equal(t, "user", msg.Role)
	assert.Len(t, msg.Blocks, 1)
	assert.Equal(t, "hello", msg.Blocks[0].Text)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 20}
	u.Add(TokenUsage{InputTokens: 50, OutputTokens: 5})
	assert.Equal(t, int64(150), u.InputTokens)
	assert.Equal(t, int64(25), u.OutputTokens)
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	assert.InDelta(t, 4.80, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.InDelta(t, 18.00, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("some-unknown-model"))
}

func TestToSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Blocks: []Block{
			{Image: []byte{1, 2, 3}, MediaType: "image/png"},
			{Text: "what event is on this poster?"},
		}},
		{Role: "assistant", Blocks: []Block{{Text: "ok"}}},
	})

	assert.Len(t, msgs, 2)
	assert.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}

func TestEncodeBase64(t *testing.T) {
	assert.Equal(t, "AQID", encodeBase64([]byte{1, 2, 3}))
	assert.Empty(t, encodeBase64(nil))
}
