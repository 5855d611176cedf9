package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockClient is a hand-rolled stand-in for the Client interface.
type mockClient struct {
	resp *MessageResponse
	err  error
}

func (m *mockClient) CreateMessage(_ context.Context, _ MessageRequest) (*MessageResponse, error) {
	return m.resp, m.err
}

func TestCreateMessage_MockClient(t *testing.T) {
	want := &MessageResponse{ID: "msg_1", Content: []ContentBlock{{Type: "text", Text: "hello"}}}
	c := &mockClient{resp: want}

	got, err := c.CreateMessage(context.Background(), MessageRequest{Model: "claude-haiku-4-5-20251001"})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEstimateCost_KnownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 4.80, cost, 0.001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000}
	assert.Equal(t, 0.0, u.EstimateCost("unknown-model"))
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	u := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	// write: 0.80*1.25 = 1.00, read: 0.80*0.1 = 0.08
	assert.InDelta(t, 1.08, cost, 0.001)
}
