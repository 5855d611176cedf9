package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/providers"
)

type fakeReranker struct {
	results []providers.RerankedDoc
	err     error
	calls   int
}

func (f *fakeReranker) Rerank(ctx context.Context, instruction string, documents []string, model string, topK int) ([]providers.RerankedDoc, error) {
	f.calls++
	return f.results, f.err
}

func candidates(urls ...string) []model.CandidateURL {
	out := make([]model.CandidateURL, len(urls))
	for i, u := range urls {
		out[i] = model.CandidateURL{URL: u, Host: hostOf(u)}
	}
	return out
}

func hostOf(u string) string {
	switch {
	case len(u) > 8 && u[:8] == "https://":
		u = u[8:]
	case len(u) > 7 && u[:7] == "http://":
		u = u[7:]
	}
	for i, c := range u {
		if c == '/' {
			return u[:i]
		}
	}
	return u
}

func TestGate_DropsAggregatorsWhenEnoughNonAggregators(t *testing.T) {
	t.Parallel()
	input := append(
		candidates("https://acme.com/event", "https://beta.com/event", "https://gamma.com/event", "https://delta.com/event", "https://epsilon.com/event"),
		candidates("https://eventbrite.com/e/1")...,
	)
	g := NewGate(nil, DefaultConfig())
	out, metrics := g.Run(context.Background(), input, "instruction")
	assert.Equal(t, 1, metrics.DroppedAggregators)
	assert.False(t, metrics.BackstopUsed)
	for _, c := range out {
		assert.False(t, c.IsAggregator())
	}
}

func TestGate_BackstopsAggregatorsWhenTooFewNonAggregators(t *testing.T) {
	t.Parallel()
	input := append(
		candidates("https://acme.com/event"),
		candidates("https://eventbrite.com/e/1", "https://10times.com/e/2", "https://meetup.com/e/3", "https://cvent.com/e/4")...,
	)
	cfg := DefaultConfig()
	cfg.MinNonAggregatorURLs = 5
	cfg.MaxBackstopAggregators = 2
	g := NewGate(nil, cfg)
	out, metrics := g.Run(context.Background(), input, "instruction")
	assert.True(t, metrics.BackstopUsed)
	assert.Equal(t, 2, metrics.DroppedAggregators)
	assert.Len(t, out, 3) // 1 non-aggregator + 2 backstopped aggregators
}

func TestGate_TruncatesToMaxVoyageDocs(t *testing.T) {
	t.Parallel()
	urls := make([]string, 50)
	for i := range urls {
		urls[i] = fakeURL(i)
	}
	cfg := DefaultConfig()
	cfg.MaxVoyageDocs = 10
	cfg.TopK = 100
	g := NewGate(nil, cfg)
	out, _ := g.Run(context.Background(), candidates(urls...), "instruction")
	assert.LessOrEqual(t, len(out), 10)
}

func fakeURL(i int) string {
	return "https://site" + string(rune('a'+i%26)) + ".com/event"
}

func TestGate_AppliesRerankerScoresByIndex(t *testing.T) {
	t.Parallel()
	input := candidates("https://acme.com/event", "https://beta.com/event")
	reranker := &fakeReranker{results: []providers.RerankedDoc{
		{Index: 1, RelevanceScore: 0.9},
		{Index: 0, RelevanceScore: 0.1},
	}}
	g := NewGate(reranker, DefaultConfig())
	out, _ := g.Run(context.Background(), input, "instruction")
	require.Len(t, out, 2)
	assert.Equal(t, "https://beta.com/event", out[0].URL)
	assert.Equal(t, 1, reranker.calls)
}

func TestGate_SkipsRerankWhenNilReranker(t *testing.T) {
	t.Parallel()
	input := candidates("https://acme.com/event")
	g := NewGate(nil, DefaultConfig())
	out, metrics := g.Run(context.Background(), input, "instruction")
	require.Len(t, out, 1)
	assert.Equal(t, 1, metrics.Kept)
}

func TestMicroBias_RewardsSpeakerPath(t *testing.T) {
	t.Parallel()
	c := model.CandidateURL{URL: "https://acme.com/speakers", Host: "acme.com"}
	assert.Greater(t, microBias(c, ""), 0.0)
}

func TestMicroBias_RewardsCountryTLD(t *testing.T) {
	t.Parallel()
	c := model.CandidateURL{URL: "https://acme.co.uk/home", Host: "acme.co.uk"}
	assert.Greater(t, microBias(c, "GB"), 0.0)
}

func TestBuildInstructionAndExtractCountryHint(t *testing.T) {
	t.Parallel()
	instr := BuildInstruction("legal", "gb", "2026-01-01", "2026-03-01")
	assert.Equal(t, "GB", extractCountryHint(instr))
}
