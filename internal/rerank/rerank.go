// Package rerank implements the Voyage rerank gate (C6): an aggregator
// partition/backstop pass, an optional reranker call, and a micro-bias
// re-sort, all aimed at shrinking the candidate list before the expensive
// LLM prioritiser stage.
package rerank

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/providers"
)

// Config tunes the gate's thresholds (§4.6).
type Config struct {
	MinNonAggregatorURLs   int
	MaxBackstopAggregators int
	MaxVoyageDocs          int
	RerankerModel          string
	TopK                   int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinNonAggregatorURLs:   5,
		MaxBackstopAggregators: 3,
		MaxVoyageDocs:          40,
		RerankerModel:          "rerank-2",
		TopK:                   20,
	}
}

// Metrics reports what the gate did, for logging and the final result
// metadata.
type Metrics struct {
	Kept               int
	DroppedAggregators int
	BackstopUsed       bool
	BiasHits           int
}

var speakerPathPattern = regexp.MustCompile(`(?i)(speakers?|agenda|program|schedule)`)

// countryTLDs mirrors the TLD families used by the search package's
// country filter, reused here for the micro-bias.
var countryTLDs = map[string][]string{
	"US": {".com", ".us"},
	"GB": {".co.uk", ".uk"},
	"DE": {".de"},
	"FR": {".fr"},
	"CA": {".ca"},
	"AU": {".com.au", ".au"},
}

// Gate reduces a candidate URL list, optionally consulting a reranker.
type Gate struct {
	reranker providers.Reranker
	cfg      Config
}

// NewGate constructs a Gate. reranker may be nil, in which case step 4
// (§4.6) is skipped and documents pass through with a zero reranker score.
func NewGate(reranker providers.Reranker, cfg Config) *Gate {
	return &Gate{reranker: reranker, cfg: cfg}
}

// scored pairs a candidate with its accumulated score through the pipeline.
type scored struct {
	candidate model.CandidateURL
	score     float64
}

// Run executes the full gate: partition, truncate, optional rerank,
// micro-bias, re-sort, top-K.
func (g *Gate) Run(ctx context.Context, candidates []model.CandidateURL, instruction string) ([]model.CandidateURL, Metrics) {
	var nonAggregators, aggregators []model.CandidateURL
	for _, c := range candidates {
		if c.IsAggregator() {
			aggregators = append(aggregators, c)
		} else {
			nonAggregators = append(nonAggregators, c)
		}
	}

	metrics := Metrics{}
	pool := nonAggregators
	if len(nonAggregators) >= g.cfg.MinNonAggregatorURLs {
		metrics.DroppedAggregators = len(aggregators)
	} else {
		backstop := aggregators
		if len(backstop) > g.cfg.MaxBackstopAggregators {
			metrics.DroppedAggregators = len(backstop) - g.cfg.MaxBackstopAggregators
			backstop = backstop[:g.cfg.MaxBackstopAggregators]
		}
		metrics.BackstopUsed = len(backstop) > 0
		pool = append(pool, backstop...)
	}

	if len(pool) > g.cfg.MaxVoyageDocs {
		pool = pool[:g.cfg.MaxVoyageDocs]
	}

	scoredPool := make([]scored, len(pool))
	for i, c := range pool {
		scoredPool[i] = scored{candidate: c}
	}

	if g.reranker != nil && len(pool) > 0 {
		docs := make([]string, len(pool))
		for i, c := range pool {
			docs[i] = c.URL
		}
		results, err := g.reranker.Rerank(ctx, instruction, docs, g.cfg.RerankerModel, len(pool))
		if err == nil {
			for _, r := range results {
				if r.Index >= 0 && r.Index < len(scoredPool) {
					scoredPool[r.Index].score = r.RelevanceScore
				}
			}
		}
	}

	country := extractCountryHint(instruction)
	for i := range scoredPool {
		bonus := microBias(scoredPool[i].candidate, country)
		if bonus > 0 {
			metrics.BiasHits++
		}
		scoredPool[i].score += bonus
	}

	sort.SliceStable(scoredPool, func(i, j int) bool {
		return scoredPool[i].score > scoredPool[j].score
	})

	topK := g.cfg.TopK
	if topK <= 0 || topK > len(scoredPool) {
		topK = len(scoredPool)
	}
	out := make([]model.CandidateURL, topK)
	for i := 0; i < topK; i++ {
		out[i] = scoredPool[i].candidate
	}
	metrics.Kept = len(out)

	return out, metrics
}

// microBias adds a small bonus for country TLD matches and speaker/agenda
// path patterns (§4.6 step 5).
func microBias(c model.CandidateURL, country string) float64 {
	var bonus float64
	if tlds, ok := countryTLDs[strings.ToUpper(country)]; ok {
		for _, tld := range tlds {
			if strings.Contains(c.Host, tld) {
				bonus += 0.05
				break
			}
		}
	}
	if u, err := url.Parse(c.URL); err == nil && speakerPathPattern.MatchString(u.Path) {
		bonus += 0.05
	}
	return bonus
}

// BuildInstruction templates the rerank instruction carrying country/date/
// industry context, consumed both by the reranker call and the micro-bias
// country hint extraction.
func BuildInstruction(industry, country, dateFrom, dateTo string) string {
	return fmt.Sprintf("Find %s industry event pages in %s between %s and %s, preferring primary event sites over listing aggregators.", industry, strings.ToUpper(country), dateFrom, dateTo)
}

var countryHintPattern = regexp.MustCompile(`(?i)\bin\s+([A-Z]{2})\b`)

// extractCountryHint pulls the ISO country code back out of an instruction
// built by BuildInstruction, for use by the micro-bias step.
func extractCountryHint(instruction string) string {
	m := countryHintPattern.FindStringSubmatch(instruction)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}
