// Package prioritize implements the LLM prioritiser (C7): it scores
// reranked candidate URLs for fit to the query using chunked LLM calls,
// repairs malformed JSON responses, and falls back to heuristic scoring
// when the LLM is unavailable or a chunk fails outright.
package prioritize

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/providers"
)

const (
	chunkSize          = 3
	minCallSpacing     = 1 * time.Second
	perCallTimeout     = 12 * time.Second
	prioritisationGate = 0.4
	reasonMaxLen       = 10
)

// FailureCategory classifies why a chunk's LLM call did not return a usable
// score, for metrics.
type FailureCategory string

const (
	FailureNone    FailureCategory = ""
	FailureTimeout FailureCategory = "timeout"
	FailureQuota   FailureCategory = "quota"
	FailureSafety  FailureCategory = "safety"
	FailureInvalid FailureCategory = "invalid"
	FailureNetwork FailureCategory = "network"
	FailureUnknown FailureCategory = "unknown"
)

// Metrics tallies chunk outcomes across a Run call.
type Metrics struct {
	Success int
	Timeout int
	Quota   int
	Safety  int
	Invalid int
	Network int
	Unknown int
}

func (m *Metrics) record(cat FailureCategory) {
	switch cat {
	case FailureNone:
		m.Success++
	case FailureTimeout:
		m.Timeout++
	case FailureQuota:
		m.Quota++
	case FailureSafety:
		m.Safety++
	case FailureInvalid:
		m.Invalid++
	case FailureNetwork:
		m.Network++
	default:
		m.Unknown++
	}
}

// Prioritiser scores candidate URLs via an LLM, with a deterministic
// fallback heuristic when the LLM is unavailable.
type Prioritiser struct {
	llm   providers.LLM
	now   func() time.Time
	sleep func(time.Duration)
}

// NewPrioritiser constructs a Prioritiser. llm may be nil, in which case
// every chunk uses the fallback scoring heuristic.
func NewPrioritiser(llm providers.LLM) *Prioritiser {
	return &Prioritiser{llm: llm, now: time.Now, sleep: time.Sleep}
}

// Run scores every candidate, chunking calls to the LLM, and returns
// results sorted descending by score with entries below the
// prioritisation threshold dropped.
func (p *Prioritiser) Run(ctx context.Context, candidates []model.CandidateURL, industry, country, dateFrom, dateTo, industryTerm, icpTerm string) ([]model.PrioritisedURL, Metrics) {
	instruction := buildInstruction(industry, country, dateFrom, dateTo, industryTerm, icpTerm)

	var all []model.PrioritisedURL
	var metrics Metrics

	var lastCall time.Time
	for chunkStart := 0; chunkStart < len(candidates); chunkStart += chunkSize {
		end := chunkStart + chunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[chunkStart:end]

		if p.llm == nil {
			all = append(all, fallbackScores(chunk, chunkStart, industryTerm, country)...)
			metrics.record(FailureNone)
			continue
		}

		if !lastCall.IsZero() {
			if wait := minCallSpacing - p.now().Sub(lastCall); wait > 0 {
				p.sleep(wait)
			}
		}
		lastCall = p.now()

		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		results, cat := p.scoreChunk(callCtx, chunk, instruction)
		cancel()

		metrics.record(cat)
		if cat != FailureNone {
			zap.L().Warn("prioritize: chunk failed, using fallback scores", zap.String("category", string(cat)))
			all = append(all, fallbackScores(chunk, chunkStart, industryTerm, country)...)
			continue
		}
		all = append(all, results...)
	}

	for i := range all {
		all[i].Score = clamp01(all[i].Score + calculateURLBonus(all[i].URL, industryTerm, country))
	}

	filtered := make([]model.PrioritisedURL, 0, len(all))
	for _, r := range all {
		if r.Score >= prioritisationGate {
			filtered = append(filtered, r)
		}
	}
	sortDescending(filtered)

	return filtered, metrics
}

func buildInstruction(industry, country, dateFrom, dateTo, industryTerm, icpTerm string) string {
	return fmt.Sprintf(
		"Score each URL 0-1 for fit to a %s event in %s between %s and %s. "+
			"Consider relevance to %q and %q. Respond with JSON only, no prose: "+
			"[{\"url\":...,\"score\":...,\"reason\":...}]. reason must be %d characters or fewer.",
		industry, country, dateFrom, dateTo, industryTerm, icpTerm, reasonMaxLen,
	)
}

// scoreChunk makes one LLM call for a chunk and parses/repairs its output.
func (p *Prioritiser) scoreChunk(ctx context.Context, chunk []model.CandidateURL, instruction string) ([]model.PrioritisedURL, FailureCategory) {
	urls := make([]string, len(chunk))
	for i, c := range chunk {
		urls[i] = c.URL
	}
	prompt := instruction + "\nURLs:\n" + strings.Join(urls, "\n")

	raw, err := p.llm.Generate(ctx, instruction, prompt)
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	parsed, ok := repairAndParse(raw)
	if !ok {
		return nil, FailureInvalid
	}

	return normalize(parsed, urls), FailureNone
}

func classifyError(ctx context.Context, err error) FailureCategory {
	if ctx.Err() == context.DeadlineExceeded {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return FailureQuota
	case strings.Contains(msg, "safety") || strings.Contains(msg, "blocked") || strings.Contains(msg, "content policy"):
		return FailureSafety
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "timeout"):
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

type rawResult struct {
	URL    string      `json:"url"`
	Score  interface{} `json:"score"`
	Reason string      `json:"reason"`
}

// repairAndParse applies the JSON repair ladder from §4.7: direct parse,
// append a closing bracket, extract the first [...] slice, brace-closing
// repair, then greedy object extraction.
func repairAndParse(raw string) ([]rawResult, bool) {
	raw = strings.TrimSpace(raw)

	var results []rawResult
	if err := json.Unmarshal([]byte(raw), &results); err == nil {
		return results, true
	}

	if strings.HasPrefix(raw, "[") && !strings.HasSuffix(raw, "]") {
		candidate := raw + "]"
		if err := json.Unmarshal([]byte(candidate), &results); err == nil {
			return results, true
		}
	}

	if slice, ok := extractBracketSlice(raw); ok {
		if err := json.Unmarshal([]byte(slice), &results); err == nil {
			return results, true
		}
		if repaired := closeBracesAndBrackets(slice); repaired != slice {
			if err := json.Unmarshal([]byte(repaired), &results); err == nil {
				return results, true
			}
		}
	}

	if objects := greedyExtractObjects(raw); len(objects) > 0 {
		for _, obj := range objects {
			var r rawResult
			if err := json.Unmarshal([]byte(obj), &r); err == nil {
				results = append(results, r)
			}
		}
		if len(results) > 0 {
			return results, true
		}
	}

	return nil, false
}

func extractBracketSlice(s string) (string, bool) {
	start := strings.Index(s, "[")
	if start == -1 {
		return "", false
	}
	end := strings.LastIndex(s, "]")
	if end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// closeBracesAndBrackets appends whatever closing brackets/braces are
// needed to balance an unterminated JSON fragment.
func closeBracesAndBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '[' {
			b.WriteByte(']')
		} else {
			b.WriteByte('}')
		}
	}
	return b.String()
}

var objectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// greedyExtractObjects pulls out every flat {...} object substring, a last
// resort when the surrounding array structure is unrecoverable.
func greedyExtractObjects(s string) []string {
	return objectPattern.FindAllString(s, -1)
}

// normalize clamps scores, truncates reasons, and drops entries whose URL
// isn't in the input chunk.
func normalize(results []rawResult, chunkURLs []string) []model.PrioritisedURL {
	inChunk := make(map[string]bool, len(chunkURLs))
	for _, u := range chunkURLs {
		inChunk[u] = true
	}

	out := make([]model.PrioritisedURL, 0, len(results))
	for _, r := range results {
		if !inChunk[r.URL] {
			continue
		}
		score := toFloat(r.Score)
		reason := r.Reason
		if len(reason) > reasonMaxLen {
			reason = reason[:reasonMaxLen]
		}
		out = append(out, model.PrioritisedURL{
			URL:    r.URL,
			Score:  clamp01(score),
			Reason: reason,
		})
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f
		}
	}
	return 0 // non-numeric → fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var eventPathPattern = regexp.MustCompile(`(?i)/(event|summit|conference)/[a-z0-9-]+`)

var industryPathKeywords = []string{"legal", "compliance", "fintech", "saas", "healthcare", "regulatory"}

var countryHintSuffix = map[string][]string{
	"US": {".com", ".us"},
	"GB": {".co.uk", ".uk"},
	"DE": {".de"},
	"FR": {".fr"},
}

// fallbackScores implements the heuristic scoring formula used when the
// LLM is unavailable or a chunk's call failed (§4.7).
func fallbackScores(chunk []model.CandidateURL, startIdx int, industryTerm, country string) []model.PrioritisedURL {
	out := make([]model.PrioritisedURL, len(chunk))
	for i, c := range chunk {
		idx := startIdx + i
		if c.IsAggregator() {
			out[i] = model.PrioritisedURL{URL: c.URL, Score: 0.05, Reason: "aggregator"}
			continue
		}

		score := 0.3 - float64(idx)*0.02
		if eventPathPattern.MatchString(c.URL) {
			score += 0.3
		}
		lowerURL := strings.ToLower(c.URL)
		for _, kw := range industryPathKeywords {
			if strings.Contains(lowerURL, kw) || (industryTerm != "" && strings.Contains(lowerURL, strings.ToLower(industryTerm))) {
				score += 0.3
				break
			}
		}
		if suffixes, ok := countryHintSuffix[strings.ToUpper(country)]; ok {
			for _, sfx := range suffixes {
				if strings.Contains(c.Host, sfx) {
					score += 0.05
					break
				}
			}
		}

		out[i] = model.PrioritisedURL{URL: c.URL, Score: clamp01(score), Reason: "fallback"}
	}
	return out
}

// calculateURLBonus applies a post-LLM bias identical in spirit to the
// fallback's path/country signals, but smaller in magnitude since it's
// layered on top of an already-informed score.
func calculateURLBonus(rawURL, industryTerm, country string) float64 {
	var bonus float64
	if eventPathPattern.MatchString(rawURL) {
		bonus += 0.05
	}
	lowerURL := strings.ToLower(rawURL)
	if industryTerm != "" && strings.Contains(lowerURL, strings.ToLower(industryTerm)) {
		bonus += 0.05
	}
	if suffixes, ok := countryHintSuffix[strings.ToUpper(country)]; ok {
		for _, sfx := range suffixes {
			if strings.Contains(lowerURL, sfx) {
				bonus += 0.02
				break
			}
		}
	}
	return bonus
}

func sortDescending(results []model.PrioritisedURL) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
