// Package orchestrator wires the staged search pipeline (C11): discovery
// through C5, the Voyage rerank gate (C6), the non-event URL filter, LLM
// prioritisation (C7), deep-crawl extraction (C9) through the worker pool
// (C8), and the quality scorer with its auto-expand feedback edge (C10).
package orchestrator

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/eventscout/internal/cacheopt"
	"github.com/sells-group/eventscout/internal/crawl"
	"github.com/sells-group/eventscout/internal/model"
	"github.com/sells-group/eventscout/internal/prioritize"
	"github.com/sells-group/eventscout/internal/quality"
	"github.com/sells-group/eventscout/internal/rerank"
	"github.com/sells-group/eventscout/internal/search"
	"github.com/sells-group/eventscout/internal/templates"
	"github.com/sells-group/eventscout/internal/workerpool"
)

const (
	defaultMaxCandidates  = 40
	defaultMaxExtractions = 12
	defaultMinSolidHits   = 3
	extractConcurrency    = 4
)

var queryVariationSuffixes = []string{"", " conference", " summit", " event"}

// Config tunes orchestrator-level defaults.
type Config struct {
	MaxCandidates   int
	MaxExtractions  int
	MinSolidHits    int
	AllowAutoExpand bool
	Industry        string
}

// DefaultConfig returns the orchestrator's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:   defaultMaxCandidates,
		MaxExtractions:  defaultMaxExtractions,
		MinSolidHits:    defaultMinSolidHits,
		AllowAutoExpand: true,
	}
}

// ProfileLoader loads a best-effort UserProfile for a request. Errors are
// tolerated: the orchestrator proceeds with a zero-value profile.
type ProfileLoader interface {
	Load(ctx context.Context, userText string) (model.UserProfile, error)
}

// Orchestrator runs the full pipeline end to end.
type Orchestrator struct {
	searchEngine *search.Engine
	rerankGate   *rerank.Gate
	prioritiser  *prioritize.Prioritiser
	extractor    *crawl.Extractor
	pool         *workerpool.Pool
	templates    *templates.Library
	profiles     ProfileLoader
	analytics    *cacheopt.Analytics
	cfg          Config
	now          func() time.Time
}

// New wires an Orchestrator from its stage components. profiles and
// templateLib may be nil.
func New(searchEngine *search.Engine, rerankGate *rerank.Gate, prioritiser *prioritize.Prioritiser, extractor *crawl.Extractor, pool *workerpool.Pool, templateLib *templates.Library, profiles ProfileLoader, analytics *cacheopt.Analytics, cfg Config) *Orchestrator {
	if analytics != nil && searchEngine != nil {
		searchEngine.SetAnalytics(analytics)
	}
	return &Orchestrator{
		searchEngine: searchEngine,
		rerankGate:   rerankGate,
		prioritiser:  prioritiser,
		extractor:    extractor,
		pool:         pool,
		templates:    templateLib,
		profiles:     profiles,
		analytics:    analytics,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Run executes the full pipeline for params and returns a SearchResult.
func (o *Orchestrator) Run(ctx context.Context, params model.SearchParams, requestID string) (model.SearchResult, error) {
	start := o.now()
	var logs []model.LogEntry
	timings := make(map[string]time.Duration)

	logEntry := func(stage, message string) {
		logs = append(logs, model.LogEntry{Stage: stage, Message: message, Timestamp: o.now()})
	}
	logEntry("register", "request registered with resource optimiser")

	profile := o.loadProfile(ctx, params.UserText, logEntry)

	template, hasTemplate := o.templates.Lookup(o.cfg.Industry)
	query := buildQuery(params.UserText, profile, template, hasTemplate)

	discoveryStart := o.now()
	candidates := o.discover(ctx, query, params)
	timings["discovery"] = o.now().Sub(discoveryStart)
	logEntry("discovery", "discovery complete")

	rerankStart := o.now()
	instruction := rerank.BuildInstruction(o.cfg.Industry, params.Country, params.DateFrom, params.DateTo)
	gated, _ := o.rerankGate.Run(ctx, candidates, instruction)
	filtered := quality.FilterNonEventURLs(gated)
	timings["rerank"] = o.now().Sub(rerankStart)
	logEntry("rerank", "voyage gate and non-event filter complete")

	prioritiseStart := o.now()
	industryTerm, icpTerm := firstOrEmpty(profile.IndustryTerms), firstOrEmpty(profile.ICPTerms)
	prioritised, _ := o.prioritiser.Run(ctx, filtered, o.cfg.Industry, params.Country, params.DateFrom, params.DateTo, industryTerm, icpTerm)
	timings["prioritise"] = o.now().Sub(prioritiseStart)
	logEntry("prioritise", "llm prioritisation complete")

	extractStart := o.now()
	extracted := o.extract(ctx, prioritised, params.UserText, params.Country)
	timings["extract"] = o.now().Sub(extractStart)
	logEntry("extract", "deep-crawl extraction complete")

	qualityStart := o.now()
	window := quality.Window{From: parseOrDefault(params.DateFrom, o.now()), To: parseOrDefault(params.DateTo, o.now().AddDate(0, 0, 30))}
	solid := quality.Run(extracted, window)
	autoExpanded := false
	expandedDays := 0
	if len(solid) < o.cfg.MinSolidHits && o.cfg.AllowAutoExpand {
		logEntry("auto_expand", "solid hit count below minimum, expanding window")
		expandedWindow := quality.ExpandWindow(window.From, len(solid))
		if expandedWindow.To.Before(window.To) {
			expandedWindow.To = window.To
		}
		expandedDays = int(expandedWindow.To.Sub(expandedWindow.From).Hours() / 24)

		expandedParams := params
		expandedParams.DateFrom = expandedWindow.From.Format("2006-01-02")
		expandedParams.DateTo = expandedWindow.To.Format("2006-01-02")

		expandedCandidates := o.discover(ctx, query, expandedParams)
		expandedGated, _ := o.rerankGate.Run(ctx, expandedCandidates, instruction)
		expandedFiltered := quality.FilterNonEventURLs(expandedGated)
		expandedPrioritised, _ := o.prioritiser.Run(ctx, expandedFiltered, o.cfg.Industry, expandedParams.Country, expandedParams.DateFrom, expandedParams.DateTo, industryTerm, icpTerm)
		expandedExtracted := o.extract(ctx, expandedPrioritised, params.UserText, params.Country)
		expandedSolid := quality.Run(expandedExtracted, expandedWindow)

		solid = quality.MergeByURL(solid, expandedSolid, model.DateRangeOneMonth)
		autoExpanded = true
	}
	timings["quality"] = o.now().Sub(qualityStart)
	logEntry("quality", "quality scoring complete")

	sort.SliceStable(solid, func(i, j int) bool { return solid[i].Confidence > solid[j].Confidence })
	if len(solid) > o.cfg.MaxExtractions {
		solid = solid[:o.cfg.MaxExtractions]
	}

	result := model.SearchResult{
		Events: solid,
		Metadata: model.ResultMetadata{
			RequestID:          requestID,
			OriginalQuery:      params.UserText,
			TotalCandidates:    len(candidates),
			PrioritisedCount:   len(prioritised),
			ExtractedCount:     len(extracted),
			SolidCount:         len(solid),
			LowConfidence:      len(solid) < o.cfg.MinSolidHits,
			StageTimings:       timings,
			TotalDuration:      o.now().Sub(start),
			AutoExpanded:       autoExpanded,
			ExpandedWindowDays: expandedDays,
		},
		Logs: logs,
	}
	return result, nil
}

func (o *Orchestrator) loadProfile(ctx context.Context, userText string, logEntry func(stage, message string)) model.UserProfile {
	if o.profiles == nil {
		return model.UserProfile{}
	}
	profile, err := o.profiles.Load(ctx, userText)
	if err != nil {
		logEntry("profile", "user profile load failed, proceeding without")
		zap.L().Warn("orchestrator: profile load failed", zap.Error(err))
		return model.UserProfile{}
	}
	return profile
}

// buildQuery uses the weighted template's industry query when one matches,
// else composes a generic query from user-profile terms and location
// (§4.11 step 3).
func buildQuery(userText string, profile model.UserProfile, template model.WeightedTemplate, hasTemplate bool) string {
	if hasTemplate {
		return userText
	}
	var parts []string
	parts = append(parts, userText)
	if len(profile.IndustryTerms) > 0 {
		parts = append(parts, profile.IndustryTerms[0])
	}
	if len(profile.ICPTerms) > 0 {
		parts = append(parts, profile.ICPTerms[0])
	}
	return strings.Join(parts, " ")
}

// discover runs C5 for the four query variations through the worker pool
// (C8) — each variation is a priority-scheduled "firecrawl"-kind task so
// discovery shares C8's concurrency bound, per-kind timeout, and adaptive
// scaling with extraction — then unions, dedups, and truncates the
// resulting URLs to MaxCandidates.
func (o *Orchestrator) discover(ctx context.Context, query string, params model.SearchParams) []model.CandidateURL {
	variations := make([]string, len(queryVariationSuffixes))
	for i, suffix := range queryVariationSuffixes {
		variations[i] = query + suffix
	}

	base := search.Request{
		Country:  params.Country,
		DateFrom: params.DateFrom,
		DateTo:   params.DateTo,
		Limit:    params.Limit,
		UseCache: params.UseCache,
	}

	discoveryPool := o.pool
	if discoveryPool == nil {
		discoveryPool = workerpool.New(workerpool.DefaultConfig())
	}

	tasks := make([]workerpool.Task, len(variations))
	for i, variation := range variations {
		variation := variation
		tasks[i] = workerpool.Task{
			ID: variation,
			// The bare query (suffix "") ranks highest; decorated
			// variations are a lower-priority widening of the same search.
			Priority: len(variations) - i,
			Kind:     "firecrawl",
			Run: func(taskCtx context.Context, _ interface{}) (interface{}, float64, error) {
				req := base
				req.Query = variation
				resp, err := o.searchEngine.Search(taskCtx, req)
				if err != nil {
					return resp, 0, err
				}
				return resp, 1, nil
			},
		}
	}

	results := discoveryPool.Run(ctx, tasks)

	seen := make(map[string]bool)
	var candidates []model.CandidateURL
	for _, r := range results {
		if !r.Success {
			if r.Err != nil {
				zap.L().Warn("orchestrator: discovery variation failed", zap.Error(r.Err))
			}
			continue
		}
		resp, ok := r.Value.(search.Response)
		if !ok {
			continue
		}
		for _, item := range resp.Items {
			if seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			candidates = append(candidates, model.CandidateURL{URL: item.URL, Host: hostOf(item.URL)})
		}
	}

	if len(candidates) > o.cfg.MaxCandidates {
		candidates = candidates[:o.cfg.MaxCandidates]
	}
	return candidates
}

// extract runs C9 through the worker pool with bounded concurrency and a
// maxExtractions cap (§4.11 step 7).
func (o *Orchestrator) extract(ctx context.Context, prioritised []model.PrioritisedURL, originalQuery, country string) []model.EventCandidate {
	capped := prioritised
	if len(capped) > o.cfg.MaxExtractions {
		capped = capped[:o.cfg.MaxExtractions]
	}

	tasks := make([]workerpool.Task, len(capped))
	for i, p := range capped {
		p := p
		tasks[i] = workerpool.Task{
			ID:       p.URL,
			Priority: int(p.Score * 100),
			Kind:     "extract",
			Run: func(taskCtx context.Context, data interface{}) (interface{}, float64, error) {
				candidate := o.extractor.Extract(taskCtx, p.URL, originalQuery, country)
				if candidate == nil {
					return nil, 0, errExtractionFailed
				}
				return candidate, candidate.Confidence, nil
			},
		}
	}

	cappedPool := o.pool
	if cappedPool == nil {
		cappedPool = workerpool.New(capConcurrency(workerpool.DefaultConfig(), extractConcurrency))
	}
	results := cappedPool.Run(ctx, tasks)

	extracted := make([]model.EventCandidate, 0, len(results))
	for _, r := range results {
		if !r.Success {
			continue
		}
		if candidate, ok := r.Value.(*model.EventCandidate); ok && candidate != nil && !quality.HasTermsOfServiceTitle(candidate.Title) {
			extracted = append(extracted, *candidate)
		}
	}
	return extracted
}

func capConcurrency(cfg workerpool.Config, max int) workerpool.Config {
	cfg.MaxConcurrency = max
	if cfg.MinConcurrency > max {
		cfg.MinConcurrency = max
	}
	return cfg
}

var errExtractionFailed = extractionError("extraction failed")

type extractionError string

func (e extractionError) Error() string { return string(e) }

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func firstOrEmpty(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	return terms[0]
}

func parseOrDefault(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return fallback
}
