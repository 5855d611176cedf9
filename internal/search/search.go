// Package search implements the unified multi-provider search fan-out
// (C5): Firecrawl, CSE, and Database providers behind a single
// provider-agnostic cache, each running under its own circuit breaker and
// rate limiter, with Firecrawl in-flight request deduplication.
package search

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/eventscout/internal/cache"
	"github.com/sells-group/eventscout/internal/cacheopt"
	"github.com/sells-group/eventscout/internal/providers"
	"github.com/sells-group/eventscout/internal/ratelimit"
	"github.com/sells-group/eventscout/internal/resilience"
)

// Per-provider deadlines (§4.5).
const (
	firecrawlDeadline = 40 * time.Second
	cseDeadline       = 5 * time.Second
	databaseDeadline  = 2 * time.Second
)

const (
	cseQueryMaxLen = 256
	cacheTTL       = 30 * time.Minute
)

// Request is the normalized input to a unified search call.
type Request struct {
	Query    string
	Country  string
	DateFrom string
	DateTo   string
	Limit    int
	UseCache bool
}

// Response is the outcome of a unified search call.
type Response struct {
	Items         []providers.SearchItem
	ChosenSource  string   // "firecrawl", "cse", "database", or "" if none succeeded
	ProvidersUsed []string // every provider attempted, in attempt order
}

// countryDomainMap is a fixed mapping of ISO country code to TLD suffixes
// treated as "in-country" for CSE result filtering.
var countryDomainMap = map[string][]string{
	"US": {".com", ".us", ".org", ".gov"},
	"GB": {".co.uk", ".uk", ".org.uk"},
	"DE": {".de"},
	"FR": {".fr"},
	"CA": {".ca"},
	"AU": {".com.au", ".au"},
}

// databaseURLs is the small static list the "database" provider filters by
// keyword (§4.5).
var databaseURLs = []struct {
	URL      string
	Keywords []string
}{
	{URL: "https://www.legalweek.com", Keywords: []string{"legal", "law", "compliance"}},
	{URL: "https://www.complianceweek.com", Keywords: []string{"compliance", "regulatory", "risk"}},
	{URL: "https://www.fintechmeetup.com", Keywords: []string{"fintech", "finance", "payments"}},
	{URL: "https://www.saastr.com", Keywords: []string{"saas", "software", "startup"}},
}

var booleanOperatorPattern = regexp.MustCompile(`(?i)\b(AND|OR)\b`)
var parensPattern = regexp.MustCompile(`[()]`)
var whitespacePattern = regexp.MustCompile(`\s+`)
var eventSuffixPattern = regexp.MustCompile(`(?i)\s+(conference|summit|event)s?\s*$`)

// Engine performs unified multi-provider search.
type Engine struct {
	firecrawl providers.SearchProvider
	cse       providers.SearchProvider
	database  providers.SearchProvider

	cache     *cache.Cache[Response]
	breakers  *resilience.ServiceBreakers
	limiter   *ratelimit.Limiter
	retryCfg  resilience.RetryConfig
	inflight  sync.Map // normalized key -> *inflightCall
	now       func() time.Time
	analytics *cacheopt.Analytics
}

// SetAnalytics attaches a cache-optimiser analytics tracker (C12) so every
// cache lookup the engine makes feeds its rolling hit/miss/response-time
// snapshot. Optional — a nil analytics is a no-op.
func (e *Engine) SetAnalytics(a *cacheopt.Analytics) {
	e.analytics = a
}

type inflightCall struct {
	done chan struct{}
	resp []providers.SearchItem
	err  error
}

// NewEngine wires the three providers behind shared resilience primitives.
func NewEngine(firecrawl, cse, database providers.SearchProvider, c *cache.Cache[Response], breakers *resilience.ServiceBreakers, limiter *ratelimit.Limiter) *Engine {
	return &Engine{
		firecrawl: firecrawl,
		cse:       cse,
		database:  database,
		cache:     c,
		breakers:  breakers,
		limiter:   limiter,
		retryCfg:  resilience.DefaultRetryConfig(),
		now:       time.Now,
	}
}

var lowerCaser = cases.Lower(language.Und)

// NormalizeQuery lower-cases, collapses whitespace, strips a trailing
// event-type suffix and boolean operators, per the unified cache key rule
// (§4.5 step 1). Case folding goes through x/text so accented query terms
// (German "Konferenz", French "Sommet") normalize the same way ASCII ones
// do.
func NormalizeQuery(q string) string {
	q = lowerCaser.String(strings.TrimSpace(q))
	q = booleanOperatorPattern.ReplaceAllString(q, " ")
	q = parensPattern.ReplaceAllString(q, " ")
	q = eventSuffixPattern.ReplaceAllString(q, "")
	q = whitespacePattern.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// cacheKey computes the provider-agnostic cache key from a request.
func cacheKey(req Request) string {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	return strings.Join([]string{
		NormalizeQuery(req.Query),
		strings.ToUpper(req.Country),
		req.DateFrom,
		req.DateTo,
		strconv.Itoa(limit),
	}, "|")
}

// Search fans a query out to Firecrawl, CSE, and Database and returns the
// first non-empty result by preference order, honoring the unified cache.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	key := cacheKey(req)

	if req.UseCache && e.cache != nil {
		lookupStart := e.now()
		cached, ok := e.cache.Get(key)
		if e.analytics != nil {
			elapsed := e.now().Sub(lookupStart)
			if ok {
				e.analytics.RecordHit(key, elapsed)
			} else {
				e.analytics.RecordMiss(key, elapsed)
			}
		}
		if ok {
			return cached, nil
		}
	}

	attempted := make([]string, 0, 3)
	var chosen Response

	firecrawlItems, firecrawlErr := e.callFirecrawl(ctx, req, key)
	attempted = append(attempted, "firecrawl")
	if firecrawlErr == nil && len(firecrawlItems) > 0 {
		chosen = Response{Items: firecrawlItems, ChosenSource: "firecrawl", ProvidersUsed: attempted}
	} else {
		if firecrawlErr != nil {
			zap.L().Warn("search: firecrawl failed, degrading to cse", zap.Error(firecrawlErr))
		}

		cseItems, cseErr := e.callCSE(ctx, req)
		attempted = append(attempted, "cse")
		if cseErr == nil && len(cseItems) > 0 {
			chosen = Response{Items: cseItems, ChosenSource: "cse", ProvidersUsed: attempted}
		} else {
			if cseErr != nil {
				zap.L().Warn("search: cse failed, degrading to database", zap.Error(cseErr))
			}

			dbItems, dbErr := e.callDatabase(ctx, req)
			attempted = append(attempted, "database")
			if dbErr == nil && len(dbItems) > 0 {
				chosen = Response{Items: dbItems, ChosenSource: "database", ProvidersUsed: attempted}
			} else {
				chosen = Response{Items: nil, ChosenSource: "", ProvidersUsed: attempted}
			}
		}
	}

	if chosen.ChosenSource != "" && req.UseCache && e.cache != nil {
		e.cache.Set(key, chosen, cacheTTL)
	}

	return chosen, nil
}

func (e *Engine) callFirecrawl(ctx context.Context, req Request, key string) ([]providers.SearchItem, error) {
	if e.firecrawl == nil {
		return nil, nil
	}
	if !e.limiter.CheckAndConsume("firecrawl") {
		return nil, resilience.ErrCircuitOpen
	}

	if v, loaded := e.inflight.LoadOrStore(key, &inflightCall{done: make(chan struct{})}); loaded {
		call := v.(*inflightCall)
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		call := v.(*inflightCall)
		defer func() {
			e.inflight.Delete(key)
			close(call.done)
		}()

		deadlineCtx, cancel := context.WithTimeout(ctx, firecrawlDeadline)
		defer cancel()

		cb := e.breakers.Get("firecrawl")
		items, err := resilience.ExecuteVal(deadlineCtx, cb, func(c context.Context) ([]providers.SearchItem, error) {
			var result []providers.SearchItem
			err := resilience.Do(c, e.retryCfg, func(cc context.Context) error {
				res, ierr := e.firecrawl.Search(cc, req.Query, req.Country, req.DateFrom, req.DateTo, req.Limit)
				result = res
				return ierr
			})
			return result, err
		})
		call.resp, call.err = items, err
		return items, err
	}
}

func (e *Engine) callCSE(ctx context.Context, req Request) ([]providers.SearchItem, error) {
	if e.cse == nil {
		return nil, nil
	}
	if !e.limiter.CheckAndConsume("cse") {
		return nil, resilience.ErrCircuitOpen
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, cseDeadline)
	defer cancel()

	simplified := simplifyCSEQuery(req.Query)

	cb := e.breakers.Get("cse")
	items, err := resilience.ExecuteVal(deadlineCtx, cb, func(c context.Context) ([]providers.SearchItem, error) {
		var result []providers.SearchItem
		ierr := resilience.Do(c, e.retryCfg, func(cc context.Context) error {
			res, iierr := e.cse.Search(cc, simplified, req.Country, req.DateFrom, req.DateTo, req.Limit)
			result = res
			return iierr
		})
		return result, ierr
	})
	if err != nil {
		return nil, err
	}
	return filterByCountry(items, req.Country), nil
}

func (e *Engine) callDatabase(ctx context.Context, req Request) ([]providers.SearchItem, error) {
	if e.database == nil {
		return nil, nil
	}
	if !e.limiter.CheckAndConsume("database") {
		return nil, resilience.ErrCircuitOpen
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, databaseDeadline)
	defer cancel()

	cb := e.breakers.Get("database")
	return resilience.ExecuteVal(deadlineCtx, cb, func(c context.Context) ([]providers.SearchItem, error) {
		return e.database.Search(c, req.Query, req.Country, req.DateFrom, req.DateTo, req.Limit)
	})
}

// simplifyCSEQuery strips parentheses and boolean operators (keeping quoted
// phrases intact) and caps the result at 256 characters, per §4.5.
func simplifyCSEQuery(q string) string {
	// Even-indexed segments lie outside double quotes.
	parts := strings.Split(q, `"`)
	for i := 0; i < len(parts); i += 2 {
		parts[i] = parensPattern.ReplaceAllString(parts[i], " ")
		parts[i] = booleanOperatorPattern.ReplaceAllString(parts[i], " ")
		parts[i] = whitespacePattern.ReplaceAllString(parts[i], " ")
	}
	simplified := strings.TrimSpace(strings.Join(parts, `"`))
	if len(simplified) > cseQueryMaxLen {
		simplified = simplified[:cseQueryMaxLen]
	}
	return simplified
}

// filterByCountry keeps only items whose host matches one of the country's
// known TLD suffixes. If country is empty or unrecognized, items pass
// through unfiltered.
func filterByCountry(items []providers.SearchItem, country string) []providers.SearchItem {
	tlds, ok := countryDomainMap[strings.ToUpper(country)]
	if !ok {
		return items
	}
	filtered := make([]providers.SearchItem, 0, len(items))
	for _, item := range items {
		for _, tld := range tlds {
			if strings.Contains(item.URL, tld) {
				filtered = append(filtered, item)
				break
			}
		}
	}
	return filtered
}

// DatabaseSearch filters the static local URL list by keyword match against
// the query, satisfying providers.SearchProvider.
type DatabaseSearch struct{}

// Name identifies the provider for logging and rate limiting.
func (DatabaseSearch) Name() string { return "database" }

// Search filters databaseURLs by keyword overlap with the query.
func (DatabaseSearch) Search(_ context.Context, query, _ string, _, _ string, limit int) ([]providers.SearchItem, error) {
	terms := strings.Fields(strings.ToLower(query))
	var matched []providers.SearchItem
	for _, entry := range databaseURLs {
		for _, kw := range entry.Keywords {
			if containsAny(terms, kw) {
				matched = append(matched, providers.SearchItem{URL: entry.URL})
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].URL < matched[j].URL })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func containsAny(terms []string, kw string) bool {
	for _, t := range terms {
		if strings.Contains(t, kw) || strings.Contains(kw, t) {
			return true
		}
	}
	return false
}

