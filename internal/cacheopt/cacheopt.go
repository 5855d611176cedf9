// Package cacheopt implements the cache optimiser (C12): dependency-driven
// invalidation, background warming strategies, and rolling hit/miss
// analytics across the search/analysis/speaker caches.
package cacheopt

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deleter removes a key from one of the named provider-agnostic caches.
// Routing keys by prefix ("search:", "analysis:", "speaker:") lets the
// optimiser stay cache-type agnostic.
type Deleter interface {
	Delete(key string)
}

// Graph tracks key -> dependent-keys edges and drains invalidations in
// batches.
type Graph struct {
	mu       sync.Mutex
	edges    map[string][]string
	queue    []string
	caches   map[string]Deleter // prefix -> cache
	batch    int
	delay    time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewGraph constructs an invalidation Graph. caches maps a key prefix
// ("search:", "analysis:", "speaker:") to the Deleter responsible for it.
func NewGraph(caches map[string]Deleter, batchSize int, delay time.Duration) *Graph {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Graph{
		edges:  make(map[string][]string),
		caches: caches,
		batch:  batchSize,
		delay:  delay,
		stop:   make(chan struct{}),
	}
}

// AddDependency records that dependentKey should be invalidated whenever
// key is invalidated.
func (g *Graph) AddDependency(key, dependentKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[key] = append(g.edges[key], dependentKey)
}

// Invalidate enqueues key and every transitive dependent for deletion. The
// background drain loop (via Start) performs the actual cache deletes.
func (g *Graph) Invalidate(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enqueueLocked(key, make(map[string]bool))
}

func (g *Graph) enqueueLocked(key string, visited map[string]bool) {
	if visited[key] {
		return
	}
	visited[key] = true
	g.queue = append(g.queue, key)
	for _, dep := range g.edges[key] {
		g.enqueueLocked(dep, visited)
	}
}

// Start launches the background drain loop, which processes queued keys in
// batches of g.batch with g.delay spacing between batches.
func (g *Graph) Start() {
	go func() {
		ticker := time.NewTicker(g.delay)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.drainBatch()
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop terminates the background drain loop.
func (g *Graph) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *Graph) drainBatch() {
	g.mu.Lock()
	n := g.batch
	if n > len(g.queue) {
		n = len(g.queue)
	}
	batch := g.queue[:n]
	g.queue = g.queue[n:]
	g.mu.Unlock()

	for _, key := range batch {
		g.routeDelete(key)
	}
}

func (g *Graph) routeDelete(key string) {
	for prefix, cache := range g.caches {
		if strings.HasPrefix(key, prefix) {
			cache.Delete(key)
			return
		}
	}
}

// Strategy is a registered warming strategy (§4.12).
type Strategy struct {
	Name           string
	Priority       int
	QueryGenerator func() []string
	DataProvider   func(ctx context.Context, key string) (interface{}, error)
	TTL            time.Duration
	Cache          Setter
	Enabled        bool
}

// Setter stores a warmed value under a key with a TTL.
type Setter interface {
	Set(key string, value interface{}, ttl time.Duration)
}

// Warmer periodically runs enabled strategies, highest priority first,
// each bounded by a per-key timeout and an overall batch size.
type Warmer struct {
	strategies []Strategy
	batchSize  int
	perKey     time.Duration
	interval   time.Duration
	limiter    *rate.Limiter
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewWarmer constructs a Warmer. Warming issuance is token-bucket limited
// to batchSize keys/sec (burst batchSize) so a large batch never
// spikes the underlying providers beyond the caller's configured ceiling.
func NewWarmer(strategies []Strategy, batchSize int, perKeyTimeout, interval time.Duration) *Warmer {
	return NewWarmerWithConcurrency(strategies, batchSize, perKeyTimeout, interval, batchSize)
}

// NewWarmerWithConcurrency is NewWarmer with an explicit issuance rate,
// independent of batchSize.
func NewWarmerWithConcurrency(strategies []Strategy, batchSize int, perKeyTimeout, interval time.Duration, maxConcurrency int) *Warmer {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Warmer{
		strategies: sorted,
		batchSize:  batchSize,
		perKey:     perKeyTimeout,
		interval:   interval,
		limiter:    rate.NewLimiter(rate.Limit(maxConcurrency), maxConcurrency),
		stop:       make(chan struct{}),
	}
}

// Start launches the background warming loop. Warming never blocks caller
// requests — it runs entirely on its own goroutine and timer.
func (w *Warmer) Start() {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.runOnce(context.Background())
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop terminates the background warming loop.
func (w *Warmer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Warmer) runOnce(ctx context.Context) {
	generated := 0
	for _, strat := range w.strategies {
		if !strat.Enabled || generated >= w.batchSize {
			continue
		}
		keys := strat.QueryGenerator()
		for _, key := range keys {
			if generated >= w.batchSize {
				break
			}
			generated++
			w.warmKey(ctx, strat, key)
		}
	}
}

func (w *Warmer) warmKey(ctx context.Context, strat Strategy, key string) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}

	keyCtx, cancel := context.WithTimeout(ctx, w.perKey)
	defer cancel()

	value, err := strat.DataProvider(keyCtx, key)
	if err != nil {
		zap.L().Debug("cacheopt: warming key failed", zap.String("strategy", strat.Name), zap.String("key", key), zap.Error(err))
		return
	}
	if strat.Cache != nil {
		strat.Cache.Set(key, value, strat.TTL)
	}
}

// Snapshot is one rolling analytics data point across all caches (§4.12).
type Snapshot struct {
	HitRate             float64
	MissRate            float64
	TotalRequests       int64
	AverageResponseTime time.Duration
	CacheSize           int
	MemoryUsage         int64
	TopKeys             []string
}

// Analytics accumulates hit/miss counters and response-time samples and
// produces rolling Snapshots.
type Analytics struct {
	mu            sync.Mutex
	hits          int64
	misses        int64
	totalDuration time.Duration
	keyFrequency  map[string]int64
	cacheSize     func() int
	memoryUsage   func() int64
}

// NewAnalytics constructs an Analytics tracker. cacheSize/memoryUsage are
// callbacks so the optimiser can report live gauge values without owning
// the caches directly.
func NewAnalytics(cacheSize func() int, memoryUsage func() int64) *Analytics {
	return &Analytics{
		keyFrequency: make(map[string]int64),
		cacheSize:    cacheSize,
		memoryUsage:  memoryUsage,
	}
}

// RecordHit records a cache hit for key, observed in d.
func (a *Analytics) RecordHit(key string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hits++
	a.totalDuration += d
	a.keyFrequency[key]++
}

// RecordMiss records a cache miss for key, observed in d.
func (a *Analytics) RecordMiss(key string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.misses++
	a.totalDuration += d
	a.keyFrequency[key]++
}

// Snapshot returns the current rolling analytics, with the top 10 most
// frequently requested keys.
func (a *Analytics) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.hits + a.misses
	snap := Snapshot{TotalRequests: total}
	if total > 0 {
		snap.HitRate = float64(a.hits) / float64(total)
		snap.MissRate = float64(a.misses) / float64(total)
		snap.AverageResponseTime = a.totalDuration / time.Duration(total)
	}
	if a.cacheSize != nil {
		snap.CacheSize = a.cacheSize()
	}
	if a.memoryUsage != nil {
		snap.MemoryUsage = a.memoryUsage()
	}
	snap.TopKeys = topKeys(a.keyFrequency, 10)
	return snap
}

func topKeys(freq map[string]int64, n int) []string {
	type kv struct {
		key   string
		count int64
	}
	all := make([]kv, 0, len(freq))
	for k, c := range freq {
		all = append(all, kv{k, c})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].count > all[j].count })
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.key
	}
	return out
}
