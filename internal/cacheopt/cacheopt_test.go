package cacheopt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeDeleter) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
}

func (f *fakeDeleter) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func TestGraph_InvalidateEnqueuesDependents(t *testing.T) {
	t.Parallel()
	search := &fakeDeleter{}
	g := NewGraph(map[string]Deleter{"search:": search}, 10, 5*time.Millisecond)
	g.AddDependency("search:legal", "search:legal:us")
	g.Start()
	defer g.Stop()

	g.Invalidate("search:legal")

	require.Eventually(t, func() bool {
		return len(search.Deleted()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, search.Deleted(), "search:legal")
	assert.Contains(t, search.Deleted(), "search:legal:us")
}

func TestGraph_RoutesByPrefix(t *testing.T) {
	t.Parallel()
	search := &fakeDeleter{}
	speaker := &fakeDeleter{}
	g := NewGraph(map[string]Deleter{"search:": search, "speaker:": speaker}, 10, 5*time.Millisecond)
	g.Start()
	defer g.Stop()

	g.Invalidate("speaker:jane-doe")

	require.Eventually(t, func() bool {
		return len(speaker.Deleted()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, search.Deleted())
}

type fakeSetter struct {
	mu  sync.Mutex
	set map[string]interface{}
}

func (f *fakeSetter) Set(key string, value interface{}, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set == nil {
		f.set = make(map[string]interface{})
	}
	f.set[key] = value
}

func (f *fakeSetter) Get(key string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.set[key]
	return v, ok
}

func TestWarmer_RunsEnabledStrategiesByPriority(t *testing.T) {
	t.Parallel()
	cache := &fakeSetter{}
	strategies := []Strategy{
		{
			Name:           "low",
			Priority:       1,
			Enabled:        true,
			QueryGenerator: func() []string { return []string{"low-key"} },
			DataProvider:   func(ctx context.Context, key string) (interface{}, error) { return "value", nil },
			Cache:          cache,
			TTL:            time.Minute,
		},
		{
			Name:           "high",
			Priority:       10,
			Enabled:        true,
			QueryGenerator: func() []string { return []string{"high-key"} },
			DataProvider:   func(ctx context.Context, key string) (interface{}, error) { return "value", nil },
			Cache:          cache,
			TTL:            time.Minute,
		},
		{
			Name:           "disabled",
			Priority:       100,
			Enabled:        false,
			QueryGenerator: func() []string { return []string{"disabled-key"} },
			DataProvider:   func(ctx context.Context, key string) (interface{}, error) { return "value", nil },
			Cache:          cache,
			TTL:            time.Minute,
		},
	}
	w := NewWarmer(strategies, 10, time.Second, time.Hour)
	w.runOnce(context.Background())

	_, ok := cache.Get("high-key")
	assert.True(t, ok)
	_, ok = cache.Get("low-key")
	assert.True(t, ok)
	_, ok = cache.Get("disabled-key")
	assert.False(t, ok)
}

func TestWarmer_RespectsBatchSize(t *testing.T) {
	t.Parallel()
	cache := &fakeSetter{}
	strategies := []Strategy{
		{
			Name:           "bulk",
			Priority:       1,
			Enabled:        true,
			QueryGenerator: func() []string { return []string{"a", "b", "c", "d"} },
			DataProvider:   func(ctx context.Context, key string) (interface{}, error) { return "value", nil },
			Cache:          cache,
			TTL:            time.Minute,
		},
	}
	w := NewWarmer(strategies, 2, time.Second, time.Hour)
	w.runOnce(context.Background())

	count := 0
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, ok := cache.Get(k); ok {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestAnalytics_ComputesHitMissRates(t *testing.T) {
	t.Parallel()
	a := NewAnalytics(func() int { return 5 }, func() int64 { return 1024 })
	a.RecordHit("search:legal", 10*time.Millisecond)
	a.RecordHit("search:legal", 10*time.Millisecond)
	a.RecordMiss("search:fintech", 20*time.Millisecond)

	snap := a.Snapshot()
	assert.InDelta(t, 2.0/3.0, snap.HitRate, 0.0001)
	assert.InDelta(t, 1.0/3.0, snap.MissRate, 0.0001)
	assert.EqualValues(t, 3, snap.TotalRequests)
	assert.Equal(t, 5, snap.CacheSize)
	assert.EqualValues(t, 1024, snap.MemoryUsage)
	assert.Contains(t, snap.TopKeys, "search:legal")
}

func TestAnalytics_ZeroRequestsNoDivideByZero(t *testing.T) {
	t.Parallel()
	a := NewAnalytics(nil, nil)
	snap := a.Snapshot()
	assert.Equal(t, 0.0, snap.HitRate)
	assert.EqualValues(t, 0, snap.TotalRequests)
}
