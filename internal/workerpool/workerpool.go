// Package workerpool implements the bounded-concurrency parallel processor
// (C8): a priority-scheduled task pool with adaptive concurrency,
// per-task-kind timeouts, and early termination once enough quality
// results have accumulated.
package workerpool

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Task is a unit of work submitted to the pool.
type Task struct {
	ID       string
	Data     interface{}
	Priority int
	Kind     string
	Run      func(ctx context.Context, data interface{}) (interface{}, float64, error)
}

// Result is the outcome of one task.
type Result struct {
	TaskID    string
	Success   bool
	Value     interface{}
	Quality   float64
	Duration  time.Duration
	Err       error
	Cancelled bool
}

// Config tunes the pool (§4.8).
type Config struct {
	MinConcurrency   int
	MaxConcurrency   int
	KindTimeouts     map[string]time.Duration
	DefaultTimeout   time.Duration
	EarlyTermination bool
	MinResults       int
	QualityThreshold float64
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		MinConcurrency:   2,
		MaxConcurrency:   8,
		KindTimeouts:     map[string]time.Duration{"firecrawl": 40 * time.Second, "gemini": 12 * time.Second},
		DefaultTimeout:   20 * time.Second,
		EarlyTermination: false,
		MinResults:       0,
		QualityThreshold: 0,
	}
}

// taskHeap orders tasks highest-priority-first, ties broken by insertion
// order (FIFO among equal priorities).
type taskHeap struct {
	tasks []Task
	seq   []int
}

func (h taskHeap) Len() int { return len(h.tasks) }
func (h taskHeap) Less(i, j int) bool {
	if h.tasks[i].Priority != h.tasks[j].Priority {
		return h.tasks[i].Priority > h.tasks[j].Priority
	}
	return h.seq[i] < h.seq[j]
}
func (h *taskHeap) Swap(i, j int) {
	h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i]
	h.seq[i], h.seq[j] = h.seq[j], h.seq[i]
}
func (h *taskHeap) Push(x interface{}) {
	h.tasks = append(h.tasks, x.(Task))
	h.seq = append(h.seq, len(h.seq))
}
func (h *taskHeap) Pop() interface{} {
	n := len(h.tasks)
	t := h.tasks[n-1]
	h.tasks = h.tasks[:n-1]
	h.seq = h.seq[:n-1]
	return t
}

// Pool runs tasks with bounded, adaptively-scaled concurrency.
type Pool struct {
	cfg Config

	mu                 sync.Mutex
	currentConcurrency int
	recentOutcomes     []bool // ring of recent successes, for adaptive scaling
}

// New constructs a Pool.
func New(cfg Config) *Pool {
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = 1
	}
	if cfg.MaxConcurrency < cfg.MinConcurrency {
		cfg.MaxConcurrency = cfg.MinConcurrency
	}
	return &Pool{cfg: cfg, currentConcurrency: cfg.MaxConcurrency}
}

// Run executes tasks honoring priority order and the pool's concurrency
// bound, returning one Result per task in an unspecified completion order
// (callers can correlate by TaskID).
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	h := &taskHeap{}
	heap.Init(h)
	for _, t := range tasks {
		heap.Push(h, t)
	}

	ordered := make([]Task, 0, len(tasks))
	for h.Len() > 0 {
		ordered = append(ordered, heap.Pop(h).(Task))
	}

	results := make([]Result, len(ordered))
	sem := make(chan struct{}, p.concurrency())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var completedMu sync.Mutex
	var completed int
	var qualitySum float64
	terminated := false

	for i, task := range ordered {
		sem <- struct{}{}

		completedMu.Lock()
		if terminated {
			completedMu.Unlock()
			results[i] = Result{TaskID: task.ID, Success: false, Cancelled: true, Err: context.Canceled}
			<-sem
			continue
		}
		completedMu.Unlock()

		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			timeout := p.timeoutFor(task.Kind)
			taskCtx, taskCancel := context.WithTimeout(runCtx, timeout)
			defer taskCancel()

			value, quality, err := task.Run(taskCtx, task.Data)
			duration := time.Since(start)

			res := Result{TaskID: task.ID, Duration: duration}
			if taskCtx.Err() == context.Canceled && runCtx.Err() == context.Canceled {
				res.Cancelled = true
				res.Err = context.Canceled
			} else if err != nil {
				res.Err = err
			} else {
				res.Success = true
				res.Value = value
				res.Quality = quality
			}
			results[i] = res

			p.recordOutcome(res.Success)

			if p.cfg.EarlyTermination && res.Success {
				completedMu.Lock()
				completed++
				qualitySum += quality
				if completed >= p.cfg.MinResults && completed > 0 {
					avg := qualitySum / float64(completed)
					if avg >= p.cfg.QualityThreshold {
						terminated = true
						cancel()
					}
				}
				completedMu.Unlock()
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

func (p *Pool) timeoutFor(kind string) time.Duration {
	if t, ok := p.cfg.KindTimeouts[kind]; ok {
		return t
	}
	return p.cfg.DefaultTimeout
}

func (p *Pool) concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentConcurrency
}

// recordOutcome feeds the adaptive concurrency scaler: a string of recent
// failures scales concurrency down toward MinConcurrency; a string of
// recent successes scales back up toward MaxConcurrency.
func (p *Pool) recordOutcome(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	const window = 10
	p.recentOutcomes = append(p.recentOutcomes, success)
	if len(p.recentOutcomes) > window {
		p.recentOutcomes = p.recentOutcomes[len(p.recentOutcomes)-window:]
	}
	if len(p.recentOutcomes) < window {
		return
	}

	failures := 0
	for _, o := range p.recentOutcomes {
		if !o {
			failures++
		}
	}
	successRate := float64(window-failures) / float64(window)

	switch {
	case successRate < 0.5 && p.currentConcurrency > p.cfg.MinConcurrency:
		p.currentConcurrency--
	case successRate > 0.9 && p.currentConcurrency < p.cfg.MaxConcurrency:
		p.currentConcurrency++
	}
}
