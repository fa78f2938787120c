package collector

import (
	"context"
	"sync"

	"github.com/scilex/scilex/internal/domain"
)

// QueryOutcome reports how one query's collection ended.
type QueryOutcome struct {
	// Source is the collector that ran the query.
	Source string

	// Query is the query that was run.
	Query domain.Query

	// Err is nil when the query completed or was already complete.
	Err error
}

// Registry manages collectors and coordinates the concurrent collection
// run. Each source gets its own worker goroutine so one source's rate limit
// or breaker cooldown never stalls the others; within a source, queries run
// sequentially.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	collector Collector
	driver    *Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a collector with its driver. A collector registered under
// an existing name replaces the previous one.
func (r *Registry) Register(col Collector, driver *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[col.Descriptor().Name] = entry{collector: col, driver: driver}
}

// Sources returns the names of all registered collectors.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// CollectAll runs every query against its source's collector, one worker
// goroutine per source. Outcomes for every (source, query) pair are
// returned, errors included; the caller decides what to do with failures.
// Queries whose source has no registered collector are skipped.
func (r *Registry) CollectAll(ctx context.Context, queries []domain.Query) []QueryOutcome {
	r.mu.RLock()
	bySource := make(map[string][]domain.Query)
	for _, q := range queries {
		if _, ok := r.entries[q.Source]; ok {
			bySource[q.Source] = append(bySource[q.Source], q)
		}
	}
	entries := make(map[string]entry, len(bySource))
	for name := range bySource {
		entries[name] = r.entries[name]
	}
	r.mu.RUnlock()

	if len(bySource) == 0 {
		return nil
	}

	outcomeChan := make(chan QueryOutcome)
	var wg sync.WaitGroup

	for name, qs := range bySource {
		wg.Add(1)
		go func(name string, e entry, qs []domain.Query) {
			defer wg.Done()
			for _, q := range qs {
				err := e.driver.Run(ctx, e.collector, q)
				outcomeChan <- QueryOutcome{Source: name, Query: q, Err: err}
				if ctx.Err() != nil {
					return
				}
			}
		}(name, entries[name], qs)
	}

	go func() {
		wg.Wait()
		close(outcomeChan)
	}()

	outcomes := make([]QueryOutcome, 0, len(queries))
	for outcome := range outcomeChan {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
