// Package progress mirrors the persisted collection state in memory and
// serves it over HTTP while a run is in flight.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/store"
)

// QuerySnapshot is the live view of one (source, query) worker.
type QuerySnapshot struct {
	Source    string               `json:"source"`
	QueryID   int                  `json:"query_id"`
	Progress  domain.QueryProgress `json:"progress"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SourceSummary aggregates a source's queries by state.
type SourceSummary struct {
	Source     string `json:"source"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Complete   int    `json:"complete"`
	Collected  int    `json:"collected"`
}

// RunSnapshot is the whole-run view served by the status endpoint.
type RunSnapshot struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Sources   []SourceSummary `json:"sources"`
	Queries   []QuerySnapshot `json:"queries"`
}

type queryKey struct {
	source  string
	queryID int
}

// Tracker keeps the latest progress snapshot per (source, query). Updates
// arrive on the store's post-flush callback, so the tracker only ever shows
// state that has already been persisted.
type Tracker struct {
	runID   string
	started time.Time

	mu      sync.RWMutex
	queries map[queryKey]QuerySnapshot

	// now is overridable in tests.
	now func() time.Time
}

// NewTracker creates a Tracker for one run.
func NewTracker(runID string) *Tracker {
	return &Tracker{
		runID:   runID,
		started: time.Now().UTC(),
		queries: make(map[queryKey]QuerySnapshot),
		now:     time.Now,
	}
}

// Observe is a store.ProgressFunc recording every durable ledger update.
func (t *Tracker) Observe(source string, queryID int, p domain.QueryProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries[queryKey{source, queryID}] = QuerySnapshot{
		Source:    source,
		QueryID:   queryID,
		Progress:  p,
		UpdatedAt: t.now().UTC(),
	}
}

// Query returns the latest snapshot for one (source, query), if any.
func (t *Tracker) Query(source string, queryID int) (QuerySnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.queries[queryKey{source, queryID}]
	return snap, ok
}

// Snapshot returns the whole-run view, with queries in (source, query id)
// order.
func (t *Tracker) Snapshot() RunSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	queries := make([]QuerySnapshot, 0, len(t.queries))
	for _, snap := range t.queries {
		queries = append(queries, snap)
	}
	sort.Slice(queries, func(i, j int) bool {
		if queries[i].Source != queries[j].Source {
			return queries[i].Source < queries[j].Source
		}
		return queries[i].QueryID < queries[j].QueryID
	})

	bySource := make(map[string]*SourceSummary)
	order := make([]string, 0)
	for _, snap := range queries {
		summary, ok := bySource[snap.Source]
		if !ok {
			summary = &SourceSummary{Source: snap.Source}
			bySource[snap.Source] = summary
			order = append(order, snap.Source)
		}
		switch snap.Progress.State {
		case domain.QueryPending:
			summary.Pending++
		case domain.QueryInProgress:
			summary.InProgress++
		case domain.QueryComplete:
			summary.Complete++
		}
		summary.Collected += snap.Progress.CollArt
	}

	sources := make([]SourceSummary, 0, len(order))
	for _, name := range order {
		sources = append(sources, *bySource[name])
	}

	return RunSnapshot{
		RunID:     t.runID,
		StartedAt: t.started,
		Sources:   sources,
		Queries:   queries,
	}
}

// Compile-time interface verification.
var _ store.ProgressFunc = (&Tracker{}).Observe
