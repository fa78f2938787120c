package domain

import (
	"fmt"
	"strings"
)

// QueryState tracks the lifecycle of one collection query.
type QueryState int

const (
	// QueryPending means no page has been fetched yet.
	QueryPending QueryState = -1
	// QueryInProgress means at least one page was fetched but the query is
	// not finished (including queries halted by an error).
	QueryInProgress QueryState = 0
	// QueryComplete means the query exhausted its result pages or hit the
	// configured cap. Complete queries are never re-fetched.
	QueryComplete QueryState = 1
)

// String returns a human-readable name for the state.
func (s QueryState) String() string {
	switch s {
	case QueryPending:
		return "pending"
	case QueryInProgress:
		return "in_progress"
	case QueryComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Query is one unit of collection work: a keyword combination and a year
// against one source. QueryID is a stable index into the cartesian product
// of keyword groups and years, so the same configuration always produces
// the same IDs and the progress ledger stays resumable across runs.
type Query struct {
	Source   string   `json:"api"`
	QueryID  int      `json:"query_id"`
	Keywords []string `json:"keywords"` // one or two groups; two groups AND-combine
	Year     int      `json:"year"`
}

// Terms returns the search expression for the query. Two keyword groups
// combine with AND; a single group stands alone.
func (q Query) Terms() string {
	switch len(q.Keywords) {
	case 0:
		return ""
	case 1:
		return q.Keywords[0]
	default:
		return strings.Join(q.Keywords, " AND ")
	}
}

// Slug returns the filesystem-safe identifier used to name this query's
// artifact directory.
func (q Query) Slug() string {
	return fmt.Sprintf("query_%d_%d", q.QueryID, q.Year)
}

// QueryProgress is the persisted progress of one query: the append-only
// ledger entry updated after every page flush.
type QueryProgress struct {
	State        QueryState `json:"state"`
	LastPage     int        `json:"last_page"`
	TotalArt     int        `json:"total_art"` // source-reported total, advisory only
	CollArt      int        `json:"coll_art"`  // locally collected count
	LastCursor   string     `json:"last_cursor,omitempty"` // continuation token for cursor-paged sources
	ErrorMessage string     `json:"error_message,omitempty"`
}
