// Package collector defines the pluggable per-source driver interface and
// the shared page loop that walks every source through its paginated
// results under the fetch protocol.
package collector

import (
	"context"
	"net/http"
	"time"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/fetch"
)

// PaginationStyle declares how a source pages through results.
type PaginationStyle string

const (
	// PaginationOffset uses page numbers with a fixed page size.
	PaginationOffset PaginationStyle = "offset"
	// PaginationCursor uses an opaque continuation token from the source.
	PaginationCursor PaginationStyle = "cursor"
)

// Cursor is the position within a query's result pages. Page is always the
// 1-based page number; Token carries the source's continuation token for
// cursor-style sources and is empty otherwise.
type Cursor struct {
	Page  int
	Token string
}

// Page is one parsed page of results.
type Page struct {
	// Records holds the normalized records in source order.
	Records []domain.Record

	// Next is the cursor for the following page, or nil when the source
	// reports no further results.
	Next *Cursor

	// Total is the source-reported total result count. Advisory only;
	// sources misreport it.
	Total int
}

// Descriptor declares a source's static collection parameters. The core
// reads these; it never inspects source-specific response schemas.
type Descriptor struct {
	// Name is the source name used for artifacts, breakers, and logging.
	Name string

	// PageSize is the number of records per page the source serves.
	PageSize int

	// RateLimit is the source's maximum sustained requests per second.
	RateLimit float64

	// Burst is the maximum request burst.
	Burst int

	// Pagination declares offset or cursor paging.
	Pagination PaginationStyle

	// Backoff declares the 429 backoff policy when no Retry-After header
	// is present.
	Backoff fetch.BackoffPolicy

	// FixedBackoff is the delay for the fixed policy.
	FixedBackoff time.Duration
}

// Collector is the per-source driver capability: build the request for one
// page and parse the response into records plus the next cursor. The shared
// driving loop, retries, and persistence all live in the core.
type Collector interface {
	// BuildPageRequest returns the HTTP request fetching one page of the
	// given query.
	BuildPageRequest(ctx context.Context, query domain.Query, cursor Cursor) (*http.Request, error)

	// ParsePage parses a page response into records and pagination state.
	// The implementation owns closing the response body.
	ParsePage(resp *http.Response) (*Page, error)

	// Descriptor returns the source's static collection parameters.
	Descriptor() Descriptor
}
