// Package arxiv collects from the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scilex/scilex/internal/collector"
	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/fetch"
)

const (
	// SourceName is the source identifier used for artifacts and breakers.
	SourceName = "arxiv"

	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is the rate the API asks clients to stay below.
	DefaultRateLimit = 3.0

	// DefaultPageSize is the default results per page.
	DefaultPageSize = 100

	// DefaultFixedBackoff is the wait arXiv expects after a 429.
	DefaultFixedBackoff = 30 * time.Second
)

// Config holds configuration for the arXiv collector.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// PageSize is the number of results requested per page.
	PageSize int

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int

	// FixedBackoff is the wait per retry after a 429 without Retry-After.
	FixedBackoff time.Duration
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.FixedBackoff == 0 {
		c.FixedBackoff = DefaultFixedBackoff
	}
}

// Client implements the collector interface for arXiv.
type Client struct {
	config Config
}

// Compile-time interface verification.
var _ collector.Collector = (*Client)(nil)

// New creates a new arXiv collector with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg}
}

// Descriptor returns the source's static collection parameters. arXiv asks
// clients to wait a fixed interval after a rate-limit response rather than
// backing off exponentially.
func (c *Client) Descriptor() collector.Descriptor {
	return collector.Descriptor{
		Name:         SourceName,
		PageSize:     c.config.PageSize,
		RateLimit:    c.config.RateLimit,
		Burst:        c.config.Burst,
		Pagination:   collector.PaginationOffset,
		Backoff:      fetch.BackoffFixed,
		FixedBackoff: c.config.FixedBackoff,
	}
}

// BuildPageRequest returns the HTTP request fetching one page of the query.
func (c *Client) BuildPageRequest(ctx context.Context, query domain.Query, cursor collector.Cursor) (*http.Request, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	terms := make([]string, 0, len(query.Keywords)+1)
	for _, kw := range query.Keywords {
		terms = append(terms, fmt.Sprintf("all:%q", kw))
	}
	if query.Year > 0 {
		terms = append(terms, fmt.Sprintf("submittedDate:[%d01010000 TO %d12312359]", query.Year, query.Year))
	}

	q := url.Values{}
	q.Set("search_query", strings.Join(terms, " AND "))
	q.Set("start", strconv.Itoa((cursor.Page-1)*c.config.PageSize))
	q.Set("max_results", strconv.Itoa(c.config.PageSize))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "ascending")
	baseURL.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
}

// ParsePage parses an Atom page into records. The next cursor is present
// while the reported total says more results remain.
func (c *Client) ParsePage(resp *http.Response) (*collector.Page, error) {
	defer resp.Body.Close()

	// Limit body to 10MB.
	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.Record, 0, len(feed.Entries))
	for i := range feed.Entries {
		records = append(records, entryToRecord(&feed.Entries[i]))
	}

	page := &collector.Page{Records: records, Total: feed.TotalResults}
	if feed.StartIndex+len(feed.Entries) < feed.TotalResults && len(feed.Entries) > 0 {
		page.Next = &collector.Cursor{}
	}
	return page, nil
}

// entryToRecord converts an arXiv Atom entry to a normalized record.
func entryToRecord(entry *Entry) domain.Record {
	rec := domain.NewRecord()
	rec.Archive = SourceName
	rec.ItemType = "preprint"
	rec.Rights = "open access"

	rec.DOI = domain.OrNA(strings.TrimSpace(entry.DOI))
	rec.Title = domain.OrNA(normalizeWhitespace(entry.Title))
	rec.Abstract = domain.OrNA(normalizeWhitespace(entry.Summary))
	rec.URL = domain.OrNA(strings.TrimSpace(entry.ID))
	rec.Publisher = domain.OrNA(strings.TrimSpace(entry.JournalRef))

	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		rec.Date = t.Format("2006-01-02")
	}

	names := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		names = append(names, a.Name)
	}
	rec.Authors = domain.JoinAuthors(names)

	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			rec.PDFURL = link.Href
			break
		}
	}

	return rec
}

// normalizeWhitespace trims and collapses runs of whitespace; arXiv wraps
// titles and abstracts with newlines and indentation.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
