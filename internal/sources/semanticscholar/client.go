// Package semanticscholar collects from the Semantic Scholar Graph API.
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/scilex/scilex/internal/collector"
	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/fetch"
)

const (
	// SourceName is the source identifier used for artifacts and breakers.
	SourceName = "semantic_scholar"

	// DefaultBaseURL is the default Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the unauthenticated shared-pool rate.
	DefaultRateLimit = 1.0

	// DefaultPageSize is the default results per page (API max is 100).
	DefaultPageSize = 100

	// APIKeyHeader carries the optional API key.
	APIKeyHeader = "x-api-key"

	// searchFields lists the response fields the parser consumes.
	searchFields = "title,abstract,publicationDate,year,venue,url,authors,externalIds,openAccessPdf,publicationTypes,journal"
)

// Config holds configuration for the Semantic Scholar collector.
type Config struct {
	// BaseURL is the Graph API base URL.
	BaseURL string

	// PageSize is the number of results requested per page.
	PageSize int

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int
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
}

// Client implements the collector interface for Semantic Scholar.
type Client struct {
	config Config
}

// Compile-time interface verification.
var _ collector.Collector = (*Client)(nil)

// New creates a new Semantic Scholar collector with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg}
}

// Descriptor returns the source's static collection parameters.
func (c *Client) Descriptor() collector.Descriptor {
	return collector.Descriptor{
		Name:       SourceName,
		PageSize:   c.config.PageSize,
		RateLimit:  c.config.RateLimit,
		Burst:      c.config.Burst,
		Pagination: collector.PaginationOffset,
		Backoff:    fetch.BackoffExponential,
	}
}

// BuildPageRequest returns the HTTP request fetching one page of the query.
func (c *Client) BuildPageRequest(ctx context.Context, query domain.Query, cursor collector.Cursor) (*http.Request, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/paper/search"

	q := url.Values{}
	q.Set("query", query.Terms())
	q.Set("fields", searchFields)
	q.Set("offset", strconv.Itoa((cursor.Page-1)*c.config.PageSize))
	q.Set("limit", strconv.Itoa(c.config.PageSize))
	if query.Year > 0 {
		q.Set("year", strconv.Itoa(query.Year))
	}
	baseURL.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
}

// ParsePage parses a search page into records. The next cursor is present
// while the response reports a next offset.
func (c *Client) ParsePage(resp *http.Response) (*collector.Page, error) {
	defer resp.Body.Close()

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.Record, 0, len(body.Data))
	for i := range body.Data {
		records = append(records, paperToRecord(&body.Data[i]))
	}

	page := &collector.Page{Records: records, Total: body.Total}
	if body.Next > 0 && len(body.Data) > 0 {
		page.Next = &collector.Cursor{}
	}
	return page, nil
}

// paperToRecord converts a Semantic Scholar paper to a normalized record.
func paperToRecord(p *paper) domain.Record {
	rec := domain.NewRecord()
	rec.Archive = SourceName

	rec.DOI = domain.OrNA(strings.TrimSpace(p.ExternalIDs.DOI))
	rec.Title = domain.OrNA(strings.TrimSpace(p.Title))
	rec.Abstract = domain.OrNA(strings.TrimSpace(p.Abstract))
	rec.URL = domain.OrNA(p.URL)

	switch {
	case p.PublicationDate != "":
		rec.Date = p.PublicationDate
	case p.Year > 0:
		rec.Date = strconv.Itoa(p.Year)
	}

	if len(p.PublicationTypes) > 0 {
		rec.ItemType = strings.ToLower(p.PublicationTypes[0])
	}

	names := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		names = append(names, a.Name)
	}
	rec.Authors = domain.JoinAuthors(names)

	if p.Journal != nil {
		rec.Publisher = domain.OrNA(p.Journal.Name)
		rec.Volume = domain.OrNA(p.Journal.Volume)
		rec.Pages = domain.OrNA(p.Journal.Pages)
	} else {
		rec.Publisher = domain.OrNA(p.Venue)
	}

	if p.OpenAccessPDF != nil && p.OpenAccessPDF.URL != "" {
		rec.PDFURL = p.OpenAccessPDF.URL
		rec.Rights = "open access"
	}

	return rec
}
