// Package openalex collects from the OpenAlex works API.
package openalex

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
	SourceName = "openalex"

	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit.
	DefaultRateLimit = 10.0

	// DefaultPageSize is the default results per page (OpenAlex max is 200).
	DefaultPageSize = 200

	// firstCursor starts a cursor-paged listing.
	firstCursor = "*"
)

// Config holds configuration for the OpenAlex collector.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	BaseURL string

	// PageSize is the number of results requested per page.
	PageSize int

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int

	// Mailto is the contact address OpenAlex asks polite clients to send.
	Mailto string
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
		c.Burst = 2
	}
}

// Client implements the collector interface for OpenAlex.
type Client struct {
	config Config
}

// Compile-time interface verification.
var _ collector.Collector = (*Client)(nil)

// New creates a new OpenAlex collector with the given configuration.
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
		Pagination: collector.PaginationCursor,
		Backoff:    fetch.BackoffExponential,
	}
}

// BuildPageRequest returns the HTTP request fetching one page of the query.
// The first page opens the cursor with "*"; later pages replay the token the
// previous page returned.
func (c *Client) BuildPageRequest(ctx context.Context, query domain.Query, cursor collector.Cursor) (*http.Request, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/works"

	filters := []string{
		"title_and_abstract.search:" + query.Terms(),
	}
	if query.Year > 0 {
		filters = append(filters, "publication_year:"+strconv.Itoa(query.Year))
	}

	token := cursor.Token
	if token == "" {
		token = firstCursor
	}

	q := url.Values{}
	q.Set("filter", strings.Join(filters, ","))
	q.Set("per-page", strconv.Itoa(c.config.PageSize))
	q.Set("cursor", token)
	if c.config.Mailto != "" {
		q.Set("mailto", c.config.Mailto)
	}
	baseURL.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
}

// ParsePage parses a works listing into records plus the continuation token.
func (c *Client) ParsePage(resp *http.Response) (*collector.Page, error) {
	defer resp.Body.Close()

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.Record, 0, len(body.Results))
	for i := range body.Results {
		records = append(records, workToRecord(&body.Results[i]))
	}

	page := &collector.Page{Records: records, Total: body.Meta.Count}
	if body.Meta.NextCursor != "" && len(body.Results) > 0 {
		page.Next = &collector.Cursor{Token: body.Meta.NextCursor}
	}
	return page, nil
}

// workToRecord converts an OpenAlex work to a normalized record.
func workToRecord(w *work) domain.Record {
	rec := domain.NewRecord()
	rec.Archive = SourceName

	rec.DOI = domain.OrNA(strings.TrimPrefix(strings.TrimSpace(w.DOI), "https://doi.org/"))
	rec.Title = domain.OrNA(strings.TrimSpace(w.Title))
	rec.Date = domain.OrNA(w.PublicationDate)
	rec.ItemType = domain.OrNA(w.Type)
	rec.Abstract = domain.OrNA(reconstructAbstract(w.AbstractInvertedIndex))
	rec.Volume = domain.OrNA(w.Biblio.Volume)
	rec.Issue = domain.OrNA(w.Biblio.Issue)
	if w.Biblio.FirstPage != "" && w.Biblio.LastPage != "" {
		rec.Pages = w.Biblio.FirstPage + "-" + w.Biblio.LastPage
	} else {
		rec.Pages = domain.OrNA(w.Biblio.FirstPage)
	}

	names := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		names = append(names, a.Author.DisplayName)
	}
	rec.Authors = domain.JoinAuthors(names)

	if loc := w.PrimaryLocation; loc != nil {
		rec.URL = domain.OrNA(loc.LandingPageURL)
		rec.Rights = domain.OrNA(loc.License)
		if loc.Source != nil {
			rec.Publisher = domain.OrNA(loc.Source.HostOrganizationName)
		}
	}
	if loc := w.BestOALocation; loc != nil && loc.PDFURL != "" {
		rec.PDFURL = loc.PDFURL
	}

	return rec
}

// reconstructAbstract rebuilds abstract text from the inverted index OpenAlex
// serves instead of plain text.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	maxPos := -1
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}

	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 && p < len(words) {
				words[p] = word
			}
		}
	}

	kept := words[:0]
	for _, w := range words {
		if w != "" {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
