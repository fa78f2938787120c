// Package pubmed collects from the NCBI E-utilities API. A page is a
// two-step exchange: esearch returns the PMIDs for one window of the query,
// esummary resolves them to document summaries.
package pubmed

import (
	"context"
	"encoding/json"
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
	SourceName = "pubmed"

	// DefaultBaseURL is the default E-utilities base URL.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate NCBI allows without an API key.
	DefaultRateLimit = 3.0

	// DefaultPageSize is the default results per page.
	DefaultPageSize = 100
)

// Fetcher executes the follow-up esummary request under the same rate limit
// and circuit breaker as the esearch request the driver issued.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Compile-time interface verification.
var _ Fetcher = (*fetch.Client)(nil)

// Config holds configuration for the PubMed collector.
type Config struct {
	// BaseURL is the E-utilities base URL.
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

// Client implements the collector interface for PubMed.
type Client struct {
	config  Config
	fetcher Fetcher
}

// Compile-time interface verification.
var _ collector.Collector = (*Client)(nil)

// New creates a new PubMed collector. The fetcher resolves the esummary
// half of each page and must be the same client the driver fetches with, so
// both halves share one rate limit and breaker.
func New(cfg Config, fetcher Fetcher) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, fetcher: fetcher}
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

// BuildPageRequest returns the esearch request for one window of the query.
func (c *Client) BuildPageRequest(ctx context.Context, query domain.Query, cursor collector.Cursor) (*http.Request, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/esearch.fcgi"

	term := query.Terms()
	if query.Year > 0 {
		term = fmt.Sprintf("(%s) AND %d[pdat]", term, query.Year)
	}

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("retstart", strconv.Itoa((cursor.Page-1)*c.config.PageSize))
	q.Set("retmax", strconv.Itoa(c.config.PageSize))
	q.Set("retmode", "json")
	baseURL.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
}

// ParsePage decodes the esearch ID window, resolves it through esummary, and
// returns the normalized records in ID order.
func (c *Client) ParsePage(resp *http.Response) (*collector.Page, error) {
	defer resp.Body.Close()
	ctx := resp.Request.Context()

	var search esearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&search); err != nil {
		return nil, fmt.Errorf("decoding esearch response: %w", err)
	}

	total, _ := strconv.Atoi(search.Result.Count)
	retstart, _ := strconv.Atoi(search.Result.RetStart)

	page := &collector.Page{Total: total}
	if len(search.Result.IDList) == 0 {
		return page, nil
	}

	summaries, err := c.fetchSummaries(ctx, search.Result.IDList)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(search.Result.IDList))
	for _, id := range search.Result.IDList {
		sum, ok := summaries[id]
		if !ok {
			continue
		}
		records = append(records, summaryToRecord(sum))
	}
	page.Records = records

	if retstart+len(search.Result.IDList) < total {
		page.Next = &collector.Cursor{}
	}
	return page, nil
}

// fetchSummaries resolves a PMID window through esummary.
func (c *Client) fetchSummaries(ctx context.Context, ids []string) (map[string]*docSummary, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/esummary.fcgi"

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "json")
	baseURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating esummary request: %w", err)
	}

	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching esummary: %w", err)
	}
	defer resp.Body.Close()

	var body esummaryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding esummary response: %w", err)
	}

	summaries := make(map[string]*docSummary, len(ids))
	for uid, raw := range body.Result {
		if uid == "uids" {
			continue
		}
		var sum docSummary
		if err := json.Unmarshal(raw, &sum); err != nil {
			continue
		}
		summaries[uid] = &sum
	}
	return summaries, nil
}

// summaryToRecord converts a PubMed document summary to a normalized record.
func summaryToRecord(sum *docSummary) domain.Record {
	rec := domain.NewRecord()
	rec.Archive = SourceName

	rec.Title = domain.OrNA(strings.TrimSpace(sum.Title))
	rec.Publisher = domain.OrNA(sum.FullJournalName)
	rec.Volume = domain.OrNA(sum.Volume)
	rec.Issue = domain.OrNA(sum.Issue)
	rec.Pages = domain.OrNA(sum.Pages)
	rec.Date = domain.OrNA(parsePubDate(sum.PubDate))
	if sum.UID != "" {
		rec.URL = "https://pubmed.ncbi.nlm.nih.gov/" + sum.UID + "/"
	}

	for _, id := range sum.ArticleIDs {
		if strings.EqualFold(id.IDType, "doi") {
			rec.DOI = domain.OrNA(strings.TrimSpace(id.Value))
			break
		}
	}

	if len(sum.PubTypes) > 0 {
		rec.ItemType = strings.ToLower(sum.PubTypes[0])
	}

	names := make([]string, 0, len(sum.Authors))
	for _, a := range sum.Authors {
		names = append(names, a.Name)
	}
	rec.Authors = domain.JoinAuthors(names)

	return rec
}

// pubDateLayouts are the formats PubMed serves, most specific first.
var pubDateLayouts = []string{"2006 Jan 2", "2006 Jan", "2006"}

// parsePubDate normalizes PubMed's "2021 Mar 15" style dates to ISO form.
// Unparseable dates degrade to the leading year when one is present.
func parsePubDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			switch layout {
			case "2006":
				return t.Format("2006")
			case "2006 Jan":
				return t.Format("2006-01")
			default:
				return t.Format("2006-01-02")
			}
		}
	}
	if len(s) >= 4 {
		if _, err := strconv.Atoi(s[:4]); err == nil {
			return s[:4]
		}
	}
	return ""
}
