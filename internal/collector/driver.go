package collector

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/fetch"
	"github.com/scilex/scilex/internal/observability"
	"github.com/scilex/scilex/internal/store"
)

// DefaultMaxConsecutiveParseErrors bounds how many consecutive malformed
// pages a query tolerates before failing, so a broken source cannot spin an
// infinite empty-page loop.
const DefaultMaxConsecutiveParseErrors = 3

// DriverConfig configures the shared page loop for one source.
type DriverConfig struct {
	// MaxArticles caps the records collected per query. 0 disables the cap.
	MaxArticles int

	// FlushThreshold is the page buffer flush threshold.
	FlushThreshold int

	// MaxConsecutiveParseErrors bounds tolerated consecutive malformed pages.
	MaxConsecutiveParseErrors int

	// IDCollect identifies the collection run recorded in artifacts.
	IDCollect int
}

// Driver owns the page loop for one source: it composes the collector's
// request building and parsing with the fetch protocol and the page buffer.
// One driver serves all queries of its source; queries run sequentially so
// the source's rate limit is the only pacing.
type Driver struct {
	fetcher  *fetch.Client
	store    *store.StateStore
	log      zerolog.Logger
	metrics  *observability.Metrics
	cfg      DriverConfig
	onUpdate store.ProgressFunc

	now func() time.Time // test hook
}

// NewDriver creates a driver. metrics and onUpdate may be nil.
func NewDriver(fetcher *fetch.Client, st *store.StateStore, cfg DriverConfig, logger zerolog.Logger, metrics *observability.Metrics, onUpdate store.ProgressFunc) *Driver {
	if cfg.MaxConsecutiveParseErrors <= 0 {
		cfg.MaxConsecutiveParseErrors = DefaultMaxConsecutiveParseErrors
	}
	return &Driver{
		fetcher:  fetcher,
		store:    st,
		log:      logger,
		metrics:  metrics,
		cfg:      cfg,
		onUpdate: onUpdate,
		now:      time.Now,
	}
}

// maxPages converts the article cap into a page cap for the pre-check:
// ceil(MaxArticles / pageSize). 0 means uncapped.
func (d *Driver) maxPages(pageSize int) int {
	if d.cfg.MaxArticles <= 0 || pageSize <= 0 {
		return 0
	}
	return (d.cfg.MaxArticles + pageSize - 1) / pageSize
}

// Run collects one query to completion, resuming from persisted progress.
// A query already marked complete is skipped without fetching. On an
// unrecoverable error the buffered pages are flushed, the query is marked
// incomplete with the error message, and the error is returned.
func (d *Driver) Run(ctx context.Context, col Collector, query domain.Query) error {
	desc := col.Descriptor()
	log := observability.WithQueryContext(d.log, desc.Name, query.QueryID, query.Year)

	buf, err := store.NewBuffer(d.store, desc.Name, query, d.cfg.FlushThreshold, d.onUpdate)
	if err != nil {
		return err
	}

	if buf.Progress().State == domain.QueryComplete {
		log.Debug().Msg("query already complete, skipping")
		return nil
	}

	cursor := Cursor{Page: buf.ResumePage(), Token: buf.Progress().LastCursor}
	if desc.Pagination == PaginationCursor && cursor.Page > 1 && cursor.Token == "" {
		// A cursor-paged query with flushed pages but no token cannot be
		// resumed mid-stream; restarting would duplicate artifacts, so the
		// existing pages stand and the query is treated as done.
		log.Warn().Int("last_page", cursor.Page-1).Msg("no continuation token persisted, closing query")
		return buf.Complete()
	}

	maxPages := d.maxPages(desc.PageSize)
	consecutiveParseErrs := 0
	collected := buf.Progress().CollArt

	for {
		// Cap pre-check: refuse to start a page past the cap instead of
		// fetching it and discarding the results afterwards.
		if maxPages > 0 && cursor.Page > maxPages {
			log.Info().Int("pages", cursor.Page-1).Msg("article cap reached")
			return d.complete(buf, desc.Name)
		}

		page, err := d.fetchPage(ctx, col, query, cursor)
		if err != nil {
			var parseErr *domain.ParseError
			if errors.As(err, &parseErr) {
				if d.metrics != nil {
					d.metrics.ParseErrors.WithLabelValues(desc.Name).Inc()
				}
				consecutiveParseErrs++
				if consecutiveParseErrs >= d.cfg.MaxConsecutiveParseErrors {
					log.Error().Err(err).Int("consecutive", consecutiveParseErrs).Msg("giving up after repeated parse errors")
					return d.fail(buf, desc.Name, err)
				}
				if desc.Pagination == PaginationCursor {
					// Without a parsed token there is no next page to move to.
					log.Error().Err(err).Msg("parse error on cursor-paged source, cannot advance")
					return d.fail(buf, desc.Name, err)
				}
				// One bad page yields zero records; the loop moves on.
				log.Warn().Err(err).Int("page", cursor.Page).Msg("skipping malformed page")
				cursor = Cursor{Page: cursor.Page + 1}
				continue
			}

			log.Error().Err(err).Int("page", cursor.Page).Msg("query halted")
			return d.fail(buf, desc.Name, err)
		}
		consecutiveParseErrs = 0

		// Trim the final page so the cap is exact.
		records := page.Records
		if d.cfg.MaxArticles > 0 && collected+len(records) > d.cfg.MaxArticles {
			records = records[:d.cfg.MaxArticles-collected]
		}
		collected += len(records)

		if len(records) == 0 {
			log.Debug().Int("page", cursor.Page).Msg("empty page, query exhausted")
			return d.complete(buf, desc.Name)
		}

		if page.Next != nil {
			buf.SetCursor(page.Next.Token)
		} else {
			buf.SetCursor("")
		}

		if err := buf.Append(domain.PageArtifact{
			DateSearch: d.now().Format("2006-01-02"),
			IDCollect:  d.cfg.IDCollect,
			Page:       cursor.Page,
			Total:      page.Total,
			Results:    records,
		}); err != nil {
			// Persistence failures halt the query; availability never wins
			// over data loss.
			log.Error().Err(err).Int("page", cursor.Page).Msg("flush failed")
			return d.fail(buf, desc.Name, err)
		}

		if d.metrics != nil {
			d.metrics.RecordsCollected.WithLabelValues(desc.Name).Add(float64(len(records)))
		}

		if page.Next == nil {
			return d.complete(buf, desc.Name)
		}
		if d.cfg.MaxArticles > 0 && collected >= d.cfg.MaxArticles {
			return d.complete(buf, desc.Name)
		}

		next := *page.Next
		if next.Page == 0 {
			next.Page = cursor.Page + 1
		}
		cursor = next
	}
}

// fetchPage executes one page fetch and parse, recording the fetch metrics.
// Parse failures come back wrapped as ParseError so the caller can apply the
// skip policy.
func (d *Driver) fetchPage(ctx context.Context, col Collector, query domain.Query, cursor Cursor) (*Page, error) {
	desc := col.Descriptor()

	req, err := col.BuildPageRequest(ctx, query, cursor)
	if err != nil {
		return nil, err
	}

	start := d.now()
	resp, err := d.fetcher.Fetch(ctx, req)
	if d.metrics != nil {
		d.metrics.FetchesTotal.WithLabelValues(desc.Name, fetchOutcome(err)).Inc()
		d.metrics.FetchDuration.WithLabelValues(desc.Name).Observe(d.now().Sub(start).Seconds())
		d.metrics.BreakerState.WithLabelValues(desc.Name).Set(float64(d.fetcher.Breaker().State()))
	}
	if err != nil {
		return nil, err
	}

	page, err := col.ParsePage(resp)
	if err != nil {
		return nil, &domain.ParseError{Source: desc.Name, Page: cursor.Page, Cause: err}
	}
	return page, nil
}

func (d *Driver) complete(buf *store.Buffer, source string) error {
	if err := buf.Complete(); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.QueriesCompleted.WithLabelValues(source).Inc()
		d.metrics.PagesFlushed.WithLabelValues(source).Add(float64(buf.Flushed()))
	}
	return nil
}

func (d *Driver) fail(buf *store.Buffer, source string, cause error) error {
	failErr := buf.Fail(cause.Error())
	if d.metrics != nil {
		d.metrics.QueriesFailed.WithLabelValues(source).Inc()
		d.metrics.PagesFlushed.WithLabelValues(source).Add(float64(buf.Flushed()))
	}
	if failErr != nil {
		return errors.Join(cause, failErr)
	}
	return cause
}

// fetchOutcome maps a fetch error to its metrics label.
func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, domain.ErrUnauthorized):
		return "auth_error"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "server_error"
	default:
		return "error"
	}
}
