package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/fetch"
	"github.com/scilex/scilex/internal/observability"
	"github.com/scilex/scilex/internal/resilience"
	"github.com/scilex/scilex/internal/store"
)

// stubPage is the wire format served by the test source.
type stubPage struct {
	Count int    `json:"count"`
	Total int    `json:"total"`
	Next  int    `json:"next"`  // 0 means last page
	Token string `json:"token"` // cursor-style continuation
}

// stubCollector drives a httptest server speaking the stubPage format.
type stubCollector struct {
	desc    Descriptor
	baseURL string
}

func (s *stubCollector) Descriptor() Descriptor { return s.desc }

func (s *stubCollector) BuildPageRequest(ctx context.Context, query domain.Query, cursor Cursor) (*http.Request, error) {
	url := fmt.Sprintf("%s/?page=%d", s.baseURL, cursor.Page)
	if cursor.Token != "" {
		url += "&token=" + cursor.Token
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

func (s *stubCollector) ParsePage(resp *http.Response) (*Page, error) {
	defer resp.Body.Close()

	var sp stubPage
	if err := json.NewDecoder(resp.Body).Decode(&sp); err != nil {
		return nil, err
	}

	records := make([]domain.Record, sp.Count)
	for i := range records {
		r := domain.NewRecord()
		r.Title = fmt.Sprintf("title %d", i)
		r.Archive = s.desc.Name
		records[i] = r
	}

	page := &Page{Records: records, Total: sp.Total}
	if sp.Next > 0 {
		page.Next = &Cursor{Page: sp.Next, Token: sp.Token}
	}
	return page, nil
}

type testEnv struct {
	driver  *Driver
	store   *store.StateStore
	col     *stubCollector
	calls   *atomic.Int32
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, cfg DriverConfig, desc Descriptor, handler http.HandlerFunc) *testEnv {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	if desc.Name == "" {
		desc.Name = "stubsource"
	}
	if desc.PageSize == 0 {
		desc.PageSize = 100
	}
	if desc.Pagination == "" {
		desc.Pagination = PaginationOffset
	}

	st, err := store.NewStateStore(t.TempDir())
	require.NoError(t, err)

	fetcher := fetch.NewClient(fetch.Config{
		Source:     desc.Name,
		RateLimit:  1000,
		Burst:      1000,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, resilience.NewRegistry(nil), zerolog.Nop())

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	return &testEnv{
		driver:  NewDriver(fetcher, st, cfg, zerolog.Nop(), metrics, nil),
		store:   st,
		col:     &stubCollector{desc: desc, baseURL: server.URL},
		calls:   &calls,
		metrics: metrics,
	}
}

func servePages(t *testing.T, pages map[int]stubPage) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		sp, ok := pages[page]
		if !ok {
			sp = stubPage{Count: 0, Total: 0}
		}
		require.NoError(t, json.NewEncoder(w).Encode(sp))
	}
}

func TestDriver_Run(t *testing.T) {
	q := domain.Query{Source: "stubsource", QueryID: 0, Keywords: []string{"graph"}, Year: 2022}

	t.Run("collects all pages and completes", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, servePages(t, map[int]stubPage{
			1: {Count: 100, Total: 250, Next: 2},
			2: {Count: 100, Total: 250, Next: 3},
			3: {Count: 50, Total: 250},
		}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		p, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.QueryComplete, p.State)
		assert.Equal(t, 3, p.LastPage)
		assert.Equal(t, 250, p.CollArt)
		assert.Equal(t, int32(3), env.calls.Load())
	})

	t.Run("cap pre-check fetches exactly one page", func(t *testing.T) {
		// 100 articles at 100 per page means one page, even though the
		// source reports 500 available. The post-check variant would fetch
		// a second page and throw it away.
		env := newTestEnv(t, DriverConfig{MaxArticles: 100, FlushThreshold: 1}, Descriptor{PageSize: 100},
			servePages(t, map[int]stubPage{
				1: {Count: 100, Total: 500, Next: 2},
				2: {Count: 100, Total: 500, Next: 3},
			}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		assert.Equal(t, int32(1), env.calls.Load())
		p, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.QueryComplete, p.State)
		assert.Equal(t, 100, p.CollArt)
	})

	t.Run("cap trims the final page", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{MaxArticles: 150, FlushThreshold: 1}, Descriptor{PageSize: 100},
			servePages(t, map[int]stubPage{
				1: {Count: 100, Total: 500, Next: 2},
				2: {Count: 100, Total: 500, Next: 3},
			}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		assert.Equal(t, int32(2), env.calls.Load())
		p, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)
		assert.Equal(t, 150, p.CollArt)
	})

	t.Run("complete query is skipped entirely", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, servePages(t, map[int]stubPage{
			1: {Count: 10, Total: 10},
		}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))
		before, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)

		// Second run must not fetch or change anything.
		require.NoError(t, env.driver.Run(context.Background(), env.col, q))
		after, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)

		assert.Equal(t, int32(1), env.calls.Load())
		assert.Equal(t, before.CollArt, after.CollArt)
	})

	t.Run("partial query resumes after the last page", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, servePages(t, map[int]stubPage{
			2: {Count: 40, Total: 140},
		}))

		// Simulate an interrupted run that flushed page 1.
		require.NoError(t, env.store.WriteArtifact("stubsource", q, domain.PageArtifact{Page: 1, Total: 140}))
		require.NoError(t, env.store.SetProgress("stubsource", 0, domain.QueryProgress{
			State: domain.QueryInProgress, LastPage: 1, TotalArt: 140, CollArt: 100,
		}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		assert.Equal(t, int32(1), env.calls.Load()) // only page 2 fetched
		p, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.QueryComplete, p.State)
		assert.Equal(t, 140, p.CollArt)
	})

	t.Run("flushed pages metric counts artifact writes", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1, IDCollect: 42}, Descriptor{}, servePages(t, map[int]stubPage{
			1: {Count: 100, Total: 250, Next: 2},
			2: {Count: 100, Total: 250, Next: 3},
			3: {Count: 50, Total: 250},
		}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		assert.Equal(t, 3.0, testutil.ToFloat64(env.metrics.PagesFlushed.WithLabelValues("stubsource")))

		data, err := os.ReadFile(env.store.ArtifactPath("stubsource", q, 1))
		require.NoError(t, err)
		var art domain.PageArtifact
		require.NoError(t, json.Unmarshal(data, &art))
		assert.Equal(t, 42, art.IDCollect)
	})

	t.Run("flushed pages metric excludes pages from earlier runs", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, servePages(t, map[int]stubPage{
			2: {Count: 40, Total: 140},
		}))

		require.NoError(t, env.store.WriteArtifact("stubsource", q, domain.PageArtifact{Page: 1, Total: 140}))
		require.NoError(t, env.store.SetProgress("stubsource", 0, domain.QueryProgress{
			State: domain.QueryInProgress, LastPage: 1, TotalArt: 140, CollArt: 100,
		}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		// Only page 2 was written in this run; the resumed page 1 must not
		// be re-counted.
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PagesFlushed.WithLabelValues("stubsource")))
	})

	t.Run("single malformed page is skipped", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page == 1 {
				w.Write([]byte("not json"))
				return
			}
			json.NewEncoder(w).Encode(stubPage{Count: 10, Total: 10})
		})

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		p, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.QueryComplete, p.State)
		assert.Equal(t, 10, p.CollArt)
	})

	t.Run("consecutive malformed pages fail the query", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1, MaxConsecutiveParseErrors: 3}, Descriptor{},
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			})

		err := env.driver.Run(context.Background(), env.col, q)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrParse)
		assert.Equal(t, int32(3), env.calls.Load())

		p, perr := env.store.Progress("stubsource", 0)
		require.NoError(t, perr)
		assert.NotEqual(t, domain.QueryComplete, p.State)
		assert.NotEmpty(t, p.ErrorMessage)
	})

	t.Run("server failure marks query incomplete and keeps pages", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page == 1 {
				json.NewEncoder(w).Encode(stubPage{Count: 100, Total: 200, Next: 2})
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		})

		err := env.driver.Run(context.Background(), env.col, q)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

		// Page 1 survived the failure and is counted as flushed.
		assert.True(t, env.store.HasArtifact("stubsource", q, 1))
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PagesFlushed.WithLabelValues("stubsource")))
		p, perr := env.store.Progress("stubsource", 0)
		require.NoError(t, perr)
		assert.Equal(t, domain.QueryInProgress, p.State)
		assert.Equal(t, 100, p.CollArt)
		assert.NotEmpty(t, p.ErrorMessage)
	})

	t.Run("cursor-paged source persists the continuation token", func(t *testing.T) {
		env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{Pagination: PaginationCursor},
			servePages(t, map[int]stubPage{
				1: {Count: 100, Total: 150, Next: 2, Token: "abc123"},
				2: {Count: 50, Total: 150},
			}))

		require.NoError(t, env.driver.Run(context.Background(), env.col, q))

		p, err := env.store.Progress("stubsource", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.QueryComplete, p.State)
		assert.Equal(t, 150, p.CollArt)
	})
}

func TestRegistry_CollectAll(t *testing.T) {
	q1 := domain.Query{Source: "stubsource", QueryID: 0, Keywords: []string{"a"}, Year: 2021}
	q2 := domain.Query{Source: "stubsource", QueryID: 1, Keywords: []string{"b"}, Year: 2022}

	env := newTestEnv(t, DriverConfig{FlushThreshold: 1}, Descriptor{}, servePages(t, map[int]stubPage{
		1: {Count: 10, Total: 10},
	}))

	reg := NewRegistry()
	reg.Register(env.col, env.driver)

	outcomes := reg.CollectAll(context.Background(), []domain.Query{
		q1, q2,
		{Source: "unregistered", QueryID: 9},
	})

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
		assert.Equal(t, "stubsource", o.Source)
	}
}
