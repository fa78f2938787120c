package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/resilience"
)

func newTestClient(t *testing.T, cfg Config) (*Client, *resilience.Registry) {
	t.Helper()
	if cfg.Source == "" {
		cfg.Source = "testsource"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000 // keep tests fast
		cfg.Burst = 1000
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	reg := resilience.NewRegistry(nil)
	c := NewClient(cfg, reg, zerolog.Nop())
	// Collapse backoff sleeps so retry tests run instantly.
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c, reg
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestClient_Fetch(t *testing.T) {
	t.Run("success records breaker success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{})
		reg.Get("testsource").RecordFailure()

		resp, err := c.Fetch(context.Background(), get(t, server.URL))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, 0, reg.Get("testsource").Snapshot().Failures)
	})

	t.Run("sets user agent and api key headers", func(t *testing.T) {
		var ua, key string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua = r.Header.Get("User-Agent")
			key = r.Header.Get("x-api-key")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c, _ := newTestClient(t, Config{APIKey: "secret", APIKeyHeader: "x-api-key"})
		resp, err := c.Fetch(context.Background(), get(t, server.URL))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "SciLEx-Collector/1.0", ua)
		assert.Equal(t, "secret", key)
	})

	t.Run("auth errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{APIKeyConfigName: "sources.testsource.api_key"})
		_, err := c.Fetch(context.Background(), get(t, server.URL))

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.Contains(t, err.Error(), "sources.testsource.api_key")
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, reg.Get("testsource").Snapshot().Failures)
	})

	t.Run("429 honors Retry-After header", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c, _ := newTestClient(t, Config{})
		var slept time.Duration
		c.sleep = func(ctx context.Context, d time.Duration) error {
			slept = d
			return nil
		}

		resp, err := c.Fetch(context.Background(), get(t, server.URL))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, 7*time.Second, slept)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("429 without header uses fixed policy when declared", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c, _ := newTestClient(t, Config{Backoff: BackoffFixed, FixedBackoff: 30 * time.Second})
		var slept time.Duration
		c.sleep = func(ctx context.Context, d time.Duration) error {
			slept = d
			return nil
		}

		resp, err := c.Fetch(context.Background(), get(t, server.URL))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, 30*time.Second, slept)
	})

	t.Run("429 exhaustion counts one breaker failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{MaxRetries: 2})
		_, err := c.Fetch(context.Background(), get(t, server.URL))

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Equal(t, 1, reg.Get("testsource").Snapshot().Failures)
	})

	t.Run("5xx retries then fails with one breaker failure", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{MaxRetries: 3})
		_, err := c.Fetch(context.Background(), get(t, server.URL))

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
		assert.Equal(t, int32(4), calls.Load())
		assert.Equal(t, 1, reg.Get("testsource").Snapshot().Failures)
	})

	t.Run("5xx recovery mid-retry succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{MaxRetries: 3})
		resp, err := c.Fetch(context.Background(), get(t, server.URL))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, 0, reg.Get("testsource").Snapshot().Failures)
	})

	t.Run("open breaker refuses without touching the network", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{})
		b := reg.Get("testsource")
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}
		require.Equal(t, resilience.Open, b.State())

		_, err := c.Fetch(context.Background(), get(t, server.URL))
		require.Error(t, err)

		var boe *domain.BreakerOpenError
		require.ErrorAs(t, err, &boe)
		assert.Equal(t, "testsource", boe.Source)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("context cancellation aborts without breaker mutation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}))
		defer server.Close()

		c, reg := newTestClient(t, Config{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.Fetch(ctx, get(t, server.URL))
		require.Error(t, err)
		assert.Equal(t, 0, reg.Get("testsource").Snapshot().Failures)
	})
}

func TestClient_expBackoff(t *testing.T) {
	c, _ := newTestClient(t, Config{RetryDelay: time.Second})
	assert.Equal(t, time.Second, c.expBackoff(0))
	assert.Equal(t, 2*time.Second, c.expBackoff(1))
	assert.Equal(t, 4*time.Second, c.expBackoff(2))
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows bursts up to capacity", func(t *testing.T) {
		rl := NewRateLimiter(1, 2)
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})

	t.Run("wait respects context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(0.001, 1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.Error(t, rl.Wait(ctx))
	})
}
