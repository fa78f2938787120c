package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/resilience"
)

// BackoffPolicy selects how a source backs off after a 429 without a
// Retry-After header. Each source declares its own policy; there is no
// universal formula.
type BackoffPolicy string

const (
	// BackoffExponential doubles the base delay on every attempt.
	BackoffExponential BackoffPolicy = "exponential"
	// BackoffFixed sleeps a fixed per-source duration between attempts.
	BackoffFixed BackoffPolicy = "fixed"
)

// Config configures the fetch client for one source.
type Config struct {
	// Source is the source name, used as the circuit breaker key and in
	// every error raised by the client.
	Source string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RateLimit is the maximum sustained requests per second.
	RateLimit float64

	// Burst is the maximum request burst.
	Burst int

	// MaxRetries is the maximum number of retry attempts after the first
	// request (so MaxRetries+1 attempts total).
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// Backoff is the 429 backoff policy when no Retry-After header is sent.
	Backoff BackoffPolicy

	// FixedBackoff is the delay used by the fixed policy.
	FixedBackoff time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// APIKey and APIKeyHeader configure optional authentication.
	APIKey       string
	APIKeyHeader string

	// APIKeyConfigName names the configuration key holding the source's
	// API key. It is included in auth error remediation text.
	APIKeyConfigName string
}

// Client executes HTTP requests for one source under its rate limit and
// circuit breaker. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *RateLimiter
	breaker *resilience.Breaker
	cfg     Config
	log     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// NewClient creates a fetch client. The breaker for cfg.Source is looked up
// in (and lazily created by) the given registry, so every client for the
// same source shares one breaker.
func NewClient(cfg Config, breakers *resilience.Registry, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = int(cfg.RateLimit)
		if cfg.Burst == 0 {
			cfg.Burst = 1
		}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Backoff == "" {
		cfg.Backoff = BackoffExponential
	}
	if cfg.FixedBackoff == 0 {
		cfg.FixedBackoff = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "SciLEx-Collector/1.0"
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.Burst),
		breaker: breakers.Get(cfg.Source),
		cfg:     cfg,
		log:     logger.With().Str("source", cfg.Source).Logger(),
		sleep:   sleepCtx,
	}
}

// Fetch executes one GET request under the source's rate limit, retrying
// transient failures, and reports the outcome to the circuit breaker.
//
// The breaker tracks incidents, not attempts: a terminal error causes
// exactly one RecordFailure no matter how many retries preceded it, and a
// refused call (breaker open) touches neither the breaker nor the network.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !c.breaker.Allow() {
		c.log.Warn().Dur("cooldown", c.breaker.Cooldown()).Msg("skipping fetch, circuit open")
		return nil, &domain.BreakerOpenError{Source: c.cfg.Source, Cooldown: c.breaker.Cooldown()}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" && c.cfg.APIKeyHeader != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = err
			if attempt < c.cfg.MaxRetries {
				if serr := c.sleep(ctx, c.expBackoff(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			c.breaker.RecordFailure()
			return nil, domain.NewExternalAPIError(c.cfg.Source, 0, "network error", lastErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.breaker.RecordSuccess()
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// Not transient: bad credentials stay bad on retry.
			status := resp.StatusCode
			drain(resp)
			c.breaker.RecordFailure()
			return nil, domain.NewAuthError(c.cfg.Source, status, c.remediation())

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := c.rateLimitDelay(resp, attempt)
			drain(resp)
			if attempt < c.cfg.MaxRetries {
				c.log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("rate limited, backing off")
				if serr := c.sleep(ctx, delay); serr != nil {
					return nil, serr
				}
				continue
			}
			c.breaker.RecordFailure()
			return nil, &domain.RateLimitError{Source: c.cfg.Source, RetryAfter: delay}

		case resp.StatusCode >= 500:
			status := resp.StatusCode
			drain(resp)
			lastErr = fmt.Errorf("server returned status %d", status)
			if attempt < c.cfg.MaxRetries {
				if serr := c.sleep(ctx, c.expBackoff(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			c.breaker.RecordFailure()
			return nil, domain.NewExternalAPIError(c.cfg.Source, status,
				fmt.Sprintf("max retries exhausted after %d attempts", c.cfg.MaxRetries+1), lastErr)

		default:
			// 4xx other than auth and rate limit is a terminal client error.
			status := resp.StatusCode
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			drain(resp)
			c.breaker.RecordFailure()
			return nil, domain.NewExternalAPIError(c.cfg.Source, status, string(body), nil)
		}
	}

	c.breaker.RecordFailure()
	return nil, domain.NewExternalAPIError(c.cfg.Source, 0, "no response received", lastErr)
}

// Breaker exposes the source's circuit breaker, mainly for tests and the
// progress endpoint.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// rateLimitDelay determines the wait after a 429. A Retry-After header wins;
// otherwise the source's declared backoff policy applies.
func (c *Client) rateLimitDelay(resp *http.Response, attempt int) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if delay := time.Until(t); delay > 0 {
				return delay
			}
		}
	}

	if c.cfg.Backoff == BackoffFixed {
		return c.cfg.FixedBackoff
	}
	return c.expBackoff(attempt)
}

// expBackoff doubles the base delay per attempt: base, 2*base, 4*base...
func (c *Client) expBackoff(attempt int) time.Duration {
	return c.cfg.RetryDelay * time.Duration(1<<attempt)
}

// remediation builds the operator guidance attached to auth errors.
func (c *Client) remediation() string {
	if c.cfg.APIKeyConfigName == "" {
		return fmt.Sprintf("check the API credentials configured for %s", c.cfg.Source)
	}
	return fmt.Sprintf("set a valid API key in %s", c.cfg.APIKeyConfigName)
}

// drain consumes and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

// sleepCtx waits for the given duration, respecting context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
