// Package resilience provides per-source circuit breakers guarding the
// fetch protocol against repeatedly calling unhealthy external APIs.
package resilience

import (
	"encoding/json"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// Closed allows all calls through.
	Closed State = iota
	// Open fails calls fast until the cooldown elapses.
	Open
	// HalfOpen allows a single probe call whose outcome decides the next state.
	HalfOpen
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config holds the parameters for one circuit breaker.
type Config struct {
	// FailureThreshold is the number of failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
}

// DefaultConfig is used for sources without an explicit breaker configuration.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         60 * time.Second,
}

// Breaker is a per-source failure-tracking state machine. It is safe for
// concurrent use; all transitions happen under the breaker's mutex.
//
// Invariant: state == Open implies failures >= FailureThreshold, except when
// a half-open probe fails, which reopens immediately regardless of count
// (a failed probe is itself conclusive).
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	failures    int
	lastFailure time.Time

	now func() time.Time // test hook
}

// NewBreaker creates a closed breaker with the given configuration.
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	return &Breaker{
		cfg:   cfg,
		state: Closed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has elapsed, it transitions to half-open as a side effect and
// allows one probe through; the caller is expected to report the outcome via
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastFailure) > b.cfg.Cooldown {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = Closed
}

// RecordFailure registers one incident. The circuit opens when the failure
// count reaches the threshold, or immediately when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = Open
	}
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cooldown returns the configured cooldown.
func (b *Breaker) Cooldown() time.Duration {
	return b.cfg.Cooldown
}

// Stats is a point-in-time snapshot of one breaker.
type Stats struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}

// Snapshot returns the breaker's current stats.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}
