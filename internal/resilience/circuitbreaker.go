// Package resilience protects calls to the external transcription and product
// search services.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open) with
// an injectable clock, a failure classifier and a state-change hook.
// [FallbackGroup] composes several instances of one provider type, each
// behind its own breaker, so a failing primary is bypassed in favour of the
// next healthy entry. [TranscribeFallback] and [SearchBreaker] adapt these
// to the provider interfaces.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open, or half-open with its probe budget spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. Any probe
	// failure re-opens; HalfOpenMax successes close.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 1.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every non-nil error. Errors it rejects are still returned to the
	// caller.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition. It runs
	// outside the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now overrides time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeWins  int
	totalTrips int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, change, err := cb.admit()
	cb.notify(change)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.mu.Lock()
	change = cb.recordLocked(probe, callErr)
	cb.mu.Unlock()
	cb.notify(change)
	return callErr
}

type transition struct {
	from, to State
	ok       bool
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, change transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, transition{}, ErrCircuitOpen
		}
		change = cb.setLocked(StateHalfOpen)
		cb.probes, cb.probeWins = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, change, ErrCircuitOpen
		}
		cb.probes++
		return true, change, nil
	}
	return false, change, nil
}

func (cb *CircuitBreaker) recordLocked(probe bool, err error) transition {
	failed := err != nil && cb.cfg.IsFailure(err)

	if probe {
		// The breaker may have been reset while the probe ran.
		if cb.state != StateHalfOpen {
			return transition{}
		}
		if failed {
			cb.openedAt = cb.cfg.Now()
			cb.totalTrips++
			return cb.setLocked(StateOpen)
		}
		cb.probeWins++
		if cb.probeWins >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			return cb.setLocked(StateClosed)
		}
		return transition{}
	}

	if !failed {
		if cb.state == StateClosed {
			cb.failures = 0
		}
		return transition{}
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		cb.totalTrips++
		return cb.setLocked(StateOpen)
	}
	return transition{}
}

func (cb *CircuitBreaker) setLocked(to State) transition {
	from := cb.state
	if from == to {
		return transition{}
	}
	cb.state = to
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "from", from.String(),
			"consecutive_failures", cb.failures)
	default:
		slog.Info("circuit breaker state change", "name", cb.cfg.Name, "from", from.String(), "to", to.String())
	}
	return transition{from: from, to: to, ok: true}
}

func (cb *CircuitBreaker) notify(t transition) {
	if t.ok && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reads as half-open; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalTrips
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	change := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	cb.notify(change)
}
