// Package resilience keeps a degraded vendor from stalling live calls.
//
// Every external backend Dialflow talks to mid-call (LLM completion, speech
// synthesis, speech recognition) sits behind a [CircuitBreaker] that fails
// fast once the vendor shows a run of consecutive errors. [FallbackGroup]
// composes several backends of one provider kind so an unhealthy primary is
// routed around instead of retried.
//
// The defaults are tuned for telephony, not batch work: a prospect hangs up
// within seconds of dead air, so breakers trip early and probe again soon.
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
// rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to decide
	// whether the vendor has recovered.
	StateHalfOpen
)

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

// Call-engine defaults. Three consecutive vendor errors already cost the
// prospect several seconds of silence, and fifteen seconds open spans only a
// call or two before the next probe.
const (
	defaultMaxFailures  = 3
	defaultResetTimeout = 15 * time.Second
	defaultHalfOpenMax  = 2
)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the guarded backend in logs and state-change
	// notifications, e.g. "llm:openai" or "tts:elevenlabs".
	Name string

	// MaxFailures is the consecutive-failure count that trips the breaker.
	// Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// vendor again. Default: 15s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls allowed in half-open. Default: 2.
	HalfOpenMax int

	// OnStateChange, when set, is notified of every transition. It runs
	// outside the breaker's lock and must not block; callers use it to
	// surface vendor health in their own logs or readiness checks.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker (closed, open, half-open).
// It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields get
// the call-engine defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = defaultHalfOpenMax
	}
	return &CircuitBreaker{
		cfg: cfg,
		log: slog.Default().With("breaker", cfg.Name),
	}
}

// Execute runs fn unless the breaker rejects the call. In the open state it
// returns [ErrCircuitOpen] without invoking fn; in half-open only the probe
// budget is admitted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	cb.settle(probe, callErr)
	return callErr
}

// admit decides whether a call may proceed and reports whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.shift(StateHalfOpen)
		cb.probes = 0
		cb.probeFails = 0

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, callErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil {
		cb.openedAt = time.Now()
		if probe {
			cb.probeFails++
			// One failed probe is enough: the vendor is still down.
			cb.failures = cb.cfg.MaxFailures
			cb.shift(StateOpen)
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.shift(StateOpen)
		}
		return
	}

	if probe {
		if cb.probes-cb.probeFails >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			cb.shift(StateClosed)
		}
		return
	}
	cb.failures = 0
}

// shift moves the breaker to a new state, logging and notifying the
// OnStateChange hook. Must be called with cb.mu held; the hook itself runs on
// a fresh goroutine so it can safely call [CircuitBreaker.State].
func (cb *CircuitBreaker) shift(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.log.Warn("circuit breaker opened", "consecutive_failures", cb.failures)
	case StateHalfOpen:
		cb.log.Info("circuit breaker probing vendor")
	case StateClosed:
		cb.log.Info("circuit breaker closed, vendor recovered")
	}

	if hook := cb.cfg.OnStateChange; hook != nil {
		go hook(cb.cfg.Name, from, to)
	}
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored transition happens
// on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	cb.log.Info("circuit breaker manually reset")
	if hook := cb.cfg.OnStateChange; hook != nil && from != StateClosed {
		go hook(cb.cfg.Name, from, StateClosed)
	}
}
