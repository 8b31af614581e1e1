package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] either
// failed or had an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Breaker is the per-backend circuit breaker configuration. The Name
	// field is overwritten with each backend's own name.
	Breaker CircuitBreakerConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// backend pairs a provider value with its dedicated circuit breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup routes calls across a primary and zero or more fallback
// instances of one provider type. The primary is always tried first; backends
// whose breaker is open are skipped, and the first healthy one wins.
//
// FallbackGroup is safe for concurrent use after the last
// [FallbackGroup.AddFallback] call.
type FallbackGroup[T any] struct {
	cfg      FallbackConfig
	log      *slog.Logger
	backends []backend[T]
}

// NewFallbackGroup creates a group with primary as the first backend.
// Register additional backends with [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Backends are tried in registration order
// after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.Breaker
	cbCfg.Name = name
	fg.backends = append(fg.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first registered backend.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.backends[0].value
}

// Backends returns the backend names in try order, for startup logging.
func (fg *FallbackGroup[T]) Backends() []string {
	names := make([]string, len(fg.backends))
	for i, b := range fg.backends {
		names[i] = b.name
	}
	return names
}

// Execute tries fn against each backend in order until one succeeds. Returns
// [ErrAllFailed] wrapped with the last error when none does.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each backend in order until one succeeds,
// returning its result. A package-level function because Go methods cannot
// introduce the result type parameter.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.backends {
		b := &fg.backends[i]

		var result R
		err := b.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(b.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("skipping backend, circuit open", "backend", b.name)
		} else {
			fg.log.Warn("backend failed, trying next", "backend", b.name, "error", err)
		}
	}

	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
