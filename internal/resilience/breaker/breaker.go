// Package breaker guards synchronous calls between services. One circuit
// breaker exists per target service name, created lazily on first use and
// shared by every caller targeting that service. Repeated failures open the
// circuit so callers fail fast instead of piling timeouts onto a known-bad
// peer.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	loggingpkg "github.com/flockline/fabric/internal/runtime/logging"
)

// Config tunes one circuit breaker. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	FailureThreshold uint32
	// RecoveryTimeout is how long an open circuit rejects calls before one
	// half-open trial is allowed through. Defaults to 30s.
	RecoveryTimeout time.Duration
	// CallTimeout bounds each guarded call independently of the callee's own
	// timeouts, so a hung peer cannot hold the breaker's accounting open.
	// Defaults to 10s.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// CircuitOpenError is returned when the circuit for a service is open. The
// wrapped call was never attempted.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for service %q, retry after %s", e.Service, e.RetryAfter)
}

// StateChangeHook observes breaker transitions, e.g. for alerting.
type StateChangeHook func(service string, from, to gobreaker.State)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fabric_breaker_transitions_total",
		Help: "Circuit breaker state transitions, by target service.",
	},
	[]string{"service", "from", "to"},
)

// Registry owns the per-service breakers. It is injected into callers
// instead of living as ambient global state, and it holds no business data,
// only failure accounting.
type Registry struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	breakers  map[string]*gobreaker.CircuitBreaker[any]
	openedAt  map[string]time.Time

	logger loggingpkg.ServiceLogger
	hook   StateChangeHook
}

// Option customises a Registry.
type Option func(*Registry)

// WithServiceConfig overrides the breaker tuning for one target service.
func WithServiceConfig(service string, cfg Config) Option {
	return func(r *Registry) { r.overrides[service] = cfg.withDefaults() }
}

// WithLogger attaches a logger for transition events.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithStateChangeHook registers an observer for every state transition.
func WithStateChangeHook(hook StateChangeHook) Option {
	return func(r *Registry) { r.hook = hook }
}

// NewRegistry creates a breaker registry with the given default tuning.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	r := &Registry{
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Config),
		breakers:  make(map[string]*gobreaker.CircuitBreaker[any]),
		openedAt:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) configFor(service string) Config {
	if cfg, ok := r.overrides[service]; ok {
		return cfg
	}
	return r.defaults
}

func (r *Registry) breakerFor(service string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cfg := r.configFor(service)
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.onStateChange(name, from, to)
		},
	})
	r.breakers[service] = cb
	return cb
}

func (r *Registry) onStateChange(service string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		r.mu.Lock()
		r.openedAt[service] = time.Now()
		r.mu.Unlock()
	}

	transitionsTotal.WithLabelValues(service, from.String(), to.String()).Inc()

	if r.logger != nil {
		r.logger.Info("Circuit breaker state change", loggingpkg.LogFields{
			"service": service,
			"from":    from.String(),
			"to":      to.String(),
		})
	}
	if r.hook != nil {
		r.hook(service, from, to)
	}
}

// retryAfter reports how long until the open circuit for service admits its
// half-open trial call.
func (r *Registry) retryAfter(service string) time.Duration {
	cfg := r.configFor(service)

	r.mu.Lock()
	opened, ok := r.openedAt[service]
	r.mu.Unlock()
	if !ok {
		return cfg.RecoveryTimeout
	}

	remaining := cfg.RecoveryTimeout - time.Since(opened)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Do executes call through the breaker for the named service. The call
// receives a context bounded by the configured CallTimeout; a call that
// outlives it is counted as a failure even if the callee never returns.
func (r *Registry) Do(ctx context.Context, service string, call func(ctx context.Context) (any, error)) (any, error) {
	cb := r.breakerFor(service)
	cfg := r.configFor(service)

	result, err := cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()

		type outcome struct {
			value any
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			value, callErr := call(callCtx)
			done <- outcome{value: value, err: callErr}
		}()

		select {
		case <-callCtx.Done():
			return nil, callCtx.Err()
		case out := <-done:
			return out.value, out.err
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &CircuitOpenError{Service: service, RetryAfter: r.retryAfter(service)}
	}
	return result, err
}

// Guard is the typed convenience wrapper around Registry.Do.
func Guard[T any](ctx context.Context, r *Registry, service string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := r.Do(ctx, service, func(ctx context.Context) (any, error) {
		return call(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}

// State reports the current state of the breaker for a service. A service
// never called reports a closed circuit.
func (r *Registry) State(service string) gobreaker.State {
	r.mu.Lock()
	cb, ok := r.breakers[service]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
