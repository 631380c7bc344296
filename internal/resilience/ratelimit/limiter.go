package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision is the store's verdict for one consumption attempt. Stores compute
// the whole decision atomically so concurrent callers can never overdraw the
// budget.
type Decision struct {
	Allowed    bool
	Remaining  int64
	ResetAt    int64 // unix milliseconds
	RetryAfter int64 // milliseconds, only meaningful when not allowed
}

// Store holds the per-key counters for one or more policies. Keys arrive
// already prefixed with the policy name, so one store can back many policies
// without collisions.
type Store interface {
	Consume(ctx context.Context, key string, policy Policy) (Decision, error)
}

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fabric_ratelimit_decisions_total",
		Help: "Rate limit decisions, by policy and outcome.",
	},
	[]string{"policy", "outcome"},
)

// Limiter evaluates consumption attempts against named policies.
type Limiter struct {
	store    Store
	mu       sync.RWMutex
	policies map[string]Policy
}

// New builds a limiter over the given store with an initial policy set.
func New(store Store, policies ...Policy) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store must not be nil")
	}
	l := &Limiter{
		store:    store,
		policies: make(map[string]Policy, len(policies)),
	}
	for _, p := range policies {
		if err := l.AddPolicy(p); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddPolicy registers another policy. Re-registering a name replaces the
// previous tuning.
func (l *Limiter) AddPolicy(p Policy) error {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.policies[p.Name] = p
	l.mu.Unlock()
	return nil
}

// Consume spends one point of the named policy's budget for key. On success
// it reports the remaining budget and the window reset time. An exhausted
// budget or a penalty box hit returns a RateLimitError with the retry hint.
func (l *Limiter) Consume(ctx context.Context, policyName, key string) (Result, error) {
	l.mu.RLock()
	policy, ok := l.policies[policyName]
	l.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unknown policy %q", policyName)
	}

	storeKey := policy.Name + ":" + key
	decision, err := l.store.Consume(ctx, storeKey, policy)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: consuming %q: %w", storeKey, err)
	}

	resetAt := millisToTime(decision.ResetAt)
	if !decision.Allowed {
		decisionsTotal.WithLabelValues(policy.Name, "rejected").Inc()
		return Result{}, &RateLimitError{
			Policy:     policy.Name,
			Key:        key,
			RetryAfter: millisToDuration(decision.RetryAfter),
			ResetAt:    resetAt,
		}
	}

	decisionsTotal.WithLabelValues(policy.Name, "allowed").Inc()
	return Result{Remaining: decision.Remaining, ResetAt: resetAt}, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
