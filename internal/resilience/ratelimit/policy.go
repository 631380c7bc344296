// Package ratelimit implements fixed-window rate limiting with an optional
// penalty box. Each named policy grants a budget of points per window;
// exhausting the budget can block the offending key beyond the window, with
// the block scaling for repeat offenders. Counter state lives behind the
// Store interface so a single instance uses process memory and a scaled
// deployment shares Redis.
package ratelimit

import (
	"fmt"
	"time"
)

// Policy declares one rate limit budget.
type Policy struct {
	// Name identifies the policy, e.g. "api.write" or "auth.login".
	Name string
	// Points is the number of operations allowed per window.
	Points int64
	// Duration is the fixed window length.
	Duration time.Duration
	// BlockDuration, when positive, puts a key that exhausts its budget into
	// a penalty box for this long instead of merely waiting out the window.
	BlockDuration time.Duration
	// ProgressiveBlock scales BlockDuration by the number of consecutive
	// violations, capped by MaxBlockMultiplier.
	ProgressiveBlock bool
	// MaxBlockMultiplier caps the progressive scaling. Defaults to 10.
	MaxBlockMultiplier int
}

func (p Policy) withDefaults() Policy {
	if p.MaxBlockMultiplier <= 0 {
		p.MaxBlockMultiplier = 10
	}
	return p
}

func (p Policy) validate() error {
	if p.Name == "" {
		return fmt.Errorf("ratelimit: policy name must not be empty")
	}
	if p.Points <= 0 {
		return fmt.Errorf("ratelimit: policy %q needs a positive point budget", p.Name)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("ratelimit: policy %q needs a positive window duration", p.Name)
	}
	if p.BlockDuration < 0 {
		return fmt.Errorf("ratelimit: policy %q has a negative block duration", p.Name)
	}
	return nil
}

// blockFor computes the penalty length for the given consecutive violation
// count.
func (p Policy) blockFor(violations int) time.Duration {
	if p.BlockDuration <= 0 {
		return 0
	}
	multiplier := 1
	if p.ProgressiveBlock {
		multiplier = violations
		if multiplier < 1 {
			multiplier = 1
		}
		if multiplier > p.MaxBlockMultiplier {
			multiplier = p.MaxBlockMultiplier
		}
	}
	return p.BlockDuration * time.Duration(multiplier)
}

// Result describes an allowed operation.
type Result struct {
	// Remaining is the budget left in the current window.
	Remaining int64
	// ResetAt is when the current window ends and the budget refills.
	ResetAt time.Time
}

// RateLimitError is returned when a key's budget is exhausted or the key sits
// in the penalty box.
type RateLimitError struct {
	Policy     string
	Key        string
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for policy %q key %q, retry after %s", e.Policy, e.Key, e.RetryAfter)
}
