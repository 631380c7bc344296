package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	memorySweepInterval = time.Minute
	memoryIdleGrace     = 5 * time.Minute
)

type memoryEntry struct {
	mu           sync.Mutex
	evicted      bool
	points       int64
	windowEndsAt time.Time
	blockedUntil time.Time
	violations   int
	lastSeen     time.Time
}

// MemoryStore keeps rate limit counters in process memory. Windows reset
// lazily on access instead of via timers, and idle keys are swept out so the
// map does not grow with every client ever seen. Suitable for a single
// instance; shared deployments use the Redis store.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*memoryEntry),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *MemoryStore) entryFor(key string, now time.Time) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > memorySweepInterval {
		s.sweepLocked(now)
		s.lastSweep = now
	}

	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

// sweepLocked drops entries whose window and block have long expired. An
// evicted entry is marked under its own lock so a consumer that already
// holds a pointer to it re-fetches instead of counting against a ghost.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		e.mu.Lock()
		idle := now.Sub(e.lastSeen) > memoryIdleGrace &&
			now.After(e.windowEndsAt) && now.After(e.blockedUntil)
		if idle {
			e.evicted = true
		}
		e.mu.Unlock()
		if idle {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) Consume(_ context.Context, key string, policy Policy) (Decision, error) {
	now := s.now()

	var e *memoryEntry
	for {
		e = s.entryFor(key, now)
		e.mu.Lock()
		if !e.evicted {
			break
		}
		e.mu.Unlock()
	}
	defer e.mu.Unlock()

	e.lastSeen = now

	if e.blockedUntil.After(now) {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    e.blockedUntil.UnixMilli(),
			RetryAfter: e.blockedUntil.Sub(now).Milliseconds(),
		}, nil
	}

	if !e.windowEndsAt.After(now) {
		e.points = 0
		e.windowEndsAt = now.Add(policy.Duration)
		// A full clean window since the last block ends the escalation.
		if e.blockedUntil.IsZero() || now.Sub(e.blockedUntil) > policy.Duration {
			e.violations = 0
		}
	}

	if e.points >= policy.Points {
		e.violations++
		resetAt := e.windowEndsAt
		if block := policy.blockFor(e.violations); block > 0 {
			e.blockedUntil = now.Add(block)
			resetAt = e.blockedUntil
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt.UnixMilli(),
			RetryAfter: resetAt.Sub(now).Milliseconds(),
		}, nil
	}

	e.points++
	return Decision{
		Allowed:   true,
		Remaining: policy.Points - e.points,
		ResetAt:   e.windowEndsAt.UnixMilli(),
	}, nil
}
