// Package ratelimit implements sliding-window call limiting for tool
// invocations.
//
// A limit of {MaxCalls, Window} allows at most MaxCalls timestamped calls
// within any trailing Window. Counters are keyed by the caller-supplied
// string (the tool executor keys them by tool name and caller id), so
// independent callers never contend on quota.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limit declares a sliding-window call budget.
type Limit struct {
	// MaxCalls is the maximum number of calls inside the window.
	MaxCalls int `json:"max_calls"`

	// Window is the trailing window duration.
	Window time.Duration `json:"window"`
}

// Validate checks the limit for errors.
func (l Limit) Validate() error {
	if l.MaxCalls <= 0 {
		return fmt.Errorf("max calls must be positive, got %d", l.MaxCalls)
	}
	if l.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", l.Window)
	}
	return nil
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// SlidingWindow is an in-process sliding-window limiter.
//
// It keeps the timestamps of recent calls per key and prunes entries that
// have slid out of the window on every check. Safe for concurrent use.
type SlidingWindow struct {
	mu    sync.Mutex
	calls map[string][]time.Time
	now   func() time.Time
}

// NewSlidingWindow creates a sliding-window limiter.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		calls: make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Allow checks the key against the limit and, when allowed, records the
// call. When rejected, ResetAt is the moment the oldest counted call
// slides out of the window.
func (s *SlidingWindow) Allow(key string, limit Limit) Decision {
	if err := limit.Validate(); err != nil {
		// Misconfigured limits never block callers.
		return Decision{Allowed: true, Remaining: limit.MaxCalls, Limit: limit.MaxCalls}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-limit.Window)

	recent := s.calls[key][:0]
	for _, ts := range s.calls[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= limit.MaxCalls {
		s.calls[key] = recent
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     limit.MaxCalls,
			ResetAt:   recent[0].Add(limit.Window),
		}
	}

	recent = append(recent, now)
	s.calls[key] = recent
	return Decision{
		Allowed:   true,
		Remaining: limit.MaxCalls - len(recent),
		Limit:     limit.MaxCalls,
		ResetAt:   recent[0].Add(limit.Window),
	}
}

// Reset drops the call history for a key.
func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, key)
}
