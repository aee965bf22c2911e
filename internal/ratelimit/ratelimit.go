// Package ratelimit implements per-identity sliding-window admission control.
// Thread-safe. No background goroutines — windows are reset lazily on each
// Admit call; idle identities are evicted by a periodic janitor sweep.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when an identity has exhausted its window.
var ErrRateLimited = errors.New("rate limit exceeded")

const defaultWindow = time.Minute

// Config configures the sliding-window rate limiter.
type Config struct {
	Limit  int           // Requests per window. 0 = unlimited (Admit always allows).
	Window time.Duration // Window length. 0 = 60s default.
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the window resets. Set only on denial,
	// always positive, so callers can communicate a concrete retry time.
	RetryAfter time.Duration
	// Remaining is the number of admissions left in the current window.
	Remaining int
}

// window tracks one identity's admissions in the current window.
type window struct {
	start time.Time
	count int
}

// Limiter is a per-identity sliding-window rate limiter.
// Each identity gets an independent window; one identity cannot exhaust
// another's quota. Admission decisions for the same identity are strictly
// serialized under the limiter's lock, so no two concurrent admissions can
// both slip past the limit.
type Limiter struct {
	mu         sync.Mutex
	identities map[string]*window
	limit      int
	windowLen  time.Duration

	now func() time.Time // Injectable clock for tests.
}

// NewLimiter creates a rate limiter with the given configuration.
// If Limit is 0, Admit always allows (unlimited).
func NewLimiter(cfg Config) *Limiter {
	windowLen := cfg.Window
	if windowLen <= 0 {
		windowLen = defaultWindow
	}
	return &Limiter{
		identities: make(map[string]*window),
		limit:      cfg.Limit,
		windowLen:  windowLen,
		now:        time.Now,
	}
}

// Admit checks whether the identity may issue another request and records
// the admission on success. Expired windows are reset in place rather than
// swept by a background task, bounding memory by the number of distinct
// recently-active identities.
func (l *Limiter) Admit(identity string) Decision {
	// Unlimited mode.
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.identities[identity]
	if !ok || now.Sub(w.start) >= l.windowLen {
		w = &window{start: now}
		l.identities[identity] = w
	}

	if w.count >= l.limit {
		return Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(l.windowLen).Sub(now),
		}
	}

	w.count++
	return Decision{Allowed: true, Remaining: l.limit - w.count}
}

// Allow is an error-flavored wrapper around Admit for callers that only
// need pass/fail semantics.
func (l *Limiter) Allow(identity string) error {
	if d := l.Admit(identity); !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

// EvictIdle removes identities whose window expired at least idleFor ago.
// Returns the number of identities evicted. Intended to run from the janitor
// so the map does not grow without bound on long-lived processes.
func (l *Limiter) EvictIdle(idleFor time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for id, w := range l.identities {
		if now.Sub(w.start) >= l.windowLen+idleFor {
			delete(l.identities, id)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked identities. Exposed for eviction metrics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.identities)
}
