package security

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("security: rate limit exceeded")

// RateLimiter implements a token bucket rate limiter. The ingest API
// uses one per session to bound frame and event upload rates.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing rate operations per second
// with the given burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Allow reports whether one operation is allowed now.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.rate
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}
	r.lastRefill = now

	if r.tokens >= 1.0 {
		r.tokens--
		return true
	}
	return false
}

// Reset restores the limiter to full capacity.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = float64(r.burst)
	r.lastRefill = time.Now()
}

// SessionRateLimiter keeps one token bucket per session ID.
type SessionRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	rate     float64
	burst    int
}

// NewSessionRateLimiter creates a per-session rate limiter.
func NewSessionRateLimiter(rate float64, burst int) *SessionRateLimiter {
	return &SessionRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rate,
		burst:    burst,
	}
}

// Allow reports whether an operation for the session is allowed now.
func (s *SessionRateLimiter) Allow(sessionID string) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[sessionID]
	if !ok {
		limiter = NewRateLimiter(s.rate, s.burst)
		s.limiters[sessionID] = limiter
	}
	s.mu.Unlock()

	return limiter.Allow()
}

// Forget drops the limiter for a finished session.
func (s *SessionRateLimiter) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.limiters, sessionID)
	s.mu.Unlock()
}
