package chat

import (
	"context"
	"sync"
	"time"
)

// Sliding-window rate limits per session: a short burst window and a longer
// sustained window, both filtered from the same timestamp list.
const (
	BurstWindow = 10 * time.Second
	BurstMax    = 3
	RateWindow  = 60 * time.Second
	RateMax     = 10
	SweepEvery  = 5 * time.Minute
	SessionIdle = 5 * time.Minute
)

// Rejection reasons.
const (
	ReasonBurstLimit = "burst_limit"
	ReasonRateLimit  = "rate_limit"
)

// Decision is the limiter verdict. RetryAfter is the time until the oldest
// timestamp in the offending window falls out of it.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Limiter is injected into the chat pipeline so deployments can choose the
// backing store and tests can substitute a deterministic clock.
type Limiter interface {
	Check(sessionID string) Decision
	Cleanup()
}

// MemoryLimiter keeps per-session timestamp lists in process memory. Limits do
// not survive restart and are not shared across instances; acceptable for a
// single-instance deployment, use the Redis limiter otherwise.
type MemoryLimiter struct {
	mu       sync.Mutex
	sessions map[string][]time.Time
	now      func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		sessions: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Check evaluates both windows for the session. The request's timestamp is
// recorded even when rejected, so burst violations still count toward the
// sustained window.
func (l *MemoryLimiter) Check(sessionID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := pruneBefore(l.sessions[sessionID], now.Add(-RateWindow))

	decision := Decision{Allowed: true}
	if d, rejected := windowExceeded(stamps, now, BurstWindow, BurstMax, ReasonBurstLimit); rejected {
		decision = d
	} else if d, rejected := windowExceeded(stamps, now, RateWindow, RateMax, ReasonRateLimit); rejected {
		decision = d
	}

	l.sessions[sessionID] = append(stamps, now)
	return decision
}

// Cleanup removes sessions idle beyond the sweep window.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-SessionIdle)
	for id, stamps := range l.sessions {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(cutoff) {
			delete(l.sessions, id)
		}
	}
}

// StartSweeper runs Cleanup periodically until ctx is cancelled.
func StartSweeper(ctx context.Context, l Limiter) {
	go func() {
		ticker := time.NewTicker(SweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}

func windowExceeded(stamps []time.Time, now time.Time, window time.Duration, max int, reason string) (Decision, bool) {
	cutoff := now.Add(-window)
	inWindow := stamps[:0:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			inWindow = append(inWindow, ts)
		}
	}
	if len(inWindow) < max {
		return Decision{}, false
	}
	retryAfter := inWindow[0].Add(window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}, true
}
