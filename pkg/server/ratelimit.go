package server

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit requests per client within any sliding
// window. Timestamps older than the window are discarded on each check.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request for clientID and reports whether it is admitted.
// Rejected requests are not recorded.
func (l *RateLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.recent(l.hits[clientID], now)
	if len(kept) >= l.limit {
		l.hits[clientID] = kept
		return false
	}
	l.hits[clientID] = append(kept, now)
	return true
}

// Prune forgets clients with no requests inside the window and returns how
// many are still tracked.
func (l *RateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, times := range l.hits {
		kept := l.recent(times, now)
		if len(kept) == 0 {
			delete(l.hits, id)
			continue
		}
		l.hits[id] = kept
	}
	return len(l.hits)
}

func (l *RateLimiter) recent(times []time.Time, now time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	return kept
}
