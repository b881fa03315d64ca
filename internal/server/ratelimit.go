package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter allows a fixed number of requests per client and minute.
type RateLimiter struct {
	mu sync.Mutex

	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*window
}

type window struct {
	start time.Time
	count int
}

// RateLimitError is returned when a client exceeded its budget.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per minute, retry after %s",
		e.Limit, e.RetryAfter.Round(time.Second))
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   requestsPerMinute,
		window:  time.Minute,
		now:     time.Now,
		clients: make(map[string]*window),
	}
}

// Allow records a request from clientID or returns a *RateLimitError.
func (rl *RateLimiter) Allow(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[clientID]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[clientID] = &window{start: now, count: 1}
		rl.prune(now)
		return nil
	}
	if w.count >= rl.limit {
		return &RateLimitError{Limit: rl.limit, RetryAfter: rl.window - now.Sub(w.start)}
	}
	w.count++
	return nil
}

// prune drops expired windows.
func (rl *RateLimiter) prune(now time.Time) {
	for id, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, id)
		}
	}
}
