// Package ratelimit implements fixed-window admission counters keyed by
// client identity.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable wraps counter store failures under the closed failure policy.
var ErrUnavailable = errors.New("rate limit store unavailable")

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or refuses one request for key. A non-nil error means no
// decision could be made.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// FailurePolicy selects what a store-backed limiter does when its store fails.
type FailurePolicy string

const (
	// FailClosed surfaces the failure as an error (dependency failure).
	FailClosed FailurePolicy = "closed"
	// FailOpen admits the request with the full budget remaining.
	FailOpen FailurePolicy = "open"
	// FailLocal falls back to a process-local fixed window.
	FailLocal FailurePolicy = "local"
)

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return FailClosed, nil
	case FailClosed, FailOpen, FailLocal:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported rate limit failure policy %q", raw)
	}
}

// Synthetic returns an always-allowed decision with the whole budget left.
func Synthetic(limit int) Decision {
	return Decision{Allowed: true, Limit: limit, Remaining: limit}
}

func newDecision(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

type InMemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	items  map[string]entry
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory(limit int, window time.Duration) *InMemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		limit:  limit,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
		items:  make(map[string]entry),
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(now)
	curr, ok := l.items[key]
	if !ok || !now.Before(curr.resetAt) {
		curr = entry{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	return newDecision(curr.count, l.limit, curr.resetAt), nil
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}
