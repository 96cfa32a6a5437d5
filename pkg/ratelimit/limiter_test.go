package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewInMemory(2, 5*time.Second)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()
	key := "203.0.113.9"

	first, _ := limiter.Allow(ctx, key)
	if !first.Allowed || first.Count != 1 || first.Remaining != 1 || first.Limit != 2 {
		t.Fatalf("unexpected first decision: %+v", first)
	}
	second, _ := limiter.Allow(ctx, key)
	if !second.Allowed || second.Remaining != 0 {
		t.Fatalf("unexpected second decision: %+v", second)
	}
	third, _ := limiter.Allow(ctx, key)
	if third.Allowed || third.Count != 3 || third.Remaining != 0 {
		t.Fatalf("expected third request refused with remaining clamped to 0, got %+v", third)
	}
	if !third.ResetAt.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("expected window anchored at first admission, got %v", third.ResetAt)
	}

	other, _ := limiter.Allow(ctx, "198.51.100.1")
	if !other.Allowed || other.Count != 1 {
		t.Fatalf("expected independent key budget, got %+v", other)
	}

	now = now.Add(5 * time.Second)
	reset, _ := limiter.Allow(ctx, key)
	if !reset.Allowed || reset.Count != 1 {
		t.Fatalf("expected counter reset at the window boundary, got %+v", reset)
	}
}

func TestInMemoryLimiterDefaults(t *testing.T) {
	lim := NewInMemory(0, 0)
	if lim.window != time.Minute || lim.limit != 1 {
		t.Fatalf("expected floor limit=1 window=1m, got limit=%d window=%v", lim.limit, lim.window)
	}
}

func TestInMemoryLimiterConcurrentAdmissions(t *testing.T) {
	limiter := NewInMemory(5, time.Minute)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := limiter.Allow(context.Background(), "k")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Fatalf("expected exactly 5 admissions, got %d", allowed)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for raw, want := range map[string]FailurePolicy{"": FailClosed, "CLOSED": FailClosed, " open ": FailOpen, "local": FailLocal} {
		got, err := ParseFailurePolicy(raw)
		if err != nil || got != want {
			t.Fatalf("ParseFailurePolicy(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFailurePolicy("sometimes"); err == nil {
		t.Fatal("expected unsupported policy error")
	}
}

func TestSynthetic(t *testing.T) {
	d := Synthetic(1000)
	if !d.Allowed || d.Limit != 1000 || d.Remaining != 1000 {
		t.Fatalf("unexpected synthetic decision: %+v", d)
	}
}
