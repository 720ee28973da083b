package quota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock is advanced manually by tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newLimiter(rpm int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rpm)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiterAllow(t *testing.T) {
	rl, _ := newLimiter(10)

	// Should allow up to 10 requests
	for i := 0; i < 10; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 11th should be denied
	if rl.Allow("u1") {
		t.Error("11th request should be denied")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)

	for i := 0; i < 1000; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d should be allowed (unlimited)", i+1)
		}
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl, clock := newLimiter(60) // 1 token per second

	// Exhaust all tokens
	for i := 0; i < 60; i++ {
		rl.Allow("u1")
	}

	if rl.Allow("u1") {
		t.Error("should be rate limited after exhausting tokens")
	}

	clock.t = clock.t.Add(1100 * time.Millisecond)

	if !rl.Allow("u1") {
		t.Error("should be allowed after refill")
	}
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl, _ := newLimiter(60)

	if got := rl.RetryAfter("u1"); got != 0 {
		t.Errorf("unknown user retry-after = %d, want 0", got)
	}
	for i := 0; i < 60; i++ {
		rl.Allow("u1")
	}

	retryAfter := rl.RetryAfter("u1")
	if retryAfter < 1 {
		t.Errorf("expected retry-after >= 1, got %d", retryAfter)
	}
}

func TestRateLimiterMultipleUsers(t *testing.T) {
	rl, _ := newLimiter(5)

	for i := 0; i < 5; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("user 1 request %d should be allowed", i+1)
		}
	}
	if rl.Allow("u1") {
		t.Error("user 1 should be rate limited")
	}

	// User 2 should still have tokens
	if !rl.Allow("u2") {
		t.Error("user 2 should not be affected by user 1's rate limit")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newLimiter(10)

	rl.Allow("u1")
	clock.t = clock.t.Add(2 * time.Hour)
	rl.Allow("u2")

	rl.Cleanup(1 * time.Hour)

	rl.mu.Lock()
	_, kept := rl.buckets["u2"]
	count := len(rl.buckets)
	rl.mu.Unlock()

	if count != 1 || !kept {
		t.Errorf("expected only u2 after cleanup, got %d buckets", count)
	}
}

func TestRateLimiterRunStops(t *testing.T) {
	rl := NewRateLimiter(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newLimiter(1)
	user := "u1"
	mw := RateLimitMiddleware(rl, func(context.Context) (string, bool) { return user, user != "" })
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/copy", nil))
		return rec
	}

	if rec := serve(); rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := serve()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	user = ""
	if rec := serve(); rec.Code != http.StatusNoContent {
		t.Errorf("anonymous request status = %d", rec.Code)
	}
}
