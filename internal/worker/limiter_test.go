package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai/gpt-4o-mini"); err != nil {
		t.Errorf("wait failed: %v", err)
	}

	if err := limiter.Wait(ctx, "anthropic/claude"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

// waitWithin reports whether a Wait on key returns within d
func waitWithin(limiter *Limiter, key string, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return limiter.Wait(ctx, key) == nil
}

func TestLimiter_KeysHaveSeparateBuckets(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	key := "openai/gpt-4o-mini"

	if !waitWithin(limiter, key, 20*time.Millisecond) {
		t.Fatal("first call should pass on the burst")
	}
	if waitWithin(limiter, key, 20*time.Millisecond) {
		t.Error("second call should wait for a token")
	}
	if !waitWithin(limiter, "ollama/llama3.1", 20*time.Millisecond) {
		t.Error("another service should have its own bucket")
	}
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 20; i++ {
		if !waitWithin(limiter, "openai", 20*time.Millisecond) {
			t.Fatalf("call %d was limited with rate 0", i)
		}
	}
}
