package auth

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRateLimiter_LocksOutAtThreshold(t *testing.T) {
	limiter := NewInMemoryRateLimiter(3, time.Minute, []time.Duration{time.Hour})
	ctx := context.Background()
	botKey := "bot-1"

	for i := 0; i < 2; i++ {
		lockout, err := limiter.RecordFailure(ctx, botKey)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if lockout != 0 {
			t.Fatalf("expected no lockout before threshold, got %v on failure %d", lockout, i)
		}
	}

	lockout, err := limiter.RecordFailure(ctx, botKey)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if lockout != time.Hour {
		t.Fatalf("expected the configured lockout duration at threshold, got %v", lockout)
	}

	remaining, err := limiter.CheckLocked(ctx, botKey)
	if err != nil {
		t.Fatalf("check locked: %v", err)
	}
	if remaining <= 0 {
		t.Fatal("expected the bot key to read as locked out")
	}
}

func TestInMemoryRateLimiter_SuccessClearsFailureWindow(t *testing.T) {
	limiter := NewInMemoryRateLimiter(3, time.Minute, []time.Duration{time.Hour})
	ctx := context.Background()
	botKey := "bot-2"

	if _, err := limiter.RecordFailure(ctx, botKey); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if _, err := limiter.RecordFailure(ctx, botKey); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := limiter.RecordSuccess(ctx, botKey); err != nil {
		t.Fatalf("record success: %v", err)
	}

	lockout, err := limiter.RecordFailure(ctx, botKey)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if lockout != 0 {
		t.Fatal("expected the failure count reset by a success to not trip the lockout immediately")
	}
}

func TestInMemoryRateLimiter_BackoffEscalatesPerEpisode(t *testing.T) {
	schedule := []time.Duration{time.Minute, 5 * time.Minute}
	limiter := NewInMemoryRateLimiter(1, time.Minute, schedule)
	ctx := context.Background()
	botKey := "bot-3"

	first, err := limiter.RecordFailure(ctx, botKey)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if first != schedule[0] {
		t.Fatalf("expected first lockout %v, got %v", schedule[0], first)
	}

	// Force the lock to have already expired so a second offense can register.
	inMem := limiter.(*inMemoryRateLimiter)
	inMem.mu.Lock()
	delete(inMem.lockedAt, botKey)
	delete(inMem.lockFor, botKey)
	inMem.mu.Unlock()

	second, err := limiter.RecordFailure(ctx, botKey)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if second != schedule[1] {
		t.Fatalf("expected the second episode to escalate to %v, got %v", schedule[1], second)
	}
}

func TestInMemoryRateLimiter_DeleteExpiredWindowsSweepsOldLockouts(t *testing.T) {
	limiter := NewInMemoryRateLimiter(1, time.Minute, []time.Duration{time.Millisecond})
	ctx := context.Background()
	botKey := "bot-4"

	if _, err := limiter.RecordFailure(ctx, botKey); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	inMem := limiter.(*inMemoryRateLimiter)
	removed, err := inMem.DeleteExpiredWindows(ctx, 0, 100)
	if err != nil {
		t.Fatalf("delete expired windows: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the lockout to be swept once its age exceeds olderThan=0, got %d removed", removed)
	}

	remaining, err := limiter.CheckLocked(ctx, botKey)
	if err != nil {
		t.Fatalf("check locked: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected the lockout to be gone after sweep, got remaining %v", remaining)
	}
}
