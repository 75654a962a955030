package app

import (
	"testing"
	"time"
)

func TestRoomRateLimiter(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatalf("first two attempts must pass")
	}
	if rl.Allow("u") {
		t.Fatalf("third attempt inside the window must be blocked")
	}
	if !rl.Allow("other") {
		t.Fatalf("keys are independent")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("u") {
		t.Fatalf("attempts outside the window must be forgotten")
	}

	now = now.Add(2 * time.Minute)
	rl.Sweep()
	if len(rl.history) != 0 {
		t.Fatalf("Sweep left %d stale keys", len(rl.history))
	}
}

func TestRoomRateLimiterDisabled(t *testing.T) {
	var rl *RoomRateLimiter
	if !rl.Allow("x") {
		t.Fatalf("nil limiter must allow")
	}
	rl = NewRoomRateLimiter(0, time.Second)
	for i := 0; i < 10; i++ {
		if !rl.Allow("x") {
			t.Fatalf("zero limit must allow")
		}
	}
}
