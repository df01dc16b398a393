package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowWithinLimit(t *testing.T) {
	l := New(3, time.Second)

	for i := 0; i < 3; i++ {
		if !l.Allow("key") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
}

func TestLimiter_BlocksOverLimit(t *testing.T) {
	l := New(2, time.Second)

	l.Allow("key")
	l.Allow("key")
	if l.Allow("key") {
		t.Error("third request within window should be blocked")
	}
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := New(1, time.Second)

	if !l.Allow("a") {
		t.Error("first request for a should be allowed")
	}
	if !l.Allow("b") {
		t.Error("first request for b should be allowed")
	}
	if l.Allow("a") {
		t.Error("second request for a should be blocked")
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l := New(1, 20*time.Millisecond)

	if !l.Allow("key") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("key") {
		t.Fatal("second immediate request should be blocked")
	}

	time.Sleep(30 * time.Millisecond)
	if !l.Allow("key") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestLimiter_Forget(t *testing.T) {
	l := New(1, time.Minute)

	l.Allow("key")
	l.Forget("key")
	if !l.Allow("key") {
		t.Error("request after Forget should be allowed")
	}
}
