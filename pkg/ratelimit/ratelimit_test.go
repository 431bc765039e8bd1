package ratelimit

import (
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(3, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if l.Allow("a") {
		t.Fatal("fourth request allowed")
	}
	if !l.Allow("b") {
		t.Fatal("keys share a bucket")
	}

	// One token refills every 20s.
	now = now.Add(20 * time.Second)
	if !l.Allow("a") {
		t.Fatal("refilled token not available")
	}
	if l.Allow("a") {
		t.Fatal("more than one token refilled")
	}

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("after idle: request %d rejected", i)
		}
	}
	if l.Allow("a") {
		t.Fatal("bucket refilled beyond its limit")
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(5, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(90 * time.Second)
	l.Allow("new")
	now = now.Add(60 * time.Second)
	l.Prune()
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}
