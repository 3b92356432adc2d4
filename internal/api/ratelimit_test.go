package api

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterPerClient(t *testing.T) {
	l := NewLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("a") {
		t.Error("third request within the same instant should be limited")
	}
	if !l.Allow("b") {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("token should refill after one second")
	}
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if l.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", l.Clients())
	}

	now = now.Add(limiterIdleTTL + time.Second)
	l.Allow("c")
	if l.Clients() != 1 {
		t.Errorf("idle clients should be evicted, %d remain", l.Clients())
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest("POST", "/start", nil)
	r.RemoteAddr = "127.0.0.1:53211"
	if got := IPKeyFunc(r); got != "127.0.0.1" {
		t.Errorf("IPKeyFunc = %q", got)
	}
	r.RemoteAddr = "pipe"
	if got := IPKeyFunc(r); got != "pipe" {
		t.Errorf("IPKeyFunc = %q", got)
	}
}
