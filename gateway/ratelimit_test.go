package gateway

import (
	"testing"
	"time"
)

func TestToolFamily(t *testing.T) {
	tests := map[string]string{
		"kv_get":        "kv",
		"artifacts_put": "artifacts",
		"weather":       "weather",
		"_hidden":       "_hidden",
	}
	for tool, want := range tests {
		if got := toolFamily(tool); got != want {
			t.Errorf("toolFamily(%q) = %q, want %q", tool, got, want)
		}
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := newLimiter(RateLimit{})
	if l != nil {
		t.Fatal("newLimiter with zero rate should disable limiting")
	}
	for range 100 {
		if !l.allow("org-a", "kv") {
			t.Fatal("disabled limiter rejected a call")
		}
	}
}

func TestLimiter_DefaultBurst(t *testing.T) {
	l := newLimiter(RateLimit{PerSecond: 0.001})
	if !l.allow("t", "f") {
		t.Fatal("first call should pass")
	}
	if l.allow("t", "f") {
		t.Fatal("second call should exceed a burst of one")
	}
}

func TestLimiter_SweepsIdleBuckets(t *testing.T) {
	l := newLimiter(RateLimit{PerSecond: 1, IdleTTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for _, tenant := range []string{"org-a", "org-b", "org-c"} {
		l.allow(tenant, "kv")
	}
	if n, _ := l.size(); n != 3 {
		t.Fatalf("buckets = %d, want 3", n)
	}

	now = now.Add(30 * time.Second)
	l.allow("org-a", "kv")
	now = now.Add(45 * time.Second)
	l.allow("org-d", "kv")

	// org-b and org-c were idle past the TTL; org-a was used 45s ago.
	if n, _ := l.size(); n != 2 {
		t.Fatalf("buckets after sweep = %d, want 2", n)
	}
	if _, ok := l.buckets["org-a|kv"]; !ok {
		t.Error("recently used bucket was swept")
	}
}

func TestLimiter_InFlightCap(t *testing.T) {
	l := newLimiter(RateLimit{MaxConcurrent: 2})
	if l == nil {
		t.Fatal("MaxConcurrent alone should enable the limiter")
	}
	if !l.allow("org-a", "kv") {
		t.Fatal("buckets are disabled without a rate")
	}

	if !l.acquire("org-a") || !l.acquire("org-a") {
		t.Fatal("first two slots should be granted")
	}
	if l.acquire("org-a") {
		t.Fatal("third slot should be refused")
	}
	if !l.acquire("org-b") {
		t.Fatal("other tenant should not be capped")
	}

	l.release("org-a")
	if !l.acquire("org-a") {
		t.Fatal("released slot should be reusable")
	}

	l.release("org-a")
	l.release("org-a")
	l.release("org-b")
	if _, tenants := l.size(); tenants != 0 {
		t.Errorf("tenants in flight = %d, want 0", tenants)
	}
}
