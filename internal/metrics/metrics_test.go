package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Pps.WhatsApp.net/v/t61?oh=1", "pps.whatsapp.net"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := avatarIngestsTotal
	Init()

	if avatarIngestsTotal == nil || avatarIngestsTotal != first || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors exactly once")
	}
}

func TestObserveIngest(t *testing.T) {
	Init()
	counter := avatarIngestsTotal.WithLabelValues("cdn.metrics-test.com", "accepted")
	bytes := avatarBytesTotal.WithLabelValues("cdn.metrics-test.com")
	beforeCount := testutil.ToFloat64(counter)
	beforeBytes := testutil.ToFloat64(bytes)

	ObserveIngest("https://cdn.metrics-test.com/pic.jpg", "accepted", 2048, 150*time.Millisecond)
	ObserveIngest("https://cdn.metrics-test.com/pic.jpg", "accepted", 0, time.Millisecond)

	if got := testutil.ToFloat64(counter) - beforeCount; got != 2 {
		t.Errorf("expected 2 accepted ingests, got %f", got)
	}
	if got := testutil.ToFloat64(bytes) - beforeBytes; got != 2048 {
		t.Errorf("expected 2048 bytes, got %f", got)
	}
}

func TestCountersAndGauge(t *testing.T) {
	Init()
	retries := testutil.ToFloat64(avatarRetriesTotal)
	ObserveRetry()
	if got := testutil.ToFloat64(avatarRetriesTotal) - retries; got != 1 {
		t.Errorf("expected one retry, got %f", got)
	}

	webhook := avatarEnqueuedTotal.WithLabelValues("webhook-test")
	ObserveEnqueued("webhook-test", 3)
	ObserveEnqueued("webhook-test", 0)
	if got := testutil.ToFloat64(webhook); got != 3 {
		t.Errorf("expected 3 enqueued, got %f", got)
	}

	failures := testutil.ToFloat64(avatarPublishFailuresTotal)
	ObservePublishFailure()
	if got := testutil.ToFloat64(avatarPublishFailuresTotal) - failures; got != 1 {
		t.Errorf("expected one publish failure, got %f", got)
	}

	active := testutil.ToFloat64(avatarActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(avatarActiveWorkers) - active; got != 1 {
		t.Errorf("expected one active worker, got %f", got)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://pps.whatsapp.net", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeHost(orig)
		if sanitized == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("pps.whatsapp.net", 50*time.Millisecond)
	if got := testutil.CollectAndCount(avatarRateLimitDelay); got < 1 {
		t.Errorf("expected a rate limit delay series, got %d", got)
	}
}
