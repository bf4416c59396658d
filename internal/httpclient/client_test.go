package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucashm/pncp-harvester/internal/metrics"
)

func fastConfig() Config {
	return Config{
		ReadTimeout:  2 * time.Second,
		BackoffBase:  0.001,
		BackoffSlope: time.Millisecond,
	}
}

func TestGetSuccessRecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if got := r.URL.Query().Get("pagina"); got != "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	collector := metrics.NewCollector(10)
	config := fastConfig()
	config.Metrics = collector
	client := New(config)

	body, err := client.Get(context.Background(), server.URL, url.Values{"pagina": {"2"}})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if collector.Recorded() != 1 {
		t.Fatalf("expected 1 recorded sample, got %d", collector.Recorded())
	}
}

func TestGetSendsIdentityHeaders(t *testing.T) {
	var agent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	config := fastConfig()
	config.UserAgent = "pncp-harvester/test"
	client := New(config)
	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if got, _ := agent.Load().(string); got != "pncp-harvester/test" {
		t.Fatalf("expected custom user agent, got %q", got)
	}
}

func TestGetRetriesExactlyBudgetOn503(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	collector := metrics.NewCollector(10)
	config := fastConfig()
	config.MaxRetries = 2
	config.Metrics = collector
	client := New(config)

	_, err := client.Get(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("expected wrapped 503, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected maxRetries+1=3 attempts, got %d", got)
	}
	if collector.Recorded() != 3 {
		t.Fatalf("expected all attempts metered, got %d", collector.Recorded())
	}
}

func TestGetDoesNotRetryOn404(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such resource"))
	}))
	defer server.Close()

	client := New(fastConfig())
	_, err := client.Get(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestGetHonorsRetryAfterBeforeBackoff(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(fastConfig())
	started := time.Now()
	body, err := client.Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("unexpected body: %s", body)
	}
	if elapsed := time.Since(started); elapsed < time.Second {
		t.Fatalf("expected at least the Retry-After sleep, got %s", elapsed)
	}
}

func TestGetStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := fastConfig()
	config.MaxRetries = 50
	config.BackoffBase = 1.4
	client := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL, nil)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0 for empty header, got %s", got)
	}
	if got := parseRetryAfter("-5"); got != 0 {
		t.Fatalf("expected 0 for negative header, got %s", got)
	}
	future := time.Now().Add(4 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 2*time.Second || got > 4*time.Second {
		t.Fatalf("expected ~4s for http-date header, got %s", got)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Fatalf("expected 0 for past http-date, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0 for garbage header, got %s", got)
	}
}
