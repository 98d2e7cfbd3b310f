package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"telbill/internal/config"
	"telbill/internal/process"
)

func testProcess() *process.Process {
	return &process.Process{
		ID:               1,
		RegistrationHash: "abcdef0123456789abcdef0123456789",
		Period:           "2026-08",
		Status:           process.StatusCompleted,
	}
}

func TestNewServiceReturnsNoopWithoutTopic(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""

	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.NotifyProcessFailed(context.Background(), testProcess(), "boom"); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
}

func TestNtfyServicePostsHeadersAndBody(t *testing.T) {
	type captured struct {
		title    string
		tags     string
		priority string
		agent    string
		body     string
	}
	var got captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			agent:    r.Header.Get("User-Agent"),
			body:     string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Submitted = true

	svc := NewService(&cfg)
	if err := svc.NotifyProcessSubmitted(context.Background(), testProcess()); err != nil {
		t.Fatalf("notify submitted: %v", err)
	}

	if got.title != "telbill - Submitted" {
		t.Fatalf("title = %q", got.title)
	}
	if got.tags != "telbill,upload,submitted" {
		t.Fatalf("tags = %q", got.tags)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q", got.priority)
	}
	if got.agent != userAgent {
		t.Fatalf("user agent = %q", got.agent)
	}
	if !strings.Contains(got.body, "abcdef012345") || !strings.Contains(got.body, "2026-08") {
		t.Fatalf("body = %q", got.body)
	}
}

func TestDisabledEventIsSkipped(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false

	svc := NewService(&cfg)
	if err := svc.NotifyProcessCompleted(context.Background(), testProcess()); err != nil {
		t.Fatalf("notify completed: %v", err)
	}
	if requests != 0 {
		t.Fatalf("expected no requests, got %d", requests)
	}
}

func TestServerErrorSurfacesToCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := NewService(&cfg)
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestRateLimitDropsInsteadOfBlocking(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RatePerMinute = 1

	svc := NewService(&cfg)
	for i := 0; i < 5; i++ {
		if err := svc.TestNotification(context.Background()); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	if requests != 1 {
		t.Fatalf("expected exactly one delivered notification, got %d", requests)
	}
}

func TestShortHashTruncates(t *testing.T) {
	if got := shortHash("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortHash = %q", got)
	}
	if got := shortHash("short"); got != "short" {
		t.Fatalf("shortHash = %q", got)
	}
}
