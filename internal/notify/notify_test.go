package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"flashflow/internal/config"
	"flashflow/internal/notify"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notify.NewService(cfg)
	if err := svc.NotifyHandoff(context.Background(), "vid-1", "ep-001", "alice", "bob", "editor"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("test notification: %v", err)
	}
}

func TestNtfyServicePostsHandoff(t *testing.T) {
	var gotTitle, gotTags, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notify.NtfyTopic = server.URL
	svc := notify.NewService(cfg)

	if err := svc.NotifyHandoff(context.Background(), "vid-1", "ep-001", "alice", "bob", "editor"); err != nil {
		t.Fatalf("notify handoff: %v", err)
	}
	if gotTitle != "FlashFlow - Video Handed Off" {
		t.Fatalf("title = %q", gotTitle)
	}
	if gotTags != "flashflow,handoff,bob" {
		t.Fatalf("tags = %q", gotTags)
	}
	if gotBody != "ep-001: alice -> bob (editor)" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notify.NtfyTopic = server.URL
	svc := notify.NewService(cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
