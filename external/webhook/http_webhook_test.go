package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/livescribe/internal/webhook"
)

func TestSendSessionSummary_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendSessionSummary(context.Background(), webhook.SessionSummary{SessionID: "s"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendSessionSummary_Success(t *testing.T) {
	var got map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if ev := r.Header.Get("X-Livescribe-Event"); ev != "session.ended" {
			t.Errorf("unexpected event header: %s", ev)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sender := NewHTTPSender(server.URL)
	err := sender.SendSessionSummary(context.Background(), webhook.SessionSummary{
		SessionID:       "abc",
		LanguageCode:    "ja-JP",
		Provider:        "google",
		Status:          "completed",
		CloseReason:     "client closed",
		StartedAt:       started,
		EndedAt:         started.Add(90 * time.Second),
		DurationSeconds: 90,
		AudioBytes:      4096,
		FinalSegments:   2,
		StateHistory:    []string{"connecting", "streaming", "draining", "closed"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got["session_id"] != "abc" || got["language_code"] != "ja-JP" || got["status"] != "completed" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if got["final_segments"] != float64(2) || got["audio_bytes"] != float64(4096) {
		t.Fatalf("unexpected counters: %v", got)
	}
	if _, ok := got["transcript"]; ok {
		t.Fatal("summary must not carry transcript text")
	}
	if history, ok := got["state_history"].([]any); !ok || len(history) != 4 {
		t.Fatalf("unexpected state history: %v", got["state_history"])
	}
}

func TestSendSessionSummary_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	sender.retryDelay = time.Millisecond
	if err := sender.SendSessionSummary(context.Background(), webhook.SessionSummary{SessionID: "s"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendSessionSummary_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	sender.retryDelay = time.Millisecond
	if err := sender.SendSessionSummary(context.Background(), webhook.SessionSummary{SessionID: "s"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two attempts, got %d", calls.Load())
	}
}

func TestSendSessionSummary_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	sender.retryDelay = time.Millisecond
	err := sender.SendSessionSummary(context.Background(), webhook.SessionSummary{SessionID: "s"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
	if calls.Load() != int32(defaultMaxAttempts) {
		t.Fatalf("expected %d attempts, got %d", defaultMaxAttempts, calls.Load())
	}
}
