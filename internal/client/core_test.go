package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu      sync.Mutex
	entries []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, r.Message)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for _, e := range h.entries {
		if e == msg {
			n++
		}
	}
	return n
}

func TestCoreFallbacksWhenDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	logs := &recordingHandler{}
	c := NewCore(srv.URL, time.Second, slog.New(logs))
	ctx := context.Background()

	if got := c.PendingDecisionCount(ctx, "t1"); got != 0 {
		t.Fatalf("expected zero fallback, got %d", got)
	}
	if got := c.UrgentDecisions(ctx, "t1"); len(got) != 0 {
		t.Fatalf("expected empty fallback, got %v", got)
	}
	if _, ok := c.Stakeholder(ctx, "s1"); ok {
		t.Fatalf("stakeholder lookup should report failure")
	}
	if c.Available() {
		t.Fatalf("client should report the platform as down")
	}
	if logs.count("dependency unavailable") != 1 {
		t.Fatalf("outage should be logged once, got %d", logs.count("dependency unavailable"))
	}
}

func TestCoreRecovery(t *testing.T) {
	var healthy bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			http.Error(w, "boom", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 7}`))
	}))
	defer srv.Close()

	logs := &recordingHandler{}
	c := NewCore(srv.URL, time.Second, slog.New(logs))
	ctx := context.Background()

	c.PendingDecisionCount(ctx, "t1")
	c.PendingDecisionCount(ctx, "t1")
	if c.Available() {
		t.Fatalf("expected down state")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()
	if got := c.PendingDecisionCount(ctx, "t1"); got != 7 {
		t.Fatalf("expected live count 7, got %d", got)
	}
	if !c.Available() {
		t.Fatalf("expected recovered state")
	}
	if logs.count("dependency recovered") != 1 {
		t.Fatalf("recovery should be logged once, got %d", logs.count("dependency recovered"))
	}
}
