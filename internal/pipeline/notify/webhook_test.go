package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	err := notifier.Notify(context.Background(), RunAlert{
		BuildingID: "b1",
		RunID:      "run-b1-20240305T1200",
		Anchor:     "2024-03-05T12:00:00Z",
		Status:     "blocked",
		Reasons:    []string{"bad_ratio=0.40"},
		BlockUnits: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"Building: b1",
			"Anchor: 2024-03-05T12:00:00Z",
			"Status: blocked",
			"Reasons: bad_ratio=0.40",
			"Blocked units: u1, u2",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := NewWebhookNotifier(server.URL).Notify(context.Background(), RunAlert{BuildingID: "b1"}); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
	if err := NewWebhookNotifier("").Notify(context.Background(), RunAlert{}); err == nil {
		t.Fatalf("expected error on empty url")
	}
}
