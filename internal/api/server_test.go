package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/chatterbox/internal/broadcast"
)

type submitted struct {
	prompt         string
	conversationID string
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submitted
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, prompt, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitted{prompt, conversationID})
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(sub Submitter) *Server {
	return NewServer(8780, sub, broadcast.NewHub(16, testLogger()), testLogger())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "chatterbox_subscribers") {
		t.Error("expected chatterbox metrics in output")
	}
}

func TestCreateConversation(t *testing.T) {
	srv := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest("POST", "/api/v1/conversations", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !conversationIDPattern.MatchString(body["conversation_id"]) {
		t.Errorf("generated id %q is not a valid conversation id", body["conversation_id"])
	}
}

func TestCreateChat_JSON(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := newTestServer(sub)

	req := httptest.NewRequest("POST", "/api/v1/chats", strings.NewReader(`{"message":"hello","conversation_id":"c1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var body chatResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "accepted" || body.ConversationID != "c1" {
		t.Errorf("unexpected response %+v", body)
	}
	if len(sub.calls) != 1 || sub.calls[0] != (submitted{"hello", "c1"}) {
		t.Errorf("unexpected submissions %+v", sub.calls)
	}
}

func TestCreateChat_Form(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := newTestServer(sub)

	form := url.Values{"message": {"  keep my spaces "}, "conversation_id": {"abc_123"}}
	req := httptest.NewRequest("POST", "/api/v1/chats", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(sub.calls) != 1 || sub.calls[0].prompt != "  keep my spaces " {
		t.Errorf("prompt should be passed verbatim, got %+v", sub.calls)
	}
}

func TestCreateChat_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"message":`},
		{"empty message", `{"message":"   ","conversation_id":"c1"}`},
		{"missing conversation", `{"message":"hi"}`},
		{"subject wildcard in id", `{"message":"hi","conversation_id":"c1.*"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			srv := newTestServer(sub)

			req := httptest.NewRequest("POST", "/api/v1/chats", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if len(sub.calls) != 0 {
				t.Errorf("nothing should be submitted, got %+v", sub.calls)
			}
		})
	}
}

func TestCreateChat_SubmitFailure(t *testing.T) {
	srv := newTestServer(&fakeSubmitter{err: errors.New("nats: no servers available")})

	req := httptest.NewRequest("POST", "/api/v1/chats", strings.NewReader(`{"message":"hi","conversation_id":"c1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestStreamEvents_InvalidID(t *testing.T) {
	srv := newTestServer(&fakeSubmitter{})

	req := httptest.NewRequest("GET", "/api/v1/conversations/bad.id/events", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
