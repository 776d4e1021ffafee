package intent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Expected bearer key, got %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("Expected JSON mode, got %q", req.ResponseFormat.Type)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"action\":\"chat\",\"response\":\"hi\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI("key", "", srv.URL+"/")
	out, err := c.Generate(context.Background(), "instruction", "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res := Decode(out); res.Action != ActionChat || res.Response != "hi" {
		t.Errorf("Unexpected reply %q", out)
	}
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   fault.Kind
	}{
		{http.StatusUnauthorized, fault.Auth},
		{http.StatusTooManyRequests, fault.Transient},
		{http.StatusBadGateway, fault.Transient},
		{http.StatusBadRequest, fault.Invalid},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"message":"nope","type":"x"}}`))
		}))
		_, err := NewOpenAI("key", "m", srv.URL).Generate(context.Background(), "i", "u")
		srv.Close()
		if !fault.Is(err, tt.kind) {
			t.Errorf("Status %d: expected %s, got %v", tt.status, tt.kind, err)
		}
	}
}

func TestOpenAIMissingKey(t *testing.T) {
	_, err := NewOpenAI("", "", "").Generate(context.Background(), "i", "u")
	if !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error, got %v", err)
	}
}
