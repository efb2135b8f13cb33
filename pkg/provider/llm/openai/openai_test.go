package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

// TestConvertMessage checks every supported role and the unknown-role error.
func TestConvertMessage(t *testing.T) {
	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "You are Sora."})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: param=%+v err=%v", sys, err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "こんにちは"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: param=%+v err=%v", usr, err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "やあ"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: param=%+v err=%v", asst, err)
	}
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Error("expected error for unsupported role")
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	p, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
		WithMaxRetries(0),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
	if p.Model() != "gpt-4o" {
		t.Errorf("Model = %q", p.Model())
	}
}

// TestComplete_RoundTrip runs a completion against a local stand-in for the
// chat completions endpoint.
func TestComplete_RoundTrip(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
		  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
		  "choices": [{"index": 0, "message": {"role": "assistant", "content": "やったね！"}, "finish_reason": "stop"}],
		  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are Sora.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "ありがとう"}},
		Temperature:  0.9,
		MaxTokens:    150,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "やったね！" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}

	if got["model"] != "gpt-4o" {
		t.Errorf("model = %v", got["model"])
	}
	if got["temperature"] != 0.9 {
		t.Errorf("temperature = %v", got["temperature"])
	}
	if got["max_completion_tokens"] != float64(150) {
		t.Errorf("max_completion_tokens = %v", got["max_completion_tokens"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", got["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v", msgs[0])
	}
}

// TestComplete_EmptyMessages rejects a request with no history.
func TestComplete_EmptyMessages(t *testing.T) {
	p, _ := New("sk-test", "gpt-4o")
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
}

// TestComplete_ServerError surfaces API errors.
func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "bad request", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
