package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/errors"
)

func TestMockProvider(t *testing.T) {
	p := &MockProvider{Response: "hello"}
	resp, err := p.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected content: %s", resp.Content)
	}
}

func TestOllamaProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message: ollamaMessage{Role: "assistant", Content: "ok"},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "test-model")
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "sys",
		UserPrompt:   "user",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected content: %s", resp.Content)
	}
}

func TestOllamaProviderNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "test-model")
	_, err := p.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	if err == nil {
		t.Fatalf("expected error")
	}
	oe := errors.AsOrchestratorError(err)
	if oe.Code != errors.CodeLLMError {
		t.Fatalf("expected LLM_ERROR, got %s", oe.Code)
	}
}

func TestOllamaProviderDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "test-model")
	_, err := p.Complete(context.Background(), CompletionRequest{
		UserPrompt: "hi",
		Deadline:   20 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("expected timeout")
	}
	oe := errors.AsOrchestratorError(err)
	if oe.Code != errors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", oe.Code)
	}
	if !oe.Recoverable {
		t.Fatalf("timeouts must be recoverable")
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose", `Sure! Here is the result: {"a":1} hope that helps`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"nested", `{"a":{"b":"}"}}`, `{"a":{"b":"}"}}`, true},
		{"none", `no json here`, "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tc.input)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && string(got) != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}
