package llm

import (
	"context"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/errors"
	"github.com/taskweave/taskweave/pkg/resilience"
)

func TestResilientProviderPassThrough(t *testing.T) {
	p := NewResilientProvider(&MockProvider{Response: "ok"}, nil)

	resp, err := p.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected ok, got %q", resp.Content)
	}
	if p.State() != resilience.StateClosed {
		t.Errorf("expected closed breaker, got %s", p.State())
	}
}

func TestResilientProviderOpensAfterFailures(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		Timeout:          time.Minute,
	})
	p := NewResilientProvider(&FailingMockProvider{}, breaker)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := p.Complete(ctx, CompletionRequest{}); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if p.State() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", p.State())
	}

	// Open circuit rejects without hitting the backend, typed and recoverable.
	_, err := p.Complete(ctx, CompletionRequest{})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodeLLMError {
		t.Fatalf("expected LLM_ERROR from open circuit, got %v", err)
	}
}
