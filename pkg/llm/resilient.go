package llm

import (
	"context"

	"github.com/taskweave/taskweave/pkg/resilience"
)

// ResilientProvider wraps a Provider with a circuit breaker so a flapping
// completion backend fails fast instead of stalling every turn. An open
// circuit surfaces as a recoverable LLM_ERROR, which callers already treat
// as "fall back to the deterministic path".
type ResilientProvider struct {
	inner   Provider
	breaker *resilience.CircuitBreaker
}

// NewResilientProvider wraps the provider with the given breaker. A nil
// breaker gets conservative defaults.
func NewResilientProvider(inner Provider, breaker *resilience.CircuitBreaker) *ResilientProvider {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "llm-provider",
		})
	}
	return &ResilientProvider{inner: inner, breaker: breaker}
}

// Complete implements Provider.
func (p *ResilientProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := p.breaker.Call(ctx, func() error {
		r, err := p.inner.Complete(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State reports the breaker state for health metrics.
func (p *ResilientProvider) State() resilience.CircuitBreakerState {
	return p.breaker.State()
}
