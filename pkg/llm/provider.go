// Package llm defines the completion-service boundary used by the
// orchestration core. Returned text is untrusted: callers must tolerate
// missing JSON, prose around JSON, or fully unparsable responses.
package llm

import (
	"context"
	"time"
)

// CompletionRequest encapsulates one completion-service call.
type CompletionRequest struct {
	SystemPrompt string        `json:"system_prompt"`
	UserPrompt   string        `json:"user_prompt"`
	Model        string        `json:"model,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	Deadline     time.Duration `json:"-"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse encapsulates the completion-service output.
type CompletionResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Provider defines the interface for interacting with completion backends.
type Provider interface {
	// Complete sends a completion request and returns the raw response.
	// Implementations must honor the request deadline and return a typed
	// TIMEOUT error on expiry rather than blocking.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
