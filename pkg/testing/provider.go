// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskweave/taskweave/pkg/llm"
)

// ScriptedProvider is an enhanced mock completion provider for conversation
// scenarios. It supports scripted responses, conditional responses and
// request capture.
type ScriptedProvider struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	currentIndex int
	requests     []llm.CompletionRequest
	defaultError error
	onComplete   func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// ScriptedResponse defines one queued response.
type ScriptedResponse struct {
	Content string
	Error   error
	Usage   llm.Usage
	// Condition allows conditional responses based on the request. When the
	// condition does not match, the provider advances to the next queued
	// response that does.
	Condition func(req llm.CompletionRequest) bool
}

// NewScriptedProvider creates an empty scripted provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		responses: make([]ScriptedResponse, 0),
		requests:  make([]llm.CompletionRequest, 0),
	}
}

// AddResponse queues a content response.
func (p *ScriptedProvider) AddResponse(content string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, ScriptedResponse{Content: content})
	return p
}

// AddErrorResponse queues an error response.
func (p *ScriptedProvider) AddErrorResponse(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, ScriptedResponse{Error: err})
	return p
}

// AddScriptedResponse queues a fully configured response.
func (p *ScriptedProvider) AddScriptedResponse(resp ScriptedResponse) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// WithDefaultError sets the error returned when the script runs out.
func (p *ScriptedProvider) WithDefaultError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithCompleteFunc sets a custom handler that bypasses the script.
func (p *ScriptedProvider) WithCompleteFunc(fn func(req llm.CompletionRequest) (*llm.CompletionResponse, error)) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onComplete = fn
	return p
}

// Complete implements llm.Provider.
func (p *ScriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)

	if p.onComplete != nil {
		return p.onComplete(req)
	}

	if p.currentIndex >= len(p.responses) {
		if p.defaultError != nil {
			return nil, p.defaultError
		}
		return nil, fmt.Errorf("no more scripted responses (call %d)", p.currentIndex+1)
	}

	resp := p.responses[p.currentIndex]
	p.currentIndex++

	if resp.Condition != nil && !resp.Condition(req) {
		for p.currentIndex < len(p.responses) {
			resp = p.responses[p.currentIndex]
			p.currentIndex++
			if resp.Condition == nil || resp.Condition(req) {
				break
			}
		}
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return &llm.CompletionResponse{
		Content: resp.Content,
		Usage:   resp.Usage,
	}, nil
}

// Requests returns all captured requests.
func (p *ScriptedProvider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.CompletionRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// LastRequest returns the most recent request, or nil.
func (p *ScriptedProvider) LastRequest() *llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Complete calls made.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Reset rewinds the script and clears captured requests.
func (p *ScriptedProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIndex = 0
	p.requests = p.requests[:0]
}
