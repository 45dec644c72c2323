// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/taskweave/taskweave/pkg/engine"
	"github.com/taskweave/taskweave/pkg/llm"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertNotEqual asserts that two values are not equal.
func (a *Assertions) AssertNotEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected == actual {
		a.t.Errorf("%s: expected not %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.t.Errorf("%s: expected true", msg)
		a.failed = true
	}
}

// AssertFalse asserts that the value is false.
func (a *Assertions) AssertFalse(value bool, msg string) {
	a.t.Helper()
	if value {
		a.t.Errorf("%s: expected false", msg)
		a.failed = true
	}
}

// AssertContains asserts that the string contains the substring.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertNotContains asserts that the string does not contain the substring.
func (a *Assertions) AssertNotContains(s, substr, msg string) {
	a.t.Helper()
	if strings.Contains(s, substr) {
		a.t.Errorf("%s: %q should not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertError asserts that the error is not nil.
func (a *Assertions) AssertError(err error, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error, got nil", msg)
		a.failed = true
	}
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertErrorContains asserts that the error message contains the substring.
func (a *Assertions) AssertErrorContains(err error, substr, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error containing %q, got nil", msg, substr)
		a.failed = true
		return
	}
	if !strings.Contains(err.Error(), substr) {
		a.t.Errorf("%s: error %q does not contain %q", msg, err.Error(), substr)
		a.failed = true
	}
}

// RequestAssertions provides assertion helpers for completion requests.
type RequestAssertions struct {
	*Assertions
	req *llm.CompletionRequest
}

// AssertRequest creates request assertions for the given request.
func (a *Assertions) AssertRequest(req *llm.CompletionRequest) *RequestAssertions {
	a.t.Helper()
	if req == nil {
		a.t.Error("request is nil")
		a.failed = true
		return &RequestAssertions{Assertions: a, req: &llm.CompletionRequest{}}
	}
	return &RequestAssertions{Assertions: a, req: req}
}

// HasModel asserts the request uses the given model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("expected model %q, got %q", model, r.req.Model)
		r.failed = true
	}
	return r
}

// SystemPromptContains asserts the system prompt contains the substring.
func (r *RequestAssertions) SystemPromptContains(contains string) *RequestAssertions {
	r.t.Helper()
	if !strings.Contains(r.req.SystemPrompt, contains) {
		r.t.Errorf("system prompt does not contain %q", contains)
		r.failed = true
	}
	return r
}

// UserPromptContains asserts the user prompt contains the substring.
func (r *RequestAssertions) UserPromptContains(contains string) *RequestAssertions {
	r.t.Helper()
	if !strings.Contains(r.req.UserPrompt, contains) {
		r.t.Errorf("user prompt does not contain %q", contains)
		r.failed = true
	}
	return r
}

// TurnAssertions provides assertion helpers for turn results.
type TurnAssertions struct {
	*Assertions
	result *engine.TurnResult
}

// AssertTurn creates assertions for a turn result.
func (a *Assertions) AssertTurn(result *engine.TurnResult) *TurnAssertions {
	a.t.Helper()
	if result == nil {
		a.t.Error("turn result is nil")
		a.failed = true
		return &TurnAssertions{Assertions: a, result: &engine.TurnResult{}}
	}
	return &TurnAssertions{Assertions: a, result: result}
}

// HasAction asserts the turn resolved to the given action.
func (tr *TurnAssertions) HasAction(action engine.Action) *TurnAssertions {
	tr.t.Helper()
	if tr.result.Action != action {
		tr.t.Errorf("expected action %q, got %q (message: %q)", action, tr.result.Action, tr.result.Message)
		tr.failed = true
	}
	return tr
}

// Succeeded asserts the turn reported success.
func (tr *TurnAssertions) Succeeded() *TurnAssertions {
	tr.t.Helper()
	if !tr.result.Success {
		tr.t.Errorf("expected success, got failure: %q", tr.result.Message)
		tr.failed = true
	}
	return tr
}

// Failed asserts the turn reported failure.
func (tr *TurnAssertions) Failed() *TurnAssertions {
	tr.t.Helper()
	if tr.result.Success {
		tr.t.Errorf("expected failure, got success: %q", tr.result.Message)
		tr.failed = true
	}
	return tr
}

// MessageContains asserts the reply message contains the substring.
func (tr *TurnAssertions) MessageContains(substr string) *TurnAssertions {
	tr.t.Helper()
	if !strings.Contains(tr.result.Message, substr) {
		tr.t.Errorf("message %q does not contain %q", tr.result.Message, substr)
		tr.failed = true
	}
	return tr
}

// HasOutputField asserts the result output carries key=value.
func (tr *TurnAssertions) HasOutputField(key string, value any) *TurnAssertions {
	tr.t.Helper()
	got, ok := tr.result.Output[key]
	if !ok {
		tr.t.Errorf("output has no field %q", key)
		tr.failed = true
		return tr
	}
	if got != value {
		tr.t.Errorf("output[%q] = %v, want %v", key, got, value)
		tr.failed = true
	}
	return tr
}

// Quick assertion functions for common patterns

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if values are not equal.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// RequireNotNil fails the test immediately if value is nil.
func RequireNotNil(t *testing.T, value any, msg string) {
	t.Helper()
	if value == nil {
		t.Fatalf("%s: expected non-nil value", msg)
	}
}
