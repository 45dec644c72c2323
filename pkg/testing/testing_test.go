// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/engine"
	"github.com/taskweave/taskweave/pkg/llm"
)

func TestScriptedProviderQueue(t *testing.T) {
	p := NewScriptedProvider().
		AddResponse("first").
		AddResponse("second")

	ctx := context.Background()

	resp, err := p.Complete(ctx, llm.CompletionRequest{UserPrompt: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "first" {
		t.Errorf("expected first, got %q", resp.Content)
	}

	resp, err = p.Complete(ctx, llm.CompletionRequest{UserPrompt: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "second" {
		t.Errorf("expected second, got %q", resp.Content)
	}

	// Script exhausted.
	if _, err := p.Complete(ctx, llm.CompletionRequest{UserPrompt: "c"}); err == nil {
		t.Error("expected error when script runs out")
	}

	if p.CallCount() != 3 {
		t.Errorf("expected 3 captured calls, got %d", p.CallCount())
	}
}

func TestScriptedProviderErrorResponse(t *testing.T) {
	wantErr := stderrors.New("model overloaded")
	p := NewScriptedProvider().AddErrorResponse(wantErr)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if !stderrors.Is(err, wantErr) {
		t.Errorf("expected scripted error, got %v", err)
	}
}

func TestScriptedProviderDefaultError(t *testing.T) {
	wantErr := stderrors.New("provider down")
	p := NewScriptedProvider().WithDefaultError(wantErr)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if !stderrors.Is(err, wantErr) {
		t.Errorf("expected default error, got %v", err)
	}
}

func TestScriptedProviderConditional(t *testing.T) {
	p := NewScriptedProvider().
		AddScriptedResponse(ScriptedResponse{
			Content: "match-response",
			Condition: func(req llm.CompletionRequest) bool {
				return strings.Contains(req.UserPrompt, "meeting")
			},
		}).
		AddResponse("fallback-response")

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "book a call"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The conditional response does not match, so the provider advances.
	if resp.Content != "fallback-response" {
		t.Errorf("expected fallback-response, got %q", resp.Content)
	}
}

func TestScriptedProviderCaptureAndReset(t *testing.T) {
	p := NewScriptedProvider().AddResponse("ok").AddResponse("ok")

	p.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "hello", Model: "test-model"})

	last := p.LastRequest()
	if last == nil {
		t.Fatal("expected captured request")
	}

	a := NewAssertions(t)
	a.AssertRequest(last).
		HasModel("test-model").
		UserPromptContains("hello")

	p.Reset()
	if p.CallCount() != 0 {
		t.Errorf("expected 0 calls after reset, got %d", p.CallCount())
	}
	if p.LastRequest() != nil {
		t.Error("expected nil last request after reset")
	}

	// Reset rewinds the script too.
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected ok, got %q", resp.Content)
	}
}

func TestStringMatchers(t *testing.T) {
	tests := []struct {
		name    string
		matcher StringMatcher
		input   string
		want    bool
	}{
		{"contains match", Contains("meet"), "book a meeting", true},
		{"contains miss", Contains("lunch"), "book a meeting", false},
		{"equals match", Equals("done"), "done", true},
		{"equals miss", Equals("done"), "done.", false},
		{"regex match", Regex(`\d{2}:\d{2}`), "at 14:00 sharp", true},
		{"regex miss", Regex(`\d{2}:\d{2}`), "sometime", false},
		{"prefix match", HasPrefix("Booked"), "Booked: standup", true},
		{"suffix match", HasSuffix("?"), "Which time works?", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.matcher.Match(tc.input); got != tc.want {
				t.Errorf("%s on %q: got %v, want %v", tc.matcher.Description(), tc.input, got, tc.want)
			}
		})
	}
}

// stubRunner replies from a script keyed by turn order.
type stubRunner struct {
	results []*engine.TurnResult
	calls   int
	lastReq engine.TurnRequest
}

func (r *stubRunner) HandleTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error) {
	r.lastReq = req
	if r.calls >= len(r.results) {
		return nil, stderrors.New("no scripted turn result")
	}
	res := r.results[r.calls]
	r.calls++
	return res, nil
}

func TestScenarioRun(t *testing.T) {
	runner := &stubRunner{
		results: []*engine.TurnResult{
			{
				SessionID: "s1",
				Message:   "What title should the meeting have?",
				Action:    engine.ActionClarification,
				Success:   true,
			},
			{
				SessionID: "s1",
				Message:   "Booked: Quarterly Review",
				Action:    engine.ActionExecuted,
				Success:   true,
				Output:    map[string]any{"capability": "book_meeting"},
			},
		},
	}

	monday := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	result := NewScenario("booking").
		WithSession("s1", "u1").
		WithCurrentDate(monday).
		Turn("book a meeting tomorrow at 2pm").
		ExpectAction(engine.ActionClarification).
		ExpectMessage(Contains("title")).
		ExpectNoError().
		Turn("Quarterly Review").
		ExpectAction(engine.ActionExecuted).
		ExpectSuccess().
		ExpectMessage(HasPrefix("Booked:")).
		ExpectOutputField("capability", "book_meeting").
		Run(t, runner)

	if len(result.Turns) != 2 {
		t.Fatalf("expected 2 turn records, got %d", len(result.Turns))
	}
	if result.Last().Result.Action != engine.ActionExecuted {
		t.Errorf("unexpected final action %q", result.Last().Result.Action)
	}
	if !runner.lastReq.CurrentDate.Equal(monday) {
		t.Errorf("expected pinned current date, got %v", runner.lastReq.CurrentDate)
	}
	if runner.lastReq.UserID != "u1" {
		t.Errorf("expected user u1, got %q", runner.lastReq.UserID)
	}
}

func TestScenarioSetupTeardown(t *testing.T) {
	var order []string

	runner := &stubRunner{
		results: []*engine.TurnResult{{Action: engine.ActionNoMatch, Message: "no match"}},
	}

	NewScenario("lifecycle").
		WithSetup(func() error {
			order = append(order, "setup")
			return nil
		}).
		WithTeardown(func() error {
			order = append(order, "teardown")
			return nil
		}).
		Turn("hello").
		ExpectAction(engine.ActionNoMatch).
		Run(t, runner)

	if len(order) != 2 || order[0] != "setup" || order[1] != "teardown" {
		t.Errorf("unexpected lifecycle order: %v", order)
	}
}

func TestTurnAssertions(t *testing.T) {
	a := NewAssertions(t)
	a.AssertTurn(&engine.TurnResult{
		Action:  engine.ActionExecuted,
		Success: true,
		Message: "Booked: standup",
		Output:  map[string]any{"capability": "book_meeting"},
	}).
		HasAction(engine.ActionExecuted).
		Succeeded().
		MessageContains("standup").
		HasOutputField("capability", "book_meeting")

	if a.Failed() {
		t.Error("expected no assertion failures")
	}
}
