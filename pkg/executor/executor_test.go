// SPDX-License-Identifier: Apache-2.0
package executor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
	"github.com/taskweave/taskweave/pkg/resilience"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Strategy:      resilience.BackoffLinear,
		IsRecoverable: errors.IsRecoverable,
	}
	return cfg
}

func newTestExecutor(t *testing.T, specs ...capability.Spec) (*Executor, *capability.Registry) {
	t.Helper()
	reg := capability.NewRegistry()
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			t.Fatalf("register %s: %v", spec.Name, err)
		}
	}
	return New(reg, fastConfig()), reg
}

func minNum(v float64) *capability.FieldValidation {
	return &capability.FieldValidation{Min: &v}
}

func bookMeetingSpec() capability.Spec {
	return capability.Spec{
		Name:        "book_meeting",
		Description: "Schedule a meeting",
		InputSchema: []capability.FieldSchema{
			{Name: "title", Type: capability.TypeString},
			{Name: "date", Type: capability.TypeDate},
			{Name: "startTime", Type: capability.TypeTime},
			{Name: "duration", Type: capability.TypeNumber, Validation: minNum(15)},
			{Name: "attendees", Type: capability.TypeArray},
		},
		RequiredFields: []string{"title", "date", "startTime"},
		Executor:       capability.ExecutorLocal,
	}
}

func TestExecuteUnknownCapability(t *testing.T) {
	exec, _ := newTestExecutor(t)
	_, err := exec.Execute(context.Background(), "nope", nil)
	if oe := errors.AsOrchestratorError(err); oe.Code != errors.CodeSkillNotFound {
		t.Fatalf("expected SKILL_NOT_FOUND, got %v", err)
	}
}

func TestExecuteDisabledCapability(t *testing.T) {
	exec, reg := newTestExecutor(t, bookMeetingSpec())
	if err := reg.Disable("book_meeting"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	_, err := exec.Execute(context.Background(), "book_meeting", nil)
	if oe := errors.AsOrchestratorError(err); oe.Code != errors.CodeSkillDisabled {
		t.Fatalf("expected SKILL_DISABLED, got %v", err)
	}
}

func TestValidateParamsAccumulatesViolations(t *testing.T) {
	spec := bookMeetingSpec()
	_, err := ValidateParams(&spec, map[string]any{
		"date":      "not-a-date",
		"startTime": "14:00",
		"duration":  5.0,
		"bogus":     "x",
		// title missing
	})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %v", err)
	}
	violations, _ := oe.Context["violations"].([]string)
	if len(violations) != 4 {
		t.Fatalf("expected 4 violations (missing title, bad date, low duration, undeclared bogus), got %v", violations)
	}
}

func TestValidateParamsNormalizes(t *testing.T) {
	spec := bookMeetingSpec()
	out, err := ValidateParams(&spec, map[string]any{
		"title":     "sync",
		"date":      "2026-08-25",
		"startTime": "14:00",
		"duration":  30,
		"attendees": []string{"Alice", "Bob"},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out["duration"] != 30.0 {
		t.Fatalf("duration not normalized to float64: %T", out["duration"])
	}
	if arr, ok := out["attendees"].([]any); !ok || len(arr) != 2 {
		t.Fatalf("attendees not normalized: %T %v", out["attendees"], out["attendees"])
	}
}

func TestValidateParamsEnum(t *testing.T) {
	spec := capability.Spec{
		Name:        "set_priority",
		Description: "Set task priority",
		InputSchema: []capability.FieldSchema{
			{Name: "level", Type: capability.TypeString, Enum: []string{"low", "medium", "high"}},
		},
		RequiredFields: []string{"level"},
		Executor:       capability.ExecutorLocal,
	}
	if _, err := ValidateParams(&spec, map[string]any{"level": "urgent"}); err == nil {
		t.Fatalf("expected enum violation")
	}
	if _, err := ValidateParams(&spec, map[string]any{"level": "high"}); err != nil {
		t.Fatalf("valid enum rejected: %v", err)
	}
}

func TestPreconditionReject(t *testing.T) {
	spec := bookMeetingSpec()
	spec.Constraints = []capability.Constraint{
		{ID: "future", Kind: capability.Precondition, Field: "date", Operator: "future_date",
			Message: "meetings cannot be booked in the past", Policy: capability.PolicyReject},
	}
	exec, _ := newTestExecutor(t, spec)

	_, err := exec.Execute(context.Background(), "book_meeting", map[string]any{
		"title": "sync", "date": "2020-01-01", "startTime": "14:00",
	})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodePreconditionFailed {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
	if oe.Message != "meetings cannot be booked in the past" {
		t.Fatalf("constraint message not used: %q", oe.Message)
	}
	if !oe.Recoverable {
		t.Fatalf("precondition failures must be recoverable")
	}
}

func TestPreconditionWarnContinues(t *testing.T) {
	spec := bookMeetingSpec()
	spec.Constraints = []capability.Constraint{
		{ID: "hours", Kind: capability.Precondition, Field: "startTime", Operator: "within_hours",
			Policy: capability.PolicyWarn},
	}
	exec, _ := newTestExecutor(t, spec)

	res, err := exec.Execute(context.Background(), "book_meeting", map[string]any{
		"title": "late sync", "date": "2099-01-01", "startTime": "22:00",
	})
	if err != nil {
		t.Fatalf("warn policy must not fail execution: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "22:00") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestPreconditionAskRequiresConfirmation(t *testing.T) {
	spec := bookMeetingSpec()
	spec.Constraints = []capability.Constraint{
		{ID: "empty-title", Kind: capability.Precondition, Field: "title", Operator: "not_empty",
			Policy: capability.PolicyAsk},
	}
	exec, _ := newTestExecutor(t, spec)

	_, err := exec.Execute(context.Background(), "book_meeting", map[string]any{
		"title": "  ", "date": "2099-01-01", "startTime": "14:00",
	})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodePreconditionFailed {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
	if oe.Context["requires_confirmation"] != true {
		t.Fatalf("ask policy must mark requires_confirmation: %+v", oe.Context)
	}
}

func TestPreconditionCheckerAutoFix(t *testing.T) {
	spec := bookMeetingSpec()
	spec.Constraints = []capability.Constraint{
		{ID: "room", Kind: capability.Precondition, CheckerID: "room_available",
			Policy: capability.PolicyAutoFix},
	}
	exec, _ := newTestExecutor(t, spec)
	exec.RegisterChecker("room_available", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"startTime": "15:00"}, fmt.Errorf("room busy at requested time")
	})

	var got map[string]any
	exec.RegisterLocal("book_meeting", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		got = params
		return map[string]any{"id": "m1"}, nil
	})

	res, err := exec.Execute(context.Background(), "book_meeting", map[string]any{
		"title": "sync", "date": "2099-01-01", "startTime": "14:00",
	})
	if err != nil {
		t.Fatalf("auto_fix must not fail execution: %v", err)
	}
	if got["startTime"] != "15:00" {
		t.Fatalf("fix not applied: %v", got["startTime"])
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("auto_fix must surface a warning: %v", res.Warnings)
	}
}

func TestPreconditionMissingChecker(t *testing.T) {
	spec := bookMeetingSpec()
	spec.Constraints = []capability.Constraint{
		{ID: "room", Kind: capability.Precondition, CheckerID: "room_available", Policy: capability.PolicyReject},
	}
	exec, _ := newTestExecutor(t, spec)

	_, err := exec.Execute(context.Background(), "book_meeting", map[string]any{
		"title": "sync", "date": "2099-01-01", "startTime": "14:00",
	})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodeExecutionError {
		t.Fatalf("expected EXECUTION_ERROR for missing checker, got %v", err)
	}
}

func TestDispatchLocalSimulated(t *testing.T) {
	exec, _ := newTestExecutor(t, bookMeetingSpec())
	res, err := exec.Execute(context.Background(), "book_meeting", map[string]any{
		"title": "sync", "date": "2026-08-25", "startTime": "14:00",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["simulated"] != true {
		t.Fatalf("expected simulated output, got %+v", res.Output)
	}
}

func TestDispatchScript(t *testing.T) {
	spec := capability.Spec{
		Name:        "export_report",
		Description: "Export a report",
		InputSchema: []capability.FieldSchema{
			{Name: "format", Type: capability.TypeString},
		},
		Resources: []capability.Resource{
			{ID: "exporter", Type: capability.ResourceScript, ContentRef: "handlers/export_report"},
		},
		Executor: capability.ExecutorScript,
	}
	exec, _ := newTestExecutor(t, spec)

	_, err := exec.Execute(context.Background(), "export_report", map[string]any{"format": "pdf"})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodeResourceUnavailable {
		t.Fatalf("expected RESOURCE_UNAVAILABLE without handler, got %v", err)
	}
	if oe.Recoverable {
		t.Fatalf("missing script handler is not recoverable by retry")
	}

	exec.RegisterScript("handlers/export_report", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"path": "/tmp/report." + params["format"].(string)}, nil
	})
	res, err := exec.Execute(context.Background(), "export_report", map[string]any{"format": "pdf"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["path"] != "/tmp/report.pdf" {
		t.Fatalf("output = %+v", res.Output)
	}
}

func TestDispatchAPI(t *testing.T) {
	var gotBody string
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		gotHeader = r.Header.Get("X-Client")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"evt-1"}`)
	}))
	defer server.Close()

	spec := capability.Spec{
		Name:        "create_event",
		Description: "Create a calendar event via the external API",
		InputSchema: []capability.FieldSchema{
			{Name: "title", Type: capability.TypeString},
		},
		RequiredFields: []string{"title"},
		Executor:       capability.ExecutorAPI,
		API: &capability.APIConfig{
			Method:       "POST",
			URL:          server.URL + "/events",
			Headers:      map[string]string{"X-Client": "taskweave"},
			ParamMapping: map[string]string{"title": "summary"},
		},
	}
	exec, _ := newTestExecutor(t, spec)

	res, err := exec.Execute(context.Background(), "create_event", map[string]any{"title": "sync"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(gotBody, `"summary":"sync"`) {
		t.Fatalf("param mapping not applied: %s", gotBody)
	}
	if gotHeader != "taskweave" {
		t.Fatalf("header not set: %q", gotHeader)
	}
	resp, _ := res.Output["response"].(map[string]any)
	if resp["id"] != "evt-1" {
		t.Fatalf("response not parsed: %+v", res.Output)
	}
}

func TestDispatchAPIStatusMapping(t *testing.T) {
	cases := []struct {
		status      int
		code        errors.ErrorCode
		recoverable bool
	}{
		{http.StatusForbidden, errors.CodePermissionDenied, false},
		{http.StatusNotFound, errors.CodeResourceUnavailable, true},
		{http.StatusInternalServerError, errors.CodeExecutionError, true},
		{http.StatusBadRequest, errors.CodeExecutionError, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		spec := capability.Spec{
			Name:        "call_api",
			Description: "Call an API",
			InputSchema: []capability.FieldSchema{{Name: "q", Type: capability.TypeString}},
			Executor:    capability.ExecutorAPI,
			API:         &capability.APIConfig{Method: "POST", URL: server.URL},
		}
		exec, _ := newTestExecutor(t, spec)
		_, err := exec.Execute(context.Background(), "call_api", map[string]any{"q": "x"})
		oe := errors.AsOrchestratorError(err)
		if oe == nil || oe.Code != tc.code || oe.Recoverable != tc.recoverable {
			t.Fatalf("status %d: expected %s recoverable=%v, got %v", tc.status, tc.code, tc.recoverable, err)
		}
		server.Close()
	}
}

func TestExecuteWithRetryRecovers(t *testing.T) {
	exec, _ := newTestExecutor(t, bookMeetingSpec())
	calls := 0
	exec.RegisterLocal("book_meeting", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New(errors.CodeResourceUnavailable, "calendar backend busy", nil)
		}
		return map[string]any{"id": "m1"}, nil
	})

	res, err := exec.ExecuteWithRetry(context.Background(), "book_meeting", map[string]any{
		"title": "sync", "date": "2026-08-25", "startTime": "14:00",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d", res.Attempts)
	}
}

func TestExecuteWithRetryDoesNotRetryConflicts(t *testing.T) {
	exec, _ := newTestExecutor(t, bookMeetingSpec())
	calls := 0
	exec.RegisterLocal("book_meeting", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		calls++
		return nil, errors.New(errors.CodeTimeConflict, "slot already booked", nil)
	})

	_, err := exec.ExecuteWithRetry(context.Background(), "book_meeting", map[string]any{
		"title": "sync", "date": "2026-08-25", "startTime": "14:00",
	})
	oe := errors.AsOrchestratorError(err)
	if oe == nil || oe.Code != errors.CodeTimeConflict {
		t.Fatalf("expected TIME_CONFLICT, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("conflicts must not be retried with identical params, calls = %d", calls)
	}
}
