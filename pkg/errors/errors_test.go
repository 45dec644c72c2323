package errors

import (
	stderrors "errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(CodeExecutionError, "capability failed", cause)
	want := "[EXECUTION_ERROR] capability failed: boom"
	if err.Error() != want {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
}

func TestDefaultRecoverability(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want bool
	}{
		{CodeSkillNotFound, false},
		{CodeSkillDisabled, false},
		{CodePermissionDenied, false},
		{CodeInvalidParams, true},
		{CodePreconditionFailed, true},
		{CodeValidationError, true},
		{CodeTimeConflict, true},
		{CodeResourceUnavailable, true},
		{CodeTimeout, true},
		{CodeLLMError, true},
		{CodeInternal, false},
	}
	for _, tc := range cases {
		err := New(tc.code, "x", nil)
		if err.Recoverable != tc.want {
			t.Fatalf("%s: recoverable = %v, want %v", tc.code, err.Recoverable, tc.want)
		}
	}
}

func TestWithRecoverableOverride(t *testing.T) {
	err := New(CodeExecutionError, "flaky backend", nil).WithRecoverable(true)
	if !IsRecoverable(err) {
		t.Fatalf("expected override to recoverable")
	}
}

func TestIsRecoverableUnknownError(t *testing.T) {
	if IsRecoverable(stderrors.New("plain")) {
		t.Fatalf("plain errors must not be treated as recoverable")
	}
	if IsRecoverable(nil) {
		t.Fatalf("nil is not recoverable")
	}
}

func TestAsOrchestratorError(t *testing.T) {
	plain := stderrors.New("plain")
	wrapped := AsOrchestratorError(plain)
	if wrapped.Code != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %s", wrapped.Code)
	}
	typed := New(CodeTimeConflict, "overlap", nil)
	if AsOrchestratorError(typed) != typed {
		t.Fatalf("expected identity for typed errors")
	}
}

func TestStatusCodes(t *testing.T) {
	if New(CodeSkillNotFound, "", nil).StatusCode != 404 {
		t.Fatalf("SKILL_NOT_FOUND should map to 404")
	}
	if New(CodeTimeConflict, "", nil).StatusCode != 409 {
		t.Fatalf("TIME_CONFLICT should map to 409")
	}
}
