package feedback

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/calendar"
	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
	"github.com/taskweave/taskweave/pkg/llm"
	"github.com/taskweave/taskweave/pkg/session"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code errors.ErrorCode
		want FailureClass
	}{
		{errors.CodeTimeConflict, ClassConflict},
		{errors.CodePermissionDenied, ClassPermissionDenied},
		{errors.CodeResourceUnavailable, ClassResourceUnavailable},
		{errors.CodeInvalidParams, ClassValidation},
		{errors.CodePreconditionFailed, ClassValidation},
		{errors.CodeInternal, ClassSystem},
		{errors.CodeExecutionError, ClassSystem},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.code, "x", nil)); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.code, got, tc.want)
		}
	}
}

func bookMeetingSpec() *capability.Spec {
	return &capability.Spec{
		Name:        "book_meeting",
		Description: "Schedule a meeting",
		InputSchema: []capability.FieldSchema{
			{Name: "title", Type: capability.TypeString},
			{Name: "date", Type: capability.TypeDate},
			{Name: "startTime", Type: capability.TypeTime},
		},
		RequiredFields: []string{"title", "date", "startTime"},
		Executor:       capability.ExecutorLocal,
	}
}

func conflictCalendar(t *testing.T) calendar.Store {
	t.Helper()
	store := calendar.NewMemoryStore()
	if err := store.Create(context.Background(), calendar.Item{
		Title: "design review", Date: "2026-08-25", Start: "14:00", End: "15:00",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func newSession() *session.Context {
	sc := session.NewContext("s1", "u1", time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	return sc
}

func TestConflictOffersFreeSlots(t *testing.T) {
	lm := New(nil, conflictCalendar(t), DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	params := map[string]any{"title": "sync", "date": "2026-08-25", "startTime": "14:00"}
	err := errors.New(errors.CodeTimeConflict, "that time overlaps with design review", nil)

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(), params, err)
	if res.Class != ClassConflict {
		t.Fatalf("class = %s", res.Class)
	}
	if res.ShouldRetry {
		t.Fatalf("conflicts need a user choice, not an automatic retry")
	}
	if !strings.Contains(res.UserMessage, "09:00") {
		t.Fatalf("expected free alternatives in message, got %q", res.UserMessage)
	}
	if len(res.ClearFields) != 1 || res.ClearFields[0] != "startTime" {
		t.Fatalf("clear fields = %v", res.ClearFields)
	}
}

func TestConflictWithoutCalendar(t *testing.T) {
	lm := New(nil, nil, DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(),
		map[string]any{"date": "2026-08-25"},
		errors.New(errors.CodeTimeConflict, "time conflict", nil))
	if res.ShouldRetry {
		t.Fatalf("must ask the user without alternatives")
	}
	if !strings.Contains(res.UserMessage, "proceed") {
		t.Fatalf("message = %q", res.UserMessage)
	}
}

func TestPermissionDeniedNeverRetries(t *testing.T) {
	lm := New(nil, nil, DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(), nil,
		errors.New(errors.CodePermissionDenied, "no access to the shared calendar", nil))
	if res.Class != ClassPermissionDenied || res.ShouldRetry {
		t.Fatalf("resolution = %+v", res)
	}
	if !strings.Contains(res.UserMessage, "no access to the shared calendar") {
		t.Fatalf("message must carry the cause: %q", res.UserMessage)
	}
}

func TestResourceUnavailableRetriesOnce(t *testing.T) {
	lm := New(nil, nil, DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(), nil,
		errors.New(errors.CodeResourceUnavailable, "calendar backend down", nil))
	if !res.ShouldRetry {
		t.Fatalf("expected a retry for a transient resource failure: %+v", res)
	}
}

func TestRecoveryBudgetExhausted(t *testing.T) {
	lm := New(nil, conflictCalendar(t), DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())
	sc.Active.RetryCount = 2

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(),
		map[string]any{"date": "2026-08-25"},
		errors.New(errors.CodeTimeConflict, "time conflict", nil))
	if res.ShouldRetry || len(res.ClearFields) != 0 {
		t.Fatalf("budget exhausted must stop the loop: %+v", res)
	}
	if !strings.Contains(res.UserMessage, "could not complete") {
		t.Fatalf("message = %q", res.UserMessage)
	}
}

func TestLLMDecisionRetryWithModifiedParams(t *testing.T) {
	provider := &llm.MockProvider{
		Response: `{"action":"retry","params":{"startTime":"15:00"},"message":"Trying 15:00 instead."}`,
	}
	lm := New(provider, conflictCalendar(t), DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(),
		map[string]any{"title": "sync", "date": "2026-08-25", "startTime": "14:00"},
		errors.New(errors.CodeTimeConflict, "time conflict", nil))
	if !res.ShouldRetry || res.ModifiedParams["startTime"] != "15:00" {
		t.Fatalf("resolution = %+v", res)
	}
}

func TestLLMRetryWithoutChangesRejected(t *testing.T) {
	// A retry that changes nothing is not a recovery; the deterministic
	// fallback must take over.
	provider := &llm.MockProvider{Response: `{"action":"retry","params":{}}`}
	lm := New(provider, conflictCalendar(t), DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(),
		map[string]any{"date": "2026-08-25"},
		errors.New(errors.CodeTimeConflict, "time conflict", nil))
	if res.ShouldRetry {
		t.Fatalf("identical-params retry must be rejected: %+v", res)
	}
}

func TestValidationClearsViolatingFields(t *testing.T) {
	lm := New(nil, nil, DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	err := errors.New(errors.CodeInvalidParams, "2 parameter violation(s) for book_meeting", nil).
		WithContext("violations", []string{
			`date: "next tuesday sometime" is not a date like 2026-08-25`,
			"title: required field is missing",
		})

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(),
		map[string]any{"date": "next tuesday sometime"}, err)
	if res.Class != ClassValidation || res.ShouldRetry {
		t.Fatalf("resolution = %+v", res)
	}
	want := []string{"date", "title"}
	if len(res.ClearFields) != 2 || res.ClearFields[0] != want[0] || res.ClearFields[1] != want[1] {
		t.Fatalf("clear fields = %v, want %v", res.ClearFields, want)
	}
	if !strings.Contains(res.UserMessage, "date") || !strings.Contains(res.UserMessage, "title") {
		t.Fatalf("message must name the violating fields: %q", res.UserMessage)
	}
}

func TestPreconditionClearsConstrainedField(t *testing.T) {
	lm := New(nil, nil, DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	err := errors.New(errors.CodePreconditionFailed, `date "2026-08-20" is in the past`, nil).
		WithContext("constraint_id", "date-in-future").
		WithContext("field", "date")

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(),
		map[string]any{"date": "2026-08-20"}, err)
	if res.Class != ClassValidation {
		t.Fatalf("class = %s", res.Class)
	}
	if len(res.ClearFields) != 1 || res.ClearFields[0] != "date" {
		t.Fatalf("clear fields = %v", res.ClearFields)
	}
}

func TestLLMUnparsableFallsBack(t *testing.T) {
	provider := &llm.MockProvider{Response: "I think you should maybe try again later?"}
	lm := New(provider, nil, DefaultConfig())
	sc := newSession()
	sc.SetActive(bookMeetingSpec())

	res := lm.HandleFailure(context.Background(), sc, bookMeetingSpec(), nil,
		errors.New(errors.CodeInvalidParams, "title is missing", nil))
	if res.Class != ClassValidation || res.ShouldRetry {
		t.Fatalf("resolution = %+v", res)
	}
	if res.UserMessage == "" {
		t.Fatalf("fallback must produce a user message")
	}
}
