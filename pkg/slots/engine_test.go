package slots

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/session"
)

var monday = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) // a Monday

func meetingSpec() *capability.Spec {
	return &capability.Spec{
		Name:        "book_meeting",
		Description: "Books a meeting on the calendar.",
		InputSchema: []capability.FieldSchema{
			{Name: "title", Type: capability.TypeString, Required: true},
			{Name: "date", Type: capability.TypeDate, Required: true},
			{Name: "startTime", Type: capability.TypeTime, Required: true},
			{Name: "attendees", Type: capability.TypeArray},
		},
		RequiredFields: []string{"title", "date", "startTime"},
		Executor:       capability.ExecutorLocal,
	}
}

func newSession(t *testing.T, spec *capability.Spec) *session.Context {
	t.Helper()
	sc := session.NewContext("s1", "u1", monday)
	sc.SetActive(spec)
	return sc
}

func TestExtractDateRelative(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"book it today", "2026-08-24"},
		{"book it tomorrow", "2026-08-25"},
		{"the day after tomorrow works", "2026-08-26"},
		{"this friday please", "2026-08-28"},
		{"next monday", "2026-08-31"},
		{"on 2026-09-03", "2026-09-03"},
		{"on 9/3", "2026-09-03"},
	}
	for _, tc := range cases {
		got, conf := extractDate(tc.input, monday)
		if got != tc.want {
			t.Fatalf("%q: date = %s, want %s", tc.input, got, tc.want)
		}
		if conf < 0.85 || conf > 0.95 {
			t.Fatalf("%q: confidence out of band: %f", tc.input, conf)
		}
	}
}

func TestExtractTime(t *testing.T) {
	cases := []struct {
		input    string
		want     string
		wantConf float64
	}{
		{"at 14:00", "14:00", 0.95},
		{"at 2pm", "14:00", 0.9},
		{"at 2:30 PM", "14:30", 0.9},
		{"at 9am", "09:00", 0.9},
		{"12am flight", "00:00", 0.9},
		{"3 o'clock", "15:00", 0.9},
		{"half past 4", "16:30", 0.9},
	}
	for _, tc := range cases {
		got, conf := extractTime(tc.input)
		if got != tc.want {
			t.Fatalf("%q: time = %s, want %s", tc.input, got, tc.want)
		}
		if conf != tc.wantConf {
			t.Fatalf("%q: confidence = %f, want %f", tc.input, conf, tc.wantConf)
		}
	}
}

func TestExtractDatetimeFallsBackToMorning(t *testing.T) {
	ex := extractDatetime("when", "submit it tomorrow", monday)
	if ex == nil {
		t.Fatalf("expected extraction")
	}
	if ex.Value != "2026-08-25 09:00" {
		t.Fatalf("value = %v", ex.Value)
	}
	if ex.Source != session.SourceInferred {
		t.Fatalf("source = %s, want inferred", ex.Source)
	}
	wantConf := 0.95 * 0.8
	if ex.Confidence != wantConf {
		t.Fatalf("confidence = %f, want %f", ex.Confidence, wantConf)
	}
}

func TestExtractNumberBounds(t *testing.T) {
	min, max := 1.0, 10.0
	f := &capability.FieldSchema{
		Name: "days", Type: capability.TypeNumber,
		Validation: &capability.FieldValidation{Min: &min, Max: &max},
	}
	if ex := extractNumber(f, "I need 5 days"); ex == nil || ex.Value != 5 {
		t.Fatalf("in-range extraction failed: %+v", ex)
	}
	if ex := extractNumber(f, "I need 15 days"); ex != nil {
		t.Fatalf("out-of-range value must be rejected: %+v", ex)
	}
}

func TestExtractEnumNeverGuesses(t *testing.T) {
	f := &capability.FieldSchema{
		Name: "room", Type: capability.TypeString,
		Enum: []string{"Aurora", "Borealis"},
	}
	if ex := extractString(f, "put us in aurora please"); ex == nil || ex.Value != "Aurora" {
		t.Fatalf("containment match failed: %+v", ex)
	}
	if ex := extractString(f, "any big room is fine"); ex != nil {
		t.Fatalf("enum extraction must not guess: %+v", ex)
	}
}

func TestScenarioABookMeeting(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	spec := meetingSpec()
	sc := newSession(t, spec)

	result := engine.ProcessInput("book a meeting tomorrow at 2pm with Alice", spec, sc)

	params := sc.FilledParams()
	if params["date"] != "2026-08-25" {
		t.Fatalf("date = %v", params["date"])
	}
	if params["startTime"] != "14:00" {
		t.Fatalf("startTime = %v", params["startTime"])
	}
	if !reflect.DeepEqual(params["attendees"], []string{"Alice"}) {
		t.Fatalf("attendees = %v", params["attendees"])
	}
	if _, ok := params["title"]; ok {
		t.Fatalf("title must remain unresolved")
	}
	if !reflect.DeepEqual(result.Remaining, []string{"title"}) {
		t.Fatalf("remaining = %v", result.Remaining)
	}
	if result.NextQuestion == "" {
		t.Fatalf("expected a clarification question for title")
	}
}

func TestScenarioBTitleAnswer(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	spec := meetingSpec()
	sc := newSession(t, spec)

	engine.ProcessInput("book a meeting tomorrow at 2pm with Alice", spec, sc)
	result := engine.ProcessInput("quarterly review", spec, sc)

	if len(result.Remaining) != 0 {
		t.Fatalf("remaining = %v", result.Remaining)
	}
	if sc.FilledParams()["title"] != "quarterly review" {
		t.Fatalf("title = %v", sc.FilledParams()["title"])
	}
}

func TestAttendeeListSplitting(t *testing.T) {
	got := extractArray("schedule with Alice, Bob and Carol")
	want := []string{"Alice", "Bob", "Carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("attendees = %v, want %v", got, want)
	}
}

func TestLowConfidenceNeverFills(t *testing.T) {
	engine := NewEngine(Config{ConfidenceThreshold: 0.99, MaxQuestionsPerTurn: 1})
	spec := meetingSpec()
	sc := newSession(t, spec)

	engine.ProcessInput("book a meeting this friday at 2pm", spec, sc)
	params := sc.FilledParams()
	if _, ok := params["date"]; ok {
		t.Fatalf("weekday extraction (0.85) must not pass a 0.99 threshold")
	}
	if _, ok := params["startTime"]; ok {
		t.Fatalf("meridiem extraction (0.9) must not pass a 0.99 threshold")
	}
}

func TestQuestionUsesFieldPromptAndSummary(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	spec := meetingSpec()
	spec.InputSchema[0].ClarificationPrompt = "What should the meeting be called?"
	sc := newSession(t, spec)

	result := engine.ProcessInput("book a meeting tomorrow at 2pm with Alice", spec, sc)
	if !strings.Contains(result.NextQuestion, "What should the meeting be called?") {
		t.Fatalf("question should use the field prompt: %s", result.NextQuestion)
	}
	if !strings.Contains(result.NextQuestion, "So far I have") {
		t.Fatalf("question should summarize known values: %s", result.NextQuestion)
	}
	if !strings.Contains(result.NextQuestion, "date=2026-08-25") {
		t.Fatalf("summary should include the resolved date: %s", result.NextQuestion)
	}
}

func TestQuestionBudgetPerTurn(t *testing.T) {
	spec := meetingSpec()

	engine := NewEngine(DefaultConfig())
	sc := newSession(t, spec)
	result := engine.ProcessInput("set something up", spec, sc)
	if !strings.Contains(result.NextQuestion, "title") || strings.Contains(result.NextQuestion, "What date") {
		t.Fatalf("default budget must ask one question: %s", result.NextQuestion)
	}

	engine = NewEngine(Config{ConfidenceThreshold: 0.8, MaxQuestionsPerTurn: 2})
	sc = newSession(t, spec)
	result = engine.ProcessInput("set something up", spec, sc)
	if !strings.Contains(result.NextQuestion, "title") || !strings.Contains(result.NextQuestion, "What date should date be?") {
		t.Fatalf("budget of two must cover the first two missing fields: %s", result.NextQuestion)
	}
	if strings.Contains(result.NextQuestion, "startTime") {
		t.Fatalf("third question exceeds the budget: %s", result.NextQuestion)
	}
}

func TestAffirmation(t *testing.T) {
	if v, ok := Affirmation("yes please"); !ok || !v {
		t.Fatalf("positive answer not recognized")
	}
	if v, ok := Affirmation("no, cancel that"); !ok || v {
		t.Fatalf("negative answer not recognized")
	}
	if _, ok := Affirmation("what was the time again?"); ok {
		t.Fatalf("ambiguous answer must not resolve")
	}
}

func TestBooleanLexicon(t *testing.T) {
	if v, conf := extractBoolean("yes please send it"); !v || conf == 0 {
		t.Fatalf("positive lexicon failed")
	}
	if v, conf := extractBoolean("no don't"); v || conf == 0 {
		t.Fatalf("negative lexicon failed")
	}
	if _, conf := extractBoolean("maybe later"); conf != 0 {
		t.Fatalf("ambiguous input must not extract")
	}
}
