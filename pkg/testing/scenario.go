// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing Taskweave conversations.
//
// This package includes:
//   - Scenario definitions for declarative multi-turn conversation tests
//   - A scripted completion provider with request capture
//   - Assertion helpers for common validations
//
// Example usage:
//
//	scenario := testing.NewScenario("booking").
//	    Turn("book a meeting tomorrow at 2pm").
//	    ExpectAction(engine.ActionClarification).
//	    Turn("Quarterly Review").
//	    ExpectAction(engine.ActionExecuted).
//	    ExpectMessage(testing.Contains("Quarterly Review"))
//
//	scenario.Run(t, eng)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/taskweave/taskweave/pkg/engine"
)

// TurnRunner is the interface scenarios drive. *engine.Engine satisfies it.
type TurnRunner interface {
	HandleTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
}

// Scenario defines a multi-turn conversation test.
type Scenario struct {
	name          string
	description   string
	sessionID     string
	userID        string
	currentDate   time.Time
	context       context.Context
	timeout       time.Duration
	turns         []*TurnSpec
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// TurnSpec is one user turn plus its expectations.
type TurnSpec struct {
	Input        string
	expectations []Expectation
}

// Expectation defines a condition to verify after a turn.
type Expectation interface {
	// Check verifies the expectation against the turn record.
	Check(rec *TurnRecord) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// TurnRecord captures the outcome of one turn.
type TurnRecord struct {
	Input    string
	Result   *engine.TurnResult
	Error    error
	Duration time.Duration
}

// ScenarioResult contains the outcome of running a full scenario.
type ScenarioResult struct {
	Turns    []*TurnRecord
	Duration time.Duration
}

// NewScenario creates a conversation scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:        name,
		sessionID:   "scenario-" + name,
		userID:      "scenario-user",
		currentDate: time.Now(),
		context:     context.Background(),
		timeout:     30 * time.Second,
	}
}

// WithDescription adds a description to the scenario.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithSession sets the session and user identifiers for all turns.
func (s *Scenario) WithSession(sessionID, userID string) *Scenario {
	s.sessionID = sessionID
	s.userID = userID
	return s
}

// WithCurrentDate pins the reference date used to resolve relative
// expressions like "tomorrow".
func (s *Scenario) WithCurrentDate(d time.Time) *Scenario {
	s.currentDate = d
	return s
}

// WithContext sets the base context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the per-turn timeout.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Turn appends a user turn. Expectations added afterwards attach to it.
func (s *Scenario) Turn(input string) *Scenario {
	s.turns = append(s.turns, &TurnSpec{Input: input})
	return s
}

// Expect adds an expectation to the most recent turn.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	if len(s.turns) == 0 {
		panic("scenario: Expect called before any Turn")
	}
	last := s.turns[len(s.turns)-1]
	last.expectations = append(last.expectations, exp)
	return s
}

// ExpectAction expects the turn to resolve to the given action.
func (s *Scenario) ExpectAction(action engine.Action) *Scenario {
	return s.Expect(&actionExpectation{action: action})
}

// ExpectMessage expects the reply message to match.
func (s *Scenario) ExpectMessage(matcher StringMatcher) *Scenario {
	return s.Expect(&messageExpectation{matcher: matcher})
}

// ExpectSuccess expects the turn to succeed.
func (s *Scenario) ExpectSuccess() *Scenario {
	return s.Expect(&successExpectation{want: true})
}

// ExpectFailure expects the turn to report failure.
func (s *Scenario) ExpectFailure() *Scenario {
	return s.Expect(&successExpectation{want: false})
}

// ExpectNoError expects no transport-level error from the turn.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects an error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectOutputField expects the result output to carry key=value.
func (s *Scenario) ExpectOutputField(key string, value any) *Scenario {
	return s.Expect(&outputFieldExpectation{key: key, value: value})
}

// ExpectMaxDuration expects the turn to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes every turn in order against the runner and reports
// expectation failures to the test.
func (s *Scenario) Run(t *testing.T, runner TurnRunner) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	result := &ScenarioResult{}
	start := time.Now()

	for i, turn := range s.turns {
		ctx, cancel := context.WithTimeout(s.context, s.timeout)
		turnStart := time.Now()
		res, err := runner.HandleTurn(ctx, engine.TurnRequest{
			SessionID:   s.sessionID,
			UserID:      s.userID,
			Input:       turn.Input,
			CurrentDate: s.currentDate,
		})
		cancel()

		rec := &TurnRecord{
			Input:    turn.Input,
			Result:   res,
			Error:    err,
			Duration: time.Since(turnStart),
		}
		result.Turns = append(result.Turns, rec)

		for _, exp := range turn.expectations {
			if checkErr := exp.Check(rec); checkErr != nil {
				t.Errorf("scenario %q turn %d (%q): expectation %q failed: %v",
					s.name, i+1, turn.Input, exp.Description(), checkErr)
			}
		}
	}

	result.Duration = time.Since(start)
	return result
}

// Last returns the final turn record, or nil for an empty scenario.
func (r *ScenarioResult) Last() *TurnRecord {
	if len(r.Turns) == 0 {
		return nil
	}
	return r.Turns[len(r.Turns)-1]
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

// HasSuffix returns a matcher that checks if the string has the given suffix.
func HasSuffix(suffix string) StringMatcher {
	return &suffixMatcher{suffix: suffix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool {
	return strings.Contains(s, m.substr)
}

func (m *containsMatcher) Description() string {
	return fmt.Sprintf("contains %q", m.substr)
}

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool {
	return s == m.expected
}

func (m *equalsMatcher) Description() string {
	return fmt.Sprintf("equals %q", m.expected)
}

type regexMatcher struct {
	pattern string
}

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string {
	return fmt.Sprintf("matches regex %q", m.pattern)
}

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool {
	return strings.HasPrefix(s, m.prefix)
}

func (m *prefixMatcher) Description() string {
	return fmt.Sprintf("has prefix %q", m.prefix)
}

type suffixMatcher struct {
	suffix string
}

func (m *suffixMatcher) Match(s string) bool {
	return strings.HasSuffix(s, m.suffix)
}

func (m *suffixMatcher) Description() string {
	return fmt.Sprintf("has suffix %q", m.suffix)
}

// Expectation implementations

type actionExpectation struct {
	action engine.Action
}

func (e *actionExpectation) Check(rec *TurnRecord) error {
	if rec.Result == nil {
		return fmt.Errorf("no result (error: %v)", rec.Error)
	}
	if rec.Result.Action != e.action {
		return fmt.Errorf("got action %q, message %q", rec.Result.Action, rec.Result.Message)
	}
	return nil
}

func (e *actionExpectation) Description() string {
	return fmt.Sprintf("action %q", e.action)
}

type messageExpectation struct {
	matcher StringMatcher
}

func (e *messageExpectation) Check(rec *TurnRecord) error {
	if rec.Result == nil {
		return fmt.Errorf("no result (error: %v)", rec.Error)
	}
	if !e.matcher.Match(rec.Result.Message) {
		return fmt.Errorf("message %q does not match: %s", rec.Result.Message, e.matcher.Description())
	}
	return nil
}

func (e *messageExpectation) Description() string {
	return fmt.Sprintf("message %s", e.matcher.Description())
}

type successExpectation struct {
	want bool
}

func (e *successExpectation) Check(rec *TurnRecord) error {
	if rec.Result == nil {
		return fmt.Errorf("no result (error: %v)", rec.Error)
	}
	if rec.Result.Success != e.want {
		return fmt.Errorf("got success=%v, message %q", rec.Result.Success, rec.Result.Message)
	}
	return nil
}

func (e *successExpectation) Description() string {
	if e.want {
		return "turn succeeds"
	}
	return "turn fails"
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(rec *TurnRecord) error {
	if rec.Error != nil {
		return fmt.Errorf("expected no error, got: %v", rec.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(rec *TurnRecord) error {
	if rec.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(rec.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", rec.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type outputFieldExpectation struct {
	key   string
	value any
}

func (e *outputFieldExpectation) Check(rec *TurnRecord) error {
	if rec.Result == nil {
		return fmt.Errorf("no result (error: %v)", rec.Error)
	}
	got, ok := rec.Result.Output[e.key]
	if !ok {
		return fmt.Errorf("output has no field %q", e.key)
	}
	if got != e.value {
		return fmt.Errorf("output[%q] = %v, want %v", e.key, got, e.value)
	}
	return nil
}

func (e *outputFieldExpectation) Description() string {
	return fmt.Sprintf("output %s=%v", e.key, e.value)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(rec *TurnRecord) error {
	if rec.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", rec.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}
