// Package feedback turns execution failures into recovery decisions. A
// failure is classified, candidate solutions are generated from domain
// knowledge, and the completion service picks one under a strict response
// schema with a deterministic fallback. The loop never retries blindly:
// every retry carries modified parameters or an explicit user choice.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskweave/taskweave/pkg/calendar"
	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
	"github.com/taskweave/taskweave/pkg/llm"
	"github.com/taskweave/taskweave/pkg/session"
)

// FailureClass groups execution errors by recovery strategy.
type FailureClass string

const (
	ClassConflict            FailureClass = "conflict"
	ClassPermissionDenied    FailureClass = "permission_denied"
	ClassResourceUnavailable FailureClass = "resource_unavailable"
	ClassValidation          FailureClass = "validation_error"
	ClassSystem              FailureClass = "system_error"
)

// Classify maps an execution error to its failure class.
func Classify(err error) FailureClass {
	oe := errors.AsOrchestratorError(err)
	if oe == nil {
		return ClassSystem
	}
	switch oe.Code {
	case errors.CodeTimeConflict:
		return ClassConflict
	case errors.CodePermissionDenied:
		return ClassPermissionDenied
	case errors.CodeResourceUnavailable:
		return ClassResourceUnavailable
	case errors.CodeInvalidParams, errors.CodeValidationError, errors.CodePreconditionFailed:
		return ClassValidation
	default:
		return ClassSystem
	}
}

// Solution is one candidate recovery.
type Solution struct {
	Action      string         `json:"action"` // retry, ask_user, cancel
	Description string         `json:"description"`
	ParamPatch  map[string]any `json:"param_patch,omitempty"`
}

// Resolution is the loop's verdict on a failure.
type Resolution struct {
	Class          FailureClass   `json:"class"`
	ShouldRetry    bool           `json:"should_retry"`
	ModifiedParams map[string]any `json:"modified_params,omitempty"`
	UserMessage    string         `json:"user_message"`

	// ClearFields names slots to reset so the next user turn can re-fill
	// them (e.g. startTime after a conflict).
	ClearFields []string `json:"clear_fields,omitempty"`
}

// Config tunes the loop manager.
type Config struct {
	// MaxRecoveryAttempts bounds automatic retries per active capability.
	MaxRecoveryAttempts int

	// FreeSlotLimit caps alternatives offered after a time conflict.
	FreeSlotLimit int

	// Working-hours window searched for alternatives.
	WorkdayStart string
	WorkdayEnd   string

	// LLMDeadline bounds the recovery-decision completion call.
	LLMDeadline time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxRecoveryAttempts: 2,
		FreeSlotLimit:       3,
		WorkdayStart:        "09:00",
		WorkdayEnd:          "17:00",
		LLMDeadline:         10 * time.Second,
	}
}

// LoopManager runs the classify, propose, decide cycle.
type LoopManager struct {
	provider llm.Provider
	calendar calendar.Store
	logger   *slog.Logger
	config   Config
}

// New creates a loop manager. provider and cal may be nil; nil disables the
// corresponding enrichment (completion-service decisions, free-slot
// alternatives).
func New(provider llm.Provider, cal calendar.Store, config Config) *LoopManager {
	if config.MaxRecoveryAttempts <= 0 {
		config.MaxRecoveryAttempts = DefaultConfig().MaxRecoveryAttempts
	}
	if config.FreeSlotLimit <= 0 {
		config.FreeSlotLimit = DefaultConfig().FreeSlotLimit
	}
	if config.WorkdayStart == "" {
		config.WorkdayStart = DefaultConfig().WorkdayStart
	}
	if config.WorkdayEnd == "" {
		config.WorkdayEnd = DefaultConfig().WorkdayEnd
	}
	if config.LLMDeadline <= 0 {
		config.LLMDeadline = DefaultConfig().LLMDeadline
	}
	return &LoopManager{
		provider: provider,
		calendar: cal,
		logger:   slog.Default(),
		config:   config,
	}
}

// HandleFailure classifies the error, proposes candidate solutions and
// resolves them into a single recovery decision.
func (lm *LoopManager) HandleFailure(ctx context.Context, sc *session.Context, spec *capability.Spec, params map[string]any, execErr error) Resolution {
	class := Classify(execErr)
	oe := errors.AsOrchestratorError(execErr)

	lm.logger.Info("feedback.failure",
		slog.String("capability", spec.Name),
		slog.String("class", string(class)),
		slog.String("error", execErr.Error()))

	// Recovery is bounded per active capability; past the budget the only
	// honest answer is a failure report.
	if sc.Active != nil && sc.Active.RetryCount >= lm.config.MaxRecoveryAttempts {
		return Resolution{
			Class:       class,
			UserMessage: fmt.Sprintf("I could not complete %s after %d attempts: %s", spec.Name, sc.Active.RetryCount+1, oe.Message),
		}
	}

	candidates := lm.proposeSolutions(ctx, class, spec, params, oe)
	if res, ok := lm.decideWithLLM(ctx, class, spec, params, oe, candidates); ok {
		return res
	}
	return lm.decideDeterministic(class, oe, candidates)
}

// proposeSolutions builds the candidate list for a failure class.
func (lm *LoopManager) proposeSolutions(ctx context.Context, class FailureClass, spec *capability.Spec, params map[string]any, oe *errors.OrchestratorError) []Solution {
	switch class {
	case ClassConflict:
		return lm.conflictSolutions(ctx, params)
	case ClassValidation:
		return []Solution{{
			Action:      "ask_user",
			Description: "ask the user to correct the invalid parameters",
		}}
	case ClassResourceUnavailable:
		return []Solution{
			{Action: "retry", Description: "retry once, the resource may be back"},
			{Action: "ask_user", Description: "tell the user the resource is unavailable and ask how to proceed"},
		}
	case ClassPermissionDenied:
		// Nothing the loop can change; the user must resolve access.
		return []Solution{{Action: "cancel", Description: "report the permission problem"}}
	default:
		return []Solution{{Action: "cancel", Description: "report the internal failure"}}
	}
}

// conflictSolutions offers concrete alternative time windows when the
// calendar is available.
func (lm *LoopManager) conflictSolutions(ctx context.Context, params map[string]any) []Solution {
	base := Solution{
		Action:      "ask_user",
		Description: "ask the user to pick a different time",
	}
	date, _ := params["date"].(string)
	if lm.calendar == nil || date == "" {
		return []Solution{base}
	}

	duration := time.Hour
	if d, ok := params["duration"].(float64); ok && d > 0 {
		duration = time.Duration(d) * time.Minute
	}
	windows, err := calendar.FindFreeSlots(ctx, lm.calendar, date, duration,
		lm.config.WorkdayStart, lm.config.WorkdayEnd, lm.config.FreeSlotLimit)
	if err != nil || len(windows) == 0 {
		return []Solution{base}
	}

	solutions := make([]Solution, 0, len(windows)+1)
	for _, w := range windows {
		solutions = append(solutions, Solution{
			Action:      "ask_user",
			Description: fmt.Sprintf("offer %s to %s", w.Start, w.End),
			ParamPatch:  map[string]any{"startTime": w.Start},
		})
	}
	return solutions
}

// decisionResponse is the strict schema expected from the completion service.
type decisionResponse struct {
	Action  string         `json:"action"` // retry, ask_user, cancel
	Params  map[string]any `json:"params"`
	Message string         `json:"message"`
}

func (lm *LoopManager) decideWithLLM(ctx context.Context, class FailureClass, spec *capability.Spec, params map[string]any, oe *errors.OrchestratorError, candidates []Solution) (Resolution, bool) {
	if lm.provider == nil {
		return Resolution{}, false
	}

	payload, _ := json.Marshal(map[string]any{
		"capability": spec.Name,
		"class":      class,
		"error":      oe.Message,
		"params":     params,
		"candidates": candidates,
	})
	resp, err := lm.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You resolve failed task executions. Given a failure and candidate solutions, " +
			"reply with a single JSON object: " +
			`{"action":"retry|ask_user|cancel","params":{...},"message":"<what to tell the user>"}. ` +
			"Only choose retry when the params meaningfully change the outcome.",
		UserPrompt: string(payload),
		Deadline:   lm.config.LLMDeadline,
	})
	if err != nil {
		lm.logger.Warn("feedback.decide.llm_error", slog.String("error", err.Error()))
		return Resolution{}, false
	}
	raw, ok := llm.ExtractJSONObject(resp.Content)
	if !ok {
		return Resolution{}, false
	}
	var parsed decisionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Resolution{}, false
	}

	switch parsed.Action {
	case "retry":
		if len(parsed.Params) == 0 {
			// A retry with identical params is not a recovery.
			return Resolution{}, false
		}
		return Resolution{
			Class:          class,
			ShouldRetry:    true,
			ModifiedParams: parsed.Params,
			UserMessage:    parsed.Message,
		}, true
	case "ask_user":
		msg := parsed.Message
		if msg == "" {
			msg = lm.candidateMessage(oe, candidates)
		}
		return Resolution{
			Class:       class,
			UserMessage: msg,
			ClearFields: clearFieldsFor(class, oe),
		}, true
	case "cancel":
		msg := parsed.Message
		if msg == "" {
			msg = fmt.Sprintf("I could not complete this: %s", oe.Message)
		}
		return Resolution{Class: class, UserMessage: msg}, true
	}
	return Resolution{}, false
}

// decideDeterministic is the fallback when no completion service is usable.
// Candidates are ordered by preference; the first one decides.
func (lm *LoopManager) decideDeterministic(class FailureClass, oe *errors.OrchestratorError, candidates []Solution) Resolution {
	if len(candidates) > 0 {
		switch candidates[0].Action {
		case "ask_user":
			return Resolution{
				Class:       class,
				UserMessage: lm.candidateMessage(oe, candidates),
				ClearFields: clearFieldsFor(class, oe),
			}
		case "retry":
			return Resolution{
				Class:          class,
				ShouldRetry:    true,
				ModifiedParams: candidates[0].ParamPatch,
				UserMessage:    candidates[0].Description,
			}
		}
	}
	return Resolution{
		Class:       class,
		UserMessage: fmt.Sprintf("I could not complete this: %s", oe.Message),
	}
}

// candidateMessage renders the failure plus concrete alternatives for the
// user. Parameter violations are spelled out field by field so the user knows
// what to correct.
func (lm *LoopManager) candidateMessage(oe *errors.OrchestratorError, candidates []Solution) string {
	var b strings.Builder
	b.WriteString(oe.Message)
	if details := violationDetails(oe); len(details) > 0 {
		fmt.Fprintf(&b, ": %s.", strings.Join(details, "; "))
	}

	var times []string
	for _, c := range candidates {
		if t, ok := c.ParamPatch["startTime"].(string); ok {
			times = append(times, t)
		}
	}
	if len(times) > 0 {
		fmt.Fprintf(&b, " Free alternatives: %s. Which works for you?", strings.Join(times, ", "))
	} else {
		b.WriteString(" How would you like to proceed?")
	}
	return b.String()
}

// clearFieldsFor names the slots to reset so the next turn can re-fill them:
// the conflicting time after a conflict, the violating fields after a
// validation failure.
func clearFieldsFor(class FailureClass, oe *errors.OrchestratorError) []string {
	switch class {
	case ClassConflict:
		return []string{"startTime"}
	case ClassValidation:
		return violationFields(oe)
	}
	return nil
}

// violationDetails returns the per-field violation messages carried by a
// validation error.
func violationDetails(oe *errors.OrchestratorError) []string {
	if oe == nil || oe.Context == nil {
		return nil
	}
	details, _ := oe.Context["violations"].([]string)
	return details
}

// violationFields extracts the field names from a validation error: the
// "field: message" entries of the violations list, plus the single field of a
// precondition failure.
func violationFields(oe *errors.OrchestratorError) []string {
	if oe == nil || oe.Context == nil {
		return nil
	}
	seen := make(map[string]bool)
	var fields []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " \t") || seen[name] {
			return
		}
		seen[name] = true
		fields = append(fields, name)
	}
	for _, v := range violationDetails(oe) {
		if name, _, ok := strings.Cut(v, ":"); ok {
			add(name)
		}
	}
	if name, ok := oe.Context["field"].(string); ok {
		add(name)
	}
	return fields
}
