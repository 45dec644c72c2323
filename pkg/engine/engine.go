// Package engine wires the orchestration pipeline: one user turn goes
// through selection, slot filling, execution and failure recovery, producing
// exactly one reply. Turns for the same session are serialized by the
// session manager; turns for different sessions run concurrently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/disclosure"
	"github.com/taskweave/taskweave/pkg/errors"
	"github.com/taskweave/taskweave/pkg/executor"
	"github.com/taskweave/taskweave/pkg/feedback"
	"github.com/taskweave/taskweave/pkg/resilience"
	"github.com/taskweave/taskweave/pkg/selector"
	"github.com/taskweave/taskweave/pkg/session"
)

// Action classifies the reply of a turn for callers and metrics.
type Action string

const (
	ActionExecuted      Action = "executed"
	ActionClarification Action = "clarification"
	ActionPending       Action = "pending"
	ActionChainExecuted Action = "chain_executed"
	ActionNoMatch       Action = "no_match"
	ActionFailed        Action = "failed"
)

// TurnRequest is one user message addressed to a session.
type TurnRequest struct {
	SessionID   string
	UserID      string
	Input       string
	CurrentDate time.Time
}

// TurnResult is the single reply produced for a turn.
type TurnResult struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Action    Action         `json:"action"`
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
}

// Config tunes the engine.
type Config struct {
	// TurnTimeout bounds one full turn including recovery.
	TurnTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{TurnTimeout: 60 * time.Second}
}

// Engine orchestrates turns over the assembled components.
type Engine struct {
	registry   *capability.Registry
	sessions   *session.Manager
	selector   *selector.Selector
	executor   *executor.Executor
	feedback   *feedback.LoopManager
	disclosure *disclosure.Manager
	logger     *slog.Logger
	config     Config
}

// New assembles an engine. All components are injected so tests and
// alternative deployments can swap any of them.
func New(registry *capability.Registry, sessions *session.Manager, sel *selector.Selector, exec *executor.Executor, loop *feedback.LoopManager, dm *disclosure.Manager, config Config) *Engine {
	if config.TurnTimeout <= 0 {
		config.TurnTimeout = DefaultConfig().TurnTimeout
	}
	initTurnMetrics()
	return &Engine{
		registry:   registry,
		sessions:   sessions,
		selector:   sel,
		executor:   exec,
		feedback:   loop,
		disclosure: dm,
		logger:     slog.Default(),
		config:     config,
	}
}

// HandleTurn processes one user message and returns the single reply.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, errors.New(errors.CodeValidationError, "input must not be empty", nil)
	}
	if req.SessionID == "" {
		return nil, errors.New(errors.CodeValidationError, "session id is required", nil)
	}
	currentDate := req.CurrentDate
	if currentDate.IsZero() {
		currentDate = time.Now().UTC()
	}

	ctx, span := otel.Tracer("taskweave/engine").Start(ctx, "engine.turn",
		trace.WithAttributes(attribute.String("session_id", req.SessionID)))
	defer span.End()
	start := time.Now()

	if _, err := e.sessions.GetOrCreate(ctx, req.SessionID, req.UserID, currentDate); err != nil {
		return nil, err
	}

	var result *TurnResult
	err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: e.config.TurnTimeout}, func(ctx context.Context) error {
		_, updateErr := e.sessions.Update(ctx, req.SessionID, func(sc *session.Context) error {
			sc.CurrentDate = currentDate
			result = e.runTurn(ctx, sc, req.Input)
			return nil
		})
		return updateErr
	})
	if err != nil {
		turnErrorCounter.Add(ctx, 1)
		span.RecordError(err)
		return nil, err
	}

	durationMs := float64(time.Since(start).Seconds() * 1000)
	turnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(result.Action))))
	turnLatencyMs.Record(ctx, durationMs)
	span.SetAttributes(attribute.String("action", string(result.Action)))

	e.logger.Info("engine.turn.complete",
		slog.String("session_id", req.SessionID),
		slog.String("action", string(result.Action)),
		slog.Bool("success", result.Success),
		slog.Float64("duration_ms", durationMs))
	return result, nil
}

// runTurn executes the decision protocol inside the session lock.
func (e *Engine) runTurn(ctx context.Context, sc *session.Context, input string) *TurnResult {
	decision := e.selector.Decide(ctx, sc, input)

	switch decision.Kind {
	case selector.KindSkillCall:
		return e.handleSkillCall(ctx, sc, decision.SkillCall)
	case selector.KindClarification:
		return &TurnResult{
			SessionID: sc.SessionID,
			Message:   strings.Join(decision.Clarification.Questions, " "),
			Action:    ActionClarification,
			Success:   true,
		}
	case selector.KindPending:
		return &TurnResult{
			SessionID: sc.SessionID,
			Message: fmt.Sprintf("Got it. I will hold %s until %s.",
				decision.Pending.CapabilityName, decision.Pending.WaitingFor),
			Action:  ActionPending,
			Success: true,
		}
	case selector.KindChain:
		return e.handleChain(ctx, sc, decision.Chain)
	default:
		msg := decision.NoMatch.Reason
		if decision.NoMatch.Suggestion != "" {
			msg += ". " + decision.NoMatch.Suggestion
		}
		return &TurnResult{
			SessionID: sc.SessionID,
			Message:   msg,
			Action:    ActionNoMatch,
			Success:   true,
		}
	}
}

func (e *Engine) handleSkillCall(ctx context.Context, sc *session.Context, call *selector.SkillCall) *TurnResult {
	res, err := e.executor.ExecuteWithRetry(ctx, call.CapabilityName, call.Params)
	if err == nil {
		return e.completeExecution(sc, call.CapabilityName, res)
	}
	return e.recover(ctx, sc, call, err)
}

// recover runs the failure loop: a retry decision re-executes once with
// modified params, a clarification decision re-opens slot filling, anything
// else reports the failure and closes the capability. Every failed attempt
// lands in session history, whatever the resolution.
func (e *Engine) recover(ctx context.Context, sc *session.Context, call *selector.SkillCall, execErr error) *TurnResult {
	oe := errors.AsOrchestratorError(execErr)
	sc.AddHistory(session.HistoryEntry{
		Capability: call.CapabilityName,
		Status:     "failed",
		Message:    oe.Message,
	}, e.sessions.Config().MaxHistory)

	spec, specErr := e.registry.Get(call.CapabilityName)
	if specErr != nil {
		return e.failExecution(sc, call.CapabilityName, execErr.Error())
	}

	resolution := e.feedback.HandleFailure(ctx, sc, spec, call.Params, execErr)

	if resolution.ShouldRetry {
		if sc.Active != nil {
			sc.Active.RetryCount++
		}
		merged := make(map[string]any, len(call.Params)+len(resolution.ModifiedParams))
		for k, v := range call.Params {
			merged[k] = v
		}
		for k, v := range resolution.ModifiedParams {
			merged[k] = v
		}
		sc.FillSlots(resolution.ModifiedParams, session.SourceInferred, 0.8)

		res, err := e.executor.ExecuteWithRetry(ctx, call.CapabilityName, merged)
		if err == nil {
			out := e.completeExecution(sc, call.CapabilityName, res)
			if resolution.UserMessage != "" {
				out.Message = resolution.UserMessage + " " + out.Message
			}
			return out
		}
		// The recovery itself failed; report without looping further.
		retryErr := errors.AsOrchestratorError(err)
		sc.AddHistory(session.HistoryEntry{
			Capability: call.CapabilityName,
			Status:     "failed",
			Message:    retryErr.Message,
		}, e.sessions.Config().MaxHistory)
		return e.failExecution(sc, call.CapabilityName, retryErr.Message)
	}

	if len(resolution.ClearFields) > 0 && sc.Active != nil {
		for _, field := range resolution.ClearFields {
			sc.ClearSlot(field)
		}
		sc.Active.Status = session.StatusFilling
		sc.Active.RetryCount++
		return &TurnResult{
			SessionID: sc.SessionID,
			Message:   resolution.UserMessage,
			Action:    ActionClarification,
			Success:   true,
		}
	}

	return e.failExecution(sc, call.CapabilityName, resolution.UserMessage)
}

func (e *Engine) completeExecution(sc *session.Context, capabilityName string, res *executor.Result) *TurnResult {
	message := res.Message
	if len(res.Warnings) > 0 {
		message += " Note: " + strings.Join(res.Warnings, "; ")
	}

	sc.AddHistory(session.HistoryEntry{
		Capability: capabilityName,
		Status:     "success",
		Message:    res.Message,
	}, e.sessions.Config().MaxHistory)
	if sc.Active != nil && sc.Active.CapabilityName == capabilityName {
		sc.Active.Status = session.StatusCompleted
		sc.ClearActive()
	}
	e.disclosure.Reset(capabilityName)

	return &TurnResult{
		SessionID: sc.SessionID,
		Message:   message,
		Action:    ActionExecuted,
		Success:   true,
		Output:    res.Output,
	}
}

// failExecution closes the capability after a failure. History for the
// failed attempt was already appended by recover.
func (e *Engine) failExecution(sc *session.Context, capabilityName, message string) *TurnResult {
	if sc.Active != nil && sc.Active.CapabilityName == capabilityName {
		sc.Active.Status = session.StatusFailed
		sc.ClearActive()
	}
	e.disclosure.Reset(capabilityName)

	return &TurnResult{
		SessionID: sc.SessionID,
		Message:   message,
		Action:    ActionFailed,
		Success:   false,
	}
}

// handleChain executes chain steps in order, stopping at the first failure.
// Each step is validated independently by the executor.
func (e *Engine) handleChain(ctx context.Context, sc *session.Context, chain *selector.Chain) *TurnResult {
	var messages []string
	outputs := make(map[string]any, len(chain.Steps))

	for i, step := range chain.Steps {
		res, err := e.executor.ExecuteWithRetry(ctx, step.CapabilityName, step.Params)
		if err != nil {
			oe := errors.AsOrchestratorError(err)
			msg := fmt.Sprintf("step %d (%s) failed: %s", i+1, step.CapabilityName, oe.Message)
			if len(messages) > 0 {
				msg = strings.Join(messages, " ") + " Then " + msg
			}
			sc.AddHistory(session.HistoryEntry{
				Capability: step.CapabilityName,
				Status:     "failed",
				Message:    oe.Message,
			}, e.sessions.Config().MaxHistory)
			return &TurnResult{
				SessionID: sc.SessionID,
				Message:   msg,
				Action:    ActionFailed,
				Success:   false,
				Output:    outputs,
			}
		}
		messages = append(messages, res.Message)
		outputs[step.CapabilityName] = res.Output
		sc.AddHistory(session.HistoryEntry{
			Capability: step.CapabilityName,
			Status:     "success",
			Message:    res.Message,
		}, e.sessions.Config().MaxHistory)
	}

	return &TurnResult{
		SessionID: sc.SessionID,
		Message:   strings.Join(messages, " "),
		Action:    ActionChainExecuted,
		Success:   true,
		Output:    outputs,
	}
}

var (
	turnMetricsOnce  sync.Once
	turnCounter      metric.Int64Counter
	turnErrorCounter metric.Int64Counter
	turnLatencyMs    metric.Float64Histogram
)

func initTurnMetrics() {
	turnMetricsOnce.Do(func() {
		meter := otel.Meter("taskweave/engine")
		turnCounter, _ = meter.Int64Counter("taskweave.engine.turn.count")
		turnErrorCounter, _ = meter.Int64Counter("taskweave.engine.turn.error.count")
		turnLatencyMs, _ = meter.Float64Histogram("taskweave.engine.turn.latency_ms")
	})
}
