// SPDX-License-Identifier: Apache-2.0
// Package executor validates parameters, evaluates preconditions and
// dispatches capability execution to registered handlers. The orchestration
// layer never synthesizes or interprets code: local and script strategies
// resolve to Go handlers registered at startup, the api strategy to a
// declarative HTTP call.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
	"github.com/taskweave/taskweave/pkg/resilience"
)

// Handler executes a capability (local strategy) or a script resource
// (script strategy) with validated parameters.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Checker evaluates a custom precondition. It may return fixed parameters
// for constraints with the auto_fix policy; a nil map means no fix.
type Checker func(ctx context.Context, params map[string]any) (map[string]any, error)

// Config tunes the executor.
type Config struct {
	// Retry applies to the dispatch step only; validation and precondition
	// failures are never retried with identical input.
	Retry resilience.RetryConfig

	// HTTPTimeout bounds api-strategy calls lacking a per-capability timeout.
	HTTPTimeout time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Retry:       resilience.DefaultRetryConfig(),
		HTTPTimeout: 15 * time.Second,
	}
}

// Result is the outcome of one capability execution.
type Result struct {
	CapabilityName string         `json:"capability_name"`
	Success        bool           `json:"success"`
	Output         map[string]any `json:"output,omitempty"`
	Message        string         `json:"message,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	Duration       time.Duration  `json:"duration"`
	Attempts       int            `json:"attempts"`
}

// Executor dispatches capability executions.
type Executor struct {
	registry   *capability.Registry
	httpClient *http.Client
	logger     *slog.Logger
	config     Config

	mu       sync.RWMutex
	locals   map[string]Handler // keyed by capability name
	scripts  map[string]Handler // keyed by script resource ContentRef
	checkers map[string]Checker // keyed by constraint CheckerID
}

// New creates an executor bound to the registry.
func New(registry *capability.Registry, config Config) *Executor {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry = DefaultConfig().Retry
	}
	return &Executor{
		registry:   registry,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		config:     config,
		locals:     make(map[string]Handler),
		scripts:    make(map[string]Handler),
		checkers:   make(map[string]Checker),
	}
}

// RegisterLocal binds a handler to a local-strategy capability.
func (e *Executor) RegisterLocal(capabilityName string, h Handler) {
	e.mu.Lock()
	e.locals[capabilityName] = h
	e.mu.Unlock()
}

// RegisterScript binds a handler to a script resource reference.
func (e *Executor) RegisterScript(contentRef string, h Handler) {
	e.mu.Lock()
	e.scripts[contentRef] = h
	e.mu.Unlock()
}

// RegisterChecker binds a precondition checker to its id.
func (e *Executor) RegisterChecker(checkerID string, c Checker) {
	e.mu.Lock()
	e.checkers[checkerID] = c
	e.mu.Unlock()
}

// Execute runs one capability: existence check, parameter validation,
// precondition evaluation, dispatch. No retries; see ExecuteWithRetry.
func (e *Executor) Execute(ctx context.Context, capabilityName string, params map[string]any) (*Result, error) {
	start := time.Now()

	spec, err := e.registry.Get(capabilityName)
	if err != nil {
		return nil, err
	}

	validated, err := ValidateParams(spec, params)
	if err != nil {
		return nil, err
	}

	validated, warnings, err := e.checkPreconditions(ctx, spec, validated)
	if err != nil {
		return nil, err
	}

	output, message, err := e.dispatch(ctx, spec, validated)
	if err != nil {
		e.logger.Warn("executor.dispatch.failed",
			slog.String("capability", capabilityName),
			slog.String("error", err.Error()))
		return nil, err
	}

	result := &Result{
		CapabilityName: capabilityName,
		Success:        true,
		Output:         output,
		Message:        message,
		Warnings:       warnings,
		Duration:       time.Since(start),
		Attempts:       1,
	}
	e.registry.NotifyExecuted(capabilityName, map[string]any{
		"duration_ms": result.Duration.Milliseconds(),
		"warnings":    len(warnings),
	})
	return result, nil
}

// ExecuteWithRetry runs Execute, retrying the dispatch step on recoverable
// errors with the configured backoff. Validation and precondition failures
// short-circuit because retrying identical input cannot succeed.
func (e *Executor) ExecuteWithRetry(ctx context.Context, capabilityName string, params map[string]any) (*Result, error) {
	start := time.Now()

	spec, err := e.registry.Get(capabilityName)
	if err != nil {
		return nil, err
	}
	validated, err := ValidateParams(spec, params)
	if err != nil {
		return nil, err
	}
	validated, warnings, err := e.checkPreconditions(ctx, spec, validated)
	if err != nil {
		return nil, err
	}

	var (
		output   map[string]any
		message  string
		attempts int
	)
	retry := e.config.Retry.WithIsRecoverable(func(err error) bool {
		oe := errors.AsOrchestratorError(err)
		// Domain conflicts need changed parameters, not another identical
		// attempt.
		if oe.Code == errors.CodeTimeConflict {
			return false
		}
		return oe.Recoverable
	})
	err = retry.Do(ctx, func() error {
		attempts++
		var dispatchErr error
		output, message, dispatchErr = e.dispatch(ctx, spec, validated)
		return dispatchErr
	})
	if err != nil {
		return nil, errors.AsOrchestratorError(err).WithContext("attempts", attempts)
	}

	result := &Result{
		CapabilityName: capabilityName,
		Success:        true,
		Output:         output,
		Message:        message,
		Warnings:       warnings,
		Duration:       time.Since(start),
		Attempts:       attempts,
	}
	e.registry.NotifyExecuted(capabilityName, map[string]any{
		"duration_ms": result.Duration.Milliseconds(),
		"attempts":    attempts,
	})
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, spec *capability.Spec, params map[string]any) (map[string]any, string, error) {
	switch spec.Executor {
	case capability.ExecutorLocal:
		return e.dispatchLocal(ctx, spec, params)
	case capability.ExecutorAPI:
		return e.dispatchAPI(ctx, spec, params)
	case capability.ExecutorScript:
		return e.dispatchScript(ctx, spec, params)
	default:
		return nil, "", errors.New(errors.CodeExecutionError,
			fmt.Sprintf("capability %q has unknown executor kind %q", spec.Name, spec.Executor), nil)
	}
}

func (e *Executor) dispatchLocal(ctx context.Context, spec *capability.Spec, params map[string]any) (map[string]any, string, error) {
	e.mu.RLock()
	h := e.locals[spec.Name]
	e.mu.RUnlock()

	if h == nil {
		// No handler bound: echo the validated params as a dry-run result so
		// registration-time wiring gaps surface in output, not as failures.
		e.logger.Info("executor.local.simulated", slog.String("capability", spec.Name))
		return map[string]any{"simulated": true, "params": params},
			fmt.Sprintf("%s completed (simulated)", spec.Name), nil
	}

	out, err := h(ctx, params)
	if err != nil {
		return nil, "", errors.AsOrchestratorError(err)
	}
	return out, fmt.Sprintf("%s completed", spec.Name), nil
}

func (e *Executor) dispatchScript(ctx context.Context, spec *capability.Spec, params map[string]any) (map[string]any, string, error) {
	res := spec.ScriptResource()
	if res == nil {
		return nil, "", errors.New(errors.CodeExecutionError,
			fmt.Sprintf("capability %q has no script resource", spec.Name), nil)
	}

	e.mu.RLock()
	h := e.scripts[res.ContentRef]
	e.mu.RUnlock()
	if h == nil {
		return nil, "", errors.New(errors.CodeResourceUnavailable,
			fmt.Sprintf("no handler registered for script resource %q", res.ContentRef), nil).
			WithRecoverable(false).
			WithContext("capability", spec.Name).
			WithContext("resource_id", res.ID)
	}

	out, err := h(ctx, params)
	if err != nil {
		return nil, "", errors.AsOrchestratorError(err)
	}
	return out, fmt.Sprintf("%s completed", spec.Name), nil
}
