// SPDX-License-Identifier: Apache-2.0
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/errors"
)

// Working-hours window for the within_hours operator.
const (
	workdayStart = "08:00"
	workdayEnd   = "20:00"
)

// checkPreconditions evaluates every precondition constraint against the
// validated params. Violations are resolved per the constraint's policy:
// reject and ask produce errors (ask is marked as confirmable), warn is
// collected, auto_fix applies the checker's fix when one is offered.
func (e *Executor) checkPreconditions(ctx context.Context, spec *capability.Spec, params map[string]any) (map[string]any, []string, error) {
	var warnings []string

	for _, c := range spec.Preconditions() {
		fixed, violation, err := e.evaluateConstraint(ctx, &c, params)
		if err != nil {
			return nil, nil, err
		}
		if violation == "" {
			continue
		}

		switch c.Policy {
		case capability.PolicyWarn:
			warnings = append(warnings, violation)
			e.logger.Info("executor.precondition.warn",
				slog.String("capability", spec.Name),
				slog.String("constraint", c.ID),
				slog.String("violation", violation))
		case capability.PolicyAutoFix:
			if fixed != nil {
				for k, v := range fixed {
					params[k] = v
				}
				warnings = append(warnings, fmt.Sprintf("%s (auto-corrected)", violation))
				continue
			}
			warnings = append(warnings, violation)
		case capability.PolicyAsk:
			return nil, nil, preconditionError(spec, &c, violation).
				WithContext("requires_confirmation", true)
		default: // reject
			return nil, nil, preconditionError(spec, &c, violation)
		}
	}
	return params, warnings, nil
}

// preconditionError builds the typed failure for a violated constraint. The
// constrained field rides along so recovery can clear exactly that slot.
func preconditionError(spec *capability.Spec, c *capability.Constraint, violation string) *errors.OrchestratorError {
	err := errors.New(errors.CodePreconditionFailed, violation, nil).
		WithContext("capability", spec.Name).
		WithContext("constraint_id", c.ID)
	if c.Field != "" {
		err = err.WithContext("field", c.Field)
	}
	return err
}

// evaluateConstraint returns a non-empty violation message when the
// constraint fails, plus any fix a checker offered.
func (e *Executor) evaluateConstraint(ctx context.Context, c *capability.Constraint, params map[string]any) (map[string]any, string, error) {
	if c.CheckerID != "" {
		e.mu.RLock()
		checker := e.checkers[c.CheckerID]
		e.mu.RUnlock()
		if checker == nil {
			return nil, "", errors.New(errors.CodeExecutionError,
				fmt.Sprintf("no checker registered for constraint %q (checker %q)", c.ID, c.CheckerID), nil)
		}
		fixed, err := checker(ctx, params)
		if err == nil {
			return nil, "", nil
		}
		return fixed, violationMessage(c, err.Error()), nil
	}

	value, present := params[c.Field]
	switch c.Operator {
	case "not_empty":
		if !present || isEmpty(value) {
			return nil, violationMessage(c, fmt.Sprintf("%s must not be empty", c.Field)), nil
		}
	case "future_date":
		s, _ := value.(string)
		if s == "" {
			return nil, violationMessage(c, fmt.Sprintf("%s is missing", c.Field)), nil
		}
		if s < time.Now().UTC().Format("2006-01-02") {
			return nil, violationMessage(c, fmt.Sprintf("%s %q is in the past", c.Field, s)), nil
		}
	case "within_hours":
		s, _ := value.(string)
		if s == "" {
			return nil, violationMessage(c, fmt.Sprintf("%s is missing", c.Field)), nil
		}
		if s < workdayStart || s >= workdayEnd {
			return nil, violationMessage(c,
				fmt.Sprintf("%s %q is outside working hours (%s-%s)", c.Field, s, workdayStart, workdayEnd)), nil
		}
	case "":
		// A constraint without operator or checker validates nothing.
	default:
		return nil, "", errors.New(errors.CodeExecutionError,
			fmt.Sprintf("constraint %q uses unknown operator %q", c.ID, c.Operator), nil)
	}
	return nil, "", nil
}

func violationMessage(c *capability.Constraint, fallback string) string {
	if c.Message != "" {
		return c.Message
	}
	return fallback
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
