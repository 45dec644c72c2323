// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for orchestration observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Taskweave telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Session attributes
	AttrSessionID     = "taskweave.session.id"
	AttrSessionUser   = "taskweave.session.user"
	AttrSessionStatus = "taskweave.session.status"

	// Capability attributes
	AttrCapabilityName     = "taskweave.capability.name"
	AttrCapabilityCategory = "taskweave.capability.category"
	AttrCapabilityExecutor = "taskweave.capability.executor"
	AttrDisclosureTier     = "taskweave.capability.disclosure_tier"

	// Decision attributes
	AttrDecisionKind       = "taskweave.decision.kind"
	AttrDecisionConfidence = "taskweave.decision.confidence"
	AttrDecisionFallback   = "taskweave.decision.fallback"

	// Slot attributes
	AttrSlotField      = "taskweave.slot.field"
	AttrSlotSource     = "taskweave.slot.source"
	AttrSlotConfidence = "taskweave.slot.confidence"

	// Execution attributes
	AttrExecDurationMs = "taskweave.execution.duration_ms"
	AttrExecAttempts   = "taskweave.execution.attempts"
	AttrExecSuccess    = "taskweave.execution.success"
	AttrExecWarnings   = "taskweave.execution.warnings"

	// Recovery attributes
	AttrFailureClass  = "taskweave.recovery.class"
	AttrRecoveryRetry = "taskweave.recovery.retried"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
)

// SessionAttributes returns attributes for session tracking.
func SessionAttributes(sessionID, userID, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
	}
	if userID != "" {
		attrs = append(attrs, attribute.String(AttrSessionUser, userID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrSessionStatus, status))
	}
	return attrs
}

// CapabilityAttributes returns attributes for capability spans.
func CapabilityAttributes(name, category, executor string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCapabilityName, name),
	}
	if category != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityCategory, category))
	}
	if executor != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityExecutor, executor))
	}
	return attrs
}

// DecisionAttributes returns attributes for a selector decision.
func DecisionAttributes(kind string, confidence float64, fallback bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrDecisionKind, kind),
	}
	if confidence > 0 {
		attrs = append(attrs, attribute.Float64(AttrDecisionConfidence, confidence))
	}
	if fallback {
		attrs = append(attrs, attribute.Bool(AttrDecisionFallback, true))
	}
	return attrs
}

// ExecutionAttributes returns attributes for an execution span.
func ExecutionAttributes(capabilityName string, durationMs float64, attempts int, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCapabilityName, capabilityName),
		attribute.Float64(AttrExecDurationMs, durationMs),
		attribute.Int(AttrExecAttempts, attempts),
		attribute.Bool(AttrExecSuccess, success),
	}
}

// RecoveryAttributes returns attributes for failure recovery.
func RecoveryAttributes(class string, retried bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFailureClass, class),
		attribute.Bool(AttrRecoveryRetry, retried),
	}
}

// LLMAttributes returns attributes for completion-service call spans.
func LLMAttributes(model, provider string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
