// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/taskweave/taskweave/pkg/errors"
)

// ErrorMetrics tracks error rates, classes and recovery outcomes for
// production monitoring.
type ErrorMetrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter

	// healthStatusGauge tracks component health (0=unhealthy, 1=degraded,
	// 2=healthy).
	healthStatusGauge metric.Int64Gauge

	// breakerStateGauge tracks circuit breaker state per component (0=open,
	// 1=half-open, 2=closed).
	breakerStateGauge metric.Int64Gauge

	mu sync.RWMutex
}

// NewErrorMetrics creates an error metrics tracker with OTEL meters.
func NewErrorMetrics(ctx context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("taskweave/errors")

	errorCounter, err := meter.Int64Counter(
		"taskweave.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"taskweave.errors.recovered",
		metric.WithDescription("Successful error recoveries by code"),
	)
	if err != nil {
		return nil, err
	}

	healthStatusGauge, err := meter.Int64Gauge(
		"taskweave.health.status",
		metric.WithDescription("Component health status (0=unhealthy, 1=degraded, 2=healthy)"),
	)
	if err != nil {
		return nil, err
	}

	breakerStateGauge, err := meter.Int64Gauge(
		"taskweave.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:      errorCounter,
		recoveryCounter:   recoveryCounter,
		healthStatusGauge: healthStatusGauge,
		breakerStateGauge: breakerStateGauge,
	}, nil
}

// RecordErrorMetric increments the error counter for the error's code and
// the component it occurred in.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	if oe, ok := err.(*errors.OrchestratorError); ok {
		em.errorCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("error.code", string(oe.Code)),
				attribute.String("component", component),
				attribute.String("recoverable", oe.RecoverableString()),
			),
		)
		return
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", "UNKNOWN"),
			attribute.String("component", component),
			attribute.String("recoverable", "unknown"),
		),
	)
}

// RecordRecovery increments the recovery counter. Called when a failure was
// handled successfully (retry with modified params, user-guided reschedule).
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, errorCode errors.ErrorCode) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errorCode)),
		),
	)
}

// RecordHealthStatus records the health status of a component.
func (em *ErrorMetrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.healthStatusGauge.Record(ctx, status,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}

// RecordCircuitBreakerState records the breaker state.
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state int64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.breakerStateGauge.Record(ctx, state,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}
