package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper runs the idle-session eviction and expired-pending pruning on a
// fixed interval. It is a scheduled task distinct from request handling with
// its own cancellation handle, so tests can stop it deterministically.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper for the manager. interval <= 0 disables it.
func NewSweeper(manager *Manager, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	log := slog.Default()
	if s.interval <= 0 {
		log.Info("session.sweeper.disabled", slog.Duration("interval", s.interval))
		return
	}
	if s.cancel != nil {
		s.Stop()
	}
	initSweepMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log.Info("session.sweeper.start", slog.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				log.Info("session.sweeper.stop")
				return
			case <-ticker.C:
				s.sweepOnce(ctx, log)
			}
		}
	}()
}

func (s *Sweeper) sweepOnce(ctx context.Context, log *slog.Logger) {
	sweepCtx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		sweepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	sweepCtx, span := otel.Tracer("taskweave/session").Start(sweepCtx, "session.sweep",
		trace.WithAttributes(attribute.String("interval", s.interval.String())))
	defer span.End()

	start := time.Now()
	evicted, pruned, err := s.manager.Cleanup(sweepCtx)
	durationMs := float64(time.Since(start).Seconds() * 1000)

	sweepCounter.Add(ctx, 1)
	sweepLatencyMs.Record(ctx, durationMs)
	if err != nil {
		sweepErrorCounter.Add(ctx, 1)
		span.RecordError(err)
		log.Warn("session.sweep.error",
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()))
		return
	}
	if evicted > 0 {
		evictedCounter.Add(ctx, int64(evicted))
	}
	if pruned > 0 {
		prunedCounter.Add(ctx, int64(pruned))
	}
	span.SetAttributes(
		attribute.Int("evicted", evicted),
		attribute.Int("pruned", pruned),
	)
	log.Info("session.sweep.complete",
		slog.Int("evicted", evicted),
		slog.Int("pruned_pendings", pruned),
		slog.Float64("duration_ms", durationMs))
}

// Stop cancels the loop and blocks until the goroutine exits.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.done != nil {
		<-s.done
	}
	s.cancel = nil
	s.done = nil
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	evictedCounter    metric.Int64Counter
	prunedCounter     metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("taskweave/session")
		sweepCounter, _ = meter.Int64Counter("taskweave.session.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("taskweave.session.sweep.error.count")
		evictedCounter, _ = meter.Int64Counter("taskweave.session.evicted.count")
		prunedCounter, _ = meter.Int64Counter("taskweave.session.pending.pruned.count")
		sweepLatencyMs, _ = meter.Float64Histogram("taskweave.session.sweep.latency_ms")
	})
}
