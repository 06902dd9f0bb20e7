package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/amlnet/federator/aggregator"
	"github.com/amlnet/federator/pkg/fl"
)

var _ aggregator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     aggregator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc aggregator.Service) aggregator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) CreateRun(ctx context.Context, run aggregator.Run) (aggregator.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-run").Add(1)
		mm.latency.With("method", "create-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateRun(ctx, run)
}

func (mm *metricsMiddleware) GetRun(ctx context.Context, runID string) (aggregator.Run, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-run").Add(1)
		mm.latency.With("method", "get-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRun(ctx, runID)
}

func (mm *metricsMiddleware) ListRuns(ctx context.Context, offset, limit uint64) (aggregator.RunPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-runs").Add(1)
		mm.latency.With("method", "list-runs").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRuns(ctx, offset, limit)
}

func (mm *metricsMiddleware) DeleteRun(ctx context.Context, runID string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "delete-run").Add(1)
		mm.latency.With("method", "delete-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.DeleteRun(ctx, runID)
}

func (mm *metricsMiddleware) StartRun(ctx context.Context, runID string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "start-run").Add(1)
		mm.latency.With("method", "start-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.StartRun(ctx, runID)
}

func (mm *metricsMiddleware) StopRun(ctx context.Context, runID string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "stop-run").Add(1)
		mm.latency.With("method", "stop-run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.StopRun(ctx, runID)
}

func (mm *metricsMiddleware) GetRunModel(ctx context.Context, runID string) (fl.ParameterVector, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-run-model").Add(1)
		mm.latency.With("method", "get-run-model").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRunModel(ctx, runID)
}

func (mm *metricsMiddleware) GetRunMetrics(ctx context.Context, runID string, offset, limit uint64) (aggregator.MetricsPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-run-metrics").Add(1)
		mm.latency.With("method", "get-run-metrics").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRunMetrics(ctx, runID, offset, limit)
}

func (mm *metricsMiddleware) ListParticipants(ctx context.Context, offset, limit uint64) (aggregator.ParticipantPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-participants").Add(1)
		mm.latency.With("method", "list-participants").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListParticipants(ctx, offset, limit)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "subscribe").Add(1)
		mm.latency.With("method", "subscribe").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Subscribe(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "shutdown").Add(1)
		mm.latency.With("method", "shutdown").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Shutdown(ctx)
}
