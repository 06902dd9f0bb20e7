package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amlnet/federator/aggregator"
	"github.com/amlnet/federator/pkg/fl"
)

var _ aggregator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    aggregator.Service
}

func Tracing(tracer trace.Tracer, svc aggregator.Service) aggregator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateRun(ctx context.Context, run aggregator.Run) (aggregator.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "create-run", trace.WithAttributes(
		attribute.String("name", run.Name),
	))
	defer span.End()

	return tm.svc.CreateRun(ctx, run)
}

func (tm *tracing) GetRun(ctx context.Context, runID string) (aggregator.Run, error) {
	ctx, span := tm.tracer.Start(ctx, "get-run", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.GetRun(ctx, runID)
}

func (tm *tracing) ListRuns(ctx context.Context, offset, limit uint64) (aggregator.RunPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-runs", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRuns(ctx, offset, limit)
}

func (tm *tracing) DeleteRun(ctx context.Context, runID string) error {
	ctx, span := tm.tracer.Start(ctx, "delete-run", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.DeleteRun(ctx, runID)
}

func (tm *tracing) StartRun(ctx context.Context, runID string) error {
	ctx, span := tm.tracer.Start(ctx, "start-run", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.StartRun(ctx, runID)
}

func (tm *tracing) StopRun(ctx context.Context, runID string) error {
	ctx, span := tm.tracer.Start(ctx, "stop-run", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.StopRun(ctx, runID)
}

func (tm *tracing) GetRunModel(ctx context.Context, runID string) (fl.ParameterVector, error) {
	ctx, span := tm.tracer.Start(ctx, "get-run-model", trace.WithAttributes(
		attribute.String("id", runID),
	))
	defer span.End()

	return tm.svc.GetRunModel(ctx, runID)
}

func (tm *tracing) GetRunMetrics(ctx context.Context, runID string, offset, limit uint64) (aggregator.MetricsPage, error) {
	ctx, span := tm.tracer.Start(ctx, "get-run-metrics", trace.WithAttributes(
		attribute.String("id", runID),
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.GetRunMetrics(ctx, runID, offset, limit)
}

func (tm *tracing) ListParticipants(ctx context.Context, offset, limit uint64) (aggregator.ParticipantPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-participants", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListParticipants(ctx, offset, limit)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "subscribe")
	defer span.End()

	return tm.svc.Subscribe(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer span.End()

	return tm.svc.Shutdown(ctx)
}
