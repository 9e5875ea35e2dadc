package core

import (
	"context"
	"time"
)

// Operation names reported to metrics and tracing.
const (
	OpCommit     = "commit"
	OpUndo       = "undo"
	OpRedo       = "redo"
	OpLoad       = "load"
	OpRevalidate = "revalidate"
	OpPersist    = "persist"
	OpCopy       = "copy"
	OpImport     = "import"
	OpExport     = "export"
)

// MetricsRecorder receives the outcome of engine operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around engine operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan ends a span with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// instrument wraps fn with a span and a metrics observation.
func instrument(ctx context.Context, tracer Tracer, metrics MetricsRecorder, operation string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := tracer.Start(ctx, operation)
	err := fn(ctx)
	span.End(err)
	metrics.Observe(ctx, operation, err == nil, time.Since(started))
	return err
}
