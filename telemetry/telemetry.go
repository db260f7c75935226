// Package telemetry defines the logging, metrics, and tracing interfaces
// consumed by every component of the agent execution runtime (C1-C6). Noop
// implementations are provided for tests and for callers that have not
// configured observability; a production implementation backs onto
// goa.design/clue/log and go.opentelemetry.io/otel.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages keyed by alternating key/value
	// pairs, mirroring the calling convention of goa.design/clue/log.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges for runtime operations
	// (step durations, tool-call counts, suspension depth, etc.).
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans around completions calls, tool executions, and
	// whole-run lifecycles.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the minimal span surface the runtime requires.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
