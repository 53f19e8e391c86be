// Package logging wraps structured logging with OpenTelemetry correlation,
// kept close to the teacher's internal/logging/logger.go with the
// net/http-specific request middleware trimmed: the forward proxy never
// runs a net/http.Server for client traffic, so there is no
// http.ResponseWriter to wrap.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry integration.
// Automatically correlates logs with distributed traces for observability.
type Logger struct {
	slogger *slog.Logger
	tracer  trace.Tracer
	service string
}

// New creates a structured logger with OpenTelemetry integration.
// Configures JSON output for structured log parsing and correlation.
func New(service string) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{
		slogger: slog.New(handler),
		tracer:  otel.Tracer(service),
		service: service,
	}
}

// Debug logs a debug-level message with trace correlation.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs an informational message with trace correlation.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a warning message with trace correlation.
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs an error message, marking the active span (if any) as
// errored.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs a fatal error and terminates the process. Reserved for cache
// invariant violations and other programmer errors that spec.md §7
// classifies as fatal to the process.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	attrs = append(attrs,
		slog.String("service", l.service),
		slog.Time("timestamp", time.Now()),
	)

	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan opens a new OpenTelemetry span, used by the worker to trace
// one transaction end-to-end.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a new Logger with pre-attached attributes, leaving
// the receiver unmodified.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
		service: l.service,
	}
}
