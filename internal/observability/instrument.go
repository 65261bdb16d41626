package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

var provider *sdklog.LoggerProvider

// Instrument installs the default slog.Logger. Records flow through a
// trace-context handler (adds trace_id/span_id when a W3C trace context is
// present), an otelslog bridge, a minsev severity gate that drops anything
// below level before it reaches the exporter, and a stdout exporter. It also
// installs the W3C trace-context propagator as the global text-map
// propagator, which middleware.TraceContextExtraction reads headers with.
func Instrument(level slog.Level, logFormat string) error {
	exporter, err := newLogExporter(logFormat)
	if err != nil {
		return err
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	sev := &minsev.SeverityVar{}
	sev.Set(severityFor(level))

	provider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), sev)),
	)

	handler := newTraceContextHandler(otelslog.NewHandler("messagebridge", otelslog.WithLoggerProvider(provider)))
	slog.SetDefault(slog.New(handler))

	return nil
}

// Shutdown flushes and releases the LoggerProvider installed by Instrument.
// A no-op if Instrument was never called.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

func newLogExporter(logFormat string) (sdklog.Exporter, error) {
	switch strings.ToLower(logFormat) {
	case "json":
		return stdoutlog.New()
	case "text":
		return stdoutlog.New(stdoutlog.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}
}

func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
