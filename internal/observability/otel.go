// Package observability wires OpenTelemetry tracing for the binaries.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/dharsanguruparan/LabelDrop/internal/logger"
)

// TracerName is the instrumentation scope of pipeline spans.
const TracerName = "github.com/dharsanguruparan/LabelDrop"

// Tracer returns the pipeline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Init installs a tracer provider for mode ("off" or "stdout") and returns its
// shutdown function. With "off" the global no-op provider stays in place.
func Init(ctx context.Context, log *logger.Logger, service, mode string) (func(context.Context) error, error) {
	return initWith(ctx, log, service, mode, os.Stdout)
}

func initWith(ctx context.Context, log *logger.Logger, service, mode string, w io.Writer) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "off", "none":
		return noop, nil
	case "stdout":
	default:
		return noop, fmt.Errorf("unknown tracing mode %q", mode)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", service),
		attribute.String("service.component", service),
	))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return noop, fmt.Errorf("stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("otel tracing initialized", "service", service, "exporter", "stdout")
	return tp.Shutdown, nil
}
