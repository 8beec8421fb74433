// Package observability bootstraps the OpenTelemetry tracer and provides the
// span helpers the buy engine wraps its RPC-facing calls (simulate,
// broadcast, nonce acquire) with. Each call gets its own span carrying the
// candidate's attributes (mint, slot, priority, correlation ID); no other
// package starts spans.
package observability

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// SetupOTelSDK bootstraps the OpenTelemetry tracer provider with a stdout
// exporter and registers it globally. The returned shutdown func flushes
// and tears down the provider; callers defer it from main.
func SetupOTelSDK(ctx context.Context) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				log.Printf("observability: shutdown error: %v", err)
			}
		}
		shutdownFuncs = nil
		return nil
	}

	handleErr := func(inErr error) {
		err = inErr
		if err != nil {
			shutdown(ctx)
		}
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		handleErr(err)
		return
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("solsniper"),
		),
	)
	if err != nil {
		handleErr(err)
		return
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	return
}

// Tracer is the package-wide tracer handle every span helper in this file
// uses. Valid once SetupOTelSDK has registered a provider; before that it
// is the no-op global tracer otel supplies by default.
func Tracer() trace.Tracer {
	return otel.Tracer("solsniper")
}
