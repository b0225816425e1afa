package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// newTracer writes sampled commit spans to cfg.TraceFile. Without a file it
// returns a no-op tracer.
func newTracer(cfg Config) (trace.Tracer, func(context.Context) error, error) {
	if cfg.TraceFile == "" {
		return noop.NewTracerProvider().Tracer("loadtest"), func(context.Context) error { return nil }, nil
	}

	f, err := os.Create(cfg.TraceFile)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.TraceSample)),
		sdktrace.WithBatcher(exporter),
	)
	shutdown := func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return tp.Tracer("loadtest"), shutdown, nil
}
