// Package telemetry sets up OpenTelemetry tracing for the relays.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the tracer used by the bridge.
const InstrumentationName = "github.com/Sentinel-Gate/sentinel-bridge"

// OutputStderr writes spans to stderr. Any other output is a file path.
const OutputStderr = "stderr"

// Tracing owns the tracer provider and its exporter destination.
type Tracing struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
	closer   io.Closer
}

// Disabled returns tracing backed by a no-op provider.
func Disabled() *Tracing {
	return &Tracing{provider: noop.NewTracerProvider()}
}

// New creates tracing that exports spans as JSON lines to output.
// Spans are never written to stdout, which carries the protocol stream.
func New(output, version string) (*Tracing, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch output {
	case "", OutputStderr:
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		w, closer = f, f
	}

	t, err := newWithWriter(w, version, false)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	t.closer = closer
	return t, nil
}

// NewWithWriter creates tracing that exports synchronously to w.
func NewWithWriter(w io.Writer, version string) (*Tracing, error) {
	return newWithWriter(w, version, true)
}

func newWithWriter(w io.Writer, version string, sync bool) (*Tracing, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "sentinel-bridge"),
		attribute.String("service.version", version),
	)

	export := sdktrace.WithBatcher(exp)
	if sync {
		export = sdktrace.WithSyncer(exp)
	}
	tp := sdktrace.NewTracerProvider(export, sdktrace.WithResource(res))
	return &Tracing{provider: tp, shutdown: tp.Shutdown}, nil
}

// Tracer returns the bridge tracer.
func (t *Tracing) Tracer() trace.Tracer {
	return t.provider.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans and releases the output.
func (t *Tracing) Shutdown(ctx context.Context) error {
	var errs []error
	if t.shutdown != nil {
		if err := t.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
