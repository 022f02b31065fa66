// Package telemetry provides the tracing plumbing shared by the pool and
// heap packages.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/internal/build"
)

// Tracer returns the tracer all loom spans are recorded against. Unless a
// global tracer provider has been installed by the host application this is
// a noop tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(build.ProjectName)
}

// TraceError marks span with err and records it.
func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
