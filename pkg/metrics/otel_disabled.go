//go:build !otel

package metrics

import "context"

// OTelTracer is a no-op without the otel build tag.
type OTelTracer struct{}

// NewOTelTracer returns a no-op tracer. Build with -tags otel for the real one.
func NewOTelTracer(string) *OTelTracer {
	return &OTelTracer{}
}

// StartSpan returns a no-op span.
func (*OTelTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// OTelEnabled reports whether OpenTelemetry support is built in.
func OTelEnabled() bool {
	return false
}
