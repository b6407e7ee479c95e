package metrics

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracer starts spans. Backends plug in behind it: NoOpTracer,
// SimpleTracer for tests, OTelTracer for OpenTelemetry.
type Tracer interface {
	// StartSpan returns a context carrying the span and the function that
	// ends it.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder ends a span. A non-nil error marks the span failed.
type SpanEnder func(err error)

// SpanOption configures a span.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]interface{}
}

func newSpanConfig(opts []SpanOption) *spanConfig {
	cfg := &spanConfig{kind: SpanKindInternal, attributes: map[string]interface{}{}}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// SpanKind identifies the role of a span.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithAttributes merges attributes into the span.
func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(c *spanConfig) {
		maps.Copy(c.attributes, attrs)
	}
}

// NoOpTracer records nothing.
type NoOpTracer struct{}

// StartSpan returns ctx unchanged.
func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// SimpleTracer keeps finished spans in memory.
type SimpleTracer struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// RecordedSpan is a finished span.
type RecordedSpan struct {
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Kind       SpanKind
	Attributes map[string]interface{}
	Error      error
	TraceID    string
	SpanID     string
	ParentID   string
}

// NewSimpleTracer creates an empty in-memory tracer.
func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{}
}

// StartSpan starts a span. A span already in ctx becomes its parent.
func (t *SimpleTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)
	span := &RecordedSpan{
		Name:       name,
		StartTime:  time.Now(),
		Kind:       cfg.kind,
		Attributes: cfg.attributes,
		TraceID:    uuid.NewString(),
		SpanID:     uuid.NewString(),
	}
	if parent := spanFromContext(ctx); parent != nil {
		span.ParentID = parent.SpanID
		span.TraceID = parent.TraceID
	}

	var once sync.Once
	return contextWithSpan(ctx, span), func(err error) {
		once.Do(func() {
			span.EndTime = time.Now()
			span.Duration = span.EndTime.Sub(span.StartTime)
			span.Error = err

			t.mu.Lock()
			t.spans = append(t.spans, *span)
			t.mu.Unlock()
		})
	}
}

// Spans returns the finished spans in end order.
func (t *SimpleTracer) Spans() []RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RecordedSpan(nil), t.spans...)
}

// Find returns the finished spans with the given name.
func (t *SimpleTracer) Find(name string) []RecordedSpan {
	var out []RecordedSpan
	for _, s := range t.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Reset drops all finished spans.
func (t *SimpleTracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = nil
}

type spanContextKey struct{}

func contextWithSpan(ctx context.Context, span *RecordedSpan) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

func spanFromContext(ctx context.Context) *RecordedSpan {
	span, _ := ctx.Value(spanContextKey{}).(*RecordedSpan)
	return span
}

// Span names.
const (
	SpanPath          = "qkd.path"
	SpanLinkInitiator = "qkd.link.initiator"
	SpanLinkResponder = "qkd.link.responder"
	SpanEncrypt       = "qkd.encrypt"
	SpanDecrypt       = "qkd.decrypt"
	SpanRelay         = "qkd.relay"
)

// LinkAttributes are the span attributes of one link exchange.
type LinkAttributes struct {
	SessionID string
	Local     string
	Peer      string
	Role      string
	Protocol  string
	Hop       int
}

// ToMap converts the attributes for WithAttributes, skipping empty fields.
// Hop is always present; -1 marks an exchange outside a path run.
func (a LinkAttributes) ToMap() map[string]interface{} {
	m := map[string]interface{}{"qkd.hop": a.Hop}
	for k, v := range map[string]string{
		"qkd.session_id": a.SessionID,
		"qkd.local":      a.Local,
		"qkd.peer":       a.Peer,
		"qkd.role":       a.Role,
		"qkd.protocol":   a.Protocol,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}
