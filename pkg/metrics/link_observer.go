package metrics

import (
	"context"
	"errors"
	"time"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// LinkObserver records metrics, spans and log lines for one link
// exchange. It satisfies link.Observer.
type LinkObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	attrs     LinkAttributes
}

// LinkObserverConfig configures a LinkObserver. Nil fields fall back to a
// private collector, NoOpTracer and NullLogger.
type LinkObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	Link      LinkAttributes
}

// NewLinkObserver creates an observer for one exchange.
func NewLinkObserver(cfg LinkObserverConfig) *LinkObserver {
	if cfg.Collector == nil {
		cfg.Collector = NewCollector(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = NoOpTracer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NullLogger()
	}
	return &LinkObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger: cfg.Logger.Named("observer").With(Fields{
			"session": cfg.Link.SessionID,
			"local":   cfg.Link.Local,
			"peer":    cfg.Link.Peer,
			"hop":     cfg.Link.Hop,
		}),
		attrs: cfg.Link,
	}
}

// OnExchangeStart opens the link span and starts the latency clock.
func (o *LinkObserver) OnExchangeStart(ctx context.Context) (context.Context, func(error)) {
	name, kind := SpanLinkInitiator, SpanKindClient
	if o.attrs.Role == "responder" {
		name, kind = SpanLinkResponder, SpanKindServer
	}

	start := time.Now()
	o.collector.LinkStarted()
	ctx, endSpan := o.tracer.StartSpan(ctx, name, WithSpanKind(kind), WithAttributes(o.attrs.ToMap()))

	return ctx, func(err error) {
		d := time.Since(start)
		o.collector.LinkFinished(err == nil, d)
		if err != nil {
			o.logger.Debug("exchange ended", Fields{"error": err, "duration": d.String()})
		}
		endSpan(err)
	}
}

// OnQubitsSent records transmitted qubits.
func (o *LinkObserver) OnQubitsSent(n int) {
	o.collector.RecordQubitsSent(n)
}

// OnQubitsReceived records measured qubits.
func (o *LinkObserver) OnQubitsReceived(n int) {
	o.collector.RecordQubitsReceived(n)
}

// OnFrameSent records one classical frame.
func (o *LinkObserver) OnFrameSent() {
	o.collector.RecordFrameSent()
}

// OnKeySifted records the sifted key length.
func (o *LinkObserver) OnKeySifted(bits int) {
	o.collector.RecordSiftedBits(bits)
}

// OnErrorRate records the estimate and warns on an unsafe verdict.
func (o *LinkObserver) OnErrorRate(rate float64, safe bool) {
	o.collector.RecordErrorRate(rate, safe)
	if !safe {
		o.logger.Warn("error rate at or above threshold", Fields{"error_rate": rate})
	}
}

// OnChannelTimeout records an expired channel wait.
func (o *LinkObserver) OnChannelTimeout(err error) {
	o.collector.RecordTimeout()
	o.logger.Warn("channel timeout", Fields{"error": err})
}

// OnProtocolError records any other failure, splitting out length
// mismatches.
func (o *LinkObserver) OnProtocolError(err error) {
	if errors.Is(err, qerrors.ErrLengthMismatch) {
		o.collector.RecordLengthMismatch()
	} else {
		o.collector.RecordProtocolError()
	}
	o.logger.Warn("link failed", Fields{"error": err, "kind": FailureKind(err)})
}

// FailureKind names the concern a link or path failure belongs to, for
// log fields and span attributes. Nil is "none".
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, qerrors.ErrEavesdropperDetected):
		return "eavesdropper"
	case errors.Is(err, qerrors.ErrChannelTimeout):
		return "timeout"
	case errors.Is(err, qerrors.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, qerrors.ErrPeerAborted), errors.Is(err, qerrors.ErrAborted):
		return "aborted"
	case errors.Is(err, qerrors.ErrEmptyKey), errors.Is(err, qerrors.ErrInsufficientKey):
		return "key"
	case errors.Is(err, qerrors.ErrTopology):
		return "topology"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "protocol"
	}
}

// PathObserver records metrics and the root span of one path run.
type PathObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
}

// NewPathObserver creates a path observer. Nil arguments fall back as in
// NewLinkObserver.
func NewPathObserver(c *Collector, t Tracer, l *Logger) *PathObserver {
	if c == nil {
		c = NewCollector(nil)
	}
	if t == nil {
		t = NoOpTracer{}
	}
	if l == nil {
		l = NullLogger()
	}
	return &PathObserver{collector: c, tracer: t, logger: l}
}

// Collector returns the collector the observer records into.
func (o *PathObserver) Collector() *Collector {
	return o.collector
}

// Tracer returns the observer's tracer.
func (o *PathObserver) Tracer() Tracer {
	return o.tracer
}

// OnPathStart opens the path span. The returned function takes the number
// of delivered bytes, zero when nothing arrived.
func (o *PathObserver) OnPathStart(ctx context.Context, runID, path string) (context.Context, func(delivered int, err error)) {
	start := time.Now()
	o.collector.PathStarted()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanPath, WithAttributes(map[string]interface{}{
		"qkd.run_id": runID,
		"qkd.path":   path,
	}))
	return ctx, func(delivered int, err error) {
		o.collector.PathFinished(err == nil, time.Since(start))
		if err == nil {
			o.collector.RecordPayload(delivered)
		}
		endSpan(err)
	}
}

// OnCipher wraps an encrypt, decrypt or recompose step in a span and counts
// its failure.
func (o *PathObserver) OnCipher(ctx context.Context, span string, fn func() error) error {
	_, end := o.tracer.StartSpan(ctx, span)
	err := fn()
	if err != nil {
		o.collector.RecordCipherError()
	}
	end(err)
	return err
}

// NewLinkObserver builds a LinkObserver sharing this path's collector,
// tracer and logger.
func (o *PathObserver) NewLinkObserver(attrs LinkAttributes) *LinkObserver {
	return NewLinkObserver(LinkObserverConfig{
		Collector: o.collector,
		Tracer:    o.tracer,
		Logger:    o.logger,
		Link:      attrs,
	})
}
