package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("hop 1: %w", qerrors.ErrEavesdropperDetected), "eavesdropper"},
		{&qerrors.ChannelTimeoutError{Channel: "quantum", From: "A", To: "B", Timeout: time.Second}, "timeout"},
		{&qerrors.LengthMismatchError{Field: "mask", Want: 4, Got: 3}, "length_mismatch"},
		{qerrors.ErrPeerAborted, "aborted"},
		{fmt.Errorf("%w: %w", qerrors.ErrAborted, context.Canceled), "aborted"},
		{qerrors.NewCryptoError("Encrypt", qerrors.ErrEmptyKey), "key"},
		{qerrors.NewTopologyError("no sender"), "topology"},
		{context.DeadlineExceeded, "cancelled"},
		{errors.New("something else"), "protocol"},
	}
	for _, tt := range tests {
		if got := FailureKind(tt.err); got != tt.want {
			t.Errorf("FailureKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLinkObserverRecords(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(nil)
	tracer := NewSimpleTracer()
	o := NewLinkObserver(LinkObserverConfig{
		Collector: c,
		Tracer:    tracer,
		Logger:    NewLogger(WithOutput(&buf), WithLevel(LevelDebug)),
		Link:      LinkAttributes{SessionID: "s1", Local: "A", Peer: "B", Role: "responder", Protocol: "BB84", Hop: 1},
	})

	_, end := o.OnExchangeStart(context.Background())
	o.OnQubitsReceived(180)
	o.OnFrameSent()
	o.OnKeySifted(13)
	o.OnErrorRate(46.15, false)
	end(nil)

	snap := c.Snapshot()
	if snap.LinksStarted != 1 || snap.LinksEstablished != 1 {
		t.Errorf("links started=%d established=%d", snap.LinksStarted, snap.LinksEstablished)
	}
	if snap.QubitsReceived != 180 || snap.SiftedBits != 13 || snap.FramesSent != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.LinksUnsafe != 1 {
		t.Errorf("LinksUnsafe = %d", snap.LinksUnsafe)
	}

	spans := tracer.Spans()
	if len(spans) != 1 || spans[0].Name != SpanLinkResponder || spans[0].Kind != SpanKindServer {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].Attributes["qkd.peer"] != "B" || spans[0].Attributes["qkd.hop"] != 1 {
		t.Errorf("attributes = %v", spans[0].Attributes)
	}
	if !strings.Contains(buf.String(), "error rate at or above threshold") {
		t.Errorf("missing unsafe warning in %q", buf.String())
	}
}

func TestLinkObserverFailures(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(nil)
	o := NewLinkObserver(LinkObserverConfig{
		Collector: c,
		Logger:    NewLogger(WithOutput(&buf), WithLevel(LevelWarn)),
	})

	_, end := o.OnExchangeStart(context.Background())
	o.OnChannelTimeout(&qerrors.ChannelTimeoutError{Channel: "classical", From: "B", To: "A", Timeout: time.Second})
	o.OnProtocolError(fmt.Errorf("reconcile: %w", &qerrors.LengthMismatchError{Field: "bases", Want: 180, Got: 90}))
	o.OnProtocolError(qerrors.ErrPeerAborted)
	end(qerrors.ErrPeerAborted)

	snap := c.Snapshot()
	if snap.LinksFailed != 1 || snap.Timeouts != 1 || snap.LengthMismatches != 1 || snap.ProtocolErrors != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if !strings.Contains(buf.String(), "kind=length_mismatch") || !strings.Contains(buf.String(), "kind=aborted") {
		t.Errorf("failure kinds missing from %q", buf.String())
	}
}

func TestPathObserverCipherSpan(t *testing.T) {
	c := NewCollector(nil)
	tracer := NewSimpleTracer()
	p := NewPathObserver(c, tracer, nil)

	ctx, end := p.OnPathStart(context.Background(), "run-1", "A -> B")
	boom := qerrors.NewCryptoError("Recompose", qerrors.ErrEmptyKey)
	if err := p.OnCipher(ctx, SpanRelay, func() error { return boom }); !errors.Is(err, qerrors.ErrEmptyKey) {
		t.Fatalf("OnCipher = %v", err)
	}
	end(0, boom)

	snap := c.Snapshot()
	if snap.CipherErrors != 1 || snap.PathsFailed != 1 || snap.PayloadBytes != 0 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	spans := tracer.Spans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].Name != SpanRelay || spans[0].ParentID != spans[1].SpanID {
		t.Errorf("relay span should be a child of the path span: %+v", spans)
	}
}
