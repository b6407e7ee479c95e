package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestNoOpTracer(t *testing.T) {
	ctx := context.Background()
	got, end := NoOpTracer{}.StartSpan(ctx, SpanPath)
	if got != ctx {
		t.Error("NoOpTracer should return the same context")
	}
	end(nil)
	end(errors.New("ignored"))
}

func TestSimpleTracerRecordsSpan(t *testing.T) {
	tr := NewSimpleTracer()
	_, end := tr.StartSpan(context.Background(), SpanLinkInitiator,
		WithSpanKind(SpanKindClient),
		WithAttributes(LinkAttributes{Local: "A", Peer: "B", Hop: 0}.ToMap()))
	end(nil)

	spans := tr.Spans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name != SpanLinkInitiator || s.Kind != SpanKindClient || s.Error != nil {
		t.Errorf("span = %+v", s)
	}
	if s.Attributes["qkd.local"] != "A" || s.Attributes["qkd.peer"] != "B" || s.Attributes["qkd.hop"] != 0 {
		t.Errorf("attributes = %v", s.Attributes)
	}
	if s.EndTime.Before(s.StartTime) {
		t.Error("span ends before it starts")
	}
}

func TestSimpleTracerRecordsError(t *testing.T) {
	tr := NewSimpleTracer()
	boom := errors.New("boom")
	_, end := tr.StartSpan(context.Background(), SpanRelay)
	end(boom)
	end(nil) // second call is ignored

	spans := tr.Find(SpanRelay)
	if len(spans) != 1 || !errors.Is(spans[0].Error, boom) {
		t.Fatalf("spans = %+v", spans)
	}
}

func TestSimpleTracerParentage(t *testing.T) {
	tr := NewSimpleTracer()
	ctx, endPath := tr.StartSpan(context.Background(), SpanPath)
	_, endLink := tr.StartSpan(ctx, SpanLinkResponder)
	endLink(nil)
	endPath(nil)

	path := tr.Find(SpanPath)[0]
	link := tr.Find(SpanLinkResponder)[0]
	if link.ParentID != path.SpanID || link.TraceID != path.TraceID {
		t.Errorf("link span not parented: %+v / %+v", link, path)
	}
	if path.ParentID != "" {
		t.Errorf("root span has parent %q", path.ParentID)
	}
}

func TestSimpleTracerReset(t *testing.T) {
	tr := NewSimpleTracer()
	_, end := tr.StartSpan(context.Background(), SpanEncrypt)
	end(nil)
	tr.Reset()
	if len(tr.Spans()) != 0 {
		t.Error("Reset left spans behind")
	}
}

func TestLinkAttributesSkipEmpty(t *testing.T) {
	m := LinkAttributes{Role: "initiator", Hop: -1}.ToMap()
	if len(m) != 2 || m["qkd.role"] != "initiator" || m["qkd.hop"] != -1 {
		t.Errorf("ToMap = %v", m)
	}
}

func TestSimpleTracerConcurrent(t *testing.T) {
	tr := NewSimpleTracer()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, end := tr.StartSpan(context.Background(), SpanDecrypt)
				end(nil)
			}
		}()
	}
	wg.Wait()
	if n := len(tr.Spans()); n != 400 {
		t.Errorf("recorded %d spans, want 400", n)
	}
}
