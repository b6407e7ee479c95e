package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters and histograms from path runs and link
// exchanges. It is safe for concurrent use.
type Collector struct {
	// Path metrics
	pathsStarted   atomic.Uint64
	pathsDelivered atomic.Uint64
	pathsFailed    atomic.Uint64
	pathLatency    *Histogram

	// Link metrics
	linksActive      atomic.Int64
	linksStarted     atomic.Uint64
	linksEstablished atomic.Uint64
	linksFailed      atomic.Uint64
	linksUnsafe      atomic.Uint64
	exchangeLatency  *Histogram
	errorRate        *Histogram

	// Quantum and classical traffic
	qubitsSent     atomic.Uint64
	qubitsReceived atomic.Uint64
	siftedBits     atomic.Uint64
	framesSent     atomic.Uint64
	payloadBytes   atomic.Uint64

	// Failures
	timeouts         atomic.Uint64
	lengthMismatches atomic.Uint64
	protocolErrors   atomic.Uint64
	cipherErrors     atomic.Uint64

	mu        sync.Mutex
	createdAt time.Time

	labels Labels
}

// Labels are constant key-value pairs attached to every exported metric.
type Labels map[string]string

// Histogram bucket layouts.
var (
	// ExchangeLatencyBuckets covers one link exchange, in milliseconds.
	ExchangeLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	// PathLatencyBuckets covers a whole path run, in milliseconds.
	PathLatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000}

	// ErrorRateBuckets covers estimated error rates, in percent.
	ErrorRateBuckets = []float64{0, 1, 2.5, 5, 10, 15, 25, 50, 100}
)

// NewCollector creates a collector with the given constant labels.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}
	return &Collector{
		pathLatency:     NewHistogram(PathLatencyBuckets),
		exchangeLatency: NewHistogram(ExchangeLatencyBuckets),
		errorRate:       NewHistogram(ErrorRateBuckets),
		createdAt:       time.Now(),
		labels:          labels,
	}
}

// PathStarted counts a path run.
func (c *Collector) PathStarted() {
	c.pathsStarted.Add(1)
}

// PathFinished records the outcome and duration of a path run.
func (c *Collector) PathFinished(delivered bool, d time.Duration) {
	if delivered {
		c.pathsDelivered.Add(1)
	} else {
		c.pathsFailed.Add(1)
	}
	c.pathLatency.Observe(float64(d.Milliseconds()))
}

// LinkStarted counts a link exchange and marks it active.
func (c *Collector) LinkStarted() {
	c.linksStarted.Add(1)
	c.linksActive.Add(1)
}

// LinkFinished records the end of a link exchange.
func (c *Collector) LinkFinished(established bool, d time.Duration) {
	c.linksActive.Add(-1)
	if established {
		c.linksEstablished.Add(1)
	} else {
		c.linksFailed.Add(1)
	}
	c.exchangeLatency.Observe(float64(d.Milliseconds()))
}

// RecordErrorRate records an estimated error rate and its verdict.
func (c *Collector) RecordErrorRate(rate float64, safe bool) {
	c.errorRate.Observe(rate)
	if !safe {
		c.linksUnsafe.Add(1)
	}
}

// RecordQubitsSent adds to the qubits sent counter.
func (c *Collector) RecordQubitsSent(n int) {
	c.qubitsSent.Add(uint64(n))
}

// RecordQubitsReceived adds to the qubits received counter.
func (c *Collector) RecordQubitsReceived(n int) {
	c.qubitsReceived.Add(uint64(n))
}

// RecordSiftedBits adds to the sifted key bit counter.
func (c *Collector) RecordSiftedBits(n int) {
	c.siftedBits.Add(uint64(n))
}

// RecordFrameSent counts one classical frame.
func (c *Collector) RecordFrameSent() {
	c.framesSent.Add(1)
}

// RecordPayload adds to the delivered payload byte counter.
func (c *Collector) RecordPayload(n int) {
	c.payloadBytes.Add(uint64(n))
}

// RecordTimeout counts a channel wait that expired.
func (c *Collector) RecordTimeout() {
	c.timeouts.Add(1)
}

// RecordLengthMismatch counts a length mismatch between peers.
func (c *Collector) RecordLengthMismatch() {
	c.lengthMismatches.Add(1)
}

// RecordProtocolError counts any other link failure.
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Add(1)
}

// RecordCipherError counts an encrypt or recompose failure.
func (c *Collector) RecordCipherError() {
	c.cipherErrors.Add(1)
}

// Snapshot is a point-in-time copy of a collector.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	PathsStarted   uint64
	PathsDelivered uint64
	PathsFailed    uint64

	LinksActive      int64
	LinksStarted     uint64
	LinksEstablished uint64
	LinksFailed      uint64
	LinksUnsafe      uint64

	QubitsSent     uint64
	QubitsReceived uint64
	SiftedBits     uint64
	FramesSent     uint64
	PayloadBytes   uint64

	Timeouts         uint64
	LengthMismatches uint64
	ProtocolErrors   uint64
	CipherErrors     uint64

	PathLatency     HistogramSummary
	ExchangeLatency HistogramSummary
	ErrorRate       HistogramSummary

	Labels Labels
}

// UnsafeRatio is the share of evaluated links judged unsafe.
func (s Snapshot) UnsafeRatio() float64 {
	if s.ErrorRate.Count == 0 {
		return 0
	}
	return float64(s.LinksUnsafe) / float64(s.ErrorRate.Count)
}

// FailureRatio is the share of finished paths that did not deliver.
func (s Snapshot) FailureRatio() float64 {
	done := s.PathsDelivered + s.PathsFailed
	if done == 0 {
		return 0
	}
	return float64(s.PathsFailed) / float64(done)
}

// Snapshot returns the current values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	created := c.createdAt
	c.mu.Unlock()

	now := time.Now()
	return Snapshot{
		Timestamp:        now,
		Uptime:           now.Sub(created),
		PathsStarted:     c.pathsStarted.Load(),
		PathsDelivered:   c.pathsDelivered.Load(),
		PathsFailed:      c.pathsFailed.Load(),
		LinksActive:      c.linksActive.Load(),
		LinksStarted:     c.linksStarted.Load(),
		LinksEstablished: c.linksEstablished.Load(),
		LinksFailed:      c.linksFailed.Load(),
		LinksUnsafe:      c.linksUnsafe.Load(),
		QubitsSent:       c.qubitsSent.Load(),
		QubitsReceived:   c.qubitsReceived.Load(),
		SiftedBits:       c.siftedBits.Load(),
		FramesSent:       c.framesSent.Load(),
		PayloadBytes:     c.payloadBytes.Load(),
		Timeouts:         c.timeouts.Load(),
		LengthMismatches: c.lengthMismatches.Load(),
		ProtocolErrors:   c.protocolErrors.Load(),
		CipherErrors:     c.cipherErrors.Load(),
		PathLatency:      c.pathLatency.Summary(),
		ExchangeLatency:  c.exchangeLatency.Summary(),
		ErrorRate:        c.errorRate.Summary(),
		Labels:           c.labels,
	}
}

// Reset zeroes every metric. Intended for tests.
func (c *Collector) Reset() {
	for _, v := range []*atomic.Uint64{
		&c.pathsStarted, &c.pathsDelivered, &c.pathsFailed,
		&c.linksStarted, &c.linksEstablished, &c.linksFailed, &c.linksUnsafe,
		&c.qubitsSent, &c.qubitsReceived, &c.siftedBits, &c.framesSent, &c.payloadBytes,
		&c.timeouts, &c.lengthMismatches, &c.protocolErrors, &c.cipherErrors,
	} {
		v.Store(0)
	}
	c.linksActive.Store(0)
	c.pathLatency.Reset()
	c.exchangeLatency.Reset()
	c.errorRate.Reset()

	c.mu.Lock()
	c.createdAt = time.Now()
	c.mu.Unlock()
}
