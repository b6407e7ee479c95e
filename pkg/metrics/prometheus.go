package metrics

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exposes a Collector as a prometheus.Collector. Values
// are read from a Snapshot on every scrape.
type PrometheusExporter struct {
	collector *Collector
	namespace string

	counters   []promCounter
	gauges     []promGauge
	histograms []promHistogram
	uptime     *prometheus.Desc
}

type promCounter struct {
	desc  *prometheus.Desc
	value func(Snapshot) uint64
}

type promGauge struct {
	desc  *prometheus.Desc
	value func(Snapshot) float64
}

type promHistogram struct {
	desc  *prometheus.Desc
	value func(Snapshot) HistogramSummary
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter creates an exporter. The namespace prefixes every
// metric name, e.g. "qkdnet".
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	e := &PrometheusExporter{collector: c, namespace: namespace}
	labels := prometheus.Labels(c.labels)

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	e.counters = []promCounter{
		{desc("paths_started_total", "Path runs started"), func(s Snapshot) uint64 { return s.PathsStarted }},
		{desc("paths_delivered_total", "Path runs that delivered the message"), func(s Snapshot) uint64 { return s.PathsDelivered }},
		{desc("paths_failed_total", "Path runs that failed"), func(s Snapshot) uint64 { return s.PathsFailed }},
		{desc("links_started_total", "Link key exchanges started, counted per link end"), func(s Snapshot) uint64 { return s.LinksStarted }},
		{desc("links_established_total", "Link key exchanges completed, counted per link end"), func(s Snapshot) uint64 { return s.LinksEstablished }},
		{desc("links_failed_total", "Link key exchanges that failed, counted per link end"), func(s Snapshot) uint64 { return s.LinksFailed }},
		{desc("links_unsafe_total", "Unsafe error rate verdicts, counted per link end"), func(s Snapshot) uint64 { return s.LinksUnsafe }},
		{desc("qubits_sent_total", "Qubits transmitted"), func(s Snapshot) uint64 { return s.QubitsSent }},
		{desc("qubits_received_total", "Qubits received and measured"), func(s Snapshot) uint64 { return s.QubitsReceived }},
		{desc("sifted_bits_total", "Sifted key bits produced"), func(s Snapshot) uint64 { return s.SiftedBits }},
		{desc("classical_frames_sent_total", "Classical frames sent during key exchange"), func(s Snapshot) uint64 { return s.FramesSent }},
		{desc("payload_bytes_total", "Message bytes delivered"), func(s Snapshot) uint64 { return s.PayloadBytes }},
		{desc("channel_timeouts_total", "Channel waits that expired"), func(s Snapshot) uint64 { return s.Timeouts }},
		{desc("length_mismatches_total", "Peer messages of the wrong length"), func(s Snapshot) uint64 { return s.LengthMismatches }},
		{desc("protocol_errors_total", "Other link failures"), func(s Snapshot) uint64 { return s.ProtocolErrors }},
		{desc("cipher_errors_total", "Encrypt or recompose failures"), func(s Snapshot) uint64 { return s.CipherErrors }},
	}
	e.gauges = []promGauge{
		{desc("links_active", "Link key exchanges in progress, counted per link end"), func(s Snapshot) float64 { return float64(s.LinksActive) }},
	}
	e.histograms = []promHistogram{
		{desc("path_duration_milliseconds", "Path run duration in milliseconds"), func(s Snapshot) HistogramSummary { return s.PathLatency }},
		{desc("exchange_duration_milliseconds", "Link key exchange duration in milliseconds"), func(s Snapshot) HistogramSummary { return s.ExchangeLatency }},
		{desc("error_rate_percent", "Estimated link error rate in percent, one sample per link end"), func(s Snapshot) HistogramSummary { return s.ErrorRate }},
	}
	e.uptime = desc("uptime_seconds", "Time since the collector was created")
	return e
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, g := range e.gauges {
		ch <- g.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.uptime
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()

	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(snap)))
	}
	for _, g := range e.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value(snap))
	}
	for _, h := range e.histograms {
		sum := h.value(snap)
		buckets := make(map[float64]uint64, len(sum.Buckets))
		for _, b := range sum.Buckets {
			if !math.IsInf(b.UpperBound, 1) {
				buckets[b.UpperBound] = b.Count
			}
		}
		ch <- prometheus.MustNewConstHistogram(h.desc, sum.Count, sum.Sum, buckets)
	}
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())
}

// Registry returns a fresh registry holding only this exporter.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return reg
}

// Handler serves the exporter in the Prometheus exposition format.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.Registry(), promhttp.HandlerOpts{})
}
