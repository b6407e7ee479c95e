// Package metrics provides logging, metrics, tracing and health reporting
// for qkdnet.
//
// # Logging
//
// Logger is leveled and writes text or JSON lines. Loggers derived with
// With or Named share the parent's write lock:
//
//	log := metrics.NewLogger(metrics.WithLevel(metrics.LevelDebug), metrics.WithFormat(metrics.FormatJSON))
//	log.Named("relay").Info("path delivered", metrics.Fields{"hops": 3})
//
// There is no package-level logger; components take one through an
// option and default to NullLogger.
//
// # Metrics
//
// Collector holds atomic counters and histograms for path runs and link
// exchanges:
//
//	c := metrics.NewCollector(metrics.Labels{"scenario": "demo"})
//	c.PathStarted()
//	c.RecordErrorRate(4.2, true)
//	snap := c.Snapshot()
//
// LinkObserver and PathObserver feed a Collector and a Tracer from the key
// exchange engine and the relay orchestrator.
//
// # Prometheus
//
// PrometheusExporter implements prometheus.Collector over a Collector:
//
//	exp := metrics.NewPrometheusExporter(c, "qkdnet")
//	http.Handle("/metrics", exp.Handler())
//
// # Tracing
//
// Tracer is implemented by NoOpTracer, SimpleTracer (in memory, for tests)
// and OTelTracer. OTelTracer forwards to OpenTelemetry only when built with
// the otel tag:
//
//	go build -tags otel ./...
//
// Span names are SpanPath, SpanLinkInitiator, SpanLinkResponder,
// SpanEncrypt, SpanDecrypt and SpanRelay.
//
// # Health
//
// HealthCheck reports unhealthy when a registered check fails and degraded
// when the share of unsafe links or failed paths exceeds its ratio. Server
// mounts /metrics, /health, /healthz and /readyz.
package metrics
