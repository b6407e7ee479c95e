package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sara-star-quant/qkdnet/pkg/metrics"
)

type observability struct {
	logger    *metrics.Logger
	tracer    metrics.Tracer
	collector *metrics.Collector
}

func setupObservability(w io.Writer, logLevel, logFormat, tracing string, labels metrics.Labels) (*observability, error) {
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return nil, err
	}

	logger := metrics.NewLogger(
		metrics.WithOutput(w),
		metrics.WithLevel(level),
		metrics.WithFormat(metrics.ParseFormat(logFormat)),
		metrics.WithFields(metrics.Fields{"app": "qkdnet"}),
	)

	var tracer metrics.Tracer
	switch strings.ToLower(tracing) {
	case "", "none":
		tracer = metrics.NoOpTracer{}
	case "simple":
		tracer = metrics.NewSimpleTracer()
	case "otel":
		if !metrics.OTelEnabled() {
			return nil, fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		tracer = metrics.NewOTelTracer("qkdnet")
	default:
		return nil, fmt.Errorf("invalid tracing mode: %s (use none, simple, or otel)", tracing)
	}

	return &observability{
		logger:    logger,
		tracer:    tracer,
		collector: metrics.NewCollector(labels),
	}, nil
}

func parseLogLevel(level string) (metrics.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return metrics.LevelDebug, nil
	case "info":
		return metrics.LevelInfo, nil
	case "warn", "warning":
		return metrics.LevelWarn, nil
	case "error":
		return metrics.LevelError, nil
	case "silent", "off", "none":
		return metrics.LevelSilent, nil
	default:
		return metrics.LevelInfo, fmt.Errorf("invalid log level: %s (use debug, info, warn, error, or silent)", level)
	}
}
