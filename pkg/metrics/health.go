package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the overall health state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DefaultDegradedRatio is the unsafe-link or failed-path share above which
// the service reports degraded.
const DefaultDegradedRatio = 0.5

// HealthCheck runs named checks and reads a collector to judge service
// health.
type HealthCheck struct {
	mu            sync.RWMutex
	checks        map[string]CheckFunc
	collector     *Collector
	startTime     time.Time
	version       string
	degradedRatio float64
}

// CheckFunc returns nil when healthy.
type CheckFunc func() error

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Metrics   *HealthMetrics         `json:"metrics,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthMetrics summarizes the collector.
type HealthMetrics struct {
	PathsDelivered uint64  `json:"paths_delivered"`
	PathsFailed    uint64  `json:"paths_failed"`
	LinksActive    int64   `json:"links_active"`
	LinksUnsafe    uint64  `json:"links_unsafe"`
	UnsafeRatio    float64 `json:"unsafe_ratio"`
	FailureRatio   float64 `json:"failure_ratio"`
	MeanErrorRate  float64 `json:"mean_error_rate"`
}

// NewHealthCheck creates a health check over collector, which may be nil.
func NewHealthCheck(collector *Collector, version string) *HealthCheck {
	return &HealthCheck{
		checks:        make(map[string]CheckFunc),
		collector:     collector,
		startTime:     time.Now(),
		version:       version,
		degradedRatio: DefaultDegradedRatio,
	}
}

// SetDegradedRatio changes the ratio above which the status is degraded.
func (h *HealthCheck) SetDegradedRatio(r float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degradedRatio = r
}

// AddCheck registers a named check, replacing any with the same name.
func (h *HealthCheck) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RemoveCheck removes a named check.
func (h *HealthCheck) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
}

// Check runs every check. A failing check makes the status unhealthy; an
// unsafe-link or failed-path ratio above the degraded ratio makes it
// degraded.
func (h *HealthCheck) Check() HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		names = append(names, k)
		checks[k] = v
	}
	ratio := h.degradedRatio
	h.mu.RUnlock()
	sort.Strings(names)

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    formatDuration(time.Since(h.startTime)),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(names)),
	}

	unhealthy, degraded := false, false
	for _, name := range names {
		start := time.Now()
		err := checks[name]()
		res := CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
		if err != nil {
			res.Status = HealthStatusUnhealthy
			res.Message = err.Error()
			unhealthy = true
		}
		resp.Checks[name] = res
	}

	if h.collector != nil {
		snap := h.collector.Snapshot()
		resp.Metrics = &HealthMetrics{
			PathsDelivered: snap.PathsDelivered,
			PathsFailed:    snap.PathsFailed,
			LinksActive:    snap.LinksActive,
			LinksUnsafe:    snap.LinksUnsafe,
			UnsafeRatio:    snap.UnsafeRatio(),
			FailureRatio:   snap.FailureRatio(),
			MeanErrorRate:  snap.ErrorRate.Mean,
		}
		if resp.Metrics.UnsafeRatio > ratio || resp.Metrics.FailureRatio > ratio {
			degraded = true
		}
	}

	switch {
	case unhealthy:
		resp.Status = HealthStatusUnhealthy
	case degraded:
		resp.Status = HealthStatusDegraded
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Handler serves the full health report. Degraded still answers 200.
func (h *HealthCheck) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := h.Check()
		status := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthCheck) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
}

// ReadinessHandler answers 503 while any check fails.
func (h *HealthCheck) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := h.Check()
		ready := resp.Status != HealthStatusUnhealthy
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{"status": resp.Status, "ready": ready})
	})
}

// formatDuration renders d as e.g. "1d2h3m", "4h5m6s" or "7s".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	h := int(d/time.Hour) % 24
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh%dm", days, h, m)
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Server serves /metrics, /health, /healthz and /readyz.
type Server struct {
	mux      *http.ServeMux
	health   *HealthCheck
	exporter *PrometheusExporter
	logger   *Logger
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Collector        *Collector
	Logger           *Logger
	Version          string
	Namespace        string
	EnablePrometheus bool
	EnableHealth     bool
}

// NewServer creates an observability server. A nil collector gets a fresh
// one; an empty namespace becomes "qkdnet".
func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = NewCollector(nil)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "qkdnet"
	}
	if cfg.Logger == nil {
		cfg.Logger = NullLogger()
	}

	s := &Server{mux: http.NewServeMux(), logger: cfg.Logger.Named("http")}
	if cfg.EnablePrometheus {
		s.exporter = NewPrometheusExporter(cfg.Collector, cfg.Namespace)
		s.mux.Handle("/metrics", s.exporter.Handler())
	}
	if cfg.EnableHealth {
		s.health = NewHealthCheck(cfg.Collector, cfg.Version)
		s.mux.Handle("/health", s.health.Handler())
		s.mux.Handle("/healthz", s.health.LivenessHandler())
		s.mux.Handle("/readyz", s.health.ReadinessHandler())
	}
	return s
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Health returns the health check, nil when disabled.
func (s *Server) Health() *HealthCheck {
	return s.health
}

// AddHealthCheck registers a check when health is enabled.
func (s *Server) AddHealthCheck(name string, check CheckFunc) {
	if s.health != nil {
		s.health.AddCheck(name, check)
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := newHTTPServer(ln.Addr().String(), s.mux)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("serving", Fields{"addr": ln.Addr().String()})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
