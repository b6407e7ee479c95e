package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sara-star-quant/qkdnet/pkg/config"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

func newPathsCommand() *cobra.Command {
	var sf scenarioFlags
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "List every path from sender to receiver and the minimum-hop set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sf.load(cmd.Flags())
			if err != nil {
				return err
			}
			g, err := s.Graph()
			if err != nil {
				return err
			}
			res, err := topology.Resolve(g)
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout(), true)
			r.paths(res)
			r.line("primary", res.Primary().String())
			r.line("relay path", g.RelayPath(res.Primary()).String())
			if alt, ok := res.Alternate(); ok {
				r.line("alternate", alt.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sf.file, "scenario", "s", "", "scenario file (.yaml, .yml or .toml); built-in example when empty")
	return cmd
}

func newExampleCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "example",
		Short: "Print the built-in example scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.ParseFormat(format)
			if err != nil {
				return err
			}
			out, err := config.Marshal(config.Example(), f)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or toml")
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		sf       scenarioFlags
		of       obsFlags
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scenario repeatedly and serve metrics and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			s, err := sf.load(cmd.Flags())
			if err != nil {
				return err
			}
			obs, err := setupObservability(cmd.ErrOrStderr(), of.logLevel, of.logFormat, of.tracing, metrics.Labels{"command": "serve"})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := metrics.NewServer(metrics.ServerConfig{
				Collector:        obs.collector,
				Logger:           obs.logger,
				Version:          getVersion(),
				EnablePrometheus: true,
				EnableHealth:     true,
			})
			loop := &scenarioLoop{scenario: s, obs: obs}
			srv.AddHealthCheck("scenario", loop.healthy)

			fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics and health on %s, running every %s (Ctrl+C to stop)\n", addr, interval)
			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ctx, addr) }()
			done := make(chan struct{})
			go func() {
				loop.run(ctx, interval)
				close(done)
			}()

			select {
			case err := <-errc:
				stop()
				<-done
				return err
			case <-done:
				return <-errc
			}
		},
	}

	sf.register(cmd.Flags())
	of.register(cmd.Flags())
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "time between scenario runs")
	return cmd
}

// scenarioLoop runs a scenario on a ticker and remembers the last outcome
// for the health check.
type scenarioLoop struct {
	scenario *config.Scenario
	obs      *observability

	mu      sync.Mutex
	lastErr error
	runs    int
}

func (l *scenarioLoop) run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		l.once(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (l *scenarioLoop) once(ctx context.Context) {
	_, err := runScenario(ctx, l.scenario, l.obs)
	if errors.Is(err, context.Canceled) {
		return
	}
	l.mu.Lock()
	l.lastErr = err
	l.runs++
	n := l.runs
	l.mu.Unlock()

	if err != nil {
		l.obs.logger.Warn("scenario run failed", metrics.Fields{"run": n, "error": err.Error()})
		return
	}
	l.obs.logger.Info("scenario run delivered", metrics.Fields{"run": n})
}

func (l *scenarioLoop) healthy() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
