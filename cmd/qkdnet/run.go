package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sara-star-quant/qkdnet/pkg/config"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/relay"
)

// scenarioFlags are the flags that select a scenario and override its
// parameters. Only flags set on the command line override file values.
type scenarioFlags struct {
	file           string
	message        string
	keySize        int
	keyLength      int
	protocol       string
	threshold      float64
	wait           time.Duration
	spyProbability float64
	seed           string
	alternate      bool
	abort          bool
	pathTimeout    time.Duration
	noAck          bool
}

func (f *scenarioFlags) register(fs *pflag.FlagSet) {
	d := config.DefaultParams()
	fs.StringVarP(&f.file, "scenario", "s", "", "scenario file (.yaml, .yml or .toml); built-in example when empty")
	fs.StringVarP(&f.message, "message", "m", "", "message to deliver")
	fs.IntVar(&f.keySize, "key-size", d.KeySize, "raw qubits exchanged per link")
	fs.IntVar(&f.keyLength, "key-length", d.KeyLength, "sifted key cap in bits")
	fs.StringVar(&f.protocol, "protocol", d.Protocol, "key exchange protocol: bb84 or b92")
	fs.Float64Var(&f.threshold, "threshold", d.ErrorRateThreshold, "error rate percent at or above which a link is unsafe")
	fs.DurationVar(&f.wait, "wait", d.WaitTime.Std(), "bound on every channel wait, must be positive")
	fs.Float64Var(&f.spyProbability, "spy-probability", d.SpyProbability, "chance a spy flips a passing qubit")
	fs.StringVar(&f.seed, "seed", "", "seed for a reproducible run")
	fs.BoolVar(&f.alternate, "alternate", d.RunAlternate, "run a second path after the primary delivers (--alternate=false to skip)")
	fs.BoolVar(&f.abort, "abort-on-eavesdropper", false, "fail a hop whose error rate reaches the threshold")
	fs.DurationVar(&f.pathTimeout, "path-timeout", 0, "bound on a whole path run (0 disables)")
	fs.BoolVar(&f.noAck, "no-ack", false, "skip the responder acknowledgment")
}

// load reads the scenario and applies the flags set on fs.
func (f *scenarioFlags) load(fs *pflag.FlagSet) (*config.Scenario, error) {
	var s *config.Scenario
	if f.file == "" {
		s = config.Example()
	} else {
		var err error
		if s, err = config.Load(f.file); err != nil {
			return nil, err
		}
	}

	p := &s.Params
	if fs.Changed("message") {
		s.Message = f.message
	}
	if fs.Changed("key-size") {
		p.KeySize = f.keySize
	}
	if fs.Changed("key-length") {
		p.KeyLength = f.keyLength
	}
	if fs.Changed("protocol") {
		p.Protocol = f.protocol
	}
	if fs.Changed("threshold") {
		p.ErrorRateThreshold = f.threshold
	}
	if fs.Changed("wait") {
		p.WaitTime = config.Duration(f.wait)
	}
	if fs.Changed("spy-probability") {
		p.SpyProbability = f.spyProbability
	}
	if fs.Changed("seed") {
		p.Seed = f.seed
	}
	if fs.Changed("alternate") {
		p.RunAlternate = f.alternate
	}
	if fs.Changed("abort-on-eavesdropper") {
		p.AbortOnEavesdropper = f.abort
	}
	if fs.Changed("path-timeout") {
		p.PathTimeout = config.Duration(f.pathTimeout)
	}
	if fs.Changed("no-ack") {
		p.Ack = !f.noAck
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type obsFlags struct {
	logLevel  string
	logFormat string
	tracing   string
}

func (f *obsFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn, error, silent")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&f.tracing, "tracing", "none", "tracing mode: none, simple, otel (requires -tags otel)")
}

func newRunCommand() *cobra.Command {
	var (
		sf          scenarioFlags
		of          obsFlags
		metricsAddr string
		noColor     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deliver the scenario's message and report every hop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sf.load(cmd.Flags())
			if err != nil {
				return err
			}
			obs, err := setupObservability(cmd.ErrOrStderr(), of.logLevel, of.logFormat, of.tracing, metrics.Labels{"command": "run"})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv := metrics.NewServer(metrics.ServerConfig{
					Collector:        obs.collector,
					Logger:           obs.logger,
					Version:          getVersion(),
					EnablePrometheus: true,
					EnableHealth:     true,
				})
				srvCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := srv.Serve(srvCtx, metricsAddr); err != nil {
						obs.logger.Error("observability server error", metrics.Fields{"error": err.Error()})
					}
				}()
			}

			report, runErr := runScenario(ctx, s, obs)
			r := newRenderer(cmd.OutOrStdout(), noColor)
			r.scenario(s)
			if report != nil {
				r.report(report)
			}
			return runErr
		},
	}

	sf.register(cmd.Flags())
	of.register(cmd.Flags())
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address during the run")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

// runScenario resolves the scenario's graph and runs it. A failed path is
// returned as an error alongside the partial report.
func runScenario(ctx context.Context, s *config.Scenario, obs *observability) (*relay.Report, error) {
	g, err := s.Graph()
	if err != nil {
		return nil, err
	}
	o, err := relay.New(s.Params.RelayConfig(),
		relay.WithLogger(obs.logger),
		relay.WithCollector(obs.collector),
		relay.WithTracer(obs.tracer),
	)
	if err != nil {
		return nil, err
	}
	report, err := o.Run(ctx, g, []byte(s.Message))
	if err != nil {
		return report, fmt.Errorf("path failed: %w", err)
	}
	return report, nil
}
