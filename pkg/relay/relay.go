// Package relay delivers a message across a QKD network by chaining
// per-link key exchanges through trusted relay nodes.
//
// For a relay path S -> R1 -> ... -> D the orchestrator runs one goroutine
// per node. S exchanges a key with R1, encrypts the message and sends it.
// Each relay exchanges a key with its predecessor, receives the ciphertext,
// exchanges a fresh key with its successor, moves the ciphertext onto the
// new key without decrypting it and forwards it. D decrypts.
//
//	S --k1--> R1 --k2--> R2 --k3--> D
//	  E(m,k1)    E(m,k2)    E(m,k3)
//
// Spies are not tasks. A spy on the raw path sits on the network route of
// the hop it interrupts and may flip each qubit that crosses it.
package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/link"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

var _ link.Observer = (*metrics.LinkObserver)(nil)

// Config parameterizes path runs.
type Config struct {
	// Link holds the per-hop exchange parameters. Link.Rand is ignored;
	// every node draws from its own stream.
	Link link.Config

	// Policy decides what an unsafe verdict does to the path.
	Policy link.Policy

	// SpyProbability is the chance a spy flips a passing qubit.
	SpyProbability float64

	// PathTimeout bounds a whole path run. Zero disables it.
	PathTimeout time.Duration

	// RunAlternate runs a second path after the primary delivers.
	RunAlternate bool

	// QueueCapacity is the per-direction network buffer.
	QueueCapacity int

	// Seed makes runs reproducible. Nil draws from crypto/rand.
	Seed []byte
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Link:           link.DefaultConfig(),
		Policy:         link.PolicyFlag,
		SpyProbability: constants.DefaultSpyProbability,
		RunAlternate:   constants.DefaultRunAlternate,
		QueueCapacity:  constants.DefaultQueueCapacity,
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if err := c.Link.Validate(); err != nil {
		return err
	}
	if c.SpyProbability < 0 || c.SpyProbability > 1 {
		return fmt.Errorf("%w: spy probability %v out of range (0..1)", qerrors.ErrInvalidConfig, c.SpyProbability)
	}
	if c.PathTimeout < 0 {
		return fmt.Errorf("%w: negative path timeout %s", qerrors.ErrInvalidConfig, c.PathTimeout)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity %d must be positive", qerrors.ErrInvalidConfig, c.QueueCapacity)
	}
	if c.Policy != link.PolicyFlag && c.Policy != link.PolicyAbort {
		return fmt.Errorf("%w: unknown policy %d", qerrors.ErrInvalidConfig, c.Policy)
	}
	return nil
}

// Orchestrator runs message deliveries over paths of a topology. It keeps
// no per-run state and may run paths concurrently.
type Orchestrator struct {
	cfg       Config
	logger    *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer
	network   NetworkFactory
	seed      *crypto.SeededReader
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *metrics.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCollector records path and link metrics into c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.collector = c
		}
	}
}

// WithTracer records spans through t.
func WithTracer(t metrics.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithConfig lets RunQKD callers adjust the configuration it builds.
func WithConfig(fn func(*Config)) Option {
	return func(o *Orchestrator) {
		fn(&o.cfg)
	}
}

// New validates cfg and creates an orchestrator.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		logger:    metrics.NullLogger(),
		collector: metrics.NewCollector(nil),
		tracer:    metrics.NoOpTracer{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.cfg.Seed != nil {
		o.seed = crypto.NewSeededReader(o.cfg.Seed)
	}
	o.logger = o.logger.Named("relay")
	return o, nil
}

// Config returns the orchestrator's parameters.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Collector returns the collector runs record into.
func (o *Orchestrator) Collector() *metrics.Collector {
	return o.collector
}

// streams hands out the random sources of one path run. Seeded runs fork a
// labelled child per consumer so results do not depend on which goroutine
// draws first.
type streams struct {
	root *crypto.SeededReader
}

func (o *Orchestrator) streams(p topology.Path) streams {
	if o.seed == nil {
		return streams{}
	}
	return streams{root: o.seed.Fork("path:" + p.String())}
}

func (s streams) get(label string) io.Reader {
	if s.root == nil {
		return crypto.Reader
	}
	return s.root.Fork(label)
}

// Run resolves g and delivers message over the primary path, then over the
// alternate path when configured and the primary delivered. Topology
// errors are returned before any task starts.
func (o *Orchestrator) Run(ctx context.Context, g *topology.Graph, message []byte) (*Report, error) {
	res, err := topology.Resolve(g)
	if err != nil {
		return nil, err
	}
	report := &Report{Resolution: res}

	report.Primary, err = o.RunPath(ctx, g, res.Primary(), message)
	if err != nil {
		return report, err
	}

	if o.cfg.RunAlternate {
		if alt, ok := res.Alternate(); ok {
			report.Alternate, err = o.RunPath(ctx, g, alt, message)
			if err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// RunQKD delivers message across g with keySize raw qubits per link and the
// remaining parameters at their defaults unless opts change them.
func RunQKD(ctx context.Context, g *topology.Graph, message string, keySize int, opts ...Option) (*Report, error) {
	cfg := DefaultConfig()
	cfg.Link.KeySize = keySize
	o, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, g, []byte(message))
}
