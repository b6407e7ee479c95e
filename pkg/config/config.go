// Package config loads simulation scenarios: the network topology, the
// message to deliver and the protocol parameters.
//
// Scenario files are YAML (.yaml, .yml) or TOML (.toml). Fields missing
// from a file keep their defaults from internal/constants.
package config

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/link"
	"github.com/sara-star-quant/qkdnet/pkg/relay"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

// validate is a shared validator instance
var validate = validator.New()

// Duration is a time.Duration that reads "10s" style strings, or a bare
// number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// UnmarshalYAML accepts both duration strings and integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

// UnmarshalTOML accepts both duration strings and integer seconds.
func (d *Duration) UnmarshalTOML(v interface{}) error {
	switch x := v.(type) {
	case string:
		return d.parse(x)
	case int64:
		*d = Duration(time.Duration(x) * time.Second)
		return nil
	case float64:
		return d.seconds(x)
	default:
		return fmt.Errorf("%w: duration of type %T", qerrors.ErrInvalidConfig, v)
	}
}

// seconds sets d from a second count. Values that are not finite or do not
// fit a time.Duration are rejected.
func (d *Duration) seconds(secs float64) error {
	ns := secs * float64(time.Second)
	if math.IsNaN(ns) || math.IsInf(ns, 0) || ns >= math.MaxInt64 || ns <= math.MinInt64 {
		return fmt.Errorf("%w: duration %v seconds out of range", qerrors.ErrInvalidConfig, secs)
	}
	*d = Duration(ns)
	return nil
}

func (d *Duration) parse(s string) error {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return d.seconds(secs)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %v", qerrors.ErrInvalidConfig, err)
	}
	*d = Duration(v)
	return nil
}

// Params are the protocol and run parameters.
type Params struct {
	// Raw qubits exchanged per link
	KeySize int `yaml:"key_size" toml:"key_size" validate:"min=1,max=65536"`

	// Sifted key cap in bits
	KeyLength int `yaml:"key_length" toml:"key_length" validate:"min=1"`

	// Percent at or above which a link is unsafe
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" toml:"error_rate_threshold" validate:"gte=0,lte=100"`

	// Bound on every channel wait
	WaitTime Duration `yaml:"wait_time" toml:"wait_time" validate:"gt=0"`

	// "bb84" or "b92"
	Protocol string `yaml:"protocol" toml:"protocol" validate:"required"`

	// Responder acknowledges its sifted length
	Ack bool `yaml:"ack" toml:"ack"`

	// Chance a spy flips a passing qubit
	SpyProbability float64 `yaml:"spy_probability" toml:"spy_probability" validate:"gte=0,lte=1"`

	// Seed makes a run reproducible. Empty means fresh randomness.
	Seed string `yaml:"seed,omitempty" toml:"seed,omitempty"`

	// Bound on a whole path run; zero disables it
	PathTimeout Duration `yaml:"path_timeout" toml:"path_timeout" validate:"gte=0"`

	// Run a second path after the primary succeeds
	RunAlternate bool `yaml:"run_alternate" toml:"run_alternate"`

	// Fail a hop whose error rate reaches the threshold
	AbortOnEavesdropper bool `yaml:"abort_on_eavesdropper" toml:"abort_on_eavesdropper"`

	// Per-direction network queue capacity
	QueueCapacity int `yaml:"queue_capacity" toml:"queue_capacity" validate:"min=1"`
}

// DefaultParams returns the reference parameters.
func DefaultParams() Params {
	return Params{
		KeySize:            constants.DefaultKeySize,
		KeyLength:          constants.DefaultKeyLength,
		ErrorRateThreshold: constants.DefaultErrorRateThreshold,
		WaitTime:           Duration(constants.DefaultWaitTime),
		Protocol:           "bb84",
		Ack:                constants.DefaultAckMode,
		SpyProbability:     constants.DefaultSpyProbability,
		RunAlternate:       constants.DefaultRunAlternate,
		QueueCapacity:      constants.DefaultQueueCapacity,
	}
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return formatValidationError(err)
	}
	if _, ok := constants.ParseProtocol(p.Protocol); !ok {
		return fmt.Errorf("%w: protocol: unknown protocol %q", qerrors.ErrInvalidConfig, p.Protocol)
	}
	return nil
}

// ProtocolID returns the parsed protocol, BB84 if unparseable.
func (p *Params) ProtocolID() constants.Protocol {
	if proto, ok := constants.ParseProtocol(p.Protocol); ok {
		return proto
	}
	return constants.ProtocolBB84
}

// Policy returns the eavesdropper policy the parameters select.
func (p *Params) Policy() link.Policy {
	if p.AbortOnEavesdropper {
		return link.PolicyAbort
	}
	return link.PolicyFlag
}

// LinkConfig converts the parameters into a key exchange configuration
// drawing randomness from r.
func (p *Params) LinkConfig(r io.Reader) link.Config {
	return link.Config{
		KeySize:   p.KeySize,
		KeyLength: p.KeyLength,
		WaitTime:  p.WaitTime.Std(),
		Threshold: p.ErrorRateThreshold,
		AckMode:   p.Ack,
		Protocol:  p.ProtocolID(),
		Rand:      r,
	}
}

// RelayConfig converts the parameters into an orchestrator configuration.
func (p *Params) RelayConfig() relay.Config {
	cfg := relay.Config{
		Link:           p.LinkConfig(nil),
		Policy:         p.Policy(),
		SpyProbability: p.SpyProbability,
		PathTimeout:    p.PathTimeout.Std(),
		RunAlternate:   p.RunAlternate,
		QueueCapacity:  p.QueueCapacity,
	}
	if p.Seed != "" {
		cfg.Seed = []byte(p.Seed)
	}
	return cfg
}

// NodeSpec declares one node of the scenario.
type NodeSpec struct {
	ID        string             `yaml:"id" toml:"id" validate:"required"`
	Role      string             `yaml:"role" toml:"role" validate:"required"`
	Position  *topology.Position `yaml:"position,omitempty" toml:"position,omitempty"`
	Neighbors []string           `yaml:"neighbors,omitempty" toml:"neighbors,omitempty"`
}

// Scenario is a complete simulation input.
type Scenario struct {
	Message string     `yaml:"message" toml:"message" validate:"required,max=1048576"`
	Params  Params     `yaml:"params" toml:"params"`
	Nodes   []NodeSpec `yaml:"nodes" toml:"nodes" validate:"required,min=2,dive"`
}

// NewScenario returns an empty scenario with default parameters.
func NewScenario() *Scenario {
	return &Scenario{Params: DefaultParams()}
}

// Validate checks the scenario, including that its nodes form a valid graph.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	if err := s.Params.Validate(); err != nil {
		return err
	}
	if _, err := s.Graph(); err != nil {
		return fmt.Errorf("%w: %w", qerrors.ErrInvalidConfig, err)
	}
	return nil
}

// Graph builds the topology the scenario declares.
func (s *Scenario) Graph() (*topology.Graph, error) {
	nodes := make([]topology.Node, 0, len(s.Nodes))
	for _, spec := range s.Nodes {
		role, err := topology.ParseRole(spec.Role)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", spec.ID, err)
		}
		nodes = append(nodes, topology.Node{
			ID:        spec.ID,
			Role:      role,
			Position:  spec.Position,
			Neighbors: spec.Neighbors,
		})
	}
	return topology.NewGraph(nodes)
}

// formatValidationError reports the first failed field under
// ErrInvalidConfig.
func formatValidationError(err error) error {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", qerrors.ErrInvalidConfig, err)
	}
	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%w: %s is required", qerrors.ErrInvalidConfig, field)
		case "min", "gte":
			return fmt.Errorf("%w: %s must be at least %s", qerrors.ErrInvalidConfig, field, e.Param())
		case "gt":
			return fmt.Errorf("%w: %s must be greater than %s", qerrors.ErrInvalidConfig, field, e.Param())
		case "max", "lte":
			return fmt.Errorf("%w: %s must not exceed %s", qerrors.ErrInvalidConfig, field, e.Param())
		default:
			return fmt.Errorf("%w: %s failed %s", qerrors.ErrInvalidConfig, field, e.Tag())
		}
	}
	return qerrors.ErrInvalidConfig
}
