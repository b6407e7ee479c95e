// Package link implements the key exchange that runs on one hop of a QKD
// network.
//
// An Engine runs one end of an exchange over a channel.Endpoint. The
// initiator prepares and sends qubits, the responder measures them, both
// reconcile their bases over the classical channel, and the responder
// estimates the error rate from the initiator's disclosed sifted key:
//
//	Initiator                              Responder
//	    | ====== qubits ==================> |  Transmitting
//	    | <-------- Bases ----------------- |  Reconciling
//	    | --------- SiftMask -------------> |
//	    | <-------- Ack ------------------- |  (ack mode)
//	    | --------- KeyDisclosure --------> |  Estimating
//	    | <-------- ErrorRate ------------- |
//	    |                                   |
//	    |    === Established / Failed ===   |
//
// BB84 and B92 differ only in the transmit and reconcile steps and plug in
// as Strategy implementations. Every wait is bounded by Config.WaitTime.
// When an end fails it sends the peer a best-effort Alert so the peer stops
// with ErrPeerAborted instead of waiting out its own timeout.
package link

import (
	"context"
	"fmt"
	"time"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/channel"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/protocol"
)

// Exchange phases reported in ProtocolError.
const (
	PhaseTransmit  = "transmit"
	PhaseReconcile = "reconcile"
	PhaseEstimate  = "estimate"
)

// Engine runs key exchanges with one set of parameters.
type Engine struct {
	cfg      Config
	strategy Strategy
	monitor  Monitor
	codec    *protocol.Codec
	logger   *metrics.Logger
	observer ObserverFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *metrics.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the per-session observer factory.
func WithObserver(f ObserverFactory) Option {
	return func(e *Engine) {
		e.observer = f
	}
}

// WithCodec overrides the classical message codec.
func WithCodec(c *protocol.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// NewEngine validates cfg and selects the strategy for cfg.Protocol.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = crypto.Reader
	}
	strategy, err := StrategyFor(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		strategy: strategy,
		monitor:  Monitor{Threshold: cfg.Threshold},
		codec:    protocol.NewCodec(),
		logger:   metrics.NullLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// Monitor returns the engine's eavesdropping monitor.
func (e *Engine) Monitor() Monitor {
	return e.monitor
}

// Initiate runs the initiator end against peer. For BB84 the secret supplies
// one bit per qubit and must hold KeySize bits; nil draws a fresh one. B92
// ignores the secret.
//
// The session is returned on failure too, with Err set, so callers can
// report how far the exchange got.
func (e *Engine) Initiate(ctx context.Context, ep channel.Endpoint, peer string, secret crypto.BitString) (*Session, error) {
	x := e.begin(ep, peer, RoleInitiator)
	ctx, end := x.obs.OnExchangeStart(ctx)

	err := e.strategy.initiate(ctx, x, secret)
	if err == nil {
		err = x.confirmInitiator(ctx)
	}
	if err == nil {
		err = x.estimateInitiator(ctx)
	}
	return x.finish(ctx, err, end)
}

// Respond runs the responder end against peer.
func (e *Engine) Respond(ctx context.Context, ep channel.Endpoint, peer string) (*Session, error) {
	x := e.begin(ep, peer, RoleResponder)
	ctx, end := x.obs.OnExchangeStart(ctx)

	err := e.strategy.respond(ctx, x)
	if err == nil {
		err = x.confirmResponder(ctx)
	}
	if err == nil {
		err = x.estimateResponder(ctx)
	}
	return x.finish(ctx, err, end)
}

func (e *Engine) begin(ep channel.Endpoint, peer string, role Role) *exchange {
	s := newSession(ep.ID(), peer, role, e.cfg.Protocol)
	var obs Observer = noopObserver{}
	if e.observer != nil {
		if o := e.observer(s); o != nil {
			obs = o
		}
	}
	return &exchange{
		e:    e,
		ep:   ep,
		peer: peer,
		s:    s,
		obs:  obs,
		log: e.logger.With(metrics.Fields{
			"session":  s.ID,
			"local":    s.Local,
			"peer":     peer,
			"role":     role.String(),
			"protocol": e.cfg.Protocol.String(),
		}),
	}
}

// exchange is the per-session state shared by the engine and strategies.
type exchange struct {
	e    *Engine
	ep   channel.Endpoint
	peer string
	s    *Session
	obs  Observer
	log  *metrics.Logger
}

func (x *exchange) cfg() Config {
	return x.e.cfg
}

func (x *exchange) wait() time.Duration {
	return x.e.cfg.WaitTime
}

func (x *exchange) enter(from, to SessionState) error {
	if err := x.s.transition(from, to); err != nil {
		return fmt.Errorf("%w: %s -> %s from %s", err, from, to, x.s.State())
	}
	x.log.Debug("phase", metrics.Fields{"state": to.String()})
	return nil
}

func (x *exchange) sendQubit(ctx context.Context, q channel.Qubit) error {
	return x.ep.SendQubit(ctx, x.peer, q, x.wait())
}

func (x *exchange) receiveQubit(ctx context.Context) (channel.Qubit, error) {
	return x.ep.ReceiveQubit(ctx, x.peer, x.wait())
}

func (x *exchange) send(ctx context.Context, frame []byte) error {
	if err := x.ep.SendClassical(ctx, x.peer, frame, x.wait()); err != nil {
		return err
	}
	x.obs.OnFrameSent()
	return nil
}

func (x *exchange) receive(ctx context.Context) ([]byte, error) {
	return receiveFrame(ctx, x.e.codec, x.ep, x.peer, x.wait())
}

func (x *exchange) sendBits(ctx context.Context, t protocol.MessageType, bits crypto.BitString) error {
	frame, err := x.e.codec.EncodeBits(&protocol.BitsMessage{Type: t, Bits: bits})
	if err != nil {
		return err
	}
	return x.send(ctx, frame)
}

// receiveBits reads a bits frame and checks it holds exactly want entries.
func (x *exchange) receiveBits(ctx context.Context, t protocol.MessageType, want int) (crypto.BitString, error) {
	frame, err := x.receive(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := x.e.codec.DecodeBits(t, frame)
	if err != nil {
		return nil, err
	}
	if len(msg.Bits) != want {
		return nil, &qerrors.LengthMismatchError{Field: fieldName(t), Want: want, Got: len(msg.Bits)}
	}
	return msg.Bits, nil
}

func fieldName(t protocol.MessageType) string {
	switch t {
	case protocol.MessageTypeBases:
		return "bases"
	case protocol.MessageTypeSiftMask:
		return "sift mask"
	case protocol.MessageTypeKeyDisclosure:
		return "key disclosure"
	default:
		return t.String()
	}
}

// confirmInitiator waits for the responder's sifted length in ack mode.
func (x *exchange) confirmInitiator(ctx context.Context) error {
	if !x.cfg().AckMode {
		return nil
	}
	frame, err := x.receive(ctx)
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	count, err := x.e.codec.DecodeAck(frame)
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	if count != len(x.s.SiftedKey) {
		return qerrors.NewProtocolError(PhaseReconcile,
			&qerrors.LengthMismatchError{Field: "ack", Want: len(x.s.SiftedKey), Got: count})
	}
	return nil
}

// confirmResponder acknowledges the sifted length in ack mode.
func (x *exchange) confirmResponder(ctx context.Context) error {
	if !x.cfg().AckMode {
		return nil
	}
	frame, err := x.e.codec.EncodeAck(len(x.s.SiftedKey))
	if err == nil {
		err = x.send(ctx, frame)
	}
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	return nil
}

// estimateInitiator discloses the sifted key and waits for the error rate.
func (x *exchange) estimateInitiator(ctx context.Context) error {
	if err := x.enter(SessionStateReconciling, SessionStateEstimating); err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	if err := x.sendBits(ctx, protocol.MessageTypeKeyDisclosure, x.s.SiftedKey); err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	frame, err := x.receive(ctx)
	if err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	msg, err := x.e.codec.DecodeErrorRate(frame)
	if err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	x.judge(msg.Rate)
	return nil
}

// estimateResponder compares the disclosed key with its own and reports the
// error rate.
func (x *exchange) estimateResponder(ctx context.Context) error {
	if err := x.enter(SessionStateReconciling, SessionStateEstimating); err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	frame, err := x.receive(ctx)
	if err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	msg, err := x.e.codec.DecodeBits(protocol.MessageTypeKeyDisclosure, frame)
	if err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	rate, err := EstimateErrorRate(x.s.SiftedKey, msg.Bits)
	if err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	out, err := x.e.codec.EncodeErrorRate(&protocol.ErrorRateMessage{Rate: rate})
	if err == nil {
		err = x.send(ctx, out)
	}
	if err != nil {
		return qerrors.NewProtocolError(PhaseEstimate, err)
	}
	x.judge(rate)
	return nil
}

func (x *exchange) judge(rate float64) {
	v := x.e.monitor.Evaluate(rate)
	x.s.ErrorRate = rate
	x.s.Verdict = v
	x.obs.OnErrorRate(rate, v.Safe)
}

// finish settles the session and notifies the peer on failure.
func (x *exchange) finish(ctx context.Context, err error, end func(error)) (*Session, error) {
	if err == nil {
		err = x.s.establish()
	}
	if err != nil {
		x.s.fail(err)
		if qerrors.IsTimeout(err) {
			x.obs.OnChannelTimeout(err)
		} else {
			x.obs.OnProtocolError(err)
		}
		if !qerrors.Is(err, qerrors.ErrPeerAborted) {
			sendAlert(ctx, x.e.codec, x.ep, x.peer, err)
		}
		end(err)
		x.log.Debug("exchange failed", metrics.Fields{"error": err, "state_reached": x.s.State().String()})
		return x.s, err
	}

	end(nil)
	fields := metrics.Fields{
		"sifted_bits": len(x.s.SiftedKey),
		"fingerprint": x.s.Fingerprint(),
		"error_rate":  x.s.ErrorRate,
		"verdict":     x.s.Verdict.String(),
		"duration_ms": x.s.Duration().Milliseconds(),
	}
	if x.s.Verdict.Safe {
		x.log.Debug("link established", fields)
	} else {
		x.log.Warn("link established above error threshold", fields)
	}
	return x.s, nil
}

// randomBases draws n basis choices.
func (x *exchange) randomBases(n int) (crypto.BitString, error) {
	return crypto.RandomBits(x.cfg().Rand, n)
}
