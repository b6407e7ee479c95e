package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/channel"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/network"
	"github.com/sara-star-quant/qkdnet/pkg/protocol"
	"github.com/sara-star-quant/qkdnet/pkg/qsim"
)

func testNetwork(t *testing.T, spies ...network.Spy) *network.Network {
	t.Helper()
	seed := crypto.NewSeededReader([]byte(t.Name()))
	nw := network.New(qsim.New(seed.Fork("sim")), network.WithRand(seed.Fork("spies")))
	if err := nw.Connect("A", "B", spies...); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(nw.Close)
	return nw
}

func testConfig(p constants.Protocol) Config {
	cfg := DefaultConfig()
	cfg.Protocol = p
	cfg.WaitTime = 2 * time.Second
	return cfg
}

func mustEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

type result struct {
	s   *Session
	err error
}

// runPair runs A as initiator and B as responder concurrently.
func runPair(t *testing.T, nw *network.Network, initCfg, respCfg Config) (result, result) {
	t.Helper()
	initCfg.Rand = crypto.NewSeededReader([]byte(t.Name() + "/A"))
	respCfg.Rand = crypto.NewSeededReader([]byte(t.Name() + "/B"))
	initiator := mustEngine(t, initCfg)
	responder := mustEngine(t, respCfg)

	ctx := context.Background()
	var wg sync.WaitGroup
	var a, b result
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.s, a.err = initiator.Initiate(ctx, nw.Host("A"), "B", nil)
	}()
	go func() {
		defer wg.Done()
		b.s, b.err = responder.Respond(ctx, nw.Host("B"), "A")
	}()
	wg.Wait()
	return a, b
}

func TestExchangeEstablishesMatchingKeys(t *testing.T) {
	tests := []struct {
		name     string
		protocol constants.Protocol
		ack      bool
	}{
		{"BB84", constants.ProtocolBB84, true},
		{"BB84/no-ack", constants.ProtocolBB84, false},
		{"B92", constants.ProtocolB92, true},
		{"B92/no-ack", constants.ProtocolB92, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nw := testNetwork(t)
			cfg := testConfig(tt.protocol)
			cfg.AckMode = tt.ack

			a, b := runPair(t, nw, cfg, cfg)
			if a.err != nil || b.err != nil {
				t.Fatalf("exchange failed: initiator=%v responder=%v", a.err, b.err)
			}

			for _, s := range []*Session{a.s, b.s} {
				if !s.Established() {
					t.Errorf("%s state = %s", s.Role, s.State())
				}
				if len(s.SiftedKey) == 0 || len(s.SiftedKey) > cfg.KeyLength {
					t.Errorf("%s sifted key length %d outside 1..%d", s.Role, len(s.SiftedKey), cfg.KeyLength)
				}
				if s.ErrorRate != 0 || !s.Verdict.Safe {
					t.Errorf("%s error rate %.2f verdict %s on a clean link", s.Role, s.ErrorRate, s.Verdict)
				}
				if s.Err() != nil {
					t.Errorf("%s Err() = %v", s.Role, s.Err())
				}
			}
			if !a.s.SiftedKey.Equal(b.s.SiftedKey) {
				t.Error("initiator and responder keys differ")
			}
			if a.s.Fingerprint() != b.s.Fingerprint() {
				t.Error("fingerprints differ")
			}
			if !a.s.Mask.Equal(b.s.Mask) {
				t.Error("masks differ")
			}
			if a.s.ID == b.s.ID {
				t.Error("session IDs should be unique per end")
			}
		})
	}
}

func TestBB84MaskMatchesBasisAgreement(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)
	a, b := runPair(t, nw, cfg, cfg)
	if a.err != nil || b.err != nil {
		t.Fatalf("exchange failed: %v / %v", a.err, b.err)
	}

	if len(a.s.Mask) != cfg.KeySize {
		t.Fatalf("mask length = %d, want %d", len(a.s.Mask), cfg.KeySize)
	}
	for i := range a.s.Mask {
		want := byte(0)
		if a.s.LocalBases[i] == b.s.LocalBases[i] {
			want = 1
		}
		if a.s.Mask[i] != want {
			t.Fatalf("mask[%d] = %d, bases %d/%d", i, a.s.Mask[i], a.s.LocalBases[i], b.s.LocalBases[i])
		}
	}
	if !a.s.PeerBases.Equal(b.s.LocalBases) {
		t.Error("initiator recorded the wrong peer bases")
	}
}

func TestB92UsesSampleWindow(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolB92)
	cfg.KeyLength = 1000
	a, b := runPair(t, nw, cfg, cfg)
	if a.err != nil || b.err != nil {
		t.Fatalf("exchange failed: %v / %v", a.err, b.err)
	}
	window := cfg.KeySize / constants.B92SampleDivisor
	if len(a.s.Mask) != window {
		t.Errorf("mask covers %d symbols, want %d", len(a.s.Mask), window)
	}
	if len(a.s.SiftedKey) > window {
		t.Errorf("sifted %d bits from a %d symbol window", len(a.s.SiftedKey), window)
	}
}

func TestSpyRaisesErrorRate(t *testing.T) {
	for _, p := range []constants.Protocol{constants.ProtocolBB84, constants.ProtocolB92} {
		t.Run(p.String(), func(t *testing.T) {
			nw := testNetwork(t, network.Spy{ID: "Eve", Probability: 1})
			cfg := testConfig(p)
			cfg.KeySize = 800
			cfg.KeyLength = 100

			a, b := runPair(t, nw, cfg, cfg)
			if a.err != nil || b.err != nil {
				t.Fatalf("exchange failed: %v / %v", a.err, b.err)
			}
			if a.s.ErrorRate != b.s.ErrorRate {
				t.Errorf("ends disagree on error rate: %.2f vs %.2f", a.s.ErrorRate, b.s.ErrorRate)
			}
			if b.s.ErrorRate < cfg.Threshold {
				t.Errorf("error rate %.2f below threshold with a certain spy", b.s.ErrorRate)
			}
			if a.s.Verdict.Safe || b.s.Verdict.Safe {
				t.Error("link with a spy judged safe")
			}
			if nw.Stats().QubitsDisturbed == 0 {
				t.Error("spy never disturbed a qubit")
			}
		})
	}
}

func TestSecretLengthChecked(t *testing.T) {
	nw := testNetwork(t)
	e := mustEngine(t, testConfig(constants.ProtocolBB84))

	s, err := e.Initiate(context.Background(), nw.Host("A"), "B", crypto.MustParseBits("1011"))
	var lm *qerrors.LengthMismatchError
	if !errors.As(err, &lm) || lm.Field != "secret" {
		t.Fatalf("expected secret length mismatch, got %v", err)
	}
	if s.State() != SessionStateFailed {
		t.Errorf("state = %s", s.State())
	}
}

// silentEndpoint drops everything it sends and never receives anything.
type silentEndpoint struct {
	*network.Host
}

func (silentEndpoint) SendQubit(context.Context, string, channel.Qubit, time.Duration) error {
	return nil
}

func (silentEndpoint) SendClassical(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (e silentEndpoint) ReceiveClassical(ctx context.Context, from string, timeout time.Duration) ([]byte, error) {
	select {
	case <-time.After(timeout):
		return nil, &qerrors.ChannelTimeoutError{Channel: "classical", Op: "receive", From: from, To: e.ID(), Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSilentChannelTimesOut(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)
	cfg.WaitTime = 30 * time.Millisecond
	e := mustEngine(t, cfg)

	start := time.Now()
	s, err := e.Initiate(context.Background(), silentEndpoint{nw.Host("A")}, "B", nil)
	if time.Since(start) > time.Second {
		t.Error("initiator did not honor WaitTime")
	}

	var te *qerrors.ChannelTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected ChannelTimeoutError, got %v", err)
	}
	var pe *qerrors.ProtocolError
	if !errors.As(err, &pe) || pe.Phase != PhaseReconcile {
		t.Errorf("expected reconcile-phase ProtocolError, got %v", err)
	}
	if s.State() != SessionStateFailed || !errors.Is(s.Err(), qerrors.ErrChannelTimeout) {
		t.Errorf("session state %s err %v", s.State(), s.Err())
	}
}

func TestResponderTimesOutWithoutQubits(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)
	cfg.WaitTime = 20 * time.Millisecond
	e := mustEngine(t, cfg)

	_, err := e.Respond(context.Background(), nw.Host("B"), "A")
	var te *qerrors.ChannelTimeoutError
	if !errors.As(err, &te) || te.Channel != "quantum" {
		t.Fatalf("expected quantum timeout, got %v", err)
	}
}

func TestPeerAlertFailsFast(t *testing.T) {
	nw := testNetwork(t)
	initCfg := testConfig(constants.ProtocolBB84)
	initCfg.KeySize = 170
	initCfg.WaitTime = 10 * time.Second
	respCfg := testConfig(constants.ProtocolBB84)
	respCfg.WaitTime = 100 * time.Millisecond

	start := time.Now()
	a, b := runPair(t, nw, initCfg, respCfg)

	if !qerrors.IsTimeout(b.err) {
		t.Errorf("responder: expected timeout waiting for missing qubits, got %v", b.err)
	}
	if !errors.Is(a.err, qerrors.ErrPeerAborted) {
		t.Errorf("initiator: expected ErrPeerAborted, got %v", a.err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("initiator waited out its own timeout instead of honoring the alert")
	}
}

func TestInitiatorRejectsShortBases(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)
	cfg.KeySize = 16
	e := mustEngine(t, cfg)

	ctx := context.Background()
	codec := protocol.NewCodec()
	peer := nw.Host("B")
	done := make(chan []byte, 1)
	go func() {
		for i := 0; i < cfg.KeySize; i++ {
			if _, err := peer.ReceiveQubit(ctx, "A", time.Second); err != nil {
				done <- nil
				return
			}
		}
		frame, _ := codec.EncodeBits(&protocol.BitsMessage{
			Type: protocol.MessageTypeBases,
			Bits: make(crypto.BitString, cfg.KeySize-1),
		})
		_ = peer.SendClassical(ctx, "A", frame, time.Second)
		alert, _ := peer.ReceiveClassical(ctx, "A", time.Second)
		done <- alert
	}()

	_, err := e.Initiate(ctx, nw.Host("A"), "B", nil)
	var lm *qerrors.LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("expected LengthMismatchError, got %v", err)
	}
	if lm.Field != "bases" || lm.Want != 16 || lm.Got != 15 {
		t.Errorf("unexpected mismatch: %+v", lm)
	}

	frame := <-done
	alert, err := codec.DecodeAlert(frame)
	if err != nil {
		t.Fatalf("peer did not get an alert: %v", err)
	}
	if alert.Code != protocol.AlertCodeLengthMismatch {
		t.Errorf("alert code = %s", alert.Code)
	}
}

func TestResponderRejectsEmptyDisclosure(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)
	cfg.KeySize = 8
	cfg.AckMode = false
	e := mustEngine(t, cfg)

	ctx := context.Background()
	codec := protocol.NewCodec()
	peer := nw.Host("A")
	go func() {
		for i := 0; i < cfg.KeySize; i++ {
			q, _ := peer.CreateQubit()
			_ = peer.SendQubit(ctx, "B", q, time.Second)
		}
		_, _ = peer.ReceiveClassical(ctx, "B", time.Second)
		// An all-zero mask sifts nothing on either side.
		mask, _ := codec.EncodeBits(&protocol.BitsMessage{Type: protocol.MessageTypeSiftMask, Bits: make(crypto.BitString, cfg.KeySize)})
		_ = peer.SendClassical(ctx, "B", mask, time.Second)
		disclosure, _ := codec.EncodeBits(&protocol.BitsMessage{Type: protocol.MessageTypeKeyDisclosure})
		_ = peer.SendClassical(ctx, "B", disclosure, time.Second)
	}()

	_, err := e.Respond(ctx, nw.Host("B"), "A")
	if !errors.Is(err, qerrors.ErrInsufficientKey) {
		t.Fatalf("expected ErrInsufficientKey, got %v", err)
	}
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	ended    []error
	sent     int
	received int
	frames   int
	sifted   int
	rate     float64
	safe     bool
	timeouts int
	failures int
}

func (o *countingObserver) OnExchangeStart(ctx context.Context) (context.Context, func(error)) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
	return ctx, func(err error) {
		o.mu.Lock()
		o.ended = append(o.ended, err)
		o.mu.Unlock()
	}
}
func (o *countingObserver) OnQubitsSent(n int)     { o.mu.Lock(); o.sent += n; o.mu.Unlock() }
func (o *countingObserver) OnQubitsReceived(n int) { o.mu.Lock(); o.received += n; o.mu.Unlock() }
func (o *countingObserver) OnFrameSent()           { o.mu.Lock(); o.frames++; o.mu.Unlock() }
func (o *countingObserver) OnKeySifted(bits int)   { o.mu.Lock(); o.sifted += bits; o.mu.Unlock() }
func (o *countingObserver) OnErrorRate(rate float64, safe bool) {
	o.mu.Lock()
	o.rate, o.safe = rate, safe
	o.mu.Unlock()
}
func (o *countingObserver) OnChannelTimeout(error) { o.mu.Lock(); o.timeouts++; o.mu.Unlock() }
func (o *countingObserver) OnProtocolError(error)  { o.mu.Lock(); o.failures++; o.mu.Unlock() }

func TestObserverHooks(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)

	initObs, respObs := &countingObserver{}, &countingObserver{}
	initiator := mustEngine(t, cfg, WithObserver(func(*Session) Observer { return initObs }))
	responder := mustEngine(t, cfg, WithObserver(func(*Session) Observer { return respObs }))

	ctx := context.Background()
	var wg sync.WaitGroup
	var initErr, respErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, initErr = initiator.Initiate(ctx, nw.Host("A"), "B", nil) }()
	go func() { defer wg.Done(); _, respErr = responder.Respond(ctx, nw.Host("B"), "A") }()
	wg.Wait()
	if initErr != nil || respErr != nil {
		t.Fatalf("exchange failed: %v / %v", initErr, respErr)
	}

	if initObs.sent != cfg.KeySize || respObs.received != cfg.KeySize {
		t.Errorf("qubits sent %d received %d, want %d", initObs.sent, respObs.received, cfg.KeySize)
	}
	// SiftMask + KeyDisclosure vs Bases + Ack + ErrorRate.
	if initObs.frames != 2 || respObs.frames != 3 {
		t.Errorf("frames sent: initiator %d responder %d", initObs.frames, respObs.frames)
	}
	if initObs.sifted != respObs.sifted || initObs.sifted == 0 {
		t.Errorf("sifted bits %d / %d", initObs.sifted, respObs.sifted)
	}
	if !initObs.safe || !respObs.safe {
		t.Error("observer saw an unsafe verdict on a clean link")
	}
	if len(initObs.ended) != 1 || initObs.ended[0] != nil {
		t.Errorf("end callbacks: %v", initObs.ended)
	}
}

func TestObserverSeesTimeout(t *testing.T) {
	nw := testNetwork(t)
	cfg := testConfig(constants.ProtocolBB84)
	cfg.WaitTime = 10 * time.Millisecond
	obs := &countingObserver{}
	e := mustEngine(t, cfg, WithObserver(func(*Session) Observer { return obs }))

	_, err := e.Respond(context.Background(), nw.Host("B"), "A")
	if err == nil {
		t.Fatal("expected failure")
	}
	if obs.timeouts != 1 || obs.failures != 0 {
		t.Errorf("timeouts %d failures %d", obs.timeouts, obs.failures)
	}
	if len(obs.ended) != 1 || obs.ended[0] == nil {
		t.Errorf("end callbacks: %v", obs.ended)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	nw := testNetwork(t)
	ctx := context.Background()

	if err := SendPayload(ctx, nw.Host("A"), "B", []byte("ciphertext"), time.Second); err != nil {
		t.Fatalf("SendPayload failed: %v", err)
	}
	got, err := ReceivePayload(ctx, nw.Host("B"), "A", time.Second)
	if err != nil {
		t.Fatalf("ReceivePayload failed: %v", err)
	}
	if string(got) != "ciphertext" {
		t.Errorf("payload = %q", got)
	}

	Abort(ctx, nw.Host("A"), "B", qerrors.ErrAborted)
	_, err = ReceivePayload(ctx, nw.Host("B"), "A", time.Second)
	if !errors.Is(err, qerrors.ErrPeerAborted) {
		t.Errorf("expected ErrPeerAborted, got %v", err)
	}
}

func TestNewEngineValidates(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero key size", func(c *Config) { c.KeySize = 0 }},
		{"huge key size", func(c *Config) { c.KeySize = constants.MaxKeySize + 1 }},
		{"zero key length", func(c *Config) { c.KeyLength = 0 }},
		{"negative threshold", func(c *Config) { c.Threshold = -1 }},
		{"zero wait time", func(c *Config) { c.WaitTime = 0 }},
		{"negative wait time", func(c *Config) { c.WaitTime = -time.Second }},
		{"unknown protocol", func(c *Config) { c.Protocol = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if _, err := NewEngine(cfg); !errors.Is(err, qerrors.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
