// Package network is an in-memory network of QKD nodes.
//
// Each connected node pair gets two directed links, and each link holds a
// bounded queue of qubits and a bounded queue of classical frames. Spies sit
// on a link's quantum path: every qubit crossing the link passes each spy,
// which disturbs it with the spy's probability. Spies never see classical
// frames.
//
// The link registry is guarded by a read-write mutex and is read-mostly once
// the path is wired. Queues are Go channels, so a sender and a receiver on
// the same link need no further locking.
package network

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/metrics"
	"github.com/sara-star-quant/qkdnet/pkg/qsim"
)

// Spy intercepts qubits on a link.
type Spy struct {
	ID string
	// Probability of applying a bit flip to each qubit, in [0, 1].
	Probability float64
}

type route struct {
	from, to string
}

type link struct {
	qubits chan *qsim.Qubit
	frames chan []byte
	spies  []Spy
}

// Stats counts traffic across the whole network.
type Stats struct {
	QubitsSent      uint64
	QubitsReceived  uint64
	FramesSent      uint64
	FramesReceived  uint64
	QubitsIntercept uint64
	QubitsDisturbed uint64
}

// Network connects hosts through bounded in-memory links.
type Network struct {
	mu       sync.RWMutex
	links    map[route]*link
	hosts    map[string]*Host
	sim      *qsim.Simulator
	rng      io.Reader
	capacity int
	logger   *metrics.Logger

	done      chan struct{}
	closeOnce sync.Once

	qubitsSent     atomic.Uint64
	qubitsReceived atomic.Uint64
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	intercepted    atomic.Uint64
	disturbed      atomic.Uint64
}

// Option configures a Network.
type Option func(*Network)

// WithQueueCapacity sets the per-direction queue capacity.
func WithQueueCapacity(n int) Option {
	return func(nw *Network) {
		if n > 0 {
			nw.capacity = n
		}
	}
}

// WithRand sets the source of spy decisions.
func WithRand(r io.Reader) Option {
	return func(nw *Network) {
		if r != nil {
			nw.rng = r
		}
	}
}

// WithLogger sets the network logger.
func WithLogger(l *metrics.Logger) Option {
	return func(nw *Network) {
		if l != nil {
			nw.logger = l
		}
	}
}

// New creates an empty network backed by sim.
func New(sim *qsim.Simulator, opts ...Option) *Network {
	nw := &Network{
		links:    make(map[route]*link),
		hosts:    make(map[string]*Host),
		sim:      sim,
		rng:      crypto.Reader,
		capacity: constants.DefaultQueueCapacity,
		logger:   metrics.NullLogger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(nw)
	}
	nw.logger = nw.logger.Named("network")
	return nw
}

// Connect creates links a -> b and b -> a. Qubits in either direction pass
// the given spies in order.
func (nw *Network) Connect(a, b string, spies ...Spy) error {
	if a == b {
		return qerrors.NewTopologyError("cannot connect %s to itself", a)
	}
	for _, s := range spies {
		if s.Probability < 0 || s.Probability > 1 {
			return fmt.Errorf("%w: spy %s probability %v", qerrors.ErrInvalidConfig, s.ID, s.Probability)
		}
	}

	nw.mu.Lock()
	defer nw.mu.Unlock()

	if _, ok := nw.links[route{a, b}]; ok {
		return qerrors.NewTopologyError("%s and %s are already connected", a, b)
	}
	for _, r := range []route{{a, b}, {b, a}} {
		nw.links[r] = &link{
			qubits: make(chan *qsim.Qubit, nw.capacity),
			frames: make(chan []byte, nw.capacity),
			spies:  append([]Spy(nil), spies...),
		}
	}

	fields := metrics.Fields{"a": a, "b": b}
	if len(spies) > 0 {
		ids := make([]string, len(spies))
		for i, s := range spies {
			ids[i] = s.ID
		}
		fields["spies"] = ids
	}
	nw.logger.Debug("link connected", fields)
	return nil
}

// Host returns the endpoint for node id, creating it on first use.
func (nw *Network) Host(id string) *Host {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	h, ok := nw.hosts[id]
	if !ok {
		h = &Host{id: id, nw: nw}
		nw.hosts[id] = h
	}
	return h
}

// Simulator returns the backing qubit simulator.
func (nw *Network) Simulator() *qsim.Simulator {
	return nw.sim
}

// Close tears the network down. Pending and future channel operations fail
// with ErrNetworkClosed. Close is idempotent.
func (nw *Network) Close() {
	nw.closeOnce.Do(func() {
		close(nw.done)
		nw.logger.Debug("network closed", metrics.Fields{
			"qubits_sent": nw.qubitsSent.Load(),
			"frames_sent": nw.framesSent.Load(),
			"disturbed":   nw.disturbed.Load(),
		})
	})
}

// Stats returns a snapshot of traffic counters.
func (nw *Network) Stats() Stats {
	return Stats{
		QubitsSent:      nw.qubitsSent.Load(),
		QubitsReceived:  nw.qubitsReceived.Load(),
		FramesSent:      nw.framesSent.Load(),
		FramesReceived:  nw.framesReceived.Load(),
		QubitsIntercept: nw.intercepted.Load(),
		QubitsDisturbed: nw.disturbed.Load(),
	}
}

func (nw *Network) link(from, to string) (*link, error) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	lk, ok := nw.links[route{from, to}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", qerrors.ErrNoRoute, from, to)
	}
	return lk, nil
}

// intercept runs q past the link's spies.
func (nw *Network) intercept(lk *link, q *qsim.Qubit) error {
	for _, spy := range lk.spies {
		nw.intercepted.Add(1)
		r, err := crypto.RandomFloat(nw.rng)
		if err != nil {
			return err
		}
		if r < spy.Probability {
			if err := nw.sim.X(q); err != nil {
				return err
			}
			nw.disturbed.Add(1)
		}
	}
	return nil
}

// put enqueues v on ch, bounded by timeout, ctx and network teardown.
func put[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, v T, timeout time.Duration, expired func() error) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-done:
		return qerrors.ErrNetworkClosed
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-timer:
		return expired()
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return qerrors.ErrNetworkClosed
	}
}

// take dequeues from ch, bounded by timeout, ctx and network teardown.
func take[T any](ctx context.Context, done <-chan struct{}, ch <-chan T, timeout time.Duration, expired func() error) (T, error) {
	var zero T
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case v := <-ch:
		return v, nil
	case <-timer:
		return zero, expired()
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		return zero, qerrors.ErrNetworkClosed
	}
}
