package network

import (
	"context"
	"time"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/channel"
	"github.com/sara-star-quant/qkdnet/pkg/qsim"
)

// Host is one node's endpoint on the network. It satisfies
// channel.Endpoint.
type Host struct {
	id string
	nw *Network
}

var _ channel.Endpoint = (*Host)(nil)

// ID returns the node identifier.
func (h *Host) ID() string {
	return h.id
}

func (h *Host) qubit(q channel.Qubit) (*qsim.Qubit, error) {
	qq, ok := q.(*qsim.Qubit)
	if !ok || qq == nil {
		return nil, qerrors.ErrForeignQubit
	}
	return qq, nil
}

// CreateQubit prepares a qubit in |0>.
func (h *Host) CreateQubit() (channel.Qubit, error) {
	return h.nw.sim.NewQubit(), nil
}

// CreateEntangledPair prepares a Bell pair.
func (h *Host) CreateEntangledPair() (channel.Qubit, channel.Qubit, error) {
	a, b := h.nw.sim.NewBellPair()
	return a, b, nil
}

// ApplyBitFlip applies X.
func (h *Host) ApplyBitFlip(q channel.Qubit) error {
	qq, err := h.qubit(q)
	if err != nil {
		return err
	}
	return h.nw.sim.X(qq)
}

// ApplyBasisRotation applies H.
func (h *Host) ApplyBasisRotation(q channel.Qubit) error {
	qq, err := h.qubit(q)
	if err != nil {
		return err
	}
	return h.nw.sim.H(qq)
}

// Measure measures in the computational basis.
func (h *Host) Measure(q channel.Qubit) (byte, error) {
	qq, err := h.qubit(q)
	if err != nil {
		return 0, err
	}
	return h.nw.sim.Measure(qq)
}

// SendQubit routes q to dest past any spies on the link.
func (h *Host) SendQubit(ctx context.Context, dest string, q channel.Qubit, timeout time.Duration) error {
	qq, err := h.qubit(q)
	if err != nil {
		return err
	}
	lk, err := h.nw.link(h.id, dest)
	if err != nil {
		return err
	}
	if err := h.nw.intercept(lk, qq); err != nil {
		return err
	}
	err = put(ctx, h.nw.done, lk.qubits, qq, timeout, func() error {
		return &qerrors.ChannelTimeoutError{Channel: "quantum", Op: "send", From: h.id, To: dest, Timeout: timeout}
	})
	if err == nil {
		h.nw.qubitsSent.Add(1)
	}
	return err
}

// ReceiveQubit waits for the next qubit from a peer.
func (h *Host) ReceiveQubit(ctx context.Context, from string, timeout time.Duration) (channel.Qubit, error) {
	lk, err := h.nw.link(from, h.id)
	if err != nil {
		return nil, err
	}
	q, err := take(ctx, h.nw.done, lk.qubits, timeout, func() error {
		return &qerrors.ChannelTimeoutError{Channel: "quantum", Op: "receive", From: from, To: h.id, Timeout: timeout}
	})
	if err != nil {
		return nil, err
	}
	h.nw.qubitsReceived.Add(1)
	return q, nil
}

// SendClassical enqueues a copy of frame for dest.
func (h *Host) SendClassical(ctx context.Context, dest string, frame []byte, timeout time.Duration) error {
	lk, err := h.nw.link(h.id, dest)
	if err != nil {
		return err
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	err = put(ctx, h.nw.done, lk.frames, buf, timeout, func() error {
		return &qerrors.ChannelTimeoutError{Channel: "classical", Op: "send", From: h.id, To: dest, Timeout: timeout}
	})
	if err == nil {
		h.nw.framesSent.Add(1)
	}
	return err
}

// ReceiveClassical waits for the next frame from a peer.
func (h *Host) ReceiveClassical(ctx context.Context, from string, timeout time.Duration) ([]byte, error) {
	lk, err := h.nw.link(from, h.id)
	if err != nil {
		return nil, err
	}
	frame, err := take(ctx, h.nw.done, lk.frames, timeout, func() error {
		return &qerrors.ChannelTimeoutError{Channel: "classical", Op: "receive", From: from, To: h.id, Timeout: timeout}
	})
	if err != nil {
		return nil, err
	}
	h.nw.framesReceived.Add(1)
	return frame, nil
}
