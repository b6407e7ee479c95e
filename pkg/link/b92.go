package link

import (
	"context"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/protocol"
)

// b92 is the entanglement variant: the initiator keeps one half of each
// Bell pair, both ends measure in random bases, and both disclose their
// bases. Key bits come from the first KeySize/4 positions where the bases
// agree. The secret is unused since the measurement outcome is the bit.
type b92 struct{}

func (b92) Protocol() constants.Protocol {
	return constants.ProtocolB92
}

func sampleWindow(keySize int) int {
	return keySize / constants.B92SampleDivisor
}

func (b92) initiate(ctx context.Context, x *exchange, _ crypto.BitString) error {
	cfg := x.cfg()
	if err := x.enter(SessionStateNew, SessionStateTransmitting); err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}

	bases, err := x.randomBases(cfg.KeySize)
	if err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}
	x.s.LocalBases = bases

	raw, err := transmitB92(ctx, x, bases)
	if err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}
	x.s.RawBits = raw

	if err := x.enter(SessionStateTransmitting, SessionStateReconciling); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	if err := x.sendBits(ctx, protocol.MessageTypeBases, bases); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	peerBases, err := x.receiveBits(ctx, protocol.MessageTypeBases, cfg.KeySize)
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	x.s.PeerBases = peerBases

	siftB92(x, raw, bases, peerBases)
	return nil
}

// transmitB92 sends one half of each pair and measures the kept half.
func transmitB92(ctx context.Context, x *exchange, bases crypto.BitString) (crypto.BitString, error) {
	raw := make(crypto.BitString, len(bases))
	sent := 0
	defer func() { x.obs.OnQubitsSent(sent) }()

	for i := range raw {
		kept, travelling, err := x.ep.CreateEntangledPair()
		if err != nil {
			return nil, err
		}
		if err := x.sendQubit(ctx, travelling); err != nil {
			return nil, err
		}
		sent++
		if bases[i] == 1 {
			if err := x.ep.ApplyBasisRotation(kept); err != nil {
				return nil, err
			}
		}
		m, err := x.ep.Measure(kept)
		if err != nil {
			return nil, err
		}
		raw[i] = m
	}
	return raw, nil
}

func (b92) respond(ctx context.Context, x *exchange) error {
	cfg := x.cfg()
	if err := x.enter(SessionStateNew, SessionStateTransmitting); err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}

	bases, err := x.randomBases(cfg.KeySize)
	if err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}
	x.s.LocalBases = bases

	raw, err := measureIncoming(ctx, x, bases)
	if err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}
	x.s.RawBits = raw

	if err := x.enter(SessionStateTransmitting, SessionStateReconciling); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	peerBases, err := x.receiveBits(ctx, protocol.MessageTypeBases, cfg.KeySize)
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	x.s.PeerBases = peerBases
	if err := x.sendBits(ctx, protocol.MessageTypeBases, bases); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}

	siftB92(x, raw, bases, peerBases)
	return nil
}

func siftB92(x *exchange, raw, local, peer crypto.BitString) {
	w := sampleWindow(len(raw))
	mask := BasisMask(local[:w], peer[:w])
	x.s.Mask = mask
	x.s.SiftedKey = Sift(raw[:w], mask, x.cfg().KeyLength)
	x.obs.OnKeySifted(len(x.s.SiftedKey))
}
