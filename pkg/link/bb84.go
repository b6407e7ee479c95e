package link

import (
	"context"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
	"github.com/sara-star-quant/qkdnet/pkg/protocol"
)

// bb84 is prepare-and-measure: the initiator encodes each secret bit in a
// random basis, the responder measures in its own random basis, and the
// initiator publishes which positions matched.
type bb84 struct{}

func (bb84) Protocol() constants.Protocol {
	return constants.ProtocolBB84
}

func (bb84) initiate(ctx context.Context, x *exchange, secret crypto.BitString) error {
	cfg := x.cfg()
	if secret == nil {
		var err error
		if secret, err = crypto.RandomBits(cfg.Rand, cfg.KeySize); err != nil {
			return qerrors.NewProtocolError(PhaseTransmit, err)
		}
	}
	if len(secret) != cfg.KeySize {
		return qerrors.NewProtocolError(PhaseTransmit,
			&qerrors.LengthMismatchError{Field: "secret", Want: cfg.KeySize, Got: len(secret)})
	}
	if err := x.enter(SessionStateNew, SessionStateTransmitting); err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}

	bases, err := x.randomBases(len(secret))
	if err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}
	x.s.RawBits = secret.Clone()
	x.s.LocalBases = bases

	if err := transmitBB84(ctx, x, secret, bases); err != nil {
		return qerrors.NewProtocolError(PhaseTransmit, err)
	}

	if err := x.enter(SessionStateTransmitting, SessionStateReconciling); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	peerBases, err := x.receiveBits(ctx, protocol.MessageTypeBases, len(secret))
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	x.s.PeerBases = peerBases

	mask := BasisMask(bases, peerBases)
	x.s.Mask = mask
	if err := x.sendBits(ctx, protocol.MessageTypeSiftMask, mask); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}

	x.s.SiftedKey = Sift(x.s.RawBits, mask, cfg.KeyLength)
	x.obs.OnKeySifted(len(x.s.SiftedKey))
	return nil
}

func transmitBB84(ctx context.Context, x *exchange, secret, bases crypto.BitString) error {
	sent := 0
	defer func() { x.obs.OnQubitsSent(sent) }()

	for i, bit := range secret {
		q, err := x.ep.CreateQubit()
		if err != nil {
			return err
		}
		if bit == 1 {
			if err := x.ep.ApplyBitFlip(q); err != nil {
				return err
			}
		}
		if bases[i] == 1 {
			if err := x.ep.ApplyBasisRotation(q); err != nil {
				return err
			}
		}
		if err := x.sendQubit(ctx, q); err != nil {
			return err
		}
		sent++
	}
	return nil
}

func (bb84) respond(ctx context.Context, x *exchange) error {
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
	if err := x.sendBits(ctx, protocol.MessageTypeBases, bases); err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	mask, err := x.receiveBits(ctx, protocol.MessageTypeSiftMask, len(raw))
	if err != nil {
		return qerrors.NewProtocolError(PhaseReconcile, err)
	}
	x.s.Mask = mask

	x.s.SiftedKey = Sift(raw, mask, cfg.KeyLength)
	x.obs.OnKeySifted(len(x.s.SiftedKey))
	return nil
}
