package link

import (
	"context"
	"fmt"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// Strategy is the protocol-specific part of an exchange: transmitting
// qubits and reconciling bases into a sifted key. On success the session
// is in SessionStateReconciling with SiftedKey set.
type Strategy interface {
	Protocol() constants.Protocol
	initiate(ctx context.Context, x *exchange, secret crypto.BitString) error
	respond(ctx context.Context, x *exchange) error
}

// StrategyFor returns the strategy implementing p.
func StrategyFor(p constants.Protocol) (Strategy, error) {
	switch p {
	case constants.ProtocolBB84:
		return bb84{}, nil
	case constants.ProtocolB92:
		return b92{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %d", qerrors.ErrInvalidConfig, p)
	}
}

// measureIncoming receives n qubits and measures each in the given basis.
func measureIncoming(ctx context.Context, x *exchange, bases crypto.BitString) (crypto.BitString, error) {
	raw := make(crypto.BitString, len(bases))
	received := 0
	defer func() { x.obs.OnQubitsReceived(received) }()

	for i := range raw {
		q, err := x.receiveQubit(ctx)
		if err != nil {
			return nil, err
		}
		received++
		if bases[i] == 1 {
			if err := x.ep.ApplyBasisRotation(q); err != nil {
				return nil, err
			}
		}
		m, err := x.ep.Measure(q)
		if err != nil {
			return nil, err
		}
		raw[i] = m
	}
	return raw, nil
}
