package link

import (
	"context"
	"errors"
	"time"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/channel"
	"github.com/sara-star-quant/qkdnet/pkg/protocol"
)

// receiveFrame reads the next frame from peer and turns an Alert into an
// error matching ErrPeerAborted.
func receiveFrame(ctx context.Context, codec *protocol.Codec, ep channel.Classical, peer string, wait time.Duration) ([]byte, error) {
	frame, err := ep.ReceiveClassical(ctx, peer, wait)
	if err != nil {
		return nil, err
	}
	t, err := codec.GetMessageType(frame)
	if err != nil {
		return nil, err
	}
	if t == protocol.MessageTypeAlert {
		alert, err := codec.DecodeAlert(frame)
		if err != nil {
			return nil, err
		}
		return nil, alert.Err()
	}
	return frame, nil
}

// sendAlert tells peer the link is gone. It ignores the caller's
// cancellation and gives up after AlertTimeout.
func sendAlert(ctx context.Context, codec *protocol.Codec, ep channel.Classical, peer string, cause error) {
	frame, err := codec.EncodeAlert(&protocol.AlertMessage{
		Level:       protocol.AlertLevelFatal,
		Code:        alertCode(cause),
		Description: cause.Error(),
	})
	if err != nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.AlertTimeout)
	defer cancel()
	_ = ep.SendClassical(actx, peer, frame, constants.AlertTimeout)
}

func alertCode(err error) protocol.AlertCode {
	switch {
	case qerrors.IsTimeout(err):
		return protocol.AlertCodeTimeout
	case errors.Is(err, qerrors.ErrLengthMismatch):
		return protocol.AlertCodeLengthMismatch
	case errors.Is(err, qerrors.ErrInsufficientKey):
		return protocol.AlertCodeInsufficientKey
	case errors.Is(err, qerrors.ErrUnsupportedVersion):
		return protocol.AlertCodeUnsupportedVersion
	case errors.Is(err, qerrors.ErrUnexpectedMessage), errors.Is(err, qerrors.ErrInvalidMessage):
		return protocol.AlertCodeUnexpectedMessage
	case errors.Is(err, qerrors.ErrEavesdropperDetected):
		return protocol.AlertCodeEavesdropper
	case errors.Is(err, qerrors.ErrAborted), errors.Is(err, context.Canceled):
		return protocol.AlertCodeAborted
	default:
		return protocol.AlertCodeInternalError
	}
}

// SendPayload sends ciphertext to peer in a Payload frame.
func SendPayload(ctx context.Context, ep channel.Classical, peer string, ciphertext []byte, wait time.Duration) error {
	frame, err := protocol.NewCodec().EncodePayload(&protocol.PayloadMessage{
		Sequence: constants.PayloadSequence,
		Data:     ciphertext,
	})
	if err != nil {
		return err
	}
	return ep.SendClassical(ctx, peer, frame, wait)
}

// ReceivePayload waits for a Payload frame from peer and returns its
// ciphertext.
func ReceivePayload(ctx context.Context, ep channel.Classical, peer string, wait time.Duration) ([]byte, error) {
	codec := protocol.NewCodec()
	frame, err := receiveFrame(ctx, codec, ep, peer, wait)
	if err != nil {
		return nil, err
	}
	msg, err := codec.DecodePayload(frame)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Abort sends peer a best-effort Alert carrying cause.
func Abort(ctx context.Context, ep channel.Classical, peer string, cause error) {
	sendAlert(ctx, protocol.NewCodec(), ep, peer, cause)
}
