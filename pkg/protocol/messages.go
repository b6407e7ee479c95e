// messages.go defines the frames exchanged on one link.
//
// BB84 flow (B92 replaces the first two frames with a symmetric Bases
// exchange and has no SiftMask):
//
//	Initiator                              Responder
//	    | ====== key_size qubits =========> |
//	    |                                   |
//	    | <-------- Bases ----------------- |
//	    | --------- SiftMask -------------> |
//	    | <-------- Ack ------------------- |  (ack mode)
//	    | --------- KeyDisclosure --------> |
//	    | <-------- ErrorRate ------------- |
//	    |                                   |
//	    | --------- Payload (seq -1) -----> |
//
// Either side may send an Alert instead of its next frame to abort the link.
package protocol

import (
	"fmt"
	"math"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// MessageType identifies the type of a classical frame.
type MessageType uint8

// Key-material, payload and signaling message types.
const (
	// MessageTypeBases carries one side's basis choices.
	MessageTypeBases MessageType = 0x01
	// MessageTypeSiftMask carries the initiator's basis-agreement mask.
	MessageTypeSiftMask MessageType = 0x02
	// MessageTypeAck carries the responder's sifted key length.
	MessageTypeAck MessageType = 0x03
	// MessageTypeKeyDisclosure carries the initiator's full sifted key.
	MessageTypeKeyDisclosure MessageType = 0x04
	// MessageTypeErrorRate carries the responder's error estimate.
	MessageTypeErrorRate MessageType = 0x05

	// MessageTypePayload carries ciphertext.
	MessageTypePayload MessageType = 0x10

	// MessageTypeAlert signals that the sender gave up the link.
	MessageTypeAlert MessageType = 0xF0
)

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeBases:
		return "Bases"
	case MessageTypeSiftMask:
		return "SiftMask"
	case MessageTypeAck:
		return "Ack"
	case MessageTypeKeyDisclosure:
		return "KeyDisclosure"
	case MessageTypeErrorRate:
		return "ErrorRate"
	case MessageTypePayload:
		return "Payload"
	case MessageTypeAlert:
		return "Alert"
	default:
		return "Unknown"
	}
}

// IsKeyMaterial reports whether frames of this type belong to the key
// exchange rather than to payload traffic.
func (mt MessageType) IsKeyMaterial() bool {
	switch mt {
	case MessageTypeBases, MessageTypeSiftMask, MessageTypeAck, MessageTypeKeyDisclosure, MessageTypeErrorRate:
		return true
	default:
		return false
	}
}

func (mt MessageType) carriesBits() bool {
	return mt == MessageTypeBases || mt == MessageTypeSiftMask || mt == MessageTypeKeyDisclosure
}

// AlertCode identifies why a link was aborted.
type AlertCode uint8

// Alert codes identifying specific error conditions.
const (
	// AlertCodeUnexpectedMessage indicates an unexpected frame was received.
	AlertCodeUnexpectedMessage AlertCode = 0x01
	// AlertCodeLengthMismatch indicates a disclosed array had the wrong length.
	AlertCodeLengthMismatch AlertCode = 0x02
	// AlertCodeTimeout indicates a channel wait expired.
	AlertCodeTimeout AlertCode = 0x03
	// AlertCodeInsufficientKey indicates sifting left too few bits.
	AlertCodeInsufficientKey AlertCode = 0x04
	// AlertCodeUnsupportedVersion indicates an incompatible schema version.
	AlertCodeUnsupportedVersion AlertCode = 0x05
	// AlertCodeEavesdropper indicates the link was dropped as unsafe.
	AlertCodeEavesdropper AlertCode = 0x06
	// AlertCodeInternalError indicates an internal implementation error.
	AlertCodeInternalError AlertCode = 0x07
	// AlertCodeAborted indicates the relay chain was aborted elsewhere.
	AlertCodeAborted AlertCode = 0x08
)

// String returns a human-readable name for the alert code.
func (c AlertCode) String() string {
	switch c {
	case AlertCodeUnexpectedMessage:
		return "unexpected_message"
	case AlertCodeLengthMismatch:
		return "length_mismatch"
	case AlertCodeTimeout:
		return "timeout"
	case AlertCodeInsufficientKey:
		return "insufficient_key"
	case AlertCodeUnsupportedVersion:
		return "unsupported_version"
	case AlertCodeEavesdropper:
		return "eavesdropper"
	case AlertCodeInternalError:
		return "internal_error"
	case AlertCodeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// AlertLevel indicates the severity of the alert.
type AlertLevel uint8

// Alert levels.
const (
	// AlertLevelWarning indicates a non-fatal condition.
	AlertLevelWarning AlertLevel = 0x01
	// AlertLevelFatal indicates the link is abandoned.
	AlertLevelFatal AlertLevel = 0x02
)

// BitsMessage carries an ordered bit sequence: bases, a sift mask or a
// disclosed key.
type BitsMessage struct {
	Type MessageType
	Bits crypto.BitString
}

// Validate checks the message.
func (m *BitsMessage) Validate() error {
	if !m.Type.carriesBits() {
		return fmt.Errorf("%w: %s does not carry bits", qerrors.ErrInvalidMessage, m.Type)
	}
	if len(m.Bits) > constants.MaxKeySize {
		return qerrors.ErrMessageTooLarge
	}
	for _, b := range m.Bits {
		if b > 1 {
			return fmt.Errorf("%w: bit value %d", qerrors.ErrInvalidMessage, b)
		}
	}
	return nil
}

// ErrorRateMessage carries a link's error estimate in percent.
type ErrorRateMessage struct {
	Rate float64
}

// Validate checks the message.
func (m *ErrorRateMessage) Validate() error {
	if math.IsNaN(m.Rate) || m.Rate < 0 || m.Rate > 100 {
		return fmt.Errorf("%w: error rate %v out of range", qerrors.ErrInvalidMessage, m.Rate)
	}
	return nil
}

// PayloadMessage carries ciphertext tagged with the payload sequence marker.
type PayloadMessage struct {
	Sequence int32
	Data     []byte
}

// Validate checks the message.
func (m *PayloadMessage) Validate() error {
	if m.Sequence != constants.PayloadSequence {
		return fmt.Errorf("%w: payload sequence %d", qerrors.ErrInvalidMessage, m.Sequence)
	}
	if len(m.Data) > constants.MaxPayloadSize {
		return qerrors.ErrMessageTooLarge
	}
	return nil
}

// AlertMessage signals an aborted link.
type AlertMessage struct {
	Level       AlertLevel
	Code        AlertCode
	Description string
}

// Validate checks the message.
func (m *AlertMessage) Validate() error {
	if m.Level != AlertLevelWarning && m.Level != AlertLevelFatal {
		return fmt.Errorf("%w: alert level %d", qerrors.ErrInvalidMessage, m.Level)
	}
	if len(m.Description) > constants.MaxAlertDescription {
		return qerrors.ErrMessageTooLarge
	}
	return nil
}

// Err converts the alert into an error that matches ErrPeerAborted.
func (m *AlertMessage) Err() error {
	return fmt.Errorf("%w: %s: %s", qerrors.ErrPeerAborted, m.Code, m.Description)
}
