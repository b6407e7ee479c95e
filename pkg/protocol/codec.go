// codec.go implements serialization and deserialization of classical frames.
//
// Wire Format:
//
// All frames follow this structure:
//
//	+------+---------+--------+----------+
//	| Type | Version | Length | Payload  |
//	| 1B   | 2B      | 4B BE  | Variable |
//	+------+---------+--------+----------+
//
// Length is big-endian uint32, not including header bytes.
//
// Bits payload (Bases, SiftMask, KeyDisclosure):
//
//	+-----------+-----------------------------+
//	| Count     | Packed bits, MSB first      |
//	| 4B BE     | ceil(Count/8)B, zero padded |
//	+-----------+-----------------------------+
//
// Ack payload: Count (4B BE). ErrorRate payload: hundredths of a percent
// (4B BE, at most 10000). Payload payload: Sequence (4B BE, signed) and
// Data (rest). Alert payload: Level (1B), Code (1B), DescLen (1B), Desc.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// HeaderSize is the size of the frame header in bytes.
const HeaderSize = 7

// MaxFrameSize bounds any single frame.
const MaxFrameSize = HeaderSize + 8 + constants.MaxPayloadSize

// Codec provides frame serialization and deserialization.
type Codec struct {
	version Version
}

// NewCodec creates a codec that writes the current schema version.
func NewCodec() *Codec {
	return &Codec{version: Current}
}

// NewCodecWithVersion creates a codec that writes the given schema version.
// Frames are accepted when their major version matches.
func NewCodecWithVersion(v Version) *Codec {
	return &Codec{version: v}
}

// Version returns the schema version this codec writes.
func (c *Codec) Version() Version {
	return c.version
}

func (c *Codec) frame(t MessageType, payloadSize int) []byte {
	buf := make([]byte, HeaderSize+payloadSize)
	buf[0] = byte(t)
	buf[1] = c.version.Major
	buf[2] = c.version.Minor
	//nolint:gosec // G115: payloadSize is bounded by MaxFrameSize
	binary.BigEndian.PutUint32(buf[3:], uint32(payloadSize))
	return buf
}

// payload validates the header of data against the expected type and
// returns the payload bytes.
func (c *Codec) payload(data []byte, want MessageType) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	if len(data) > MaxFrameSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	if got := MessageType(data[0]); got != want {
		return nil, fmt.Errorf("%w: got %s, want %s", qerrors.ErrUnexpectedMessage, got, want)
	}
	if v := ParseVersion(data[1:3]); !c.version.IsCompatible(v) {
		return nil, fmt.Errorf("%w: %s", qerrors.ErrUnsupportedVersion, v)
	}
	payloadLen := binary.BigEndian.Uint32(data[3:HeaderSize])
	if uint64(payloadLen) != uint64(len(data)-HeaderSize) {
		return nil, qerrors.ErrInvalidMessage
	}
	return data[HeaderSize:], nil
}

// EncodeBits serializes a bits frame.
func (c *Codec) EncodeBits(m *BitsMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	packed := m.Bits.PackPadded()
	buf := c.frame(m.Type, 4+len(packed))
	//nolint:gosec // G115: bit count is bounded by MaxKeySize
	binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(len(m.Bits)))
	copy(buf[HeaderSize+4:], packed)
	return buf, nil
}

// DecodeBits deserializes a bits frame of the given type.
func (c *Codec) DecodeBits(want MessageType, data []byte) (*BitsMessage, error) {
	if !want.carriesBits() {
		return nil, fmt.Errorf("%w: %s does not carry bits", qerrors.ErrInvalidMessage, want)
	}
	p, err := c.payload(data, want)
	if err != nil {
		return nil, err
	}
	if len(p) < 4 {
		return nil, qerrors.ErrInvalidMessage
	}
	count := binary.BigEndian.Uint32(p)
	if count > constants.MaxKeySize {
		return nil, qerrors.ErrMessageTooLarge
	}
	packed := p[4:]
	if len(packed) != (int(count)+7)/8 {
		return nil, qerrors.ErrInvalidMessage
	}
	// Padding bits must be zero so every bit sequence has one encoding.
	if rem := count % 8; rem != 0 && packed[len(packed)-1]&(0xFF>>rem) != 0 {
		return nil, qerrors.ErrInvalidMessage
	}
	return &BitsMessage{Type: want, Bits: crypto.Unpack(packed, int(count))}, nil
}

// EncodeAck serializes an acknowledgment of count sifted bits.
func (c *Codec) EncodeAck(count int) ([]byte, error) {
	if count < 0 || count > constants.MaxKeySize {
		return nil, fmt.Errorf("%w: ack count %d", qerrors.ErrInvalidMessage, count)
	}
	buf := c.frame(MessageTypeAck, 4)
	binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(count))
	return buf, nil
}

// DecodeAck deserializes an acknowledgment.
func (c *Codec) DecodeAck(data []byte) (int, error) {
	p, err := c.payload(data, MessageTypeAck)
	if err != nil {
		return 0, err
	}
	if len(p) != 4 {
		return 0, qerrors.ErrInvalidMessage
	}
	count := binary.BigEndian.Uint32(p)
	if count > constants.MaxKeySize {
		return 0, qerrors.ErrInvalidMessage
	}
	return int(count), nil
}

// EncodeErrorRate serializes an error estimate with two-decimal precision.
func (c *Codec) EncodeErrorRate(m *ErrorRateMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := c.frame(MessageTypeErrorRate, 4)
	binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(math.Round(m.Rate*100)))
	return buf, nil
}

// DecodeErrorRate deserializes an error estimate.
func (c *Codec) DecodeErrorRate(data []byte) (*ErrorRateMessage, error) {
	p, err := c.payload(data, MessageTypeErrorRate)
	if err != nil {
		return nil, err
	}
	if len(p) != 4 {
		return nil, qerrors.ErrInvalidMessage
	}
	hundredths := binary.BigEndian.Uint32(p)
	if hundredths > constants.MaxErrorRateHundredths {
		return nil, fmt.Errorf("%w: error rate %d/100 out of range", qerrors.ErrInvalidMessage, hundredths)
	}
	return &ErrorRateMessage{Rate: float64(hundredths) / 100}, nil
}

// EncodePayload serializes a ciphertext frame.
func (c *Codec) EncodePayload(m *PayloadMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := c.frame(MessageTypePayload, 4+len(m.Data))
	//nolint:gosec // G115: sequence is a signed marker carried bit-for-bit
	binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(m.Sequence))
	copy(buf[HeaderSize+4:], m.Data)
	return buf, nil
}

// DecodePayload deserializes a ciphertext frame.
func (c *Codec) DecodePayload(data []byte) (*PayloadMessage, error) {
	p, err := c.payload(data, MessageTypePayload)
	if err != nil {
		return nil, err
	}
	if len(p) < 4 {
		return nil, qerrors.ErrInvalidMessage
	}
	m := &PayloadMessage{
		//nolint:gosec // G115: reinterpreting the signed marker
		Sequence: int32(binary.BigEndian.Uint32(p)),
		Data:     make([]byte, len(p)-4),
	}
	copy(m.Data, p[4:])
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeAlert serializes an alert. Long descriptions are truncated.
func (c *Codec) EncodeAlert(m *AlertMessage) ([]byte, error) {
	desc := m.Description
	if len(desc) > constants.MaxAlertDescription {
		desc = desc[:constants.MaxAlertDescription]
	}
	msg := AlertMessage{Level: m.Level, Code: m.Code, Description: desc}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	buf := c.frame(MessageTypeAlert, 3+len(desc))
	buf[HeaderSize] = byte(msg.Level)
	buf[HeaderSize+1] = byte(msg.Code)
	buf[HeaderSize+2] = byte(len(desc))
	copy(buf[HeaderSize+3:], desc)
	return buf, nil
}

// DecodeAlert deserializes an alert.
func (c *Codec) DecodeAlert(data []byte) (*AlertMessage, error) {
	p, err := c.payload(data, MessageTypeAlert)
	if err != nil {
		return nil, err
	}
	if len(p) < 3 {
		return nil, qerrors.ErrInvalidMessage
	}
	descLen := int(p[2])
	if len(p) != 3+descLen {
		return nil, qerrors.ErrInvalidMessage
	}
	m := &AlertMessage{
		Level:       AlertLevel(p[0]),
		Code:        AlertCode(p[1]),
		Description: string(p[3:]),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessageType returns the type of a serialized frame.
func (c *Codec) GetMessageType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, qerrors.ErrInvalidMessage
	}
	return MessageType(data[0]), nil
}
