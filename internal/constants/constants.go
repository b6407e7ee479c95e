// Package constants defines protocol defaults and limits for the QKD network
// simulator.
//
// Defaults follow the reference deployment: 180 raw qubits per link, sifted
// keys truncated to 13 bits, a 10% error-rate threshold and a 10 second
// channel wait.
package constants

import (
	"strings"
	"time"
)

// Message schema version and identification
const (
	// SchemaVersionMajor is the major version of the classical message schema
	SchemaVersionMajor uint8 = 1

	// SchemaVersionMinor is the minor version of the classical message schema
	SchemaVersionMinor uint8 = 0
)

// Key exchange defaults
const (
	// DefaultKeySize is the number of raw qubits exchanged per link
	DefaultKeySize = 180

	// DefaultKeyLength is the post-sift truncation length in bits
	DefaultKeyLength = 13

	// DefaultErrorRateThreshold is the error rate (percent) at or above which
	// a link is flagged unsafe
	DefaultErrorRateThreshold = 10.0

	// DefaultWaitTime bounds every quantum and classical channel wait
	DefaultWaitTime = 10 * time.Second

	// DefaultAckMode enables the receiver's sifted-length acknowledgment
	DefaultAckMode = true

	// DefaultRunAlternate runs a second path after the primary delivers
	DefaultRunAlternate = true

	// B92SampleDivisor sets the B92 reconciliation window to KeySize/4
	B92SampleDivisor = 4
)

// Eavesdropper defaults
const (
	// DefaultSpyProbability is the chance a spy disturbs a qubit in transit.
	// Matches a uniform draw from 0..9 landing above 1.
	DefaultSpyProbability = 0.8
)

// Payload framing
const (
	// PayloadSequence marks ciphertext frames, distinct from key material
	PayloadSequence int32 = -1
)

// Limits
const (
	// MaxKeySize is the largest raw qubit count accepted per link
	MaxKeySize = 1 << 16

	// MaxPayloadSize is the largest ciphertext carried in one frame
	MaxPayloadSize = 1 << 20

	// MaxAlertDescription bounds alert description text
	MaxAlertDescription = 255

	// MaxErrorRateHundredths is 100.00% in fixed point
	MaxErrorRateHundredths = 10000

	// DefaultQueueCapacity is the per-direction buffer of each network link
	DefaultQueueCapacity = 1024

	// AlertTimeout bounds the best-effort alert sent when a link fails
	AlertTimeout = 250 * time.Millisecond
)

// Fingerprints
const (
	// FingerprintSize is the SHAKE-256 output size of key fingerprints in bytes
	FingerprintSize = 8

	// DomainSeparatorFingerprint is used when fingerprinting sifted keys
	DomainSeparatorFingerprint = "QKDNET-KeyFingerprint"

	// DomainSeparatorSeed is used when expanding a user seed into a random stream
	DomainSeparatorSeed = "QKDNET-Seed"
)

// Protocol identifies the key exchange variant.
type Protocol uint8

const (
	// ProtocolBB84 uses prepare-and-measure with a sift mask
	ProtocolBB84 Protocol = 0x01

	// ProtocolB92 uses entangled pairs with symmetric basis disclosure
	ProtocolB92 Protocol = 0x02
)

// String returns a human-readable name for the protocol
func (p Protocol) String() string {
	switch p {
	case ProtocolBB84:
		return "BB84"
	case ProtocolB92:
		return "B92"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the protocol is supported
func (p Protocol) IsSupported() bool {
	return p == ProtocolBB84 || p == ProtocolB92
}

// ParseProtocol parses a protocol name, case-insensitively.
func ParseProtocol(s string) (Protocol, bool) {
	switch strings.ToLower(s) {
	case "bb84":
		return ProtocolBB84, true
	case "b92":
		return ProtocolB92, true
	default:
		return 0, false
	}
}
