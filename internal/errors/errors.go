// Package errors defines the error taxonomy of the QKD network simulator.
// Typed errors carry enough context to attribute a failure to one link and
// hop, and unwrap to a sentinel so callers can match with errors.Is.
// Key material never appears in an error message.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for topology resolution
var (
	// ErrTopology indicates a malformed topology or role assignment
	ErrTopology = errors.New("topology: invalid topology")

	// ErrNoPath indicates there is no simple path from sender to receiver
	ErrNoPath = errors.New("topology: no path from sender to receiver")

	// ErrUnknownNode indicates a node ID that is not part of the graph
	ErrUnknownNode = errors.New("topology: unknown node")
)

// Sentinel errors for channel operations
var (
	// ErrChannelTimeout indicates a quantum or classical wait exceeded its bound
	ErrChannelTimeout = errors.New("channel: wait timed out")

	// ErrNoRoute indicates two nodes have no connection in the network
	ErrNoRoute = errors.New("channel: no route between nodes")

	// ErrNetworkClosed indicates the network has been torn down
	ErrNetworkClosed = errors.New("channel: network closed")

	// ErrForeignQubit indicates a qubit handle from another simulator
	ErrForeignQubit = errors.New("channel: qubit does not belong to this simulator")

	// ErrQubitMeasured indicates an operation on an already measured qubit
	ErrQubitMeasured = errors.New("channel: qubit already measured")
)

// Sentinel errors for classical message handling
var (
	// ErrInvalidMessage indicates a classical frame is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrUnsupportedVersion indicates an unsupported message schema version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnexpectedMessage indicates a well-formed frame of the wrong type
	ErrUnexpectedMessage = errors.New("protocol: unexpected message type")

	// ErrMessageTooLarge indicates a frame exceeds codec limits
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrPeerAborted indicates the peer sent an alert and gave up the link
	ErrPeerAborted = errors.New("protocol: peer aborted link")
)

// Sentinel errors for key exchange
var (
	// ErrLengthMismatch indicates a disclosed array does not match the local count
	ErrLengthMismatch = errors.New("link: length mismatch")

	// ErrInsufficientKey indicates sifting left too little key material
	ErrInsufficientKey = errors.New("link: insufficient key material")

	// ErrInvalidState indicates an operation in the wrong session state
	ErrInvalidState = errors.New("link: invalid state")

	// ErrEavesdropperDetected indicates an unsafe link under an abort policy
	ErrEavesdropperDetected = errors.New("link: eavesdropper detected")
)

// Sentinel errors for cipher operations
var (
	// ErrEmptyKey indicates a cipher key with no bytes
	ErrEmptyKey = errors.New("cipher: empty key")

	// ErrInvalidKeySize indicates a key size outside the allowed range
	ErrInvalidKeySize = errors.New("cipher: invalid key size")
)

// Sentinel errors for configuration and orchestration
var (
	// ErrInvalidConfig indicates parameters or scenario failed validation
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrAborted indicates a node task stopped because the relay chain failed
	ErrAborted = errors.New("relay: chain aborted")

	// ErrNotDelivered indicates the receiver never produced a plaintext
	ErrNotDelivered = errors.New("relay: message not delivered")
)

// TopologyError reports a malformed topology.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrTopology, e.Reason)
}

func (e *TopologyError) Unwrap() error {
	return ErrTopology
}

// NewTopologyError creates a TopologyError with a formatted reason.
func NewTopologyError(format string, args ...interface{}) *TopologyError {
	return &TopologyError{Reason: fmt.Sprintf(format, args...)}
}

// NoPathError reports that the receiver is unreachable from the sender.
type NoPathError struct {
	Sender   string
	Receiver string
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("%v (%s -> %s)", ErrNoPath, e.Sender, e.Receiver)
}

func (e *NoPathError) Unwrap() error {
	return ErrNoPath
}

// ChannelTimeoutError reports a channel wait that exceeded its bound.
type ChannelTimeoutError struct {
	Channel string // "quantum" or "classical"
	Op      string // "send" or "receive"
	From    string
	To      string
	Timeout time.Duration
}

func (e *ChannelTimeoutError) Error() string {
	return fmt.Sprintf("%v: %s %s %s -> %s after %s", ErrChannelTimeout, e.Channel, e.Op, e.From, e.To, e.Timeout)
}

func (e *ChannelTimeoutError) Unwrap() error {
	return ErrChannelTimeout
}

// LengthMismatchError reports a disclosed array whose length differs from
// the local count.
type LengthMismatchError struct {
	Field string
	Want  int
	Got   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("%v: %s has %d entries, want %d", ErrLengthMismatch, e.Field, e.Got, e.Want)
}

func (e *LengthMismatchError) Unwrap() error {
	return ErrLengthMismatch
}

// LinkError attributes a failure to one hop of the relay path.
type LinkError struct {
	Hop  int    // Index of the hop on the relay path
	From string // Initiating node
	To   string // Responding node
	Node string // Node that observed the failure
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("hop %d (%s -> %s) at %s: %v", e.Hop, e.From, e.To, e.Node, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// NewLinkError creates a new LinkError
func NewLinkError(hop int, from, to, node string, err error) *LinkError {
	return &LinkError{Hop: hop, From: from, To: to, Node: node, Err: err}
}

// CryptoError wraps a cipher error with the failed operation
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a key exchange error with the phase it happened in
type ProtocolError struct {
	Phase string // e.g. "transmit", "reconcile", "estimate"
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// IsTimeout reports whether err is a channel timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrChannelTimeout)
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
