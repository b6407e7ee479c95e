// Package channel defines the transport capabilities a QKD link runs over.
//
// The key exchange engine only sees these interfaces. Any backing
// implementation, simulated or physical, can carry a link as long as it
// honors the bounded-wait contract: every send and receive returns within
// its timeout (or when the context ends) with a *ChannelTimeoutError from
// internal/errors on expiry. The key exchange engine always passes a
// positive timeout. Implementations may treat zero or less as unbounded.
package channel

import (
	"context"
	"time"
)

// Qubit is an opaque handle to a qubit owned by a Quantum implementation.
type Qubit interface {
	ID() uint64
}

// Quantum creates, transforms, measures and transmits qubits.
type Quantum interface {
	// CreateQubit prepares a qubit in |0> owned by the local node.
	CreateQubit() (Qubit, error)

	// CreateEntangledPair prepares the Bell state (|00> + |11>)/sqrt(2).
	CreateEntangledPair() (Qubit, Qubit, error)

	// ApplyBitFlip applies the X gate.
	ApplyBitFlip(q Qubit) error

	// ApplyBasisRotation applies the Hadamard gate.
	ApplyBasisRotation(q Qubit) error

	// Measure measures in the computational basis, collapsing the state.
	Measure(q Qubit) (byte, error)

	// SendQubit transfers q to dest.
	SendQubit(ctx context.Context, dest string, q Qubit, timeout time.Duration) error

	// ReceiveQubit waits for the next qubit from a peer.
	ReceiveQubit(ctx context.Context, from string, timeout time.Duration) (Qubit, error)
}

// Classical exchanges encoded frames in order between two nodes.
type Classical interface {
	SendClassical(ctx context.Context, dest string, frame []byte, timeout time.Duration) error
	ReceiveClassical(ctx context.Context, from string, timeout time.Duration) ([]byte, error)
}

// Endpoint is one node's view of both channels.
type Endpoint interface {
	ID() string
	Quantum
	Classical
}
