package link

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// SessionState is the lifecycle state of one end of a link.
type SessionState int32

const (
	// SessionStateNew indicates no qubit has been exchanged yet
	SessionStateNew SessionState = iota

	// SessionStateTransmitting indicates qubits are in flight
	SessionStateTransmitting

	// SessionStateReconciling indicates bases are being compared
	SessionStateReconciling

	// SessionStateEstimating indicates the error rate is being estimated
	SessionStateEstimating

	// SessionStateEstablished indicates a sifted key and verdict are ready
	SessionStateEstablished

	// SessionStateFailed indicates the exchange stopped with an error
	SessionStateFailed
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case SessionStateNew:
		return "New"
	case SessionStateTransmitting:
		return "Transmitting"
	case SessionStateReconciling:
		return "Reconciling"
	case SessionStateEstimating:
		return "Estimating"
	case SessionStateEstablished:
		return "Established"
	case SessionStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Role indicates which end of the link a session is.
type Role int

const (
	// RoleInitiator sends the qubits and discloses its sifted key
	RoleInitiator Role = iota

	// RoleResponder measures the qubits and estimates the error rate
	RoleResponder
)

// String returns "initiator" or "responder".
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Session is one end of a key exchange. It is owned by the goroutine that
// runs the exchange and is read-only once Initiate or Respond returns.
type Session struct {
	// Unique session identifier
	ID string

	// Local and peer node IDs
	Local string
	Peer  string

	Role     Role
	Protocol constants.Protocol

	state atomic.Int32

	// Basis choices, 1 = diagonal
	LocalBases crypto.BitString
	PeerBases  crypto.BitString

	// Bits prepared (initiator) or measured (responder)
	RawBits crypto.BitString

	// Basis agreement mask over the compared window
	Mask crypto.BitString

	// Sifted key, at most KeyLength bits
	SiftedKey crypto.BitString

	// Estimated error rate in percent, two decimals
	ErrorRate float64
	Verdict   Verdict

	CreatedAt     time.Time
	EstablishedAt time.Time
	FinishedAt    time.Time

	mu  sync.Mutex
	err error
}

func newSession(local, peer string, role Role, p constants.Protocol) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Local:     local,
		Peer:      peer,
		Role:      role,
		Protocol:  p,
		CreatedAt: time.Now(),
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// transition moves the session from one state to the next.
func (s *Session) transition(from, to SessionState) error {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return qerrors.ErrInvalidState
	}
	return nil
}

func (s *Session) establish() error {
	if err := s.transition(SessionStateEstimating, SessionStateEstablished); err != nil {
		return err
	}
	s.EstablishedAt = time.Now()
	s.FinishedAt = s.EstablishedAt
	return nil
}

func (s *Session) fail(err error) {
	s.state.Store(int32(SessionStateFailed))
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.FinishedAt = time.Now()
}

// Err returns the terminal error of a failed session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Established reports whether the exchange produced a key.
func (s *Session) Established() bool {
	return s.State() == SessionStateEstablished
}

// Key returns the sifted key packed into bytes.
func (s *Session) Key() []byte {
	return s.SiftedKey.Pack()
}

// Fingerprint returns a loggable digest of the sifted key.
func (s *Session) Fingerprint() string {
	return crypto.Fingerprint(s.SiftedKey)
}

// Duration returns how long the exchange took, or zero while it runs.
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.CreatedAt)
}

// Zeroize clears all key material held by the session.
func (s *Session) Zeroize() {
	s.RawBits.Zeroize()
	s.SiftedKey.Zeroize()
}
