// Package qsim is a small state-vector simulator that backs the Quantum
// Channel in tests and simulations.
//
// Qubits live in registers. A fresh qubit gets its own one-qubit register;
// entangling gates merge registers by tensor product. Measurement collapses
// the register and renormalizes it. All operations serialize on one mutex,
// which is plenty for the handful of qubits a link holds at a time.
package qsim

import (
	"io"
	"math"
	"sync"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// Qubit is a handle to one simulated qubit.
type Qubit struct {
	id       uint64
	sim      *Simulator
	reg      *register
	index    int // bit position within reg
	measured bool
	value    byte
}

// ID returns the qubit's unique identifier.
func (q *Qubit) ID() uint64 {
	return q.id
}

type register struct {
	amps   []complex128
	qubits []*Qubit
}

// Simulator owns all qubits it creates.
type Simulator struct {
	mu     sync.Mutex
	rng    io.Reader
	nextID uint64
}

// New creates a simulator that draws measurement outcomes from rng.
// A nil rng uses crypto.Reader.
func New(rng io.Reader) *Simulator {
	if rng == nil {
		rng = crypto.Reader
	}
	return &Simulator{rng: rng}
}

// NewQubit prepares a qubit in |0>.
func (s *Simulator) NewQubit() *Qubit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newQubitLocked()
}

func (s *Simulator) newQubitLocked() *Qubit {
	s.nextID++
	q := &Qubit{id: s.nextID, sim: s, index: 0}
	q.reg = &register{amps: []complex128{1, 0}, qubits: []*Qubit{q}}
	return q
}

// NewBellPair prepares (|00> + |11>)/sqrt(2).
func (s *Simulator) NewBellPair() (*Qubit, *Qubit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.newQubitLocked()
	b := s.newQubitLocked()
	s.hadamardLocked(a)
	s.cnotLocked(a, b)
	return a, b
}

// X applies the Pauli X gate.
func (s *Simulator) X(q *Qubit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(q); err != nil {
		return err
	}
	mask := 1 << q.index
	amps := q.reg.amps
	for i := range amps {
		if i&mask == 0 {
			amps[i], amps[i|mask] = amps[i|mask], amps[i]
		}
	}
	return nil
}

// H applies the Hadamard gate.
func (s *Simulator) H(q *Qubit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(q); err != nil {
		return err
	}
	s.hadamardLocked(q)
	return nil
}

func (s *Simulator) hadamardLocked(q *Qubit) {
	mask := 1 << q.index
	amps := q.reg.amps
	for i := range amps {
		if i&mask == 0 {
			a, b := amps[i], amps[i|mask]
			amps[i] = (a + b) * math.Sqrt2 / 2
			amps[i|mask] = (a - b) * math.Sqrt2 / 2
		}
	}
}

// CNOT flips target when control is |1>.
func (s *Simulator) CNOT(control, target *Qubit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(control); err != nil {
		return err
	}
	if err := s.check(target); err != nil {
		return err
	}
	s.cnotLocked(control, target)
	return nil
}

func (s *Simulator) cnotLocked(control, target *Qubit) {
	if control.reg != target.reg {
		merge(control.reg, target.reg)
	}
	cmask := 1 << control.index
	tmask := 1 << target.index
	amps := control.reg.amps
	for i := range amps {
		if i&cmask != 0 && i&tmask == 0 {
			amps[i], amps[i|tmask] = amps[i|tmask], amps[i]
		}
	}
}

// merge folds b into a as the high-order qubits of a ⊗ b.
func merge(a, b *register) {
	n := len(a.qubits)
	amps := make([]complex128, len(a.amps)*len(b.amps))
	for j, bv := range b.amps {
		if bv == 0 {
			continue
		}
		for i, av := range a.amps {
			amps[i|j<<n] = av * bv
		}
	}
	for _, q := range b.qubits {
		q.reg = a
		q.index += n
	}
	a.amps = amps
	a.qubits = append(a.qubits, b.qubits...)
}

// Measure measures q in the computational basis.
func (s *Simulator) Measure(q *Qubit) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(q); err != nil {
		return 0, err
	}

	mask := 1 << q.index
	amps := q.reg.amps
	var p1 float64
	for i, a := range amps {
		if i&mask != 0 {
			p1 += real(a)*real(a) + imag(a)*imag(a)
		}
	}

	r, err := crypto.RandomFloat(s.rng)
	if err != nil {
		return 0, err
	}
	var outcome byte
	if r < p1 {
		outcome = 1
	}

	// Collapse and renormalize.
	var norm float64
	for i, a := range amps {
		if (i&mask != 0) != (outcome == 1) {
			amps[i] = 0
			continue
		}
		norm += real(a)*real(a) + imag(a)*imag(a)
	}
	scale := complex(1/math.Sqrt(norm), 0)
	for i := range amps {
		amps[i] *= scale
	}

	q.measured = true
	q.value = outcome
	return outcome, nil
}

// Probability returns the chance that measuring q yields 1.
func (s *Simulator) Probability(q *Qubit) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(q); err != nil {
		return 0, err
	}
	mask := 1 << q.index
	var p1 float64
	for i, a := range q.reg.amps {
		if i&mask != 0 {
			p1 += real(a)*real(a) + imag(a)*imag(a)
		}
	}
	return p1, nil
}

func (s *Simulator) check(q *Qubit) error {
	if q == nil || q.sim != s {
		return qerrors.ErrForeignQubit
	}
	if q.measured {
		return qerrors.ErrQubitMeasured
	}
	return nil
}
