package link

import (
	"fmt"
	"strings"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// Verdict is the Eavesdropping Monitor's judgement of one link.
type Verdict struct {
	ErrorRate float64
	Threshold float64
	Safe      bool
}

// String returns "SAFE" or "NOT SAFE".
func (v Verdict) String() string {
	if v.Safe {
		return "SAFE"
	}
	return "NOT SAFE"
}

// Monitor compares a link's error rate against a threshold.
type Monitor struct {
	Threshold float64
}

// Evaluate marks the link safe iff rate is strictly below the threshold.
func (m Monitor) Evaluate(rate float64) Verdict {
	return Verdict{
		ErrorRate: rate,
		Threshold: m.Threshold,
		Safe:      rate < m.Threshold,
	}
}

// Policy decides what an unsafe verdict does to the relay chain.
type Policy int

const (
	// PolicyFlag records the verdict and keeps going
	PolicyFlag Policy = iota

	// PolicyAbort fails the hop with ErrEavesdropperDetected
	PolicyAbort
)

// String returns "flag" or "abort".
func (p Policy) String() string {
	if p == PolicyAbort {
		return "abort"
	}
	return "flag"
}

// ParsePolicy parses "flag" or "abort".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flag":
		return PolicyFlag, nil
	case "abort":
		return PolicyAbort, nil
	default:
		return PolicyFlag, fmt.Errorf("%w: unknown eavesdropper policy %q", qerrors.ErrInvalidConfig, s)
	}
}

// Apply returns an error when the policy rejects v.
func (p Policy) Apply(v Verdict) error {
	if v.Safe || p != PolicyAbort {
		return nil
	}
	return fmt.Errorf("%w: error rate %.2f%% at or above %.2f%%", qerrors.ErrEavesdropperDetected, v.ErrorRate, v.Threshold)
}
