package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/sara-star-quant/qkdnet/pkg/network"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

// Report is the outcome of Run.
type Report struct {
	Resolution *topology.Resolution
	Primary    *PathReport
	// Alternate is nil unless a second path was run.
	Alternate *PathReport
}

// Delivered reports whether every path that ran delivered the message
// intact.
func (r *Report) Delivered() bool {
	if r == nil || r.Primary == nil || !r.Primary.Intact {
		return false
	}
	return r.Alternate == nil || r.Alternate.Intact
}

// PathReport describes one message delivery over one path.
type PathReport struct {
	RunID     string
	Path      topology.Path
	RelayPath topology.Path
	Hops      []HopReport
	Relays    []RelayReport

	// Delivered is the plaintext the receiver decrypted, empty if it never
	// got that far.
	Delivered string

	// Intact is true when Delivered equals the message sent.
	Intact bool

	// Traffic counts what crossed the simulated network, including the
	// qubits spies intercepted and disturbed.
	Traffic network.Stats

	Duration time.Duration
	Err      error
}

// Unsafe returns the hops whose verdict flagged an eavesdropper.
func (p *PathReport) Unsafe() []HopReport {
	var out []HopReport
	for _, h := range p.Hops {
		if h.Established && !h.Safe {
			out = append(out, h)
		}
	}
	return out
}

// Safe reports whether every hop established a key judged safe.
func (p *PathReport) Safe() bool {
	for _, h := range p.Hops {
		if !h.Established || !h.Safe {
			return false
		}
	}
	return len(p.Hops) > 0
}

// HopReport describes the key exchange on one hop.
type HopReport struct {
	Index    int
	From     string
	To       string
	Spies    []string
	Protocol string

	// Established is true when both ends finished the exchange.
	Established bool

	SiftedKeyLength int
	// ErrorRate is the estimated bit error rate in percent.
	ErrorRate float64
	Safe      bool

	// Fingerprints of the sifted keys held by each end. They differ when
	// the qubits were disturbed.
	SenderFingerprint   string
	ReceiverFingerprint string

	Err error
}

// KeysAgree reports whether both ends hold the same sifted key.
func (h HopReport) KeysAgree() bool {
	return h.SenderFingerprint != "" && h.SenderFingerprint == h.ReceiverFingerprint
}

// String renders the hop as "A -> B (via E): 13 bits, 4.17% SAFE".
func (h HopReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s", h.From, h.To)
	if len(h.Spies) > 0 {
		fmt.Fprintf(&b, " (via %s)", strings.Join(h.Spies, ", "))
	}
	switch {
	case h.Err != nil && !h.Established:
		fmt.Fprintf(&b, ": failed: %v", h.Err)
	case h.Safe:
		fmt.Fprintf(&b, ": %d bits, %.2f%% SAFE", h.SiftedKeyLength, h.ErrorRate)
	default:
		fmt.Fprintf(&b, ": %d bits, %.2f%% NOT SAFE", h.SiftedKeyLength, h.ErrorRate)
	}
	return b.String()
}

// RelayReport describes the key composition at one relay.
type RelayReport struct {
	Node              string
	ComposedKeyLength int
}
