package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sara-star-quant/qkdnet/pkg/config"
	"github.com/sara-star-quant/qkdnet/pkg/relay"
	"github.com/sara-star-quant/qkdnet/pkg/topology"
)

type renderer struct {
	w      io.Writer
	title  lipgloss.Style
	label  lipgloss.Style
	hop    lipgloss.Style
	safe   lipgloss.Style
	unsafe lipgloss.Style
	failed lipgloss.Style
	dim    lipgloss.Style
}

func newRenderer(w io.Writer, noColor bool) *renderer {
	lr := lipgloss.NewRenderer(w)
	r := &renderer{
		w:      w,
		title:  lr.NewStyle().Bold(true),
		label:  lr.NewStyle().Width(14),
		hop:    lr.NewStyle().Width(36),
		safe:   lr.NewStyle().Bold(true),
		unsafe: lr.NewStyle().Bold(true),
		failed: lr.NewStyle().Bold(true),
		dim:    lr.NewStyle(),
	}
	if !noColor {
		r.title = r.title.Foreground(lipgloss.Color("14"))
		r.safe = r.safe.Foreground(lipgloss.Color("10"))
		r.unsafe = r.unsafe.Foreground(lipgloss.Color("9"))
		r.failed = r.failed.Foreground(lipgloss.Color("9"))
		r.dim = r.dim.Foreground(lipgloss.Color("8"))
	}
	return r
}

func (r *renderer) line(label, value string) {
	fmt.Fprintf(r.w, "%s%s\n", r.label.Render(label), value)
}

func (r *renderer) scenario(s *config.Scenario) {
	p := s.Params
	fmt.Fprintln(r.w, r.title.Render("Scenario"))
	r.line("message", fmt.Sprintf("%q", s.Message))
	r.line("protocol", strings.ToUpper(p.Protocol))
	r.line("key size", fmt.Sprintf("%d qubits, sifted key up to %d bits", p.KeySize, p.KeyLength))
	r.line("threshold", fmt.Sprintf("%.2f%%", p.ErrorRateThreshold))
	r.line("spies", fmt.Sprintf("flip probability %.2f", p.SpyProbability))
	if p.Seed != "" {
		r.line("seed", p.Seed)
	}
	fmt.Fprintln(r.w)
}

func (r *renderer) report(rep *relay.Report) {
	if rep.Resolution != nil {
		r.paths(rep.Resolution)
	}
	if rep.Primary != nil {
		r.path("Primary path", rep.Primary)
	}
	if rep.Alternate != nil {
		r.path("Alternate path", rep.Alternate)
	}
}

func (r *renderer) paths(res *topology.Resolution) {
	fmt.Fprintln(r.w, r.title.Render("Paths"))
	for _, p := range res.All {
		mark := " "
		for _, m := range res.MinHop {
			if m.Equal(p) {
				mark = "*"
				break
			}
		}
		fmt.Fprintf(r.w, "  %s %s\n", mark, p)
	}
	fmt.Fprintln(r.w, r.dim.Render(fmt.Sprintf("  * minimum hops (%d)", res.MinHops)))
	fmt.Fprintln(r.w)
}

func (r *renderer) path(title string, p *relay.PathReport) {
	fmt.Fprintln(r.w, r.title.Render(title))
	r.line("path", p.Path.String())
	r.line("relay path", p.RelayPath.String())
	r.line("run", p.RunID)

	for _, h := range p.Hops {
		name := fmt.Sprintf("%s -> %s", h.From, h.To)
		if len(h.Spies) > 0 {
			name += fmt.Sprintf(" (via %s)", strings.Join(h.Spies, ", "))
		}
		fmt.Fprintf(r.w, "  hop %d  %s%s\n", h.Index, r.hop.Render(name), r.verdict(h))
	}
	for _, rr := range p.Relays {
		r.line("relay "+rr.Node, fmt.Sprintf("composed key %d bits", rr.ComposedKeyLength))
	}
	tr := p.Traffic
	traffic := fmt.Sprintf("%d qubits, %d frames", tr.QubitsSent, tr.FramesSent)
	if tr.QubitsIntercept > 0 {
		traffic += fmt.Sprintf(", %d intercepted, %d disturbed", tr.QubitsIntercept, tr.QubitsDisturbed)
	}
	r.line("traffic", r.dim.Render(traffic))

	switch {
	case p.Err != nil:
		r.line("result", r.failed.Render("FAILED")+" "+p.Err.Error())
	case p.Intact:
		r.line("delivered", fmt.Sprintf("%q", p.Delivered))
		r.line("result", r.safe.Render("INTACT")+" "+r.dim.Render(p.Duration.String()))
	default:
		r.line("delivered", fmt.Sprintf("%q", p.Delivered))
		r.line("result", r.unsafe.Render("CORRUPTED")+" "+r.dim.Render(p.Duration.String()))
	}
	fmt.Fprintln(r.w)
}

func (r *renderer) verdict(h relay.HopReport) string {
	if !h.Established {
		msg := "not established"
		if h.Err != nil {
			msg = h.Err.Error()
		}
		return r.failed.Render("FAILED") + " " + r.dim.Render(msg)
	}
	stats := fmt.Sprintf("%3d bits %6.2f%%  ", h.SiftedKeyLength, h.ErrorRate)
	if h.Safe {
		return stats + r.safe.Render("SAFE")
	}
	return stats + r.unsafe.Render("NOT SAFE")
}
