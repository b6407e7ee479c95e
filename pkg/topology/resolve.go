package topology

import (
	"fmt"
	"strings"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// Path is an ordered list of node IDs from the sender to the receiver,
// inclusive. It may pass through spies.
type Path []string

// String renders the path as "A -> B -> C".
func (p Path) String() string {
	return strings.Join(p, " -> ")
}

// Len returns the number of edges on the path.
func (p Path) Len() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Equal reports whether two paths visit the same nodes in order.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Resolution holds every simple path from sender to receiver and the
// subset with the fewest hops.
type Resolution struct {
	All     []Path
	MinHop  []Path
	MinHops int
}

// Primary returns the first minimum-hop path.
func (r *Resolution) Primary() Path {
	return r.MinHop[0]
}

// Alternate returns the path to run after the primary: the second
// minimum-hop path if one exists, otherwise the first path of the full set
// that is not the primary. The bool is false when the graph has one path.
func (r *Resolution) Alternate() (Path, bool) {
	if len(r.MinHop) > 1 {
		return r.MinHop[1], true
	}
	primary := r.Primary()
	for _, p := range r.All {
		if !p.Equal(primary) {
			return p, true
		}
	}
	return nil, false
}

// Resolve enumerates all simple paths from the sender to the receiver by
// depth-first search, visiting neighbors in declaration order, and picks
// out those with the minimum number of hops. MinHop keeps discovery order.
func Resolve(g *Graph) (*Resolution, error) {
	res := &Resolution{}
	visited := map[string]bool{g.sender: true}
	path := Path{g.sender}

	var walk func(at string)
	walk = func(at string) {
		if at == g.recv {
			res.All = append(res.All, append(Path(nil), path...))
			return
		}
		for _, nb := range g.adj[at] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			path = append(path, nb)
			walk(nb)
			path = path[:len(path)-1]
			visited[nb] = false
		}
	}
	walk(g.sender)

	if len(res.All) == 0 {
		return nil, &qerrors.NoPathError{Sender: g.sender, Receiver: g.recv}
	}

	res.MinHops = res.All[0].Len()
	for _, p := range res.All[1:] {
		res.MinHops = min(res.MinHops, p.Len())
	}
	for _, p := range res.All {
		if p.Len() == res.MinHops {
			res.MinHop = append(res.MinHop, p)
		}
	}
	return res, nil
}

// Hop is one key exchange link on a relay path.
type Hop struct {
	Index int
	From  string
	To    string
	// Via lists the spies sitting between From and To on the raw path.
	Via []string
}

// String renders the hop as "A -> B" or "A -> B (via E)".
func (h Hop) String() string {
	if len(h.Via) == 0 {
		return fmt.Sprintf("%s -> %s", h.From, h.To)
	}
	return fmt.Sprintf("%s -> %s (via %s)", h.From, h.To, strings.Join(h.Via, ", "))
}

// RelayPath drops spies from p, leaving the nodes that take part in key
// exchange.
func (g *Graph) RelayPath(p Path) Path {
	out := make(Path, 0, len(p))
	for _, id := range p {
		if !g.IsSpy(id) {
			out = append(out, id)
		}
	}
	return out
}

// Spies returns the spies on p in order.
func (g *Graph) Spies(p Path) []string {
	var out []string
	for _, id := range p {
		if g.IsSpy(id) {
			out = append(out, id)
		}
	}
	return out
}

// Hops splits p into key exchange links between consecutive non-spy nodes.
func (g *Graph) Hops(p Path) ([]Hop, error) {
	if err := g.validatePath(p); err != nil {
		return nil, err
	}
	var hops []Hop
	var via []string
	from := p[0]
	for _, id := range p[1:] {
		if g.IsSpy(id) {
			via = append(via, id)
			continue
		}
		hops = append(hops, Hop{Index: len(hops), From: from, To: id, Via: via})
		from = id
		via = nil
	}
	return hops, nil
}

func (g *Graph) validatePath(p Path) error {
	if len(p) < 2 {
		return qerrors.NewTopologyError("path %q is too short", p.String())
	}
	if p[0] != g.sender || p[len(p)-1] != g.recv {
		return qerrors.NewTopologyError("path %q does not run from %s to %s", p.String(), g.sender, g.recv)
	}
	for i, id := range p {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("%w: %q", qerrors.ErrUnknownNode, id)
		}
		if i > 0 && !g.Adjacent(p[i-1], id) {
			return qerrors.NewTopologyError("path %q uses missing edge %s -> %s", p.String(), p[i-1], id)
		}
	}
	return nil
}
