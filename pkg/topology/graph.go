// Package topology models a QKD network as an undirected graph of named
// nodes and resolves the paths a message can take from the sender to the
// receiver.
package topology

import (
	"fmt"
	"strings"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// Role is a node's function in the network.
type Role int

const (
	RoleRelay Role = iota
	RoleSender
	RoleReceiver
	RoleSpy
)

// String returns the canonical role name.
func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	case RoleRelay:
		return "relay"
	case RoleSpy:
		return "spy"
	default:
		return "unknown"
	}
}

// ParseRole parses a role name. Trusted relays may also be written
// "truster" or "trusted", and spies "spier".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sender":
		return RoleSender, nil
	case "receiver":
		return RoleReceiver, nil
	case "relay", "truster", "trusted", "trusted_node":
		return RoleRelay, nil
	case "spy", "spier":
		return RoleSpy, nil
	default:
		return RoleRelay, qerrors.NewTopologyError("unknown role %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Position is a node's drawing coordinate. The core ignores it.
type Position struct {
	X float64 `yaml:"x" toml:"x" json:"x"`
	Y float64 `yaml:"y" toml:"y" json:"y"`
}

// Node is a vertex of the network.
type Node struct {
	ID        string
	Role      Role
	Position  *Position
	Neighbors []string
}

// Graph is an immutable, validated network topology.
type Graph struct {
	nodes  map[string]*Node
	order  []string
	adj    map[string][]string
	sender string
	recv   string
}

// NewGraph validates nodes and builds the graph. Edges are undirected: an
// edge declared on either end exists in both directions. Adjacency keeps
// declaration order so path enumeration is deterministic.
func NewGraph(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
		adj:   make(map[string][]string, len(nodes)),
	}

	for i := range nodes {
		n := nodes[i]
		if n.ID == "" {
			return nil, qerrors.NewTopologyError("node %d has an empty ID", i)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, qerrors.NewTopologyError("duplicate node %q", n.ID)
		}
		n.Neighbors = append([]string(nil), n.Neighbors...)
		g.nodes[n.ID] = &n
		g.order = append(g.order, n.ID)

		switch n.Role {
		case RoleSender:
			if g.sender != "" {
				return nil, qerrors.NewTopologyError("more than one sender (%s, %s)", g.sender, n.ID)
			}
			g.sender = n.ID
		case RoleReceiver:
			if g.recv != "" {
				return nil, qerrors.NewTopologyError("more than one receiver (%s, %s)", g.recv, n.ID)
			}
			g.recv = n.ID
		}
	}
	if g.sender == "" {
		return nil, qerrors.NewTopologyError("no sender")
	}
	if g.recv == "" {
		return nil, qerrors.NewTopologyError("no receiver")
	}

	for _, id := range g.order {
		for _, nb := range g.nodes[id].Neighbors {
			if nb == id {
				return nil, qerrors.NewTopologyError("node %q lists itself as a neighbor", id)
			}
			if _, ok := g.nodes[nb]; !ok {
				return nil, qerrors.NewTopologyError("node %q lists unknown neighbor %q", id, nb)
			}
			g.addEdge(id, nb)
			g.addEdge(nb, id)
		}
	}
	return g, nil
}

func (g *Graph) addEdge(from, to string) {
	for _, existing := range g.adj[from] {
		if existing == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
}

// Sender returns the sender's ID.
func (g *Graph) Sender() string {
	return g.sender
}

// Receiver returns the receiver's ID.
func (g *Graph) Receiver() string {
	return g.recv
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %q", qerrors.ErrUnknownNode, id)
	}
	out := *n
	out.Neighbors = append([]string(nil), n.Neighbors...)
	return out, nil
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		n, _ := g.Node(id)
		out = append(out, n)
	}
	return out
}

// Neighbors returns the undirected neighbors of id in declaration order.
func (g *Graph) Neighbors(id string) []string {
	return append([]string(nil), g.adj[id]...)
}

// Adjacent reports whether a and b share an edge.
func (g *Graph) Adjacent(a, b string) bool {
	for _, nb := range g.adj[a] {
		if nb == b {
			return true
		}
	}
	return false
}

// IsSpy reports whether id is a spy node.
func (g *Graph) IsSpy(id string) bool {
	n, ok := g.nodes[id]
	return ok && n.Role == RoleSpy
}
