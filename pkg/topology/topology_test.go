package topology

import (
	"errors"
	"testing"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

func chain(ids ...string) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = Node{ID: id, Role: RoleRelay}
		if i+1 < len(ids) {
			nodes[i].Neighbors = []string{ids[i+1]}
		}
	}
	nodes[0].Role = RoleSender
	nodes[len(ids)-1].Role = RoleReceiver
	return nodes
}

// detour has a spy between Arya and Nayan beside a direct Arya-Nayan edge.
func detour() []Node {
	return []Node{
		{ID: "Ani", Role: RoleSender, Neighbors: []string{"Arya"}},
		{ID: "Arya", Role: RoleRelay, Neighbors: []string{"Ani", "Darren", "Nayan"}},
		{ID: "Darren", Role: RoleSpy, Neighbors: []string{"Arya", "Nayan"}},
		{ID: "Nayan", Role: RoleRelay, Neighbors: []string{"Darren", "Xiufan", "Arya"}},
		{ID: "Xiufan", Role: RoleReceiver, Neighbors: []string{"Nayan"}},
	}
}

func TestResolveLinearChain(t *testing.T) {
	g, err := NewGraph(chain("A", "B", "C"))
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	res, err := Resolve(g)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := Path{"A", "B", "C"}
	if len(res.All) != 1 || !res.All[0].Equal(want) {
		t.Errorf("All = %v, want [%v]", res.All, want)
	}
	if len(res.MinHop) != 1 || !res.MinHop[0].Equal(want) {
		t.Errorf("MinHop = %v, want [%v]", res.MinHop, want)
	}
	if res.MinHops != 2 {
		t.Errorf("MinHops = %d, want 2", res.MinHops)
	}
	if _, ok := res.Alternate(); ok {
		t.Error("a single-path graph has no alternate")
	}
}

func TestResolveDetour(t *testing.T) {
	g, err := NewGraph(detour())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	res, err := Resolve(g)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	wantAll := []Path{
		{"Ani", "Arya", "Darren", "Nayan", "Xiufan"},
		{"Ani", "Arya", "Nayan", "Xiufan"},
	}
	if len(res.All) != len(wantAll) {
		t.Fatalf("All = %v", res.All)
	}
	for i := range wantAll {
		if !res.All[i].Equal(wantAll[i]) {
			t.Errorf("All[%d] = %v, want %v", i, res.All[i], wantAll[i])
		}
	}
	if res.MinHops != 3 || len(res.MinHop) != 1 || !res.Primary().Equal(wantAll[1]) {
		t.Errorf("min-hop set = %v (%d hops)", res.MinHop, res.MinHops)
	}
	alt, ok := res.Alternate()
	if !ok || !alt.Equal(wantAll[0]) {
		t.Errorf("Alternate = %v, %v", alt, ok)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	nodes := []Node{
		{ID: "S", Role: RoleSender, Neighbors: []string{"B", "A"}},
		{ID: "A", Neighbors: []string{"R"}},
		{ID: "B", Neighbors: []string{"R"}},
		{ID: "R", Role: RoleReceiver},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		res, err := Resolve(g)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.MinHop) != 2 || res.MinHop[0].String() != "S -> B -> R" || res.MinHop[1].String() != "S -> A -> R" {
			t.Fatalf("run %d: MinHop = %v", i, res.MinHop)
		}
		alt, ok := res.Alternate()
		if !ok || alt.String() != "S -> A -> R" {
			t.Fatalf("Alternate = %v", alt)
		}
	}
}

func TestEdgesAreUndirected(t *testing.T) {
	// Only the receiver declares the edge.
	nodes := []Node{
		{ID: "S", Role: RoleSender},
		{ID: "R", Role: RoleReceiver, Neighbors: []string{"S"}},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Adjacent("S", "R") || !g.Adjacent("R", "S") {
		t.Error("edge should exist in both directions")
	}
	res, err := Resolve(g)
	if err != nil {
		t.Fatal(err)
	}
	if res.Primary().String() != "S -> R" {
		t.Errorf("Primary = %v", res.Primary())
	}
}

func TestNoPath(t *testing.T) {
	nodes := []Node{
		{ID: "S", Role: RoleSender, Neighbors: []string{"A"}},
		{ID: "A"},
		{ID: "R", Role: RoleReceiver},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Resolve(g)
	var np *qerrors.NoPathError
	if !errors.As(err, &np) || np.Sender != "S" || np.Receiver != "R" {
		t.Fatalf("expected NoPathError, got %v", err)
	}
	if !errors.Is(err, qerrors.ErrNoPath) {
		t.Error("NoPathError should match ErrNoPath")
	}
}

func TestNewGraphValidation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
	}{
		{"no sender", []Node{{ID: "R", Role: RoleReceiver}}},
		{"no receiver", []Node{{ID: "S", Role: RoleSender}}},
		{"two senders", []Node{
			{ID: "S1", Role: RoleSender}, {ID: "S2", Role: RoleSender}, {ID: "R", Role: RoleReceiver},
		}},
		{"two receivers", []Node{
			{ID: "S", Role: RoleSender}, {ID: "R1", Role: RoleReceiver}, {ID: "R2", Role: RoleReceiver},
		}},
		{"duplicate id", []Node{
			{ID: "S", Role: RoleSender}, {ID: "S"}, {ID: "R", Role: RoleReceiver},
		}},
		{"empty id", []Node{{ID: "", Role: RoleSender}, {ID: "R", Role: RoleReceiver}}},
		{"unknown neighbor", []Node{
			{ID: "S", Role: RoleSender, Neighbors: []string{"X"}}, {ID: "R", Role: RoleReceiver},
		}},
		{"self loop", []Node{
			{ID: "S", Role: RoleSender, Neighbors: []string{"S"}}, {ID: "R", Role: RoleReceiver},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.nodes)
			var te *qerrors.TopologyError
			if !errors.As(err, &te) || !errors.Is(err, qerrors.ErrTopology) {
				t.Errorf("expected TopologyError, got %v", err)
			}
		})
	}
}

func TestHops(t *testing.T) {
	g, err := NewGraph(detour())
	if err != nil {
		t.Fatal(err)
	}
	p := Path{"Ani", "Arya", "Darren", "Nayan", "Xiufan"}

	if got := g.RelayPath(p).String(); got != "Ani -> Arya -> Nayan -> Xiufan" {
		t.Errorf("RelayPath = %s", got)
	}
	if spies := g.Spies(p); len(spies) != 1 || spies[0] != "Darren" {
		t.Errorf("Spies = %v", spies)
	}

	hops, err := g.Hops(p)
	if err != nil {
		t.Fatalf("Hops failed: %v", err)
	}
	want := []string{"Ani -> Arya", "Arya -> Nayan (via Darren)", "Nayan -> Xiufan"}
	if len(hops) != len(want) {
		t.Fatalf("hops = %v", hops)
	}
	for i, h := range hops {
		if h.Index != i || h.String() != want[i] {
			t.Errorf("hop %d = %d %q, want %q", i, h.Index, h.String(), want[i])
		}
	}
}

func TestHopsRejectsBadPaths(t *testing.T) {
	g, err := NewGraph(detour())
	if err != nil {
		t.Fatal(err)
	}
	bad := []Path{
		{"Ani"},
		{"Arya", "Nayan", "Xiufan"},
		{"Ani", "Nayan", "Xiufan"},
		{"Ani", "Ghost", "Xiufan"},
	}
	for _, p := range bad {
		if _, err := g.Hops(p); err == nil {
			t.Errorf("Hops(%v) accepted an invalid path", p)
		}
	}
}

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"sender":   RoleSender,
		"Receiver": RoleReceiver,
		"truster":  RoleRelay,
		"trusted":  RoleRelay,
		"relay":    RoleRelay,
		"spier":    RoleSpy,
		"SPY":      RoleSpy,
	}
	for in, want := range tests {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Errorf("ParseRole(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseRole("observer"); !errors.Is(err, qerrors.ErrTopology) {
		t.Errorf("expected ErrTopology, got %v", err)
	}
}
