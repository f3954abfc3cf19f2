package orchestrator

import (
	"strings"
	"testing"
)

func planOf(nodes ...Node) *Plan {
	return &Plan{Name: "test", Nodes: nodes}
}

func TestParsePlanYAML(t *testing.T) {
	raw := []byte(`
name: sample
nodes:
  - id: a
    tool: ingest
  - id: b
    tool: resolve
    depends_on: [a]
    params:
      verify: true
`)
	p, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if p.Name != "sample" || len(p.Nodes) != 2 {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if p.Nodes[1].Params["verify"] != true {
		t.Fatalf("params not parsed: %+v", p.Nodes[1].Params)
	}
}

func TestTopoOrderStableByDeclaration(t *testing.T) {
	p := planOf(
		Node{ID: "c", Tool: "t"},
		Node{ID: "a", Tool: "t"},
		Node{ID: "b", Tool: "t", DependsOn: []string{"a", "c"}},
	)
	order, err := p.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}
}

func TestTopoOrderDependenciesFirst(t *testing.T) {
	p := planOf(
		Node{ID: "d", Tool: "t", DependsOn: []string{"b", "c"}},
		Node{ID: "b", Tool: "t", DependsOn: []string{"a"}},
		Node{ID: "c", Tool: "t", DependsOn: []string{"a"}},
		Node{ID: "a", Tool: "t"},
	)
	order, err := p.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder: %v", err)
	}
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			if pos[dep] > pos[n.ID] {
				t.Fatalf("%s ordered before its dependency %s: %v", n.ID, dep, order)
			}
		}
	}
}

func TestPlanValidation(t *testing.T) {
	cases := []struct {
		name string
		plan *Plan
		want string
	}{
		{"empty", planOf(), "no nodes"},
		{"missing id", planOf(Node{Tool: "t"}), "missing id"},
		{"missing tool", planOf(Node{ID: "a"}), "missing tool"},
		{"duplicate", planOf(Node{ID: "a", Tool: "t"}, Node{ID: "a", Tool: "t"}), "duplicate"},
		{"unknown dep", planOf(Node{ID: "a", Tool: "t", DependsOn: []string{"zzz"}}), "unknown"},
		{"self dep", planOf(Node{ID: "a", Tool: "t", DependsOn: []string{"a"}}), "itself"},
		{"cycle", planOf(
			Node{ID: "a", Tool: "t", DependsOn: []string{"b"}},
			Node{ID: "b", Tool: "t", DependsOn: []string{"a"}},
		), "cycle"},
	}
	for _, tc := range cases {
		_, err := tc.plan.TopoOrder()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestPlanIntrospection(t *testing.T) {
	p := planOf(
		Node{ID: "a", Tool: "t"},
		Node{ID: "b", Tool: "t", DependsOn: []string{"a"}},
	)
	ids := p.NodeIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("NodeIDs: %v", ids)
	}
	edges := p.Edges()
	if len(edges) != 1 || edges[0] != [2]string{"a", "b"} {
		t.Fatalf("Edges: %v", edges)
	}
}
