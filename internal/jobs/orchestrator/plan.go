package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node declares one unit of work: a tool invocation gated on the completion
// of its dependencies. Nodes on independent branches run in parallel.
type Node struct {
	ID        string         `yaml:"id" json:"id"`
	Tool      string         `yaml:"tool" json:"tool"`
	DependsOn []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Plan is a declarative DAG of named nodes, typically loaded from YAML.
type Plan struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Nodes []Node `yaml:"nodes" json:"nodes"`
}

func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read plan: %w", err)
	}
	return ParsePlan(raw)
}

func ParsePlan(raw []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("orchestrator: parse plan: %w", err)
	}
	if _, err := p.TopoOrder(); err != nil {
		return nil, err
	}
	return &p, nil
}

// TopoOrder validates the DAG and returns a topological order, stable by
// input order (Kahn). Duplicate ids, unknown dependencies and cycles are
// rejected.
func (p *Plan) TopoOrder() ([]string, error) {
	if len(p.Nodes) == 0 {
		return nil, fmt.Errorf("orchestrator: plan has no nodes")
	}
	seen := map[string]bool{}
	for _, n := range p.Nodes {
		name := strings.TrimSpace(n.ID)
		if name == "" {
			return nil, fmt.Errorf("orchestrator: node missing id")
		}
		if strings.TrimSpace(n.Tool) == "" {
			return nil, fmt.Errorf("orchestrator: node %q missing tool", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("orchestrator: duplicate node id %q", name)
		}
		seen[name] = true
	}
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("orchestrator: node %q depends on unknown node %q", n.ID, dep)
			}
			if dep == n.ID {
				return nil, fmt.Errorf("orchestrator: node %q depends on itself", n.ID)
			}
		}
	}

	deg := map[string]int{}
	out := map[string][]string{}
	for _, n := range p.Nodes {
		deg[n.ID] = 0
	}
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			deg[n.ID]++
			out[dep] = append(out[dep], n.ID)
		}
	}

	order := make([]string, 0, len(p.Nodes))
	added := map[string]bool{}
	for {
		progressed := false
		for _, n := range p.Nodes {
			if added[n.ID] || deg[n.ID] != 0 {
				continue
			}
			added[n.ID] = true
			order = append(order, n.ID)
			for _, next := range out[n.ID] {
				deg[next]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	if len(order) != len(p.Nodes) {
		return nil, fmt.Errorf("orchestrator: cycle detected in node graph")
	}
	return order, nil
}

// NodeIDs lists node ids in declaration order. Read-only introspection.
func (p *Plan) NodeIDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Edges lists (from, to) dependency pairs. Read-only introspection.
func (p *Plan) Edges() [][2]string {
	var edges [][2]string
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			edges = append(edges, [2]string{dep, n.ID})
		}
	}
	return edges
}

func (p *Plan) node(id string) *Node {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}
