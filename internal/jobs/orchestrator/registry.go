package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ToolInput carries everything a tool sees for one node execution.
type ToolInput struct {
	NodeID string
	// Params come from the node declaration.
	Params map[string]any
	// RunInputs are the initial inputs handed to the whole run.
	RunInputs map[string]any
	// Upstream maps dependency node id to that node's outputs.
	Upstream map[string]map[string]any
}

// Tool is one executable step bound to a node. Implementations must honor
// ctx cancellation; blocking work (graph writes, resolver upserts) takes
// its deadline from there.
type Tool interface {
	ID() string
	Run(ctx context.Context, in ToolInput) (map[string]any, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	ToolID string
	Fn     func(ctx context.Context, in ToolInput) (map[string]any, error)
}

func (t ToolFunc) ID() string { return t.ToolID }
func (t ToolFunc) Run(ctx context.Context, in ToolInput) (map[string]any, error) {
	return t.Fn(ctx, in)
}

// Registry maps tool ids to implementations. It is populated explicitly at
// init; there is no reflective lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) error {
	if t == nil || t.ID() == "" {
		return fmt.Errorf("orchestrator: tool missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.ID()]; ok {
		return fmt.Errorf("orchestrator: tool %q already registered", t.ID())
	}
	r.tools[t.ID()] = t
	return nil
}

func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
