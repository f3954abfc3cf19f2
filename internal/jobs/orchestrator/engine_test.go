package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

// runLog records the order in which nodes ran.
type runLog struct {
	mu  sync.Mutex
	ids []string
}

func (rl *runLog) add(id string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ids = append(rl.ids, id)
}

func (rl *runLog) position(id string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for i, got := range rl.ids {
		if got == id {
			return i
		}
	}
	return -1
}

func okTool(id string, rl *runLog) Tool {
	return ToolFunc{ToolID: id, Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) {
		rl.add(in.NodeID)
		return map[string]any{"from": in.NodeID}, nil
	}}
}

func newTestEngine(t *testing.T, reg *Registry) *Engine {
	t.Helper()
	e, err := NewEngine(reg, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	rl := &runLog{}
	reg := NewRegistry()
	reg.MustRegister(okTool("work", rl))

	plan := planOf(
		Node{ID: "a", Tool: "work"},
		Node{ID: "b", Tool: "work", DependsOn: []string{"a"}},
		Node{ID: "c", Tool: "work", DependsOn: []string{"a"}},
		Node{ID: "d", Tool: "work", DependsOn: []string{"b", "c"}},
	)
	e := newTestEngine(t, reg)
	result, err := e.Run(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if rl.position(pair[0]) > rl.position(pair[1]) {
			t.Fatalf("%s ran before its dependency %s: %v", pair[1], pair[0], rl.ids)
		}
	}
	for id, ns := range result.Nodes {
		if ns.Status != NodeDone {
			t.Fatalf("node %s not done: %s", id, ns.Status)
		}
		if ns.StartedAt == nil || ns.FinishedAt == nil {
			t.Fatalf("node %s missing timing", id)
		}
	}
}

func TestUpstreamOutputsVisible(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(ToolFunc{ToolID: "produce", Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) {
		return map[string]any{"value": 42}, nil
	}})
	var got any
	reg.MustRegister(ToolFunc{ToolID: "consume", Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) {
		got = in.Upstream["a"]["value"]
		return nil, nil
	}})

	plan := planOf(
		Node{ID: "a", Tool: "produce"},
		Node{ID: "b", Tool: "consume", DependsOn: []string{"a"}},
	)
	e := newTestEngine(t, reg)
	if _, err := e.Run(context.Background(), plan, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 42 {
		t.Fatalf("upstream outputs not delivered, got %v", got)
	}
}

func TestFailureSkipsTransitiveDependents(t *testing.T) {
	rl := &runLog{}
	reg := NewRegistry()
	reg.MustRegister(okTool("work", rl))
	reg.MustRegister(ToolFunc{ToolID: "boom", Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) {
		return nil, errors.New("exploded")
	}})

	plan := planOf(
		Node{ID: "a", Tool: "work"},
		Node{ID: "b", Tool: "boom", DependsOn: []string{"a"}},
		Node{ID: "c", Tool: "work", DependsOn: []string{"b"}},
		Node{ID: "d", Tool: "work", DependsOn: []string{"c"}},
		Node{ID: "e", Tool: "work", DependsOn: []string{"a"}},
	)
	e := newTestEngine(t, reg)
	result, err := e.Run(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("run must not succeed with a failed node")
	}
	if result.FailedNode != "b" || result.Err == nil {
		t.Fatalf("first failure not reported: node=%q err=%v", result.FailedNode, result.Err)
	}
	wantStatus := map[string]NodeStatus{
		"a": NodeDone, "b": NodeFailed, "c": NodeSkipped, "d": NodeSkipped, "e": NodeDone,
	}
	for id, want := range wantStatus {
		if got := result.Nodes[id].Status; got != want {
			t.Fatalf("node %s: status %s, want %s", id, got, want)
		}
	}
	if rl.position("c") != -1 || rl.position("d") != -1 {
		t.Fatalf("skipped nodes must never run: %v", rl.ids)
	}
}

func TestIndependentBranchesRunInParallel(t *testing.T) {
	left := make(chan struct{})
	right := make(chan struct{})
	rendezvous := func(signal chan struct{}, wait chan struct{}) func(context.Context, ToolInput) (map[string]any, error) {
		return func(ctx context.Context, in ToolInput) (map[string]any, error) {
			close(signal)
			select {
			case <-wait:
				return nil, nil
			case <-time.After(2 * time.Second):
				return nil, fmt.Errorf("peer never started, nodes ran serially")
			}
		}
	}
	reg := NewRegistry()
	reg.MustRegister(ToolFunc{ToolID: "left", Fn: rendezvous(left, right)})
	reg.MustRegister(ToolFunc{ToolID: "right", Fn: rendezvous(right, left)})

	plan := planOf(
		Node{ID: "l", Tool: "left"},
		Node{ID: "r", Tool: "right"},
	)
	e := newTestEngine(t, reg)
	e.MaxParallel = 2
	result, err := e.Run(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("parallel branches should both finish: %+v", result.Err)
	}
}

func TestRunTimeoutCancelsAndSkips(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(ToolFunc{ToolID: "slow", Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	}})

	plan := planOf(
		Node{ID: "a", Tool: "slow"},
		Node{ID: "b", Tool: "slow", DependsOn: []string{"a"}},
	)
	e := newTestEngine(t, reg)
	e.RunTimeout = 50 * time.Millisecond
	result, err := e.Run(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("timed-out run must not succeed")
	}
	if result.Nodes["a"].Status != NodeFailed {
		t.Fatalf("in-flight node should fail on deadline, got %s", result.Nodes["a"].Status)
	}
	if result.Nodes["b"].Status != NodeSkipped {
		t.Fatalf("unstarted dependent should be skipped, got %s", result.Nodes["b"].Status)
	}
	if !kgerr.IsKind(result.Err, kgerr.KindTimeout) {
		t.Fatalf("expected timeout kind, got %v", result.Err)
	}
}

func TestUnknownToolRejectsRun(t *testing.T) {
	reg := NewRegistry()
	plan := planOf(Node{ID: "a", Tool: "missing"})
	e := newTestEngine(t, reg)
	_, err := e.Run(context.Background(), plan, nil)
	if !kgerr.IsKind(err, kgerr.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestToolPanicBecomesFailure(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(ToolFunc{ToolID: "panicky", Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) {
		panic("bad tool")
	}})
	plan := planOf(Node{ID: "a", Tool: "panicky"})
	e := newTestEngine(t, reg)
	result, err := e.Run(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Nodes["a"].Status != NodeFailed {
		t.Fatalf("panicking tool should fail its node, got %s", result.Nodes["a"].Status)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	tool := ToolFunc{ToolID: "t", Fn: func(ctx context.Context, in ToolInput) (map[string]any, error) { return nil, nil }}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(tool); err == nil {
		t.Fatalf("duplicate register must fail")
	}
	ids := reg.IDs()
	if len(ids) != 1 || ids[0] != "t" {
		t.Fatalf("IDs: %v", ids)
	}
}
