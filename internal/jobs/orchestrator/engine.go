package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/provenance"
)

const defaultMaxParallel = 4

// Engine executes a Plan with bounded parallelism. Independent branches run
// concurrently; a node starts only after every declared dependency reached
// done. A failed dependency marks all transitive dependents skipped without
// invoking them. Every node execution opens and seals exactly one
// provenance operation.
type Engine struct {
	registry *Registry
	recorder provenance.Recorder
	log      *logger.Logger

	// MaxParallel bounds concurrently running nodes (default 4).
	MaxParallel int
	// RunTimeout aborts in-flight nodes and skips un-started ones when the
	// whole run exceeds it. Zero means no run-level deadline.
	RunTimeout time.Duration
}

func NewEngine(registry *Registry, recorder provenance.Recorder, log *logger.Logger) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("orchestrator: registry required")
	}
	if log == nil {
		return nil, fmt.Errorf("orchestrator: logger required")
	}
	return &Engine{
		registry:    registry,
		recorder:    recorder,
		log:         log.With("service", "Orchestrator"),
		MaxParallel: defaultMaxParallel,
	}, nil
}

type runState struct {
	engine *Engine
	plan   *Plan
	result *RunResult

	runCtx    context.Context
	runInputs map[string]any

	mu         sync.Mutex
	wg         sync.WaitGroup
	sem        *semaphore.Weighted
	remaining  map[string]int
	dependents map[string][]string
}

// Run executes the plan. The returned result is always non-nil when the
// plan validates; Err carries the first failing node's error.
func (e *Engine) Run(ctx context.Context, plan *Plan, runInputs map[string]any) (*RunResult, error) {
	if plan == nil {
		return nil, kgerr.New(kgerr.KindInvalidInput, "nil plan")
	}
	if _, err := plan.TopoOrder(); err != nil {
		return nil, kgerr.Wrap(kgerr.KindInvalidInput, "invalid plan", err)
	}
	for _, n := range plan.Nodes {
		if _, ok := e.registry.Get(n.Tool); !ok {
			return nil, kgerr.Newf(kgerr.KindInvalidInput, "node %q references unknown tool %q", n.ID, n.Tool)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.RunTimeout)
		defer cancel()
	}

	maxParallel := e.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}

	st := &runState{
		engine: e,
		plan:   plan,
		result: &RunResult{
			RunID:     uuid.NewString(),
			Nodes:     map[string]*NodeState{},
			StartedAt: time.Now().UTC(),
		},
		runCtx:     runCtx,
		runInputs:  runInputs,
		sem:        semaphore.NewWeighted(int64(maxParallel)),
		remaining:  map[string]int{},
		dependents: map[string][]string{},
	}
	for _, n := range plan.Nodes {
		st.result.Nodes[n.ID] = &NodeState{NodeID: n.ID, ToolID: n.Tool, Status: NodePending}
		st.remaining[n.ID] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			st.dependents[dep] = append(st.dependents[dep], n.ID)
		}
	}

	e.log.Info("dag run started", "run_id", st.result.RunID, "nodes", len(plan.Nodes))

	st.mu.Lock()
	for _, n := range plan.Nodes {
		if st.remaining[n.ID] == 0 {
			st.launch(n.ID)
		}
	}
	st.mu.Unlock()

	st.wg.Wait()

	st.mu.Lock()
	// Anything never started by the time the run unwound (run-level
	// timeout, canceled context) is skipped, and the skip cascades.
	for _, ns := range st.result.Nodes {
		if ns.Status == NodePending {
			ns.Status = NodeSkipped
		}
	}
	st.mu.Unlock()

	st.result.FinishedAt = time.Now().UTC()
	st.result.Success = true
	for _, ns := range st.result.Nodes {
		if ns.Status != NodeDone {
			st.result.Success = false
		}
	}
	if st.result.Err == nil && !st.result.Success && runCtx.Err() != nil {
		st.result.Err = kgerr.Wrap(kgerr.KindTimeout, "dag run deadline exceeded", runCtx.Err())
	}

	e.log.Info("dag run finished",
		"run_id", st.result.RunID,
		"success", st.result.Success,
		"failed_node", st.result.FailedNode,
		"duration_ms", st.result.Duration().Milliseconds())
	return st.result, nil
}

// launch starts a goroutine for a ready node. Caller holds st.mu.
func (st *runState) launch(nodeID string) {
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		if err := st.sem.Acquire(st.runCtx, 1); err != nil {
			st.mu.Lock()
			st.markTerminal(nodeID, NodeSkipped, "")
			st.mu.Unlock()
			return
		}
		defer st.sem.Release(1)
		st.execute(nodeID)
	}()
}

func (st *runState) execute(nodeID string) {
	def := st.plan.node(nodeID)
	tool, _ := st.engine.registry.Get(def.Tool)

	st.mu.Lock()
	ns := st.result.Nodes[nodeID]
	if ns.Status != NodePending || st.runCtx.Err() != nil {
		if ns.Status == NodePending {
			st.markTerminal(nodeID, NodeSkipped, "")
		}
		st.mu.Unlock()
		return
	}
	ns.Status = NodeRunning
	now := time.Now().UTC()
	ns.StartedAt = &now
	input := ToolInput{
		NodeID:    nodeID,
		Params:    def.Params,
		RunInputs: st.runInputs,
		Upstream:  map[string]map[string]any{},
	}
	for _, dep := range def.DependsOn {
		input.Upstream[dep] = st.result.Nodes[dep].Outputs
	}
	st.mu.Unlock()

	opID := st.beginOperation(def, ns)

	nodeCtx, span := otel.Tracer("graphmesh/orchestrator").Start(st.runCtx, "dag.node",
		trace.WithAttributes(
			attribute.String("dag.run_id", st.result.RunID),
			attribute.String("dag.node_id", nodeID),
			attribute.String("dag.tool_id", def.Tool)))
	outs, err := runTool(nodeCtx, tool, input)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	if err != nil && st.runCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = kgerr.Wrap(kgerr.KindTimeout, "node aborted by run deadline", err)
	}

	st.sealOperation(opID, ns, outs, err)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		ns.Error = err.Error()
		st.markTerminal(nodeID, NodeFailed, "")
		if st.result.Err == nil {
			st.result.Err = fmt.Errorf("node %s: %w", nodeID, err)
			st.result.FailedNode = nodeID
		}
		st.engine.log.Warn("dag node failed", "run_id", st.result.RunID, "node", nodeID, "error", err)
		return
	}
	ns.Outputs = outs
	st.markTerminal(nodeID, NodeDone, "")
	st.engine.log.Debug("dag node done", "run_id", st.result.RunID, "node", nodeID, "duration_ms", ns.Duration().Milliseconds())
}

// runTool isolates tool panics so one broken tool cannot take down the
// whole run.
func runTool(ctx context.Context, tool Tool, in ToolInput) (outs map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.ID(), r)
		}
	}()
	return tool.Run(ctx, in)
}

// markTerminal finalizes a node's state and propagates readiness or skips
// to its dependents. Caller holds st.mu.
func (st *runState) markTerminal(nodeID string, status NodeStatus, reason string) {
	ns := st.result.Nodes[nodeID]
	if ns.Status.terminal() {
		return
	}
	ns.Status = status
	if ns.StartedAt != nil && ns.FinishedAt == nil {
		now := time.Now().UTC()
		ns.FinishedAt = &now
	}
	if reason != "" && ns.Error == "" {
		ns.Error = reason
	}

	for _, depID := range st.dependents[nodeID] {
		st.remaining[depID]--
		if st.remaining[depID] > 0 {
			continue
		}
		dep := st.result.Nodes[depID]
		if dep.Status != NodePending {
			continue
		}
		if st.allDepsDone(depID) {
			st.launch(depID)
		} else {
			st.markTerminal(depID, NodeSkipped, "dependency failed or skipped")
		}
	}
}

func (st *runState) allDepsDone(nodeID string) bool {
	def := st.plan.node(nodeID)
	for _, dep := range def.DependsOn {
		if st.result.Nodes[dep].Status != NodeDone {
			return false
		}
	}
	return true
}

func (st *runState) beginOperation(def *Node, ns *NodeState) uuid.UUID {
	if st.engine.recorder == nil {
		return uuid.Nil
	}
	// Provenance writes run on a detached context so a run-level timeout
	// cannot leave an unsealed operation behind.
	opID, err := st.engine.recorder.Begin(context.Background(), def.Tool, "dag_node", map[string]any{
		"run_id":  st.result.RunID,
		"node_id": def.ID,
		"params":  def.Params,
	})
	if err != nil {
		st.engine.log.Warn("provenance begin failed (continuing)", "node", def.ID, "error", err)
		return uuid.Nil
	}
	ns.OperationID = opID.String()
	return opID
}

func (st *runState) sealOperation(opID uuid.UUID, ns *NodeState, outs map[string]any, runErr error) {
	if st.engine.recorder == nil || opID == uuid.Nil {
		return
	}
	if err := st.engine.recorder.Seal(context.Background(), opID, runErr == nil, outs, runErr); err != nil {
		st.engine.log.Warn("provenance seal failed", "node", ns.NodeID, "error", err)
	}
}
