package orchestrator

import (
	"time"
)

type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeDone    NodeStatus = "done"
	NodeFailed  NodeStatus = "failed"
	NodeSkipped NodeStatus = "skipped"
)

// terminal reports whether a node can transition no further.
func (s NodeStatus) terminal() bool {
	return s == NodeDone || s == NodeFailed || s == NodeSkipped
}

// NodeState tracks one node through a single DAG run. Transitions only move
// forward: pending -> running -> done|failed, or pending -> skipped.
type NodeState struct {
	NodeID     string         `json:"node_id"`
	ToolID     string         `json:"tool_id"`
	Status     NodeStatus     `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	// OperationID is the provenance record opened for this node.
	OperationID string `json:"operation_id,omitempty"`
}

func (ns *NodeState) Duration() time.Duration {
	if ns.StartedAt == nil || ns.FinishedAt == nil {
		return 0
	}
	return ns.FinishedAt.Sub(*ns.StartedAt)
}

// RunResult is the aggregate outcome of one DAG run.
type RunResult struct {
	RunID      string                `json:"run_id"`
	Success    bool                  `json:"success"`
	Nodes      map[string]*NodeState `json:"nodes"`
	FailedNode string                `json:"failed_node,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`

	// Err is the first failing node's error (or the run-level timeout).
	Err error `json:"-"`
}

func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
