package agentflow

import (
	"fmt"
	"sync"
)

// Well-known run context keys
const (
	KeyTaskID        = "task_id"
	KeyExecutionID   = "execution_id"
	KeyWorkflowID    = "workflow_id"
	KeyLoopIteration = "loop_iteration"
)

// NodeOutputKey is the context key holding a node's latest output
func NodeOutputKey(nodeID string) string {
	return fmt.Sprintf("node_%s_output", nodeID)
}

// NodeStatusKey is the context key holding a node's latest status
func NodeStatusKey(nodeID string) string {
	return fmt.Sprintf("node_%s_status", nodeID)
}

// RunContext holds the variables of a single run. It lives only as long as
// the run and is never persisted.
//
// A branch created with Branch reads through to its parent but keeps its own
// writes until the parent merges it, so concurrent gateway branches never see
// each other's values.
type RunContext struct {
	mu     sync.RWMutex
	parent *RunContext
	vars   map[string]any
}

// NewRunContext creates a root context seeded with a copy of vars
func NewRunContext(vars map[string]any) *RunContext {
	rc := &RunContext{vars: make(map[string]any, len(vars))}
	for k, v := range vars {
		rc.vars[k] = v
	}
	return rc
}

// Get looks a key up in this scope, then in the parent chain
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	v, ok := rc.vars[key]
	rc.mu.RUnlock()
	if ok {
		return v, true
	}
	if rc.parent != nil {
		return rc.parent.Get(key)
	}
	return nil, false
}

// GetString returns the value for key formatted as a string
func (rc *RunContext) GetString(key string) string {
	v, ok := rc.Get(key)
	if !ok {
		return ""
	}
	return stringify(v)
}

// Set writes a key in this scope
func (rc *RunContext) Set(key string, value any) {
	rc.mu.Lock()
	rc.vars[key] = value
	rc.mu.Unlock()
}

// SetAll writes every entry of vars in this scope
func (rc *RunContext) SetAll(vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	rc.mu.Lock()
	for k, v := range vars {
		rc.vars[k] = v
	}
	rc.mu.Unlock()
}

// SetNodeResult records the output and status of a finished node
func (rc *RunContext) SetNodeResult(nodeID, output string, status NodeExecutionStatus) {
	rc.mu.Lock()
	rc.vars[NodeOutputKey(nodeID)] = output
	rc.vars[NodeStatusKey(nodeID)] = string(status)
	rc.mu.Unlock()
}

// Snapshot returns a flattened copy of every visible variable.
// Values in this scope shadow the parent's.
func (rc *RunContext) Snapshot() map[string]any {
	var out map[string]any
	if rc.parent != nil {
		out = rc.parent.Snapshot()
	} else {
		out = make(map[string]any)
	}

	rc.mu.RLock()
	defer rc.mu.RUnlock()
	for k, v := range rc.vars {
		out[k] = v
	}
	return out
}

// Branch creates a child scope for a concurrent branch
func (rc *RunContext) Branch() *RunContext {
	return &RunContext{parent: rc, vars: make(map[string]any)}
}

// Merge copies the writes made in a branch into this scope
func (rc *RunContext) Merge(branch *RunContext) {
	if branch == nil || branch == rc {
		return
	}

	branch.mu.RLock()
	writes := make(map[string]any, len(branch.vars))
	for k, v := range branch.vars {
		writes[k] = v
	}
	branch.mu.RUnlock()

	rc.SetAll(writes)
}

// Len returns the number of variables written in this scope
func (rc *RunContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.vars)
}
