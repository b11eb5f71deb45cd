package agentflow

import "context"

// Store defines the persistence interface the orchestrator needs.
// Lookups of missing records return an error wrapping ErrNotFound.
type Store interface {
	// Workflow definitions
	SaveWorkflow(ctx context.Context, wf *WorkflowGraph) error
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowGraph, error)

	// Tasks
	SaveTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error

	// Executions
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	UpdateExecution(ctx context.Context, exec *Execution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// Node executions, listed in Sequence order
	CreateNodeExecution(ctx context.Context, nodeExec *NodeExecution) error
	UpdateNodeExecution(ctx context.Context, nodeExec *NodeExecution) error
	ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error)
}

// ExecutionFilter defines filtering criteria for executions
type ExecutionFilter struct {
	TaskID     string
	WorkflowID string
	Status     *ExecutionStatus
	Limit      int
}

// Matches reports whether exec passes the filter
func (f ExecutionFilter) Matches(exec *Execution) bool {
	if f.TaskID != "" && exec.TaskID != f.TaskID {
		return false
	}
	if f.WorkflowID != "" && exec.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Status != nil && exec.Status != *f.Status {
		return false
	}
	return true
}
