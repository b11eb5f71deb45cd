package agentflow

import (
	"time"
)

// ExecutionStatus represents the current state of a workflow execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// IsTerminal returns true if the status is a final state
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// String returns the string representation
func (s ExecutionStatus) String() string {
	return string(s)
}

// NodeExecutionStatus represents the state of a single node dispatch.
// Node executions are created already running, there is no pending state.
type NodeExecutionStatus string

const (
	NodeExecutionStatusRunning   NodeExecutionStatus = "RUNNING"
	NodeExecutionStatusSucceeded NodeExecutionStatus = "SUCCEEDED"
	NodeExecutionStatusFailed    NodeExecutionStatus = "FAILED"
)

// IsTerminal returns true if the status is a final state
func (s NodeExecutionStatus) IsTerminal() bool {
	return s == NodeExecutionStatusSucceeded || s == NodeExecutionStatusFailed
}

// String returns the string representation
func (s NodeExecutionStatus) String() string {
	return string(s)
}

// TaskStatus is the lifecycle of the task that owns a run
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// String returns the string representation
func (s TaskStatus) String() string {
	return string(s)
}

// Task is the unit of work a caller asks the orchestrator to run.
// The orchestrator only reads tasks and moves their status.
type Task struct {
	ID         string         `json:"id" dynamodbav:"task_id"`
	Title      string         `json:"title" dynamodbav:"title"`
	WorkflowID string         `json:"workflowId,omitempty" dynamodbav:"workflow_id,omitempty"`
	Status     TaskStatus     `json:"status" dynamodbav:"status"`
	Inputs     map[string]any `json:"inputs,omitempty" dynamodbav:"inputs,omitempty"`
	CreatedAt  time.Time      `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt  time.Time      `json:"updatedAt" dynamodbav:"updated_at"`
}

// Execution is the record of one workflow run
type Execution struct {
	// Identity
	ID         string `json:"id" dynamodbav:"execution_id"`
	TaskID     string `json:"taskId" dynamodbav:"task_id"`
	WorkflowID string `json:"workflowId" dynamodbav:"workflow_id"`

	// Status
	Status ExecutionStatus `json:"status" dynamodbav:"status"`

	// Timing
	CreatedAt  time.Time  `json:"createdAt" dynamodbav:"created_at"`
	StartedAt  *time.Time `json:"startedAt,omitempty" dynamodbav:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" dynamodbav:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt" dynamodbav:"updated_at"`

	// Error handling
	ErrorMessage string `json:"errorMessage,omitempty" dynamodbav:"error_message,omitempty"`
}

// NodeExecution tracks one dispatch of a task node within an execution.
// Loop bodies produce one record per iteration, so NodeID is not unique
// within an execution; Sequence is.
type NodeExecution struct {
	// Identity
	ID          string `json:"id" dynamodbav:"node_execution_id"`
	ExecutionID string `json:"executionId" dynamodbav:"execution_id"`
	NodeID      string `json:"nodeId" dynamodbav:"node_id"`
	Sequence    int    `json:"sequence" dynamodbav:"sequence"`
	Iteration   *int   `json:"iteration,omitempty" dynamodbav:"iteration,omitempty"`

	// Status
	Status  NodeExecutionStatus `json:"status" dynamodbav:"status"`
	Handler HandlerType         `json:"handler,omitempty" dynamodbav:"handler,omitempty"`

	// Timing
	StartedAt  time.Time  `json:"startedAt" dynamodbav:"started_at"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" dynamodbav:"finished_at,omitempty"`
	DurationMs int64      `json:"durationMs" dynamodbav:"duration_ms"`

	// Result
	Output       string `json:"output,omitempty" dynamodbav:"output,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty" dynamodbav:"error_message,omitempty"`
}

// ValidationReport is the outcome of validating a stored workflow
type ValidationReport struct {
	WorkflowID       string   `json:"workflowId"`
	Valid            bool     `json:"valid"`
	NodeCount        int      `json:"nodeCount"`
	EdgeCount        int      `json:"edgeCount"`
	TopologicalOrder []string `json:"topologicalOrder"`
	IsolatedNodes    []string `json:"isolatedNodes"`
}
