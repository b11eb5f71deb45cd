package agentflow

import (
	"context"
	"errors"
	"fmt"
)

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeExecutionFailed = "EXECUTION_FAILED"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodePanic           = "PANIC"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Structural graph violations
var (
	ErrDanglingEdge  = errors.New("dangling edge")
	ErrCycleDetected = errors.New("cycle detected")
	ErrDuplicateNode = errors.New("duplicate node")
)

// Lookup failures
var (
	ErrNotFound            = errors.New("not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrWorkflowNotAssigned = errors.New("task has no workflow assigned")
)

// GraphError reports a structural problem in a node/edge set
type GraphError struct {
	Reason error
	Detail string
}

// NewGraphError creates a graph error for one of the structural reasons
func NewGraphError(reason error, detail string) *GraphError {
	return &GraphError{Reason: reason, Detail: detail}
}

// Error implements the error interface
func (e *GraphError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Unwrap exposes the reason for errors.Is
func (e *GraphError) Unwrap() error {
	return e.Reason
}

// WorkflowValidationError means the workflow definition, not the engine, is at fault
type WorkflowValidationError struct {
	WorkflowID string
	Reason     string
	Err        error
}

// Error implements the error interface
func (e *WorkflowValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] workflow %s: %s", ErrCodeValidation, e.WorkflowID, e.Err)
	}
	return fmt.Sprintf("[%s] workflow %s: %s", ErrCodeValidation, e.WorkflowID, e.Reason)
}

// Unwrap returns the underlying graph error, if any
func (e *WorkflowValidationError) Unwrap() error {
	return e.Err
}

// NewWorkflowValidationError wraps a graph error or a plain reason
func NewWorkflowValidationError(workflowID, reason string, err error) *WorkflowValidationError {
	return &WorkflowValidationError{WorkflowID: workflowID, Reason: reason, Err: err}
}

// NodeExecutionError is a failure while dispatching a single node
type NodeExecutionError struct {
	NodeID  string
	Handler HandlerType
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *NodeExecutionError) Error() string {
	if e.Handler != "" {
		return fmt.Sprintf("[%s] node %s (%s): %s", e.Code, e.NodeID, e.Handler, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
}

// Unwrap returns the cause
func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// NewNodeExecutionError builds a node failure, classifying timeouts and cancellation
func NewNodeExecutionError(nodeID string, handler HandlerType, err error) *NodeExecutionError {
	code := ErrCodeExecutionFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCancelled
	}

	return &NodeExecutionError{
		NodeID:  nodeID,
		Handler: handler,
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

// IsValidationError reports whether err is a workflow validation failure
func IsValidationError(err error) bool {
	var ve *WorkflowValidationError
	return errors.As(err, &ve)
}

// IsNotFoundError reports whether err means a task, workflow or record does not exist
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrWorkflowNotAssigned)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var ne *NodeExecutionError
	if errors.As(err, &ne) {
		return ne.Code == ErrCodeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ErrorCode classifies an error into one of the error codes
func ErrorCode(err error) string {
	var ne *NodeExecutionError
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return ErrCodeValidation
	case IsNotFoundError(err):
		return ErrCodeNotFound
	case errors.As(err, &ne):
		return ne.Code
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	default:
		return ErrCodeInternalError
	}
}
