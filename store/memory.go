package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sicko7947/agentflow"
)

// MemoryStore implements agentflow.Store using in-memory storage (for tests and local runs)
type MemoryStore struct {
	workflows      map[string]*agentflow.WorkflowGraph
	tasks          map[string]*agentflow.Task
	executions     map[string]*agentflow.Execution
	executionOrder []string                             // insertion order of executions
	nodeExecutions map[string][]*agentflow.NodeExecution // executionID -> records in sequence order
	mu             sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:      make(map[string]*agentflow.WorkflowGraph),
		tasks:          make(map[string]*agentflow.Task),
		executions:     make(map[string]*agentflow.Execution),
		nodeExecutions: make(map[string][]*agentflow.NodeExecution),
	}
}

var _ agentflow.Store = (*MemoryStore)(nil)

// Workflow operations

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *agentflow.WorkflowGraph) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[wf.ID] = wf.Clone()
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) (*agentflow.WorkflowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[workflowID]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, agentflow.ErrNotFound)
	}
	return wf.Clone(), nil
}

// Task operations

func (s *MemoryStore) SaveTask(ctx context.Context, task *agentflow.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*agentflow.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", taskID, agentflow.ErrNotFound)
	}
	return copyTask(task), nil
}

func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, taskID string, status agentflow.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s: %w", taskID, agentflow.ErrNotFound)
	}
	task.Status = status
	task.UpdatedAt = now()
	return nil
}

// Execution operations

func (s *MemoryStore) CreateExecution(ctx context.Context, exec *agentflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}

	execCopy := *exec
	s.executions[exec.ID] = &execCopy
	s.executionOrder = append(s.executionOrder, exec.ID)
	s.nodeExecutions[exec.ID] = nil
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*agentflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, exists := s.executions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution %s: %w", executionID, agentflow.ErrNotFound)
	}
	execCopy := *exec
	return &execCopy, nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *agentflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; !exists {
		return fmt.Errorf("execution %s: %w", exec.ID, agentflow.ErrNotFound)
	}
	execCopy := *exec
	s.executions[exec.ID] = &execCopy
	return nil
}

// ListExecutions returns matching executions, newest first
func (s *MemoryStore) ListExecutions(ctx context.Context, filter agentflow.ExecutionFilter) ([]*agentflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var execs []*agentflow.Execution
	for i := len(s.executionOrder) - 1; i >= 0; i-- {
		exec := s.executions[s.executionOrder[i]]
		if !filter.Matches(exec) {
			continue
		}

		execCopy := *exec
		execs = append(execs, &execCopy)

		if filter.Limit > 0 && len(execs) >= filter.Limit {
			break
		}
	}
	return execs, nil
}

// Node execution operations

func (s *MemoryStore) CreateNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[nodeExec.ExecutionID]; !exists {
		return fmt.Errorf("execution %s: %w", nodeExec.ExecutionID, agentflow.ErrNotFound)
	}

	execCopy := *nodeExec
	s.nodeExecutions[nodeExec.ExecutionID] = append(s.nodeExecutions[nodeExec.ExecutionID], &execCopy)
	return nil
}

func (s *MemoryStore) UpdateNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.nodeExecutions[nodeExec.ExecutionID] {
		if existing.ID == nodeExec.ID {
			execCopy := *nodeExec
			s.nodeExecutions[nodeExec.ExecutionID][i] = &execCopy
			return nil
		}
	}
	return fmt.Errorf("node execution %s: %w", nodeExec.ID, agentflow.ErrNotFound)
}

func (s *MemoryStore) ListNodeExecutions(ctx context.Context, executionID string) ([]*agentflow.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.nodeExecutions[executionID]
	execs := make([]*agentflow.NodeExecution, 0, len(records))
	for _, rec := range records {
		execCopy := *rec
		execs = append(execs, &execCopy)
	}

	// concurrent branches may insert out of sequence
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].Sequence < execs[j].Sequence
	})
	return execs, nil
}

func copyTask(task *agentflow.Task) *agentflow.Task {
	taskCopy := *task
	if task.Inputs != nil {
		taskCopy.Inputs = make(map[string]any, len(task.Inputs))
		for k, v := range task.Inputs {
			taskCopy.Inputs[k] = v
		}
	}
	return &taskCopy
}
