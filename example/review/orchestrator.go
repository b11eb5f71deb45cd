package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/engine"
)

// Orchestrator handles the execution of review workflows
type Orchestrator struct {
	workflow *agentflow.WorkflowGraph
	store    agentflow.Store
	engine   *engine.Engine
	desk     *desk
	logger   zerolog.Logger
}

// NewOrchestrator creates a review orchestrator and stores its workflow
func NewOrchestrator(
	ctx context.Context,
	store agentflow.Store,
	logger zerolog.Logger,
	config agentflow.EngineConfig,
) (*Orchestrator, error) {
	wf, err := NewReviewWorkflow()
	if err != nil {
		return nil, err
	}
	if err := store.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save review workflow: %w", err)
	}

	d := &desk{logger: logger}
	eng := engine.NewEngine(store, d.invoker(),
		engine.WithLogger(logger),
		engine.WithConfig(config),
	)

	return &Orchestrator{
		workflow: wf,
		store:    store,
		engine:   eng,
		desk:     d,
		logger:   logger,
	}, nil
}

// StartReview creates a task for the input and runs it to completion
func (o *Orchestrator) StartReview(ctx context.Context, input ReviewInput) (string, error) {
	if input.Topic == "" {
		return "", errors.New("topic is required")
	}

	o.logger.Info().
		Str("topic", input.Topic).
		Bool("fast_track", input.FastTrack).
		Msg("Starting review workflow")

	now := time.Now()
	task := &agentflow.Task{
		ID:         uuid.New().String(),
		Title:      input.Topic,
		WorkflowID: o.workflow.ID,
		Status:     agentflow.TaskStatusPending,
		Inputs:     input.vars(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.SaveTask(ctx, task); err != nil {
		return "", fmt.Errorf("failed to save task: %w", err)
	}

	exec, err := o.engine.ExecuteTask(ctx, task.ID)
	if err != nil {
		return "", fmt.Errorf("failed to run review: %w", err)
	}

	o.logger.Info().
		Str("execution_id", exec.ID).
		Str("status", exec.Status.String()).
		Msg("Review workflow finished")

	return exec.ID, nil
}

// GetReviewStatus retrieves the execution and its node dispatches
func (o *Orchestrator) GetReviewStatus(ctx context.Context, executionID string) (*ReviewStatus, error) {
	exec, err := o.engine.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	nodeExecs, err := o.engine.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get node executions: %w", err)
	}

	return &ReviewStatus{
		Execution:      exec,
		NodeExecutions: nodeExecs,
		Rewrites:       o.desk.rewriteCount(),
	}, nil
}
