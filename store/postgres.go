package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sicko7947/agentflow"
)

//go:embed schema.sql
var postgresSchema string

// PgxPool is the subset of *pgxpool.Pool used by the store
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresStore implements agentflow.Store on PostgreSQL
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ agentflow.Store = (*PostgresStore)(nil)

// NewPool opens a pgx pool and checks connectivity
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type workflowDefinition struct {
	Nodes []agentflow.Node `json:"nodes"`
	Edges []agentflow.Edge `json:"edges"`
}

// Workflow operations

func (s *PostgresStore) SaveWorkflow(ctx context.Context, wf *agentflow.WorkflowGraph) error {
	definition, err := json.Marshal(workflowDefinition{Nodes: wf.Nodes, Edges: wf.Edges})
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	wf.UpdatedAt = now()

	query := `
		INSERT INTO workflows (id, name, description, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
		    definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query, wf.ID, wf.Name, wf.Description, definition, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (*agentflow.WorkflowGraph, error) {
	query := `
		SELECT id, name, description, definition, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`
	var wf agentflow.WorkflowGraph
	var definition []byte

	err := s.pool.QueryRow(ctx, query, workflowID).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&definition,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, agentflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	var def workflowDefinition
	if err := json.Unmarshal(definition, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	wf.Nodes = def.Nodes
	wf.Edges = def.Edges
	return &wf, nil
}

// Task operations

func (s *PostgresStore) SaveTask(ctx context.Context, task *agentflow.Task) error {
	inputs, err := json.Marshal(task.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	task.UpdatedAt = now()

	query := `
		INSERT INTO tasks (id, title, workflow_id, status, inputs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, workflow_id = EXCLUDED.workflow_id, status = EXCLUDED.status,
		    inputs = EXCLUDED.inputs, updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		task.ID,
		task.Title,
		nullString(task.WorkflowID),
		string(task.Status),
		inputs,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*agentflow.Task, error) {
	query := `
		SELECT id, title, workflow_id, status, inputs, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`
	var task agentflow.Task
	var workflowID *string
	var status string
	var inputs []byte

	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.Title,
		&workflowID,
		&status,
		&inputs,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, agentflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = agentflow.TaskStatus(status)
	if workflowID != nil {
		task.WorkflowID = *workflowID
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &task.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	return &task, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID string, status agentflow.TaskStatus) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = $3 WHERE id = $1`,
		taskID, string(status), now(),
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", taskID, agentflow.ErrNotFound)
	}
	return nil
}

// Execution operations

const executionColumns = `id, task_id, workflow_id, status, created_at, started_at, finished_at, updated_at, error_message`

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *agentflow.Execution) error {
	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		exec.ID,
		exec.TaskID,
		exec.WorkflowID,
		exec.Status.String(),
		exec.CreatedAt,
		exec.StartedAt,
		exec.FinishedAt,
		exec.UpdatedAt,
		nullString(exec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*agentflow.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	exec, err := scanExecution(s.pool.QueryRow(ctx, query, executionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", executionID, agentflow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *agentflow.Execution) error {
	exec.UpdatedAt = now()

	query := `
		UPDATE executions
		SET status = $2, started_at = $3, finished_at = $4, updated_at = $5, error_message = $6
		WHERE id = $1
	`
	result, err := s.pool.Exec(ctx, query,
		exec.ID,
		exec.Status.String(),
		exec.StartedAt,
		exec.FinishedAt,
		exec.UpdatedAt,
		nullString(exec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, agentflow.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter agentflow.ExecutionFilter) ([]*agentflow.Execution, error) {
	var status *string
	if filter.Status != nil {
		status = nullString(filter.Status.String())
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE ($1::text IS NULL OR task_id = $1)
		  AND ($2::text IS NULL OR workflow_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query,
		nullString(filter.TaskID),
		nullString(filter.WorkflowID),
		status,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*agentflow.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// Node execution operations

const nodeExecutionColumns = `id, execution_id, node_id, sequence, iteration, status, handler,
	started_at, finished_at, duration_ms, output, error_message`

func (s *PostgresStore) CreateNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution) error {
	query := `
		INSERT INTO node_executions (` + nodeExecutionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.pool.Exec(ctx, query,
		nodeExec.ID,
		nodeExec.ExecutionID,
		nodeExec.NodeID,
		nodeExec.Sequence,
		nodeExec.Iteration,
		nodeExec.Status.String(),
		nodeExec.Handler.String(),
		nodeExec.StartedAt,
		nodeExec.FinishedAt,
		nodeExec.DurationMs,
		nullString(nodeExec.Output),
		nullString(nodeExec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert node execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNodeExecution(ctx context.Context, nodeExec *agentflow.NodeExecution) error {
	query := `
		UPDATE node_executions
		SET status = $2, finished_at = $3, duration_ms = $4, output = $5, error_message = $6
		WHERE id = $1
	`
	result, err := s.pool.Exec(ctx, query,
		nodeExec.ID,
		nodeExec.Status.String(),
		nodeExec.FinishedAt,
		nodeExec.DurationMs,
		nullString(nodeExec.Output),
		nullString(nodeExec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("update node execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("node execution %s: %w", nodeExec.ID, agentflow.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListNodeExecutions(ctx context.Context, executionID string) ([]*agentflow.NodeExecution, error) {
	query := `
		SELECT ` + nodeExecutionColumns + `
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY sequence ASC
	`
	rows, err := s.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	defer rows.Close()

	var execs []*agentflow.NodeExecution
	for rows.Next() {
		var ne agentflow.NodeExecution
		var status, handler string
		var output, errorMessage *string

		err := rows.Scan(
			&ne.ID,
			&ne.ExecutionID,
			&ne.NodeID,
			&ne.Sequence,
			&ne.Iteration,
			&status,
			&handler,
			&ne.StartedAt,
			&ne.FinishedAt,
			&ne.DurationMs,
			&output,
			&errorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan node execution: %w", err)
		}

		ne.Status = agentflow.NodeExecutionStatus(status)
		ne.Handler = agentflow.HandlerType(handler)
		ne.Output = derefString(output)
		ne.ErrorMessage = derefString(errorMessage)
		execs = append(execs, &ne)
	}
	return execs, rows.Err()
}

// scanExecution scans one row into an Execution. pgx.ErrNoRows is returned unwrapped.
func scanExecution(row pgx.Row) (*agentflow.Execution, error) {
	var exec agentflow.Execution
	var status string
	var errorMessage *string

	err := row.Scan(
		&exec.ID,
		&exec.TaskID,
		&exec.WorkflowID,
		&status,
		&exec.CreatedAt,
		&exec.StartedAt,
		&exec.FinishedAt,
		&exec.UpdatedAt,
		&errorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec.Status = agentflow.ExecutionStatus(status)
	exec.ErrorMessage = derefString(errorMessage)
	return &exec, nil
}

// nullString returns nil for an empty string so it is stored as NULL
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
