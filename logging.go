package agentflow

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Execution-level events
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"

	// Node-level events
	EventNodeStarted       = "node_started"
	EventNodeCompleted     = "node_completed"
	EventNodeFailed        = "node_failed"
	EventNodeSkipped       = "node_skipped"
	EventDecisionEvaluated = "decision_evaluated"
	EventLoopIteration     = "loop_iteration"
	EventGatewayForked     = "gateway_forked"
	EventGatewayJoined     = "gateway_joined"

	// Validation events
	EventGraphIsolatedNodes = "graph_isolated_nodes"

	// Persistence events
	EventPersistenceError = "persistence_error"
)

// NewLogger builds the process logger. format is "console" or "json";
// an unknown level falls back to info.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if strings.EqualFold(format, "json") {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// LogExecutionStarted logs when an execution starts walking its graph
func LogExecutionStarted(logger zerolog.Logger, executionID, taskID, workflowID string) {
	logger.Info().
		Str("event", EventExecutionStarted).
		Str("execution_id", executionID).
		Str("task_id", taskID).
		Str("workflow_id", workflowID).
		Msg("Execution started")
}

// LogExecutionCompleted logs successful execution completion
func LogExecutionCompleted(logger zerolog.Logger, executionID string, duration time.Duration) {
	logger.Info().
		Str("event", EventExecutionCompleted).
		Str("execution_id", executionID).
		Dur("duration", duration).
		Msg("Execution completed")
}

// LogExecutionFailed logs execution failure
func LogExecutionFailed(logger zerolog.Logger, executionID string, err error) {
	logger.Error().
		Str("event", EventExecutionFailed).
		Str("execution_id", executionID).
		Str("code", ErrorCode(err)).
		Err(err).
		Msg("Execution failed")
}

// LogNodeStarted logs a task node dispatch
func LogNodeStarted(logger zerolog.Logger, nodeID string, handler HandlerType, sequence int) {
	logger.Info().
		Str("event", EventNodeStarted).
		Str("node_id", nodeID).
		Str("handler", handler.String()).
		Int("sequence", sequence).
		Msg("Node started")
}

// LogNodeCompleted logs successful node completion
func LogNodeCompleted(logger zerolog.Logger, nodeID string, durationMs int64) {
	logger.Info().
		Str("event", EventNodeCompleted).
		Str("node_id", nodeID).
		Int64("duration_ms", durationMs).
		Msg("Node completed")
}

// LogNodeFailed logs node failure
func LogNodeFailed(logger zerolog.Logger, nodeID string, err error) {
	logger.Error().
		Str("event", EventNodeFailed).
		Str("node_id", nodeID).
		Str("code", ErrorCode(err)).
		Err(err).
		Msg("Node failed")
}

// LogNodeSkipped logs a node the walk passes over
func LogNodeSkipped(logger zerolog.Logger, nodeID, reason string) {
	logger.Warn().
		Str("event", EventNodeSkipped).
		Str("node_id", nodeID).
		Str("reason", reason).
		Msg("Node skipped")
}

// LogDecisionEvaluated logs the outcome of a decision node
func LogDecisionEvaluated(logger zerolog.Logger, nodeID, expression string, result bool, next string) {
	logger.Info().
		Str("event", EventDecisionEvaluated).
		Str("node_id", nodeID).
		Str("expression", expression).
		Bool("result", result).
		Str("next", next).
		Msg("Decision evaluated")
}

// LogLoopIteration logs the start of a loop iteration
func LogLoopIteration(logger zerolog.Logger, nodeID string, iteration, maxIterations int) {
	logger.Debug().
		Str("event", EventLoopIteration).
		Str("node_id", nodeID).
		Int("iteration", iteration).
		Int("max_iterations", maxIterations).
		Msg("Loop iteration")
}

// LogGatewayForked logs a parallel fork
func LogGatewayForked(logger zerolog.Logger, nodeID string, branches []string) {
	logger.Info().
		Str("event", EventGatewayForked).
		Str("node_id", nodeID).
		Strs("branches", branches).
		Msg("Gateway forked")
}

// LogGatewayJoined logs a parallel join
func LogGatewayJoined(logger zerolog.Logger, nodeID string, err error) {
	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	ev.Str("event", EventGatewayJoined).
		Str("node_id", nodeID).
		Bool("success", err == nil).
		Msg("Gateway joined")
}

// LogIsolatedNodes warns about nodes without edges
func LogIsolatedNodes(logger zerolog.Logger, workflowID string, nodes []string) {
	logger.Warn().
		Str("event", EventGraphIsolatedNodes).
		Str("workflow_id", workflowID).
		Strs("nodes", nodes).
		Msg("Workflow has isolated nodes")
}

// LogPersistenceError logs errors during persistence operations
func LogPersistenceError(logger zerolog.Logger, executionID, operation string, err error) {
	logger.Error().
		Str("event", EventPersistenceError).
		Str("execution_id", executionID).
		Str("operation", operation).
		Err(err).
		Msg("Persistence error")
}

// ExecutionLogger creates a logger enriched with execution context
func ExecutionLogger(baseLogger zerolog.Logger, executionID, taskID, workflowID string) zerolog.Logger {
	return baseLogger.With().
		Str("execution_id", executionID).
		Str("task_id", taskID).
		Str("workflow_id", workflowID).
		Logger()
}

// NodeLogger creates a logger enriched with node context
func NodeLogger(executionLogger zerolog.Logger, node *Node) zerolog.Logger {
	return executionLogger.With().
		Str("node_id", node.ID).
		Str("node_name", node.Name).
		Str("node_kind", node.EffectiveKind().String()).
		Logger()
}
