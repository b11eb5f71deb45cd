package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sicko7947/agentflow"
)

// executionResponse is an execution record with its node dispatches
type executionResponse struct {
	*agentflow.Execution
	NodeExecutions []*agentflow.NodeExecution `json:"nodeExecutions"`
}

// startExecution runs the task's workflow to completion. A run that fails
// inside the graph is still a 200: the failure is on the returned record.
func (s *Server) startExecution(c fiber.Ctx) error {
	taskID := c.Params("taskId")

	exec, err := s.orchestrator.ExecuteTask(c.Context(), taskID)
	if err != nil {
		return handleError(c, err)
	}

	return s.respondExecution(c, exec)
}

func (s *Server) getExecution(c fiber.Ctx) error {
	exec, err := s.orchestrator.GetExecution(c.Context(), c.Params("executionId"))
	if err != nil {
		return handleError(c, err)
	}

	return s.respondExecution(c, exec)
}

func (s *Server) respondExecution(c fiber.Ctx, exec *agentflow.Execution) error {
	nodeExecs, err := s.orchestrator.ListNodeExecutions(c.Context(), exec.ID)
	if err != nil {
		return handleError(c, err)
	}
	if nodeExecs == nil {
		nodeExecs = []*agentflow.NodeExecution{}
	}

	return c.JSON(executionResponse{Execution: exec, NodeExecutions: nodeExecs})
}

func (s *Server) listExecutions(c fiber.Ctx) error {
	filter, err := parseExecutionFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	execs, err := s.orchestrator.ListExecutions(c.Context(), filter)
	if err != nil {
		return handleError(c, err)
	}
	if execs == nil {
		execs = []*agentflow.Execution{}
	}

	return c.JSON(fiber.Map{
		"executions": execs,
		"count":      len(execs),
	})
}

func parseExecutionFilter(c fiber.Ctx) (agentflow.ExecutionFilter, error) {
	filter := agentflow.ExecutionFilter{
		TaskID:     c.Query("taskId"),
		WorkflowID: c.Query("workflowId"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := agentflow.ExecutionStatus(strings.ToUpper(statusStr))
		switch status {
		case agentflow.ExecutionStatusPending, agentflow.ExecutionStatusRunning,
			agentflow.ExecutionStatusSucceeded, agentflow.ExecutionStatusFailed:
			filter.Status = &status
		default:
			return filter, fmt.Errorf("unknown status %q", statusStr)
		}
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}

func (s *Server) validateWorkflow(c fiber.Ctx) error {
	report, err := s.orchestrator.ValidateWorkflow(c.Context(), c.Params("workflowId"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(report)
}
