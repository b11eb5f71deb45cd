package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/sicko7947/agentflow"
)

const problemContentType = "application/problem+json"

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType(agentflow.ErrCodeValidation).
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem, problemContentType)
}

// handleError maps the orchestrator error kinds to problem documents
func handleError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case agentflow.IsValidationError(err):
		status = fiber.StatusBadRequest
	case agentflow.IsNotFoundError(err):
		status = fiber.StatusNotFound
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(agentflow.ErrorCode(err)).
		WithDetail(err.Error())

	return c.Status(status).JSON(problem, problemContentType)
}
