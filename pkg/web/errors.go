package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/guildhall/guildhall/pkg/engine"
	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/services"
	"github.com/moogar0880/problems"
)

// GraphProblem is a 422 problem carrying every graph violation.
type GraphProblem struct {
	*problems.Problem

	Errors []models.ValidationError `json:"errors"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("workflow_not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx) error {
	// Infrastructure details are logged by the service, never returned.
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithDetail("internal server error")

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var graphErr *services.GraphValidationError

	switch {
	case errors.As(err, &graphErr):
		problem := GraphProblem{
			Problem: problems.NewStatusProblem(422).
				WithInstance(c.Path()).
				WithType("graph_invalid").
				WithDetail(graphErr.Error()),
			Errors: graphErr.Result.Errors,
		}

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.Is(err, services.ErrVersionConflict):
		return conflict(c, "version_conflict", "workflow was changed by another save; reload and retry")

	case errors.Is(err, services.ErrCommandNameTaken):
		return conflict(c, "command_name_taken", "another workflow in this guild already uses this command")

	case services.IsNotFound(err):
		return notFound(c, "workflow not found")

	default:
		return internalError(c)
	}
}

// handleExecutionError maps engine failures. Walk failures are reported as
// unprocessable since they come from the stored graph, not from the server.
func handleExecutionError(c fiber.Ctx, err error) error {
	var nodeErr *engine.NodeError

	switch {
	case services.IsNotFound(err):
		return notFound(c, "no workflow is registered for this command")

	case errors.Is(err, engine.ErrWorkflowDisabled):
		return conflict(c, "workflow_disabled", "workflow is disabled")

	case errors.As(err, &nodeErr), errors.Is(err, engine.ErrNoTrigger):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("execution_failed").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	default:
		return internalError(c)
	}
}
