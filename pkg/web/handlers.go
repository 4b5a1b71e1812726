// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/guildhall/guildhall/pkg/engine"
	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/services"
)

type APIHandlers struct {
	workflowService *services.Workflow
	engine          *engine.Engine
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	workflowEngine *engine.Engine,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		engine:          workflowEngine,
		validator:       validate,
	}
}

// Register mounts the workflow routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	g := router.Group("/guilds/:guildId")
	g.Get("/workflows", h.GetGuildWorkflows)
	g.Post("/workflows", h.CreateWorkflow)
	g.Post("/commands/invoke", h.InvokeCommand)

	w := router.Group("/workflows")
	w.Post("/validate", h.ValidateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetGuildWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.ListByGuild(c.Context(), c.Params("guildId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id, err := workflowID(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Guildhall API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Guildhall API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	nodes, err := toNodes(req.Nodes)
	if err != nil {
		return badRequest(c, err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	result, err := h.workflowService.Create(c.Context(), services.CreateWorkflowInput{
		GuildID:     c.Params("guildId"),
		Name:        req.Name,
		Description: req.Description,
		CommandType: models.CommandType(req.CommandType),
		CommandName: req.CommandName,
		Enabled:     enabled,
		Nodes:       nodes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id, err := workflowID(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	nodes, err := toNodes(req.Nodes)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Update(c.Context(), id, services.UpdateWorkflowInput{
		Patch:   req.toPatch(),
		Nodes:   nodes,
		Version: req.Version,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	var req ValidateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	nodes, err := toNodes(req.Nodes)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.Validate(c.Context(), nodes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, true)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *APIHandlers) setEnabled(c fiber.Ctx, enabled bool) error {
	id, err := workflowID(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	result, err := h.workflowService.SetEnabled(c.Context(), id, enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id, err := workflowID(c)
	if err != nil {
		return badRequest(c, "Workflow ID must be a positive integer")
	}

	warnings, err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(DeleteWorkflowResponse{Deleted: true, Warnings: warnings})
}

func (h *APIHandlers) InvokeCommand(c fiber.Ctx) error {
	var req InvokeCommandRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	guildID := c.Params("guildId")

	result, err := h.engine.Dispatch(c.Context(), guildID, models.CommandType(req.CommandType), req.CommandName,
		models.InvocationContext{
			GuildID:   guildID,
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			Username:  req.Username,
			Options:   req.Options,
			Content:   req.Content,
		})
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(result)
}

func workflowID(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, services.ErrInvalidRequest
	}

	return id, nil
}
