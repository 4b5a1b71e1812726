package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/guildhall/guildhall/pkg/engine"
	"github.com/guildhall/guildhall/pkg/services"
	"github.com/guildhall/guildhall/pkg/web"
)

type API struct {
	logger          *slog.Logger
	workflowService *services.Workflow
	engine          *engine.Engine
	validate        *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	workflowService *services.Workflow,
	workflowEngine *engine.Engine,
) *API {
	return &API{
		logger:          logger,
		workflowService: workflowService,
		engine:          workflowEngine,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflowService, a.engine, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Guildhall API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
