// Package main provides the guildhall API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/guildhall/guildhall/pkg/cache"
	"github.com/guildhall/guildhall/pkg/cmd"
	"github.com/guildhall/guildhall/pkg/commands"
	"github.com/guildhall/guildhall/pkg/engine"
	"github.com/guildhall/guildhall/pkg/eventbus"
	"github.com/guildhall/guildhall/pkg/log"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/guildhall/guildhall/pkg/platform"
	"github.com/guildhall/guildhall/pkg/services"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort            = 9091
	platformRequestTimeout = 10 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "guildhall-api",
		Usage:                 "Manage and run guild command workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka); empty syncs commands in process",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka broker addresses",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "cache-url",
				Usage:   "Workflow cache (empty, memory, redis://...)",
				Sources: cli.EnvVars("CACHE_URL"),
			},
			&cli.StringFlag{
				Name:    "platform-gateway-url",
				Usage:   "Base URL of the chat platform gateway",
				Sources: cli.EnvVars("PLATFORM_GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "platform-token",
				Usage:   "Bot token presented to the chat platform gateway",
				Sources: cli.EnvVars("PLATFORM_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "builtin-commands",
				Usage:   "Built-in commands as type:name pairs, e.g. slash:help,prefix:!ping",
				Sources: cli.EnvVars("BUILTIN_COMMANDS"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("guildhall-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Guildhall API")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	workflowCache, closeCache, err := cmd.NewCache(ctx, command.String("cache-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := closeCache()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close cache", "error", err)
		}
	}()

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("otel-enabled"), "guildhall-api")
	if err != nil {
		return err
	}

	defer func() {
		err := shutdownTracer(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
		}
	}()

	var client *platform.Client
	if gatewayURL := command.String("platform-gateway-url"); gatewayURL != "" {
		client = platform.NewClient(gatewayURL, command.String("platform-token"),
			&http.Client{Timeout: platformRequestTimeout}, logger)
	}

	var eventBus eventbus.EventBus
	if provider := command.String("event-bus"); provider != "" {
		eventBus, err = cmd.NewEventBus(provider, command.String("kafka-brokers"), "guildhall-api", logger)
		if err != nil {
			return err
		}

		defer func() {
			err := eventBus.Close()
			if err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()
	}

	registrar, err := newRegistrar(persistence, eventBus, client, command.String("builtin-commands"), logger)
	if err != nil {
		return err
	}

	workflowEngine, err := newEngine(persistence, workflowCache, eventBus, client, tracer, logger)
	if err != nil {
		return err
	}

	api := NewAPI(
		logger,
		services.NewWorkflow(persistence, registrar, workflowCache, logger),
		workflowEngine,
	)

	return api.Start(command.Int("port"))
}

// newRegistrar publishes command changes when an event bus is configured,
// pushes them in process when only the gateway is, and skips them otherwise.
//
//nolint:ireturn // the registrar flavor depends on configuration
func newRegistrar(
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	client *platform.Client,
	builtinCommands string,
	logger *slog.Logger,
) (commands.Registrar, error) {
	switch {
	case eventBus != nil:
		return commands.NewEventRegistrar(eventBus, logger), nil
	case client != nil:
		builtins, err := cmd.ParseBuiltinCommands(builtinCommands)
		if err != nil {
			return nil, err
		}

		return commands.NewSyncer(persistence.WorkflowRepository(), client, logger, builtins...), nil
	default:
		logger.Warn("No event bus or platform gateway configured; command registration is disabled")

		return nil, nil
	}
}

func newEngine(
	persistence persistence.Persistence,
	workflowCache cache.WorkflowCache,
	eventBus eventbus.EventBus,
	client *platform.Client,
	tracer trace.Tracer,
	logger *slog.Logger,
) (*engine.Engine, error) {
	builtins := engine.BuiltinActions(nil, nil)
	if client != nil {
		builtins = engine.BuiltinActions(client, client)
	}

	actions, err := engine.NewActionRegistry(builtins...)
	if err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	deps := engine.Dependencies{
		Repository: persistence.WorkflowRepository(),
		Cache:      workflowCache,
		Actions:    actions,
		Tracer:     tracer,
		Logger:     logger,
	}

	if eventBus != nil {
		deps.Publisher = eventBus
	}

	return engine.NewEngine(deps), nil
}
