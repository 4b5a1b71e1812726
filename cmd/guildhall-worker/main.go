// Package main provides the guildhall command-sync worker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/guildhall/guildhall/pkg/cmd"
	"github.com/guildhall/guildhall/pkg/commands"
	"github.com/guildhall/guildhall/pkg/log"
	"github.com/guildhall/guildhall/pkg/platform"
	cli "github.com/urfave/cli/v3"
)

const platformRequestTimeout = 10 * time.Second

var errGatewayRequired = errors.New("platform gateway URL is required")

func main() {
	command := &cli.Command{
		Name:                  "guildhall-worker",
		EnableShellCompletion: true,
		Usage:                 "Keep guild command registrations in sync with workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (gochannel, kafka)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka broker addresses",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
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
			&cli.StringFlag{
				Name:    "resync-schedule",
				Usage:   "Cron schedule of the full command resync",
				Value:   commands.DefaultResyncSchedule,
				Sources: cli.EnvVars("RESYNC_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "resync-on-start",
				Usage:   "Resync every guild before consuming events",
				Value:   true,
				Sources: cli.EnvVars("RESYNC_ON_START"),
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
		slog.Error("guildhall-worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("guildhall-worker").With("workerId", workerID)

	logger.InfoContext(ctx, "Initializing Guildhall Worker")

	gatewayURL := command.String("platform-gateway-url")
	if gatewayURL == "" {
		return errGatewayRequired
	}

	builtins, err := cmd.ParseBuiltinCommands(command.String("builtin-commands"))
	if err != nil {
		return err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "guildhall-worker", logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

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

	client := platform.NewClient(gatewayURL, command.String("platform-token"),
		&http.Client{Timeout: platformRequestTimeout}, logger)
	syncer := commands.NewSyncer(persistence.WorkflowRepository(), client, logger, builtins...)

	reconciler, err := commands.NewReconciler(syncer, command.String("resync-schedule"), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := NewWorker(workerID, eventBus, syncer, reconciler, command.Bool("resync-on-start"), logger)

	return worker.Run(ctx)
}
