package main

import (
	"context"
	"log/slog"

	"github.com/guildhall/guildhall/pkg/commands"
	"github.com/guildhall/guildhall/pkg/eventbus"
)

// Worker keeps guild command surfaces in sync: it reacts to change events
// and periodically re-syncs every guild.
type Worker struct {
	id            string
	logger        *slog.Logger
	listener      *commands.Listener
	reconciler    *commands.Reconciler
	syncer        *commands.Syncer
	resyncOnStart bool
}

func NewWorker(
	id string,
	eventBus eventbus.EventSubscriber,
	syncer *commands.Syncer,
	reconciler *commands.Reconciler,
	resyncOnStart bool,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:            id,
		logger:        logger.With("module", "guildhall-worker", "worker_id", id),
		listener:      commands.NewListener(eventBus, syncer, logger),
		reconciler:    reconciler,
		syncer:        syncer,
		resyncOnStart: resyncOnStart,
	}
}

// Run starts the listener and the reconciler and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.listener.Start(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.resyncOnStart {
		w.reconciler.Run(ctx)
	}

	err = w.reconciler.Start(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(context.WithoutCancel(ctx), "Shutting down worker...")
	w.reconciler.Stop(context.WithoutCancel(ctx))

	return nil
}
