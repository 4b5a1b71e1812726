package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultResyncSchedule is how often every guild is re-synced when no schedule is configured.
const DefaultResyncSchedule = "@every 15m"

// Reconciler periodically re-syncs every guild so that lost change events
// still converge.
type Reconciler struct {
	syncer   *Syncer
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewReconciler validates the schedule. An empty schedule means DefaultResyncSchedule.
func NewReconciler(syncer *Syncer, schedule string, logger *slog.Logger) (*Reconciler, error) {
	if schedule == "" {
		schedule = DefaultResyncSchedule
	}

	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}

	return &Reconciler{
		syncer:   syncer,
		schedule: schedule,
		logger:   logger.With("module", "command_reconciler", "schedule", schedule),
	}, nil
}

// Start schedules the resync job. Runs never overlap.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(r.schedule, func() {
		r.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resync: %w", err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Command reconciler started")

	return nil
}

// Run performs one full resync.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "Resyncing all guild commands")

	err := r.syncer.SyncAll(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Resync finished with errors", "error", err)
	}
}

// Stop stops the scheduler and waits for a running resync.
func (r *Reconciler) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}

	<-r.cron.Stop().Done()
	r.logger.InfoContext(ctx, "Command reconciler stopped")
}
