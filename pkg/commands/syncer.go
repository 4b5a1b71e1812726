package commands

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/guildhall/guildhall/pkg/platform"
)

// Syncer derives a guild's command surface from its workflows and pushes it
// to the platform. Pushing the same surface twice is harmless.
type Syncer struct {
	workflows persistence.WorkflowRepository
	pusher    platform.CommandPusher
	builtins  []models.CommandSpec
	logger    *slog.Logger
}

// NewSyncer creates a syncer. Built-in commands are part of every guild's
// surface and win over a workflow registered under the same name.
func NewSyncer(
	workflows persistence.WorkflowRepository,
	pusher platform.CommandPusher,
	logger *slog.Logger,
	builtins ...models.CommandSpec,
) *Syncer {
	return &Syncer{
		workflows: workflows,
		pusher:    pusher,
		builtins:  builtins,
		logger:    logger.With("module", "command_syncer"),
	}
}

// OnWorkflowChanged syncs the guild synchronously.
func (s *Syncer) OnWorkflowChanged(ctx context.Context, guildID string) error {
	return s.Sync(ctx, guildID)
}

// Surface returns the guild's commands sorted by type, then name.
func (s *Syncer) Surface(ctx context.Context, guildID string) ([]models.CommandSpec, error) {
	workflows, err := s.workflows.ListByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows for guild %s: %w", guildID, err)
	}

	type commandKey struct {
		commandType models.CommandType
		name        string
	}

	taken := make(map[commandKey]bool, len(s.builtins))
	surface := make([]models.CommandSpec, 0, len(s.builtins)+len(workflows))

	for _, builtin := range s.builtins {
		taken[commandKey{builtin.Type, builtin.Name}] = true
		surface = append(surface, builtin)
	}

	for _, workflow := range workflows {
		if !workflow.Enabled {
			continue
		}

		key := commandKey{workflow.CommandType, workflow.CommandName}
		if taken[key] {
			s.logger.WarnContext(ctx, "Workflow command shadowed by a built-in command",
				"guild_id", guildID,
				"workflow_id", workflow.ID,
				"command_name", workflow.CommandName,
			)

			continue
		}

		taken[key] = true
		surface = append(surface, models.CommandSpec{
			Type:        workflow.CommandType,
			Name:        workflow.CommandName,
			Description: workflow.Description,
			WorkflowID:  workflow.ID,
		})
	}

	slices.SortFunc(surface, func(a, b models.CommandSpec) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Name, b.Name))
	})

	return surface, nil
}

// Sync pushes the guild's current command surface.
func (s *Syncer) Sync(ctx context.Context, guildID string) error {
	surface, err := s.Surface(ctx, guildID)
	if err != nil {
		return err
	}

	err = s.pusher.PushGuildCommands(ctx, guildID, surface)
	if err != nil {
		return fmt.Errorf("failed to sync commands for guild %s: %w", guildID, err)
	}

	s.logger.InfoContext(ctx, "Synced guild commands", "guild_id", guildID, "commands", len(surface))

	return nil
}

// SyncAll syncs every guild that owns workflows. A failing guild does not
// stop the others; all failures are returned joined.
func (s *Syncer) SyncAll(ctx context.Context) error {
	guildIDs, err := s.workflows.ListGuildIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list guilds: %w", err)
	}

	var errs []error

	for _, guildID := range guildIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())

			break
		}

		err := s.Sync(ctx, guildID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Guild command sync failed", "guild_id", guildID, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
