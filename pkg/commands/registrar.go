// Package commands keeps each guild's registered command surface in step with
// its workflows.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildhall/guildhall/pkg/eventbus"
	"github.com/guildhall/guildhall/pkg/events"
)

// Registrar is notified after every successful workflow save or delete.
type Registrar interface {
	OnWorkflowChanged(ctx context.Context, guildID string) error
}

// EventRegistrar defers the re-sync to a worker by publishing GuildCommandsChanged.
type EventRegistrar struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewEventRegistrar(publisher eventbus.EventPublisher, logger *slog.Logger) *EventRegistrar {
	return &EventRegistrar{
		publisher: publisher,
		logger:    logger.With("module", "event_registrar"),
	}
}

func (r *EventRegistrar) OnWorkflowChanged(ctx context.Context, guildID string) error {
	event := events.GuildCommandsChanged{
		BaseEvent: events.NewBaseEvent(events.GuildCommandsChangedEvent, guildID),
		Reason:    "workflow.changed",
	}

	err := r.publisher.Publish(ctx, guildID, event)
	if err != nil {
		return fmt.Errorf("failed to request command sync for guild %s: %w", guildID, err)
	}

	r.logger.DebugContext(ctx, "Requested command sync", "guild_id", guildID, "event_id", event.ID)

	return nil
}
