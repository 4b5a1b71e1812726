package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildhall/guildhall/pkg/eventbus"
	"github.com/guildhall/guildhall/pkg/events"
)

// Listener consumes GuildCommandsChanged events and syncs the named guild.
type Listener struct {
	bus    eventbus.EventSubscriber
	syncer *Syncer
	logger *slog.Logger
}

func NewListener(bus eventbus.EventSubscriber, syncer *Syncer, logger *slog.Logger) *Listener {
	return &Listener{
		bus:    bus,
		syncer: syncer,
		logger: logger.With("module", "command_listener"),
	}
}

// Start registers the handler and begins consuming.
func (l *Listener) Start(ctx context.Context) error {
	err := l.bus.Handle(events.GuildCommandsChangedEvent, l.handleGuildCommandsChanged)
	if err != nil {
		return fmt.Errorf("failed to register handler: %w", err)
	}

	err = l.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	l.logger.InfoContext(ctx, "Listening for command changes")

	return nil
}

func (l *Listener) handleGuildCommandsChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.GuildCommandsChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	l.logger.DebugContext(ctx, "Command change received", "guild_id", changed.GuildID, "event_id", changed.ID)

	return l.syncer.Sync(ctx, changed.GuildID)
}
