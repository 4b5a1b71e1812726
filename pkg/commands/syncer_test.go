package commands_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/guildhall/guildhall/pkg/channels/gochannel"
	"github.com/guildhall/guildhall/pkg/commands"
	"github.com/guildhall/guildhall/pkg/eventbus"
	"github.com/guildhall/guildhall/pkg/mocks"
	"github.com/guildhall/guildhall/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

var helpCommand = models.CommandSpec{Type: models.CommandTypeSlash, Name: "help", Description: "List commands"}

func guildWorkflows() []*models.Workflow {
	return []*models.Workflow{
		{ID: 1, GuildID: "guild-1", CommandType: models.CommandTypeSlash, CommandName: "wave", Enabled: true},
		{ID: 2, GuildID: "guild-1", CommandType: models.CommandTypePrefix, CommandName: "roll", Enabled: true},
		{ID: 3, GuildID: "guild-1", CommandType: models.CommandTypeSlash, CommandName: "draft", Enabled: false},
		{ID: 4, GuildID: "guild-1", CommandType: models.CommandTypeSlash, CommandName: "greet", Description: "Say hi", Enabled: true},
		{ID: 5, GuildID: "guild-1", CommandType: models.CommandTypeSlash, CommandName: "help", Enabled: true},
	}
}

func TestSyncer_Surface(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("ListByGuild", mock.Anything, "guild-1").Return(guildWorkflows(), nil)

	syncer := commands.NewSyncer(repo, &mocks.MockPlatform{}, logger, helpCommand)

	surface, err := syncer.Surface(t.Context(), "guild-1")
	require.NoError(t, err)

	assert.Equal(t, []models.CommandSpec{
		{Type: models.CommandTypePrefix, Name: "roll", WorkflowID: 2},
		{Type: models.CommandTypeSlash, Name: "greet", Description: "Say hi", WorkflowID: 4},
		helpCommand,
		{Type: models.CommandTypeSlash, Name: "wave", WorkflowID: 1},
	}, surface)
}

func TestSyncer_SyncIsIdempotent(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("ListByGuild", mock.Anything, "guild-1").Return(guildWorkflows(), nil)

	var pushed [][]models.CommandSpec

	pusher := &mocks.MockPlatform{}
	pusher.On("PushGuildCommands", mock.Anything, "guild-1", mock.Anything).
		Run(func(args mock.Arguments) {
			pushed = append(pushed, args.Get(2).([]models.CommandSpec))
		}).
		Return(nil)

	syncer := commands.NewSyncer(repo, pusher, logger)

	require.NoError(t, syncer.OnWorkflowChanged(t.Context(), "guild-1"))
	require.NoError(t, syncer.Sync(t.Context(), "guild-1"))

	require.Len(t, pushed, 2)
	assert.Equal(t, pushed[0], pushed[1])
	assert.Len(t, pushed[0], 4)
}

func TestSyncer_SyncErrors(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("ListByGuild", mock.Anything, "broken").Return(nil, errors.New("db down"))
	repo.On("ListByGuild", mock.Anything, "guild-1").Return([]*models.Workflow{}, nil)

	pusher := &mocks.MockPlatform{}
	pusher.On("PushGuildCommands", mock.Anything, "guild-1", mock.Anything).Return(errors.New("gateway down"))

	syncer := commands.NewSyncer(repo, pusher, logger)

	err := syncer.Sync(t.Context(), "broken")
	assert.ErrorContains(t, err, "db down")

	err = syncer.Sync(t.Context(), "guild-1")
	assert.ErrorContains(t, err, "gateway down")
}

func TestSyncer_SyncAllContinuesPastFailures(t *testing.T) {
	repo := &mocks.MockWorkflowRepository{}
	repo.On("ListGuildIDs", mock.Anything).Return([]string{"guild-a", "guild-b", "guild-c"}, nil)
	repo.On("ListByGuild", mock.Anything, mock.Anything).Return([]*models.Workflow{}, nil)

	pusher := &mocks.MockPlatform{}
	pusher.On("PushGuildCommands", mock.Anything, "guild-b", mock.Anything).Return(errors.New("rate limited"))
	pusher.On("PushGuildCommands", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	syncer := commands.NewSyncer(repo, pusher, logger)

	err := syncer.SyncAll(t.Context())
	require.Error(t, err)
	assert.ErrorContains(t, err, "guild-b")

	pusher.AssertNumberOfCalls(t, "PushGuildCommands", 3)
}

func TestEventRegistrar_PublishesGuildEvent(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	registrar := commands.NewEventRegistrar(bus, logger)

	require.NoError(t, registrar.OnWorkflowChanged(t.Context(), "guild-1"))

	bus.AssertCalled(t, "Publish", mock.Anything, "guild-1", mock.MatchedBy(func(event eventbus.Event) bool {
		return event.GetType() == "guild.commands.changed"
	}))
}

func TestEventRegistrar_PublishFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(errors.New("broker unavailable"))

	err := commands.NewEventRegistrar(bus, logger).OnWorkflowChanged(t.Context(), "guild-1")
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestListener_SyncsOnEvent(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	repo := &mocks.MockWorkflowRepository{}
	repo.On("ListByGuild", mock.Anything, "guild-1").Return(guildWorkflows(), nil)

	synced := make(chan string, 1)

	pusher := &mocks.MockPlatform{}
	pusher.On("PushGuildCommands", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { synced <- args.String(1) }).
		Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	listener := commands.NewListener(bus, commands.NewSyncer(repo, pusher, logger), logger)
	require.NoError(t, listener.Start(ctx))

	require.NoError(t, commands.NewEventRegistrar(bus, logger).OnWorkflowChanged(ctx, "guild-1"))

	select {
	case guildID := <-synced:
		assert.Equal(t, "guild-1", guildID)
	case <-time.After(5 * time.Second):
		t.Fatal("guild was not synced")
	}
}
