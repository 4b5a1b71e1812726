package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/guildhall/guildhall/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflow_nodes", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("guildhall_test"),
			postgres.WithUsername("guildhall"),
			postgres.WithPassword("guildhall"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func newWorkflow(guildID, commandName string) *models.Workflow {
	return &models.Workflow{
		GuildID:     guildID,
		Name:        "Greeter",
		Description: "Says hello",
		CommandType: models.CommandTypeSlash,
		CommandName: commandName,
		Enabled:     true,
	}
}

func greeterNodes(template string) []*models.WorkflowNode {
	return []*models.WorkflowNode{
		{
			ClientID: "trigger",
			NodeType: models.NodeTypeTrigger,
			NodeData: models.NodeData{
				Ports: models.Ports{Outputs: []models.Port{{ID: "out"}}},
				Edges: map[string][]models.EdgeTarget{
					"out": {{TargetNodeID: "reply", TargetPortID: "in"}},
				},
			},
			PositionX: 10,
			PositionY: 20,
		},
		{
			ClientID: "reply",
			NodeType: models.NodeTypeResponse,
			NodeData: models.NodeData{
				Ports:  models.Ports{Inputs: []models.Port{{ID: "in"}}},
				Config: map[string]any{"template": template},
			},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_nodes", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository_CreateAndGet(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	created, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	assert.NotZero(t, created.ID)
	assert.Equal(t, 1, created.Version)
	require.Len(t, created.Nodes, 2)
	assert.NotZero(t, created.Nodes[0].ID)
	assert.Equal(t, created.ID, created.Nodes[0].WorkflowID)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, "guild-1", got.GuildID)
	assert.Equal(t, models.CommandTypeSlash, got.CommandType)
	assert.Equal(t, "greet", got.CommandName)
	assert.True(t, got.Enabled)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "trigger", got.Nodes[0].ClientID)
	assert.Equal(t, models.NodeTypeTrigger, got.Nodes[0].NodeType)
	assert.Equal(t, 10, got.Nodes[0].PositionX)
	assert.Equal(t, []models.EdgeTarget{{TargetNodeID: "reply", TargetPortID: "in"}}, got.Nodes[0].NodeData.Edges["out"])
	assert.Equal(t, "reply", got.Nodes[1].ClientID)
	assert.Equal(t, "hi", got.Nodes[1].NodeData.Config["template"])
}

func TestWorkflowRepository_CommandNameTaken(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	_, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	_, err = repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.Error(t, err)
	assert.True(t, persistence.IsCommandNameTaken(err))

	// Same name in another guild is fine
	_, err = repo.CreateWithNodes(ctx, newWorkflow("guild-2", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	workflows, err := repo.ListByGuild(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, workflows, 1)
}

func TestWorkflowRepository_UpdateWithNodes(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	created, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	name := "Welcome"
	updated, err := repo.UpdateWithNodes(ctx, created.ID, models.WorkflowPatch{Name: &name}, greeterNodes("welcome"), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Welcome", updated.Name)
	assert.Equal(t, "greet", updated.CommandName)
	require.Len(t, updated.Nodes, 2)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "welcome", got.Nodes[1].NodeData.Config["template"])
}

func TestWorkflowRepository_UpdateWithNodes_VersionConflict(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	created, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	name := "First"
	_, err = repo.UpdateWithNodes(ctx, created.ID, models.WorkflowPatch{Name: &name}, greeterNodes("first"), 1)
	require.NoError(t, err)

	before, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	stale := "Stale"
	_, err = repo.UpdateWithNodes(ctx, created.ID, models.WorkflowPatch{Name: &stale}, greeterNodes("stale")[:1], 1)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	after, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWorkflowRepository_UpdateWithNodes_NotFound(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, err := p.WorkflowRepository().UpdateWithNodes(ctx, 4242, models.WorkflowPatch{}, nil, 1)
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_UpdateWithNodes_RenameCollision(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	_, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	other, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "wave"), greeterNodes("wave"))
	require.NoError(t, err)

	commandName := "greet"
	_, err = repo.UpdateWithNodes(ctx, other.ID, models.WorkflowPatch{CommandName: &commandName}, nil, other.Version)
	require.Error(t, err)
	assert.True(t, persistence.IsCommandNameTaken(err))

	got, err := repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "wave", got.CommandName)
	assert.Len(t, got.Nodes, 2)
}

func TestWorkflowRepository_SetEnabled(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	created, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	disabled, err := repo.SetEnabled(ctx, created.ID, false, 0)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Equal(t, 2, disabled.Version)
	assert.Len(t, disabled.Nodes, 2)

	_, err = repo.SetEnabled(ctx, created.ID, true, 1)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, 2, stored.Version)

	enabled, err := repo.SetEnabled(ctx, created.ID, true, 2)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)

	_, err = repo.SetEnabled(ctx, 9999, true, 0)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = repo.SetEnabled(ctx, 9999, true, 4)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_FindByCommand(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	created, err := repo.CreateWithNodes(ctx, newWorkflow("guild-1", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	found, err := repo.FindByCommand(ctx, "guild-1", models.CommandTypeSlash, "greet")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Len(t, found.Nodes, 2)

	_, err = repo.FindByCommand(ctx, "guild-1", models.CommandTypePrefix, "greet")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ListGuildIDsAndDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	first, err := repo.CreateWithNodes(ctx, newWorkflow("guild-b", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	_, err = repo.CreateWithNodes(ctx, newWorkflow("guild-a", "greet"), greeterNodes("hi"))
	require.NoError(t, err)

	_, err = repo.CreateWithNodes(ctx, newWorkflow("guild-b", "wave"), greeterNodes("hi"))
	require.NoError(t, err)

	guildIDs, err := repo.ListGuildIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"guild-a", "guild-b"}, guildIDs)

	workflows, err := repo.ListByGuild(ctx, "guild-b")
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, first.ID, workflows[0].ID)
	assert.Empty(t, workflows[0].Nodes)

	require.NoError(t, repo.Delete(ctx, first.ID))

	_, err = repo.GetByID(ctx, first.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(ctx, first.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
