// Package persistence provides the data storage abstraction layer for workflows.
package persistence

import (
	"context"

	"github.com/guildhall/guildhall/pkg/models"
)

// Persistence is a storage backend for workflows.
type Persistence interface {
	WorkflowRepository() WorkflowRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows together with their node sets.
// Node sets are only ever written as a whole, inside the same transaction as
// the workflow row.
type WorkflowRepository interface {
	// CreateWithNodes inserts the workflow and all of its nodes atomically.
	// The returned workflow carries its storage id, version 1 and the stored nodes.
	CreateWithNodes(ctx context.Context, workflow *models.Workflow, nodes []*models.WorkflowNode) (*models.Workflow, error)

	// UpdateWithNodes applies patch and replaces the whole node set, but only
	// when the stored version equals expectedVersion. On success the version is
	// incremented by one. A stale version yields ErrVersionConflict and leaves
	// the stored workflow untouched.
	UpdateWithNodes(
		ctx context.Context,
		workflowID int64,
		patch models.WorkflowPatch,
		nodes []*models.WorkflowNode,
		expectedVersion int,
	) (*models.Workflow, error)

	// SetEnabled toggles the enabled flag and increments the version. A
	// non-zero expectedVersion guards the write like UpdateWithNodes does;
	// zero writes unconditionally.
	SetEnabled(ctx context.Context, workflowID int64, enabled bool, expectedVersion int) (*models.Workflow, error)

	// GetByID returns the workflow with its nodes or ErrWorkflowNotFound.
	GetByID(ctx context.Context, workflowID int64) (*models.Workflow, error)

	// FindByCommand returns the workflow registered for a guild command or ErrWorkflowNotFound.
	FindByCommand(ctx context.Context, guildID string, commandType models.CommandType, commandName string) (*models.Workflow, error)

	// ListByGuild returns the guild's workflows without nodes, ordered by id.
	ListByGuild(ctx context.Context, guildID string) ([]*models.Workflow, error)

	// ListGuildIDs returns every guild that owns at least one workflow.
	ListGuildIDs(ctx context.Context) ([]string, error)

	// Delete removes the workflow and its nodes or returns ErrWorkflowNotFound.
	Delete(ctx context.Context, workflowID int64) error
}
