package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/lib/pq"
)

const (
	uniqueViolation       = "23505"
	guildCommandKey       = "workflows_guild_command_key"
	workflowColumns       = "id, guild_id, name, description, command_type, command_name, enabled, version, created_at, updated_at"
	workflowNodeColumns   = "id, workflow_id, client_id, node_type, node_data, position_x, position_y"
	insertWorkflowNodeSQL = `
		INSERT INTO workflow_nodes (workflow_id, client_id, node_type, node_data, position_x, position_y, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// CreateWithNodes inserts the workflow row and every node row in one transaction.
func (r *WorkflowRepository) CreateWithNodes(
	ctx context.Context,
	workflow *models.Workflow,
	nodes []*models.WorkflowNode,
) (*models.Workflow, error) {
	now := time.Now().UTC()

	created := *workflow
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO workflows (guild_id, name, description, command_type, command_name, enabled, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		created.GuildID,
		created.Name,
		created.Description,
		created.CommandType,
		created.CommandName,
		created.Enabled,
		created.Version,
		created.CreatedAt,
		created.UpdatedAt,
	).Scan(&created.ID)
	if err != nil {
		err = mapWriteError(err)

		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}

	created.Nodes, err = r.insertNodes(ctx, tx, created.ID, nodes)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &created, nil
}

// UpdateWithNodes applies the patch under a version check and replaces the node set.
func (r *WorkflowRepository) UpdateWithNodes(
	ctx context.Context,
	workflowID int64,
	patch models.WorkflowPatch,
	nodes []*models.WorkflowNode,
	expectedVersion int,
) (*models.Workflow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
		UPDATE workflows SET
			name = COALESCE($3, name),
			description = COALESCE($4, description),
			command_type = COALESCE($5, command_type),
			command_name = COALESCE($6, command_name),
			enabled = COALESCE($7, enabled),
			version = version + 1,
			updated_at = $8
		WHERE id = $1 AND version = $2
		RETURNING `+workflowColumns,
		workflowID,
		expectedVersion,
		patch.Name,
		patch.Description,
		patch.CommandType,
		patch.CommandName,
		patch.Enabled,
		time.Now().UTC(),
	)

	updated, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = r.missingOrConflict(ctx, tx, workflowID)

			return nil, persistence.NewWorkflowError("UpdateWithNodes", workflowID, err)
		}

		err = mapWriteError(err)

		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	updated.Nodes, err = r.insertNodes(ctx, tx, workflowID, nodes)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return updated, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// missingOrConflict tells a stale version apart from a missing workflow after
// a guarded UPDATE matched no row.
func (r *WorkflowRepository) missingOrConflict(ctx context.Context, q rowQuerier, workflowID int64) error {
	var exists bool

	err := q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)", workflowID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check workflow existence: %w", err)
	}

	if exists {
		return persistence.ErrVersionConflict
	}

	return persistence.ErrWorkflowNotFound
}

// SetEnabled toggles the enabled flag and bumps the version.
func (r *WorkflowRepository) SetEnabled(
	ctx context.Context,
	workflowID int64,
	enabled bool,
	expectedVersion int,
) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE workflows SET enabled = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND ($4 = 0 OR version = $4)
		RETURNING `+workflowColumns,
		workflowID,
		enabled,
		time.Now().UTC(),
		expectedVersion,
	)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("SetEnabled", workflowID, r.missingOrConflict(ctx, r.db, workflowID))
		}

		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	workflow.Nodes, err = r.loadNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// GetByID returns a workflow with its nodes.
func (r *WorkflowRepository) GetByID(ctx context.Context, workflowID int64) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", workflowID)

	return r.workflowWithNodes(ctx, "GetByID", workflowID, row)
}

// FindByCommand returns the workflow registered under a guild command.
func (r *WorkflowRepository) FindByCommand(
	ctx context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE guild_id = $1 AND command_type = $2 AND command_name = $3
	`, guildID, commandType, commandName)

	return r.workflowWithNodes(ctx, "FindByCommand", 0, row)
}

func (r *WorkflowRepository) workflowWithNodes(ctx context.Context, op string, workflowID int64, row *sql.Row) (*models.Workflow, error) {
	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError(op, workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	workflow.Nodes, err = r.loadNodes(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// ListByGuild returns the guild's workflows without their nodes.
func (r *WorkflowRepository) ListByGuild(ctx context.Context, guildID string) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE guild_id = $1 ORDER BY id", guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// ListGuildIDs returns the distinct guilds that own workflows.
func (r *WorkflowRepository) ListGuildIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT guild_id FROM workflows ORDER BY guild_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query guild ids: %w", err)
	}

	defer r.closeRows(ctx, rows)

	guildIDs := make([]string, 0)

	for rows.Next() {
		var guildID string

		err := rows.Scan(&guildID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guild id: %w", err)
		}

		guildIDs = append(guildIDs, guildID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating guild ids: %w", err)
	}

	return guildIDs, nil
}

// Delete removes a workflow; nodes go with it through ON DELETE CASCADE.
func (r *WorkflowRepository) Delete(ctx context.Context, workflowID int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) insertNodes(
	ctx context.Context,
	tx *sql.Tx,
	workflowID int64,
	nodes []*models.WorkflowNode,
) ([]*models.WorkflowNode, error) {
	stored := make([]*models.WorkflowNode, 0, len(nodes))

	for i, node := range nodes {
		nodeDataJSON, err := json.Marshal(node.NodeData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal node data: %w", err)
		}

		saved := *node
		saved.WorkflowID = workflowID

		err = tx.QueryRowContext(ctx, insertWorkflowNodeSQL,
			workflowID,
			node.ClientID,
			node.NodeType.String(),
			nodeDataJSON,
			node.PositionX,
			node.PositionY,
			i,
		).Scan(&saved.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to save node %s: %w", node.ClientID, err)
		}

		stored = append(stored, &saved)
	}

	return stored, nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflowID int64) ([]*models.WorkflowNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+workflowNodeColumns+`
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY sort_order
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer r.closeRows(ctx, rows)

	nodes := make([]*models.WorkflowNode, 0)

	for rows.Next() {
		var (
			node         models.WorkflowNode
			nodeType     string
			nodeDataJSON []byte
		)

		err := rows.Scan(
			&node.ID,
			&node.WorkflowID,
			&node.ClientID,
			&nodeType,
			&nodeDataJSON,
			&node.PositionX,
			&node.PositionY,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		node.NodeType, err = models.ParseNodeType(nodeType)
		if err != nil {
			return nil, fmt.Errorf("failed to parse node %s: %w", node.ClientID, err)
		}

		err = json.Unmarshal(nodeDataJSON, &node.NodeData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node data: %w", err)
		}

		nodes = append(nodes, &node)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var workflow models.Workflow

	err := scanner.Scan(
		&workflow.ID,
		&workflow.GuildID,
		&workflow.Name,
		&workflow.Description,
		&workflow.CommandType,
		&workflow.CommandName,
		&workflow.Enabled,
		&workflow.Version,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

// mapWriteError translates the guild command unique violation into ErrCommandNameTaken.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == guildCommandKey {
		return persistence.ErrCommandNameTaken
	}

	return err
}
