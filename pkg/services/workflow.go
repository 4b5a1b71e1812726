package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/guildhall/guildhall/pkg/cache"
	"github.com/guildhall/guildhall/pkg/commands"
	"github.com/guildhall/guildhall/pkg/graph"
	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/guildhall/guildhall/pkg/schema"
)

var (
	slashCommandName  = regexp.MustCompile(`^[-_a-z0-9]{1,32}$`)
	prefixCommandName = regexp.MustCompile(`^\S{1,32}$`)
)

// Workflow is the write path for workflows: every save is shape checked and
// graph validated before a transaction is opened, and followed by cache
// invalidation and exactly one command registration call.
type Workflow struct {
	persistence persistence.Persistence
	checker     *schema.Checker
	cache       cache.WorkflowCache
	registrar   commands.Registrar
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. A nil cache disables caching.
func NewWorkflow(
	persistence persistence.Persistence,
	registrar commands.Registrar,
	workflowCache cache.WorkflowCache,
	logger *slog.Logger,
) *Workflow {
	if workflowCache == nil {
		workflowCache = cache.Noop{}
	}

	return &Workflow{
		persistence: persistence,
		checker:     schema.MustNewChecker(),
		cache:       workflowCache,
		registrar:   registrar,
		logger:      logger.With("module", "workflow_service"),
	}
}

// CreateWorkflowInput is the metadata and node set of a new workflow.
type CreateWorkflowInput struct {
	GuildID     string
	Name        string
	Description string
	CommandType models.CommandType
	CommandName string
	Enabled     bool
	Nodes       []*models.WorkflowNode
}

// UpdateWorkflowInput is a full replacement of a workflow's node set plus
// optional metadata changes, guarded by the version the caller last read.
type UpdateWorkflowInput struct {
	Patch   models.WorkflowPatch
	Nodes   []*models.WorkflowNode
	Version int
}

// SaveResult is a committed write. Warnings report side effects that failed
// after the commit.
type SaveResult struct {
	Workflow *models.Workflow `json:"workflow"`
	Warnings []string         `json:"warnings"`
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Validate runs the shape check and the graph validator without persisting.
// Shape problems are returned as an error; graph violations are data.
func (w *Workflow) Validate(_ context.Context, nodes []*models.WorkflowNode) (models.ValidationResult, error) {
	models.AssignClientIDs(nodes)

	err := w.checker.CheckNodes(nodes)
	if err != nil {
		return models.ValidationResult{}, err
	}

	return graph.Validate(models.NodeViews(nodes)), nil
}

// Create validates and stores a new workflow.
func (w *Workflow) Create(ctx context.Context, input CreateWorkflowInput) (*SaveResult, error) {
	err := validateMetadata("Create", input.GuildID, input.Name, input.CommandType, input.CommandName)
	if err != nil {
		return nil, err
	}

	err = w.checkGraph(ctx, "Create", input.Nodes, input.Enabled)
	if err != nil {
		return nil, err
	}

	workflow := &models.Workflow{
		GuildID:     input.GuildID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		CommandType: input.CommandType,
		CommandName: input.CommandName,
		Enabled:     input.Enabled,
	}

	created, err := w.persistence.WorkflowRepository().CreateWithNodes(ctx, workflow, input.Nodes)
	if err != nil {
		return nil, w.writeError(ctx, "Create", 0, input.GuildID, err)
	}

	w.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", created.ID,
		"guild_id", created.GuildID,
		"nodes", len(created.Nodes),
	)

	return &SaveResult{Workflow: created, Warnings: w.afterWrite(ctx, created.ID, created.Version, created.GuildID)}, nil
}

// Update replaces the node set and applies the metadata patch when the
// stored version still equals input.Version.
func (w *Workflow) Update(ctx context.Context, workflowID int64, input UpdateWorkflowInput) (*SaveResult, error) {
	err := validatePatch(input.Patch)
	if err != nil {
		return nil, err
	}

	enabled, err := w.effectiveEnabled(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}

	err = w.checkGraph(ctx, "Update", input.Nodes, enabled)
	if err != nil {
		return nil, err
	}

	updated, err := w.persistence.WorkflowRepository().UpdateWithNodes(
		ctx, workflowID, input.Patch, input.Nodes, input.Version,
	)
	if err != nil {
		return nil, w.writeError(ctx, "Update", workflowID, "", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated",
		"workflow_id", updated.ID,
		"guild_id", updated.GuildID,
		"version", updated.Version,
	)

	return &SaveResult{Workflow: updated, Warnings: w.afterWrite(ctx, updated.ID, updated.Version, updated.GuildID)}, nil
}

// SetEnabled toggles a workflow. Enabling re-validates the stored graph and
// only writes if that graph is still the stored one.
func (w *Workflow) SetEnabled(ctx context.Context, workflowID int64, enabled bool) (*SaveResult, error) {
	expectedVersion := 0

	if enabled {
		existing, err := w.FetchByID(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		expectedVersion = existing.Version

		result := graph.Validate(models.NodeViews(existing.Nodes))
		if !result.Valid {
			w.logger.DebugContext(ctx, "Refusing to enable invalid workflow",
				"workflow_id", workflowID,
				"violations", len(result.Errors),
			)

			return nil, &GraphValidationError{Result: result}
		}
	}

	updated, err := w.persistence.WorkflowRepository().SetEnabled(ctx, workflowID, enabled, expectedVersion)
	if err != nil {
		return nil, w.writeError(ctx, "SetEnabled", workflowID, "", err)
	}

	return &SaveResult{Workflow: updated, Warnings: w.afterWrite(ctx, updated.ID, updated.Version, updated.GuildID)}, nil
}

// Delete removes a workflow and re-syncs its guild's commands.
func (w *Workflow) Delete(ctx context.Context, workflowID int64) ([]string, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return nil, w.writeError(ctx, "Delete", workflowID, existing.GuildID, err)
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID, "guild_id", existing.GuildID)

	return w.afterWrite(ctx, workflowID, cache.VersionDeleted, existing.GuildID), nil
}

// FetchByID retrieves a workflow with its nodes.
func (w *Workflow) FetchByID(ctx context.Context, workflowID int64) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, err
		}

		w.logger.ErrorContext(ctx, "Failed to load workflow", "workflow_id", workflowID, "error", err)

		return nil, fmt.Errorf("failed to load workflow %d: %w", workflowID, err)
	}

	return workflow, nil
}

// ListByGuild returns the guild's workflows without nodes.
func (w *Workflow) ListByGuild(ctx context.Context, guildID string) ([]*models.Workflow, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, ErrGuildIDRequired
	}

	workflows, err := w.persistence.WorkflowRepository().ListByGuild(ctx, guildID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to list workflows", "guild_id", guildID, "error", err)

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// checkGraph assigns client ids, checks node shapes and validates the graph.
// An empty node set is accepted for a disabled workflow, which is how drafts
// are stored.
func (w *Workflow) checkGraph(ctx context.Context, op string, nodes []*models.WorkflowNode, enabled bool) error {
	if len(nodes) == 0 && !enabled {
		return nil
	}

	models.AssignClientIDs(nodes)

	err := w.checker.CheckNodes(nodes)
	if err != nil {
		w.logger.DebugContext(ctx, "Node shape check failed", "op", op, "error", err)

		return err
	}

	result := graph.Validate(models.NodeViews(nodes))
	if !result.Valid {
		w.logger.DebugContext(ctx, "Graph validation failed", "op", op, "violations", len(result.Errors))

		return &GraphValidationError{Result: result}
	}

	return nil
}

// effectiveEnabled is the enabled flag the workflow will have after the update.
// The stored flag is only read when the update would otherwise skip graph validation.
func (w *Workflow) effectiveEnabled(ctx context.Context, workflowID int64, input UpdateWorkflowInput) (bool, error) {
	if input.Patch.Enabled != nil {
		return *input.Patch.Enabled, nil
	}

	if len(input.Nodes) > 0 {
		return true, nil
	}

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return false, err
	}

	return existing.Enabled, nil
}

// writeError maps a failed repository write onto the service taxonomy and
// logs it at the severity its kind deserves.
func (w *Workflow) writeError(ctx context.Context, op string, workflowID int64, guildID string, err error) error {
	switch {
	case persistence.IsVersionConflict(err):
		w.logger.InfoContext(ctx, "Workflow changed concurrently", "op", op, "workflow_id", workflowID)

		return err
	case persistence.IsCommandNameTaken(err):
		w.logger.InfoContext(ctx, "Command name already in use", "op", op, "workflow_id", workflowID, "guild_id", guildID)

		return err
	case persistence.IsWorkflowNotFound(err):
		return err
	default:
		if guildID == "" && workflowID != 0 {
			existing, lookupErr := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
			if lookupErr == nil {
				guildID = existing.GuildID
			}
		}

		w.logger.ErrorContext(ctx, "Workflow write failed",
			"op", op,
			"workflow_id", workflowID,
			"guild_id", guildID,
			"error", err,
		)

		return fmt.Errorf("%s workflow: %w", strings.ToLower(op), err)
	}
}

// afterWrite runs the post-commit side effects. Their failures never undo the
// commit; they are returned as warnings.
// version is the committed version, or cache.VersionDeleted.
func (w *Workflow) afterWrite(ctx context.Context, workflowID int64, version int, guildID string) []string {
	warnings := make([]string, 0)

	err := w.cache.Invalidate(ctx, workflowID, version)
	if err != nil {
		w.logger.WarnContext(ctx, "Cache invalidation failed", "workflow_id", workflowID, "error", err)
		warnings = append(warnings, "cache invalidation failed: "+err.Error())
	}

	if w.registrar == nil {
		return warnings
	}

	err = w.registrar.OnWorkflowChanged(ctx, guildID)
	if err != nil {
		w.logger.WarnContext(ctx, "Command registration failed",
			"workflow_id", workflowID,
			"guild_id", guildID,
			"error", err,
		)
		warnings = append(warnings, "command registration failed, the live command may be stale: "+err.Error())
	}

	return warnings
}

func validateMetadata(op, guildID, name string, commandType models.CommandType, commandName string) error {
	if strings.TrimSpace(guildID) == "" {
		return ErrGuildIDRequired
	}

	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}

	return validateCommand(op, commandType, commandName)
}

func validatePatch(patch models.WorkflowPatch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return ErrNameRequired
	}

	if patch.CommandType == nil && patch.CommandName == nil {
		return nil
	}

	if patch.CommandType == nil || patch.CommandName == nil {
		return NewValidationError("Update", "INCOMPLETE_COMMAND",
			"command type and command name must be changed together", ErrInvalidRequest)
	}

	return validateCommand("Update", *patch.CommandType, *patch.CommandName)
}

func validateCommand(op string, commandType models.CommandType, commandName string) error {
	var pattern *regexp.Regexp

	switch commandType {
	case models.CommandTypeSlash:
		pattern = slashCommandName
	case models.CommandTypePrefix:
		pattern = prefixCommandName
	default:
		return NewValidationError(op, "INVALID_COMMAND_TYPE",
			fmt.Sprintf("unknown command type %q", commandType), ErrCommandTypeInvalid)
	}

	if !pattern.MatchString(commandName) {
		return NewValidationError(op, "INVALID_COMMAND_NAME",
			fmt.Sprintf("%q is not a valid %s command name", commandName, commandType), ErrCommandNameInvalid)
	}

	return nil
}
