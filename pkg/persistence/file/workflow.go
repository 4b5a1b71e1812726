package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository stores one JSON document per workflow under <root>/workflows.
// A single mutex serialises writers so the version check and the command
// uniqueness check see a stable directory.
type WorkflowRepository struct {
	root string
	mu   sync.Mutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// CreateWithNodes writes a new workflow document with the next free id.
func (wr *WorkflowRepository) CreateWithNodes(
	_ context.Context,
	workflow *models.Workflow,
	nodes []*models.WorkflowNode,
) (*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	if commandTaken(all, workflow.GuildID, workflow.CommandType, workflow.CommandName, 0) {
		return nil, persistence.ErrCommandNameTaken
	}

	var nextID int64

	for _, existing := range all {
		nextID = max(nextID, existing.ID)
	}

	now := time.Now().UTC()

	created := *workflow
	created.ID = nextID + 1
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Nodes = storedNodes(created.ID, nodes)

	err = wr.write(&created)
	if err != nil {
		return nil, err
	}

	return &created, nil
}

// UpdateWithNodes rewrites the document when the stored version matches expectedVersion.
func (wr *WorkflowRepository) UpdateWithNodes(
	_ context.Context,
	workflowID int64,
	patch models.WorkflowPatch,
	nodes []*models.WorkflowNode,
	expectedVersion int,
) (*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(all, func(w *models.Workflow) bool { return w.ID == workflowID })
	if idx < 0 {
		return nil, persistence.NewWorkflowError("UpdateWithNodes", workflowID, persistence.ErrWorkflowNotFound)
	}

	updated := *all[idx]
	if updated.Version != expectedVersion {
		return nil, persistence.NewWorkflowError("UpdateWithNodes", workflowID, persistence.ErrVersionConflict)
	}

	patch.Apply(&updated)

	if commandTaken(all, updated.GuildID, updated.CommandType, updated.CommandName, workflowID) {
		return nil, persistence.ErrCommandNameTaken
	}

	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	updated.Nodes = storedNodes(workflowID, nodes)

	err = wr.write(&updated)
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// SetEnabled toggles the enabled flag and bumps the version.
func (wr *WorkflowRepository) SetEnabled(
	_ context.Context,
	workflowID int64,
	enabled bool,
	expectedVersion int,
) (*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.read(workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("SetEnabled", workflowID, err)
	}

	if expectedVersion != 0 && workflow.Version != expectedVersion {
		return nil, persistence.NewWorkflowError("SetEnabled", workflowID, persistence.ErrVersionConflict)
	}

	workflow.Enabled = enabled
	workflow.Version++
	workflow.UpdatedAt = time.Now().UTC()

	err = wr.write(workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// GetByID reads a single workflow document.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID int64) (*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.read(workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	return workflow, nil
}

// FindByCommand scans the guild's workflows for the command.
func (wr *WorkflowRepository) FindByCommand(
	_ context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
) (*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	for _, workflow := range all {
		if workflow.GuildID == guildID && workflow.CommandType == commandType && workflow.CommandName == commandName {
			return workflow, nil
		}
	}

	return nil, persistence.NewWorkflowError("FindByCommand", 0, persistence.ErrWorkflowNotFound)
}

// ListByGuild returns the guild's workflows ordered by id, without nodes.
func (wr *WorkflowRepository) ListByGuild(_ context.Context, guildID string) ([]*models.Workflow, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.GuildID != guildID {
			continue
		}

		workflow.Nodes = nil
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// ListGuildIDs returns the sorted distinct guild ids.
func (wr *WorkflowRepository) ListGuildIDs(_ context.Context) ([]string, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	guildIDs := make([]string, 0)
	for _, workflow := range all {
		guildIDs = append(guildIDs, workflow.GuildID)
	}

	slices.Sort(guildIDs)

	return slices.Compact(guildIDs), nil
}

// Delete removes the workflow document.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID int64) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	err := os.Remove(wr.path(workflowID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to delete workflow file: %w", err)
	}

	return nil
}

func (wr *WorkflowRepository) path(workflowID int64) string {
	return filepath.Join(wr.root, workflowsDir, strconv.FormatInt(workflowID, 10)+".json")
}

func (wr *WorkflowRepository) read(workflowID int64) (*models.Workflow, error) {
	body, err := os.ReadFile(wr.path(workflowID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %d: %w", workflowID, err)
	}

	return &workflow, nil
}

// loadAll returns every stored workflow ordered by id.
func (wr *WorkflowRepository) loadAll() ([]*models.Workflow, error) {
	entries, err := os.ReadDir(filepath.Join(wr.root, workflowsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if entry.IsDir() || !ok {
			continue
		}

		workflowID, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}

		workflow, err := wr.read(workflowID)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		return int(a.ID - b.ID)
	})

	return workflows, nil
}

// write replaces the workflow document through a temp file and rename so a
// reader never sees a partial document.
func (wr *WorkflowRepository) write(workflow *models.Workflow) error {
	body, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	dir := filepath.Join(wr.root, workflowsDir)

	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".workflow-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(body)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write workflow file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close workflow file: %w", err)
	}

	err = os.Rename(tmp.Name(), wr.path(workflow.ID))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace workflow file: %w", err)
	}

	return nil
}

func commandTaken(all []*models.Workflow, guildID string, commandType models.CommandType, commandName string, exceptID int64) bool {
	for _, workflow := range all {
		if workflow.ID != exceptID &&
			workflow.GuildID == guildID &&
			workflow.CommandType == commandType &&
			workflow.CommandName == commandName {
			return true
		}
	}

	return false
}

// storedNodes copies nodes and stamps them with the workflow id and a
// per-workflow sequential node id.
func storedNodes(workflowID int64, nodes []*models.WorkflowNode) []*models.WorkflowNode {
	stored := make([]*models.WorkflowNode, 0, len(nodes))

	for i, node := range nodes {
		saved := *node
		saved.ID = int64(i + 1)
		saved.WorkflowID = workflowID
		stored = append(stored, &saved)
	}

	return stored
}
