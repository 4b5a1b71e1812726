package mocks

import (
	"context"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	args := m.Called()

	return args.Get(0).(persistence.WorkflowRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func workflowResult(args mock.Arguments) (*models.Workflow, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) CreateWithNodes(
	ctx context.Context,
	workflow *models.Workflow,
	nodes []*models.WorkflowNode,
) (*models.Workflow, error) {
	return workflowResult(m.Called(ctx, workflow, nodes))
}

func (m *MockWorkflowRepository) UpdateWithNodes(
	ctx context.Context,
	workflowID int64,
	patch models.WorkflowPatch,
	nodes []*models.WorkflowNode,
	expectedVersion int,
) (*models.Workflow, error) {
	return workflowResult(m.Called(ctx, workflowID, patch, nodes, expectedVersion))
}

func (m *MockWorkflowRepository) SetEnabled(
	ctx context.Context,
	workflowID int64,
	enabled bool,
	expectedVersion int,
) (*models.Workflow, error) {
	return workflowResult(m.Called(ctx, workflowID, enabled, expectedVersion))
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, workflowID int64) (*models.Workflow, error) {
	return workflowResult(m.Called(ctx, workflowID))
}

func (m *MockWorkflowRepository) FindByCommand(
	ctx context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
) (*models.Workflow, error) {
	return workflowResult(m.Called(ctx, guildID, commandType, commandName))
}

func (m *MockWorkflowRepository) ListByGuild(ctx context.Context, guildID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, guildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListGuildIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, workflowID int64) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}
