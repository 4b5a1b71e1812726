package mocks

import (
	"context"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPlatform is a mock implementation of the platform gateway interfaces.
type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) PushGuildCommands(ctx context.Context, guildID string, commands []models.CommandSpec) error {
	args := m.Called(ctx, guildID, commands)

	return args.Error(0)
}

func (m *MockPlatform) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	args := m.Called(ctx, guildID, userID, roleID)

	return args.Error(0)
}

func (m *MockPlatform) GrantCurrency(ctx context.Context, guildID, userID string, amount int64, reason string) (int64, error) {
	args := m.Called(ctx, guildID, userID, amount, reason)

	return args.Get(0).(int64), args.Error(1)
}

// MockRegistrar is a mock implementation of commands.Registrar interface.
type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) OnWorkflowChanged(ctx context.Context, guildID string) error {
	args := m.Called(ctx, guildID)

	return args.Error(0)
}
