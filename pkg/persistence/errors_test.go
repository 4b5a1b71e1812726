package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewWorkflowError("GetByID", 42, persistence.ErrWorkflowNotFound)
		conflict := persistence.NewWorkflowError("UpdateWithNodes", 42, persistence.ErrVersionConflict)
		taken := fmt.Errorf("insert: %w", persistence.ErrCommandNameTaken)

		assert.True(t, persistence.IsWorkflowNotFound(notFound))
		assert.False(t, persistence.IsWorkflowNotFound(conflict))
		assert.True(t, persistence.IsVersionConflict(conflict))
		assert.False(t, persistence.IsVersionConflict(notFound))
		assert.True(t, persistence.IsCommandNameTaken(taken))

		assert.True(t, errors.Is(conflict, persistence.ErrVersionConflict))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("UpdateWithNodes", 123, persistence.ErrVersionConflict)

		assert.Contains(t, err.Error(), "UpdateWithNodes")
		assert.Contains(t, err.Error(), "123")
		assert.Contains(t, err.Error(), "workflow version conflict")
	})
}
