// Package cache keeps recently loaded workflow graphs close to the execution engine.
package cache

import (
	"context"
	"math"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
)

// DefaultTTL is used when a cache is created with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// VersionDeleted is the floor recorded when a workflow is deleted; no later
// Set for it is stored while the floor lives.
const VersionDeleted = math.MaxInt32

// WorkflowCache stores workflows with their nodes by id, plus an index from
// guild commands to workflow ids.
//
// Invalidate drops the entry and records version as a floor for one TTL:
// a Set carrying an older version is ignored, so a reader that loaded the
// workflow before a save cannot put the old graph back.
//
// Index entries may be stale. Callers must check that the workflow they load
// still carries the command they looked up.
type WorkflowCache interface {
	// Get reports a miss as (nil, false, nil).
	Get(ctx context.Context, workflowID int64) (*models.Workflow, bool, error)
	Set(ctx context.Context, workflow *models.Workflow) error
	Invalidate(ctx context.Context, workflowID int64, version int) error

	LookupCommand(ctx context.Context, guildID string, commandType models.CommandType, commandName string) (int64, bool, error)
	RememberCommand(ctx context.Context, workflow *models.Workflow) error
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, int64) (*models.Workflow, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, *models.Workflow) error { return nil }

func (Noop) Invalidate(context.Context, int64, int) error { return nil }

func (Noop) LookupCommand(context.Context, string, models.CommandType, string) (int64, bool, error) {
	return 0, false, nil
}

func (Noop) RememberCommand(context.Context, *models.Workflow) error { return nil }
