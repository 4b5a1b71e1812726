package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowDisabled is returned when a disabled workflow is invoked.
	ErrWorkflowDisabled = errors.New("workflow is disabled")
	// ErrGuildMismatch is returned when an invocation targets another guild's workflow.
	ErrGuildMismatch = errors.New("invocation guild does not own the workflow")
	// ErrNoTrigger is returned when a stored workflow has no trigger node.
	ErrNoTrigger = errors.New("workflow has no trigger node")
	// ErrWalkLimit is returned when a walk would visit a node twice.
	ErrWalkLimit = errors.New("walk revisited a node")
	// ErrBrokenEdge is returned when an edge points at a node that is not stored.
	ErrBrokenEdge = errors.New("edge target does not exist")
	// ErrUnknownAction is returned when an action node names an unregistered action.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidActionConfig is returned when an action's configuration is unusable.
	ErrInvalidActionConfig = errors.New("invalid action configuration")
)

// NodeError is a walk failure attributed to one node.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
