// Package models defines the core domain models for guild command workflows.
package models

import (
	"fmt"
	"time"
)

// CommandType is the kind of chat command a workflow registers.
type CommandType string

const (
	CommandTypeSlash  CommandType = "slash"  // Registered with the platform, invoked as /name
	CommandTypePrefix CommandType = "prefix" // Matched by the bot against message content
)

// Valid reports whether t is one of the known command types.
func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeSlash, CommandTypePrefix:
		return true
	default:
		return false
	}
}

// ParseCommandType converts a string into a CommandType.
func ParseCommandType(s string) (CommandType, error) {
	t := CommandType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown command type %q", s)
	}

	return t, nil
}

// Workflow is a guild-scoped custom command expressed as a node graph.
type Workflow struct {
	ID          int64           `json:"id"`
	GuildID     string          `json:"guild_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CommandType CommandType     `json:"command_type"`
	CommandName string          `json:"command_name"`
	Enabled     bool            `json:"enabled"`
	Version     int             `json:"version"` // Optimistic concurrency counter, bumped on every write
	Nodes       []*WorkflowNode `json:"nodes"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WorkflowPatch carries the metadata changes of a full-replacement update.
// Nil fields keep their stored value.
type WorkflowPatch struct {
	Name        *string
	Description *string
	CommandType *CommandType
	CommandName *string
	Enabled     *bool
}

// Apply copies the set fields of the patch onto workflow.
func (p WorkflowPatch) Apply(workflow *Workflow) {
	if p.Name != nil {
		workflow.Name = *p.Name
	}

	if p.Description != nil {
		workflow.Description = *p.Description
	}

	if p.CommandType != nil {
		workflow.CommandType = *p.CommandType
	}

	if p.CommandName != nil {
		workflow.CommandName = *p.CommandName
	}

	if p.Enabled != nil {
		workflow.Enabled = *p.Enabled
	}
}

// TriggerNode returns the first trigger node of the workflow, if any.
func (w *Workflow) TriggerNode() *WorkflowNode {
	for _, node := range w.Nodes {
		if node.NodeType == NodeTypeTrigger {
			return node
		}
	}

	return nil
}

// NodeByClientID returns the node with the given client id, if any.
func (w *Workflow) NodeByClientID(clientID string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ClientID == clientID {
			return node
		}
	}

	return nil
}

// CommandSpec describes one entry of a guild's command surface.
type CommandSpec struct {
	Type        CommandType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	WorkflowID  int64       `json:"workflow_id,omitempty"` // Zero for built-in commands
}
