// Package events defines the messages exchanged between the API and the workers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every guildhall event; consumers filter on the event type metadata.
const Topic = "guildhall.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// GuildCommandsChangedEvent asks the command syncer to re-derive a guild's command surface.
	GuildCommandsChangedEvent EventType = "guild.commands.changed"

	WorkflowExecutedEvent        EventType = "workflow.executed"
	WorkflowExecutionFailedEvent EventType = "workflow.execution.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	GuildID   string         `json:"guild_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, guildID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		GuildID:   guildID,
		Metadata:  make(map[string]any),
	}
}

type GuildCommandsChanged struct {
	BaseEvent

	WorkflowID int64  `json:"workflow_id,omitempty"` // Workflow whose save caused the change, if any
	Reason     string `json:"reason,omitempty"`
}

func (GuildCommandsChanged) GetType() EventType {
	return GuildCommandsChangedEvent
}

type WorkflowExecuted struct {
	BaseEvent

	WorkflowID  int64         `json:"workflow_id"`
	ExecutionID string        `json:"execution_id"`
	Path        []string      `json:"path"`
	Responded   bool          `json:"responded"`
	Duration    time.Duration `json:"duration"`
}

func (WorkflowExecuted) GetType() EventType {
	return WorkflowExecutedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	WorkflowID  int64         `json:"workflow_id"`
	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id,omitempty"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}
