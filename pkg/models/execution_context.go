package models

import "time"

// InvocationContext is the chat event that invoked a workflow command.
type InvocationContext struct {
	GuildID   string         `json:"guild_id"   validate:"required"`
	ChannelID string         `json:"channel_id"`
	UserID    string         `json:"user_id"    validate:"required"`
	Username  string         `json:"username"`
	Options   map[string]any `json:"options,omitempty"` // Slash command options or parsed prefix arguments
	Content   string         `json:"content,omitempty"` // Raw message for prefix commands
}

// ExecutionContext is the mutable state threaded through a single workflow run.
type ExecutionContext struct {
	ID          string            `json:"id"`
	WorkflowID  int64             `json:"workflow_id"`
	Invocation  InvocationContext `json:"invocation"`
	Variables   map[string]any    `json:"variables,omitempty"`
	StepResults map[string]any    `json:"step_results,omitempty"`
}

// NewExecutionContext creates an execution context with empty state maps.
func NewExecutionContext(id string, workflowID int64, invocation InvocationContext) *ExecutionContext {
	return &ExecutionContext{
		ID:          id,
		WorkflowID:  workflowID,
		Invocation:  invocation,
		Variables:   make(map[string]any),
		StepResults: make(map[string]any),
	}
}

// TemplateData exposes the execution state to templates.
func (c *ExecutionContext) TemplateData() map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":       c.Invocation.UserID,
			"username": c.Invocation.Username,
		},
		"guild_id":   c.Invocation.GuildID,
		"channel_id": c.Invocation.ChannelID,
		"options":    c.Invocation.Options,
		"content":    c.Invocation.Content,
		"vars":       c.Variables,
		"steps":      c.StepResults,
		"execution": map[string]any{
			"id":          c.ID,
			"workflow_id": c.WorkflowID,
		},
	}
}

// Response is what a workflow sends back to the invoking user.
type Response struct {
	NodeID    string `json:"node_id"`
	Content   string `json:"content"`
	Ephemeral bool   `json:"ephemeral"`
}

// ExecutionResult is the outcome of walking a workflow graph.
type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  int64          `json:"workflow_id"`
	Path        []string       `json:"path"`               // Client ids of visited nodes, in order
	Response    *Response      `json:"response,omitempty"` // Nil when the walk ended without a response node
	Variables   map[string]any `json:"variables,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
}
