// Package engine walks stored workflow graphs when their command is invoked.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/guildhall/guildhall/pkg/cache"
	"github.com/guildhall/guildhall/pkg/eventbus"
	"github.com/guildhall/guildhall/pkg/events"
	"github.com/guildhall/guildhall/pkg/graph"
	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/otelhelper"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/guildhall/guildhall/pkg/template"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Dependencies are the collaborators of an Engine. Publisher, Tracer, Cache
// and Clock are optional.
type Dependencies struct {
	Repository persistence.WorkflowRepository
	Cache      cache.WorkflowCache
	Actions    *ActionRegistry
	Publisher  eventbus.EventPublisher
	Tracer     trace.Tracer
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Engine executes workflows.
type Engine struct {
	repository persistence.WorkflowRepository
	cache      cache.WorkflowCache
	actions    *ActionRegistry
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	clock      clockwork.Clock
	templates  *template.Renderer
	logger     *slog.Logger
}

// NewEngine creates an engine from its dependencies.
func NewEngine(deps Dependencies) *Engine {
	engine := &Engine{
		repository: deps.Repository,
		cache:      deps.Cache,
		actions:    deps.Actions,
		publisher:  deps.Publisher,
		tracer:     deps.Tracer,
		clock:      deps.Clock,
		logger:     deps.Logger.With("module", "engine"),
	}

	if engine.cache == nil {
		engine.cache = cache.Noop{}
	}

	if engine.actions == nil {
		engine.actions, _ = NewActionRegistry()
	}

	if engine.tracer == nil {
		engine.tracer = noop.NewTracerProvider().Tracer("guildhall-engine")
	}

	if engine.clock == nil {
		engine.clock = clockwork.NewRealClock()
	}

	engine.templates = template.NewRenderer(engine.clock)

	return engine
}

// Execute loads a workflow by id and walks it for the invocation.
func (e *Engine) Execute(
	ctx context.Context,
	workflowID int64,
	invocation models.InvocationContext,
) (*models.ExecutionResult, error) {
	workflow, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.GuildID != invocation.GuildID {
		return nil, ErrGuildMismatch
	}

	return e.run(ctx, workflow, invocation)
}

// Dispatch resolves the workflow registered for a guild command and walks it.
func (e *Engine) Dispatch(
	ctx context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
	invocation models.InvocationContext,
) (*models.ExecutionResult, error) {
	workflow, err := e.resolve(ctx, guildID, commandType, commandName)
	if err != nil {
		return nil, err
	}

	invocation.GuildID = guildID

	return e.run(ctx, workflow, invocation)
}

// resolve finds the workflow owning a guild command, through the cached
// command index when it still points at the right workflow.
func (e *Engine) resolve(
	ctx context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
) (*models.Workflow, error) {
	workflowID, hit, err := e.cache.LookupCommand(ctx, guildID, commandType, commandName)
	if err != nil {
		e.logger.WarnContext(ctx, "Command index read failed", "guild_id", guildID, "command_name", commandName, "error", err)
	}

	if hit {
		workflow, err := e.load(ctx, workflowID)

		switch {
		case err == nil && workflow.GuildID == guildID &&
			workflow.CommandType == commandType && workflow.CommandName == commandName:
			return workflow, nil
		case err != nil && !persistence.IsWorkflowNotFound(err):
			return nil, err
		}
	}

	workflow, err := e.repository.FindByCommand(ctx, guildID, commandType, commandName)
	if err != nil {
		return nil, err
	}

	err = e.cache.RememberCommand(ctx, workflow)
	if err != nil {
		e.logger.WarnContext(ctx, "Command index write failed", "workflow_id", workflow.ID, "error", err)
	}

	e.store(ctx, workflow)

	return workflow, nil
}

// load reads through the cache. Cache failures degrade to a repository read.
func (e *Engine) load(ctx context.Context, workflowID int64) (*models.Workflow, error) {
	workflow, hit, err := e.cache.Get(ctx, workflowID)
	if err != nil {
		e.logger.WarnContext(ctx, "Workflow cache read failed", "workflow_id", workflowID, "error", err)
	}

	if hit {
		return workflow, nil
	}

	workflow, err = e.repository.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	e.store(ctx, workflow)

	return workflow, nil
}

// store caches a workflow read from the repository. The cache ignores it if a
// save committed a newer version since the read.
func (e *Engine) store(ctx context.Context, workflow *models.Workflow) {
	err := e.cache.Set(ctx, workflow)
	if err != nil {
		e.logger.WarnContext(ctx, "Workflow cache write failed", "workflow_id", workflow.ID, "error", err)
	}
}

func (e *Engine) run(
	ctx context.Context,
	workflow *models.Workflow,
	invocation models.InvocationContext,
) (*models.ExecutionResult, error) {
	if !workflow.Enabled {
		return nil, ErrWorkflowDisabled
	}

	executionCtx := models.NewExecutionContext(uuid.New().String(), workflow.ID, invocation)
	startedAt := e.clock.Now()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.Int64(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.GuildIDKey, workflow.GuildID),
		attribute.String(otelhelper.CommandTypeKey, string(workflow.CommandType)),
		attribute.String(otelhelper.CommandNameKey, workflow.CommandName),
		attribute.String(otelhelper.ExecutionIDKey, executionCtx.ID),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", executionCtx.ID)
	logger.DebugContext(ctx, "Executing workflow", "guild_id", workflow.GuildID, "user_id", invocation.UserID)

	result := &models.ExecutionResult{
		ExecutionID: executionCtx.ID,
		WorkflowID:  workflow.ID,
		Path:        make([]string, 0, len(workflow.Nodes)),
		StartedAt:   startedAt,
	}

	err := e.walk(ctx, workflow, executionCtx, result, logger)
	result.Variables = executionCtx.Variables
	result.Duration = e.clock.Since(startedAt)

	if err != nil {
		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Workflow execution failed", "error", err, "path", result.Path)
		e.publishFailure(ctx, workflow, result, err, logger)

		return nil, err
	}

	logger.InfoContext(ctx, "Workflow executed",
		"path", result.Path,
		"responded", result.Response != nil,
		"duration", result.Duration,
	)
	e.publishSuccess(ctx, workflow, result, logger)

	return result, nil
}

// walk follows edges from the trigger until a response node renders or a
// node has nowhere to go.
func (e *Engine) walk(
	ctx context.Context,
	workflow *models.Workflow,
	executionCtx *models.ExecutionContext,
	result *models.ExecutionResult,
	logger *slog.Logger,
) error {
	node := workflow.TriggerNode()
	if node == nil {
		return ErrNoTrigger
	}

	visited := make(map[string]bool, len(workflow.Nodes))

	for node != nil {
		if visited[node.ClientID] {
			return &NodeError{NodeID: node.ClientID, Err: ErrWalkLimit}
		}

		visited[node.ClientID] = true
		result.Path = append(result.Path, node.ClientID)

		next, err := e.step(ctx, node, executionCtx, result, logger)
		if err != nil {
			return &NodeError{NodeID: node.ClientID, Err: err}
		}

		if next == "" {
			return nil
		}

		node = workflow.NodeByClientID(next)
		if node == nil {
			return &NodeError{NodeID: result.Path[len(result.Path)-1], Err: fmt.Errorf("%w: %s", ErrBrokenEdge, next)}
		}
	}

	return nil
}

// step runs one node and returns the client id of the next node, or "" when
// the walk ends.
func (e *Engine) step(
	ctx context.Context,
	node *models.WorkflowNode,
	executionCtx *models.ExecutionContext,
	result *models.ExecutionResult,
	logger *slog.Logger,
) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ClientID),
		attribute.String(otelhelper.NodeTypeKey, node.NodeType.String()),
	)
	defer span.End()

	next, err := e.stepNode(ctx, node, executionCtx, result, logger)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, node.ClientID))
	}

	return next, err
}

func (e *Engine) stepNode(
	ctx context.Context,
	node *models.WorkflowNode,
	executionCtx *models.ExecutionContext,
	result *models.ExecutionResult,
	logger *slog.Logger,
) (string, error) {
	switch node.NodeType {
	case models.NodeTypeTrigger:
		return firstTarget(node), nil
	case models.NodeTypeCondition:
		expression, _ := node.NodeData.Config["expression"].(string)

		outcome, err := e.templates.RenderBool(expression, executionCtx.TemplateData())
		if err != nil {
			return "", fmt.Errorf("failed to evaluate condition: %w", err)
		}

		logger.DebugContext(ctx, "Condition evaluated", "node_id", node.ClientID, "outcome", outcome)

		return branchTarget(node, outcome), nil
	case models.NodeTypeAction:
		output, err := e.runAction(ctx, node, executionCtx, logger)
		if err != nil {
			return "", err
		}

		executionCtx.StepResults[node.ClientID] = output

		return firstTarget(node), nil
	case models.NodeTypeResponse:
		source, _ := node.NodeData.Config["template"].(string)

		content, err := e.templates.RenderString(source, executionCtx.TemplateData())
		if err != nil {
			return "", fmt.Errorf("failed to render response: %w", err)
		}

		ephemeral, _ := node.NodeData.Config["ephemeral"].(bool)
		result.Response = &models.Response{NodeID: node.ClientID, Content: content, Ephemeral: ephemeral}

		return "", nil
	default:
		return "", fmt.Errorf("cannot execute node type %s", node.NodeType)
	}
}

func (e *Engine) runAction(
	ctx context.Context,
	node *models.WorkflowNode,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) (any, error) {
	name, _ := node.NodeData.Config["action"].(string)

	action, ok := e.actions.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	config, err := e.templates.RenderValues(node.NodeData.Config, executionCtx.TemplateData())
	if err != nil {
		return nil, fmt.Errorf("failed to render action config: %w", err)
	}

	timeout := actionTimeout(action, node.NodeData.Config)

	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.ActionTypeKey, name))

	output, err := action.Execute(actionCtx, config, executionCtx, logger.With("action", name, "node_id", node.ClientID))
	if err != nil {
		if errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("action %s timed out after %s: %w", name, timeout, err)
		}

		return nil, fmt.Errorf("action %s failed: %w", name, err)
	}

	return output, nil
}

// firstTarget is the target of the first edge in port order.
func firstTarget(node *models.WorkflowNode) string {
	for _, key := range graph.EdgeKeys(node.View()) {
		if edges := node.NodeData.Edges[key]; len(edges) > 0 {
			return edges[0].TargetNodeID
		}
	}

	return ""
}

// branchTarget follows the output port whose id or label is "true" or
// "false", matching outcome.
func branchTarget(node *models.WorkflowNode, outcome bool) string {
	want := "false"
	if outcome {
		want = "true"
	}

	for _, port := range node.NodeData.Ports.Outputs {
		if !strings.EqualFold(port.ID, want) && !strings.EqualFold(port.Label, want) {
			continue
		}

		if edges := node.NodeData.Edges[port.ID]; len(edges) > 0 {
			return edges[0].TargetNodeID
		}
	}

	return ""
}

func (e *Engine) publishSuccess(
	ctx context.Context,
	workflow *models.Workflow,
	result *models.ExecutionResult,
	logger *slog.Logger,
) {
	if e.publisher == nil {
		return
	}

	event := events.WorkflowExecuted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutedEvent, workflow.GuildID),
		WorkflowID:  workflow.ID,
		ExecutionID: result.ExecutionID,
		Path:        result.Path,
		Responded:   result.Response != nil,
		Duration:    result.Duration,
	}

	err := e.publisher.Publish(ctx, workflow.GuildID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish execution event", "error", err)
	}
}

func (e *Engine) publishFailure(
	ctx context.Context,
	workflow *models.Workflow,
	result *models.ExecutionResult,
	cause error,
	logger *slog.Logger,
) {
	if e.publisher == nil {
		return
	}

	event := events.WorkflowExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionFailedEvent, workflow.GuildID),
		WorkflowID:  workflow.ID,
		ExecutionID: result.ExecutionID,
		Error:       cause.Error(),
		Duration:    result.Duration,
	}

	var nodeErr *NodeError
	if errors.As(cause, &nodeErr) {
		event.NodeID = nodeErr.NodeID
	}

	err := e.publisher.Publish(ctx, workflow.GuildID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish execution failure event", "error", err)
	}
}
