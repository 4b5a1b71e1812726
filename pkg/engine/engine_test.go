package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guildhall/guildhall/pkg/cache"
	"github.com/guildhall/guildhall/pkg/engine"
	"github.com/guildhall/guildhall/pkg/events"
	"github.com/guildhall/guildhall/pkg/mocks"
	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func edge(target string) []models.EdgeTarget {
	return []models.EdgeTarget{{TargetNodeID: target, TargetPortID: "in"}}
}

func in() []models.Port { return []models.Port{{ID: "in"}} }

// roleWorkflow: trigger -> condition(is admin?) -true-> assign role -> "granted"
//
//	-false-> "denied"
func roleWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          7,
		GuildID:     "guild-1",
		Name:        "Role me",
		CommandType: models.CommandTypeSlash,
		CommandName: "roleme",
		Enabled:     true,
		Nodes: []*models.WorkflowNode{
			{
				ClientID: "trigger",
				NodeType: models.NodeTypeTrigger,
				NodeData: models.NodeData{
					Ports: models.Ports{Outputs: []models.Port{{ID: "out"}}},
					Edges: map[string][]models.EdgeTarget{"out": edge("check")},
				},
			},
			{
				ClientID: "check",
				NodeType: models.NodeTypeCondition,
				NodeData: models.NodeData{
					Ports: models.Ports{
						Inputs:  in(),
						Outputs: []models.Port{{ID: "yes", Label: "true"}, {ID: "false"}},
					},
					Edges: map[string][]models.EdgeTarget{
						"yes":   edge("grant"),
						"false": edge("denied"),
					},
					Config: map[string]any{"expression": `{{ eq .options.role "member" }}`},
				},
			},
			{
				ClientID: "grant",
				NodeType: models.NodeTypeAction,
				NodeData: models.NodeData{
					Ports: models.Ports{Inputs: in(), Outputs: []models.Port{{ID: "out"}}},
					Edges: map[string][]models.EdgeTarget{"out": edge("granted")},
					Config: map[string]any{
						"action":  "assign_role",
						"role_id": "{{ .options.role }}-role",
					},
				},
			},
			{
				ClientID: "granted",
				NodeType: models.NodeTypeResponse,
				NodeData: models.NodeData{
					Ports:  models.Ports{Inputs: in()},
					Config: map[string]any{"template": "gave {{ .steps.grant.role_id }} to {{ .user.username }}"},
				},
			},
			{
				ClientID: "denied",
				NodeType: models.NodeTypeResponse,
				NodeData: models.NodeData{
					Ports:  models.Ports{Inputs: in()},
					Config: map[string]any{"template": "no", "ephemeral": true},
				},
			},
		},
	}
}

func invocation(role string) models.InvocationContext {
	return models.InvocationContext{
		GuildID:  "guild-1",
		UserID:   "user-1",
		Username: "ada",
		Options:  map[string]any{"role": role},
	}
}

type fixture struct {
	engine   *engine.Engine
	repo     *mocks.MockWorkflowRepository
	platform *mocks.MockPlatform
	bus      *mocks.MockEventBus
	cache    *cache.Memory
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, extra ...engine.Action) *fixture {
	t.Helper()

	f := &fixture{
		repo:     &mocks.MockWorkflowRepository{},
		platform: &mocks.MockPlatform{},
		bus:      &mocks.MockEventBus{},
		clock:    clockwork.NewFakeClock(),
	}
	f.cache = cache.NewMemory(f.clock, time.Minute)

	registry, err := engine.NewActionRegistry(append(engine.BuiltinActions(f.platform, f.platform), extra...)...)
	require.NoError(t, err)

	f.engine = engine.NewEngine(engine.Dependencies{
		Repository: f.repo,
		Cache:      f.cache,
		Actions:    registry,
		Publisher:  f.bus,
		Clock:      f.clock,
		Logger:     logger,
	})

	return f
}

func TestEngine_Execute_TrueBranch(t *testing.T) {
	f := newFixture(t)

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(roleWorkflow(), nil).Once()
	f.platform.On("AssignRole", mock.Anything, "guild-1", "user-1", "member-role").Return(nil)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.AnythingOfType("events.WorkflowExecuted")).Return(nil)

	result, err := f.engine.Execute(t.Context(), 7, invocation("member"))
	require.NoError(t, err)

	assert.Equal(t, []string{"trigger", "check", "grant", "granted"}, result.Path)
	require.NotNil(t, result.Response)
	assert.Equal(t, "gave member-role to ada", result.Response.Content)
	assert.Equal(t, "granted", result.Response.NodeID)
	assert.False(t, result.Response.Ephemeral)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, f.clock.Now(), result.StartedAt)

	// the second run is served from the cache
	_, err = f.engine.Execute(t.Context(), 7, invocation("member"))
	require.NoError(t, err)

	f.repo.AssertNumberOfCalls(t, "GetByID", 1)
	f.platform.AssertNumberOfCalls(t, "AssignRole", 2)
}

func TestEngine_Execute_FalseBranch(t *testing.T) {
	f := newFixture(t)

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(roleWorkflow(), nil)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	result, err := f.engine.Execute(t.Context(), 7, invocation("admin"))
	require.NoError(t, err)

	assert.Equal(t, []string{"trigger", "check", "denied"}, result.Path)
	assert.Equal(t, "no", result.Response.Content)
	assert.True(t, result.Response.Ephemeral)
	f.platform.AssertNotCalled(t, "AssignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Execute_EndsWithoutResponse(t *testing.T) {
	f := newFixture(t)

	workflow := roleWorkflow()
	workflow.Nodes[0].NodeData.Edges = map[string][]models.EdgeTarget{}

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(workflow, nil)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	result, err := f.engine.Execute(t.Context(), 7, invocation("member"))
	require.NoError(t, err)
	assert.Equal(t, []string{"trigger"}, result.Path)
	assert.Nil(t, result.Response)
}

func TestEngine_Execute_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*models.Workflow)
		wantErr  error
		wantNode string
	}{
		{
			name:    "no trigger",
			mutate:  func(w *models.Workflow) { w.Nodes = w.Nodes[1:] },
			wantErr: engine.ErrNoTrigger,
		},
		{
			name: "cycle",
			mutate: func(w *models.Workflow) {
				w.Nodes[2].NodeData.Edges["out"] = edge("check")
			},
			wantErr:  engine.ErrWalkLimit,
			wantNode: "check",
		},
		{
			name: "dangling edge",
			mutate: func(w *models.Workflow) {
				w.Nodes[2].NodeData.Edges["out"] = edge("ghost")
			},
			wantErr:  engine.ErrBrokenEdge,
			wantNode: "grant",
		},
		{
			name: "unknown action",
			mutate: func(w *models.Workflow) {
				w.Nodes[2].NodeData.Config["action"] = "launch_rocket"
			},
			wantErr:  engine.ErrUnknownAction,
			wantNode: "grant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			workflow := roleWorkflow()
			tt.mutate(workflow)

			f.repo.On("GetByID", mock.Anything, int64(7)).Return(workflow, nil)
			f.platform.On("AssignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
			f.bus.On("Publish", mock.Anything, "guild-1", mock.MatchedBy(func(event events.WorkflowExecutionFailed) bool {
				return event.NodeID == tt.wantNode && event.WorkflowID == 7
			})).Return(nil).Once()

			_, err := f.engine.Execute(t.Context(), 7, invocation("member"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.wantNode != "" {
				var nodeErr *engine.NodeError
				require.ErrorAs(t, err, &nodeErr)
				assert.Equal(t, tt.wantNode, nodeErr.NodeID)
			}

			f.bus.AssertExpectations(t)
		})
	}
}

func TestEngine_Execute_GuardsAndLoadErrors(t *testing.T) {
	f := newFixture(t)

	disabled := roleWorkflow()
	disabled.ID = 8
	disabled.Enabled = false

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(roleWorkflow(), nil)
	f.repo.On("GetByID", mock.Anything, int64(8)).Return(disabled, nil)
	f.repo.On("GetByID", mock.Anything, int64(9)).Return(nil, persistence.ErrWorkflowNotFound)

	other := invocation("member")
	other.GuildID = "guild-2"

	_, err := f.engine.Execute(t.Context(), 7, other)
	assert.ErrorIs(t, err, engine.ErrGuildMismatch)

	_, err = f.engine.Execute(t.Context(), 8, invocation("member"))
	assert.ErrorIs(t, err, engine.ErrWorkflowDisabled)

	_, err = f.engine.Execute(t.Context(), 9, invocation("member"))
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Dispatch(t *testing.T) {
	f := newFixture(t)

	disabled := roleWorkflow()
	disabled.ID = 8
	disabled.CommandType = models.CommandTypePrefix
	disabled.CommandName = "off"
	disabled.Enabled = false

	f.repo.On("FindByCommand", mock.Anything, "guild-1", models.CommandTypeSlash, "roleme").Return(roleWorkflow(), nil)
	f.repo.On("FindByCommand", mock.Anything, "guild-1", models.CommandTypePrefix, "off").Return(disabled, nil)
	f.repo.On("FindByCommand", mock.Anything, "guild-1", models.CommandTypeSlash, "nope").
		Return(nil, persistence.ErrWorkflowNotFound)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	inv := invocation("admin")
	inv.GuildID = ""

	result, err := f.engine.Dispatch(t.Context(), "guild-1", models.CommandTypeSlash, "roleme", inv)
	require.NoError(t, err)
	assert.Equal(t, "no", result.Response.Content)

	_, err = f.engine.Dispatch(t.Context(), "guild-1", models.CommandTypePrefix, "off", inv)
	assert.ErrorIs(t, err, engine.ErrWorkflowDisabled)

	_, err = f.engine.Dispatch(t.Context(), "guild-1", models.CommandTypeSlash, "nope", inv)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestEngine_Dispatch_ServedFromCache(t *testing.T) {
	f := newFixture(t)

	f.repo.On("FindByCommand", mock.Anything, "guild-1", models.CommandTypeSlash, "roleme").
		Return(roleWorkflow(), nil).Once()
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	for range 3 {
		result, err := f.engine.Dispatch(t.Context(), "guild-1", models.CommandTypeSlash, "roleme", invocation("admin"))
		require.NoError(t, err)
		assert.Equal(t, "no", result.Response.Content)
	}

	f.repo.AssertNumberOfCalls(t, "FindByCommand", 1)
	f.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestEngine_Dispatch_StaleCommandIndex(t *testing.T) {
	f := newFixture(t)

	// The index still maps "roleme" to workflow 7, which has since been
	// renamed; workflow 9 now owns the command.
	renamed := roleWorkflow()
	renamed.CommandName = "roles"
	require.NoError(t, f.cache.RememberCommand(t.Context(), roleWorkflow()))
	require.NoError(t, f.cache.Set(t.Context(), renamed))

	owner := roleWorkflow()
	owner.ID = 9

	f.repo.On("FindByCommand", mock.Anything, "guild-1", models.CommandTypeSlash, "roleme").Return(owner, nil).Once()
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	result, err := f.engine.Dispatch(t.Context(), "guild-1", models.CommandTypeSlash, "roleme", invocation("admin"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.WorkflowID)

	workflowID, ok, err := f.cache.LookupCommand(t.Context(), "guild-1", models.CommandTypeSlash, "roleme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), workflowID)
}

func TestEngine_Dispatch_IndexedWorkflowDeleted(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.cache.RememberCommand(t.Context(), roleWorkflow()))

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(nil, persistence.ErrWorkflowNotFound)
	f.repo.On("FindByCommand", mock.Anything, "guild-1", models.CommandTypeSlash, "roleme").
		Return(nil, persistence.ErrWorkflowNotFound)

	_, err := f.engine.Dispatch(t.Context(), "guild-1", models.CommandTypeSlash, "roleme", invocation("admin"))
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	f.repo.AssertNumberOfCalls(t, "FindByCommand", 1)
}

func TestEngine_Execute_SaveDuringLoadIsNotCachedOver(t *testing.T) {
	f := newFixture(t)

	stale := roleWorkflow()
	stale.Version = 1

	disabled := roleWorkflow()
	disabled.Version = 2
	disabled.Enabled = false

	// A save commits version 2 while the engine is still reading version 1.
	f.repo.On("GetByID", mock.Anything, int64(7)).
		Run(func(mock.Arguments) {
			require.NoError(t, f.cache.Invalidate(t.Context(), 7, 2))
		}).
		Return(stale, nil).Once()
	f.repo.On("GetByID", mock.Anything, int64(7)).Return(disabled, nil).Once()
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	_, err := f.engine.Execute(t.Context(), 7, invocation("admin"))
	require.NoError(t, err)

	_, cached, err := f.cache.Get(t.Context(), 7)
	require.NoError(t, err)
	assert.False(t, cached)

	_, err = f.engine.Execute(t.Context(), 7, invocation("admin"))
	assert.ErrorIs(t, err, engine.ErrWorkflowDisabled)
	f.repo.AssertNumberOfCalls(t, "GetByID", 2)
}

type blockingAction struct{ timeout time.Duration }

func (blockingAction) Type() string { return "block" }

func (b blockingAction) Timeout() time.Duration { return b.timeout }

func (blockingAction) Execute(ctx context.Context, _ map[string]any, _ *models.ExecutionContext, _ *slog.Logger) (any, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func TestEngine_ActionTimeout(t *testing.T) {
	f := newFixture(t, blockingAction{timeout: time.Hour})

	workflow := roleWorkflow()
	workflow.Nodes[2].NodeData.Config = map[string]any{"action": "block", "timeout_ms": float64(20)}

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(workflow, nil)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	_, err := f.engine.Execute(t.Context(), 7, invocation("member"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "timed out after 20ms")
}

func TestEngine_PublishFailureDoesNotFailExecution(t *testing.T) {
	f := newFixture(t)

	f.repo.On("GetByID", mock.Anything, int64(7)).Return(roleWorkflow(), nil)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	result, err := f.engine.Execute(t.Context(), 7, invocation("admin"))
	require.NoError(t, err)
	assert.NotNil(t, result.Response)
}

func TestEngine_VariablesAndHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/user-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"level": 12}`))
	}))
	defer server.Close()

	f := newFixture(t)

	workflow := &models.Workflow{
		ID:      3,
		GuildID: "guild-1",
		Enabled: true,
		Nodes: []*models.WorkflowNode{
			{
				ClientID: "trigger",
				NodeType: models.NodeTypeTrigger,
				NodeData: models.NodeData{Edges: map[string][]models.EdgeTarget{"out": edge("greeting")}},
			},
			{
				ClientID: "greeting",
				NodeType: models.NodeTypeAction,
				NodeData: models.NodeData{
					Edges:  map[string][]models.EdgeTarget{"out": edge("lookup")},
					Config: map[string]any{"action": "set_variable", "name": "greeting", "value": "hi {{ .user.username }}"},
				},
			},
			{
				ClientID: "lookup",
				NodeType: models.NodeTypeAction,
				NodeData: models.NodeData{
					Edges:  map[string][]models.EdgeTarget{"out": edge("reply")},
					Config: map[string]any{"action": "http_request", "url": server.URL + "/users/{{ .user.id }}"},
				},
			},
			{
				ClientID: "reply",
				NodeType: models.NodeTypeResponse,
				NodeData: models.NodeData{Config: map[string]any{
					"template": "{{ .vars.greeting }}, level {{ .steps.lookup.body.level }}",
				}},
			},
		},
	}

	f.repo.On("GetByID", mock.Anything, int64(3)).Return(workflow, nil)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	result, err := f.engine.Execute(t.Context(), 3, invocation("member"))
	require.NoError(t, err)
	assert.Equal(t, "hi ada, level 12", result.Response.Content)
	assert.Equal(t, "hi ada", result.Variables["greeting"])
}

func TestEngine_GrantCurrency(t *testing.T) {
	f := newFixture(t)

	workflow := &models.Workflow{
		ID:      4,
		GuildID: "guild-1",
		Enabled: true,
		Nodes: []*models.WorkflowNode{
			{
				ClientID: "trigger",
				NodeType: models.NodeTypeTrigger,
				NodeData: models.NodeData{Edges: map[string][]models.EdgeTarget{"out": edge("pay")}},
			},
			{
				ClientID: "pay",
				NodeType: models.NodeTypeAction,
				NodeData: models.NodeData{
					Edges:  map[string][]models.EdgeTarget{"out": edge("reply")},
					Config: map[string]any{"action": "grant_currency", "amount": float64(50), "reason": "daily"},
				},
			},
			{
				ClientID: "reply",
				NodeType: models.NodeTypeResponse,
				NodeData: models.NodeData{Config: map[string]any{"template": "balance {{ .steps.pay.balance }}"}},
			},
		},
	}

	f.repo.On("GetByID", mock.Anything, int64(4)).Return(workflow, nil)
	f.platform.On("GrantCurrency", mock.Anything, "guild-1", "user-1", int64(50), "daily").Return(int64(150), nil)
	f.bus.On("Publish", mock.Anything, "guild-1", mock.Anything).Return(nil)

	result, err := f.engine.Execute(t.Context(), 4, invocation("member"))
	require.NoError(t, err)
	assert.Equal(t, "balance 150", result.Response.Content)
}
