package platform_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.HandlerFunc) *platform.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return platform.NewClient(server.URL+"/", "secret", server.Client(), logger)
}

func TestClient_PushGuildCommands(t *testing.T) {
	var received map[string][]models.CommandSpec

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/guilds/guild-1/commands", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&received)
		assert.NoError(t, err)

		w.WriteHeader(http.StatusNoContent)
	})

	err := client.PushGuildCommands(t.Context(), "guild-1", []models.CommandSpec{
		{Type: models.CommandTypeSlash, Name: "greet", WorkflowID: 3},
	})
	require.NoError(t, err)

	require.Len(t, received["commands"], 1)
	assert.Equal(t, "greet", received["commands"][0].Name)
	assert.Equal(t, int64(3), received["commands"][0].WorkflowID)
}

func TestClient_PushGuildCommands_EmptyList(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"commands": []}`, string(body))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.PushGuildCommands(t.Context(), "guild-1", nil))
}

func TestClient_StatusError(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing permissions", http.StatusForbidden)
	})

	err := client.AssignRole(t.Context(), "guild-1", "user-1", "role-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrGatewayStatus)

	var statusErr *platform.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, "missing permissions", statusErr.Body)
}

func TestClient_AssignRole(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/guilds/guild-1/members/user-1/roles/role-9", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, client.AssignRole(t.Context(), "guild-1", "user-1", "role-9"))
}

func TestClient_GrantCurrency(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/guilds/guild-1/members/user-1/balance", r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 25.0, req["amount"], 0.001)
		assert.Equal(t, "daily", req["reason"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance": 125}`))
	})

	balance, err := client.GrantCurrency(t.Context(), "guild-1", "user-1", 25, "daily")
	require.NoError(t, err)
	assert.Equal(t, int64(125), balance)
}
