package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/guildhall/guildhall/pkg/platform"
)

const platformCallTimeout = 3 * time.Second

// BuiltinActions returns the actions every engine ships with. The platform
// actions are only included when their collaborator is non-nil.
func BuiltinActions(roles platform.RoleAssigner, currency platform.CurrencyGranter) []Action {
	actions := []Action{SetVariable{}, Log{}, NewHTTPRequest(nil)}

	if roles != nil {
		actions = append(actions, AssignRole{roles: roles})
	}

	if currency != nil {
		actions = append(actions, GrantCurrency{currency: currency})
	}

	return actions
}

// SetVariable stores config.value under vars.<config.name>.
type SetVariable struct{}

func (SetVariable) Type() string { return "set_variable" }

func (SetVariable) Timeout() time.Duration { return 0 }

func (SetVariable) Execute(
	_ context.Context,
	config map[string]any,
	executionCtx *models.ExecutionContext,
	_ *slog.Logger,
) (any, error) {
	name, _ := config["name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("set_variable requires a name: %w", ErrInvalidActionConfig)
	}

	value := config["value"]
	executionCtx.Variables[name] = value

	return value, nil
}

// Log writes config.message to the engine log.
type Log struct{}

func (Log) Type() string { return "log" }

func (Log) Timeout() time.Duration { return 0 }

func (Log) Execute(
	ctx context.Context,
	config map[string]any,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) (any, error) {
	message, _ := config["message"].(string)

	logger.InfoContext(ctx, "Log message", "message", message, "user_id", executionCtx.Invocation.UserID)

	return map[string]any{"message": message}, nil
}

// AssignRole gives a guild member a role. The member defaults to the invoker.
type AssignRole struct {
	roles platform.RoleAssigner
}

// NewAssignRole creates the assign_role action.
func NewAssignRole(roles platform.RoleAssigner) AssignRole {
	return AssignRole{roles: roles}
}

func (AssignRole) Type() string { return "assign_role" }

func (AssignRole) Timeout() time.Duration { return platformCallTimeout }

func (a AssignRole) Execute(
	ctx context.Context,
	config map[string]any,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) (any, error) {
	roleID, _ := config["role_id"].(string)
	if roleID == "" {
		return nil, fmt.Errorf("assign_role requires role_id: %w", ErrInvalidActionConfig)
	}

	userID, _ := config["user_id"].(string)
	if userID == "" {
		userID = executionCtx.Invocation.UserID
	}

	err := a.roles.AssignRole(ctx, executionCtx.Invocation.GuildID, userID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}

	logger.InfoContext(ctx, "Role assigned", "role_id", roleID, "user_id", userID)

	return map[string]any{"role_id": roleID, "user_id": userID}, nil
}

// GrantCurrency credits the invoker through the economy service.
type GrantCurrency struct {
	currency platform.CurrencyGranter
}

// NewGrantCurrency creates the grant_currency action.
func NewGrantCurrency(currency platform.CurrencyGranter) GrantCurrency {
	return GrantCurrency{currency: currency}
}

func (GrantCurrency) Type() string { return "grant_currency" }

func (GrantCurrency) Timeout() time.Duration { return platformCallTimeout }

func (g GrantCurrency) Execute(
	ctx context.Context,
	config map[string]any,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) (any, error) {
	amount, ok := intValue(config["amount"])
	if !ok || amount == 0 {
		return nil, fmt.Errorf("grant_currency requires a non-zero integer amount: %w", ErrInvalidActionConfig)
	}

	reason, _ := config["reason"].(string)

	userID, _ := config["user_id"].(string)
	if userID == "" {
		userID = executionCtx.Invocation.UserID
	}

	balance, err := g.currency.GrantCurrency(ctx, executionCtx.Invocation.GuildID, userID, amount, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to grant currency: %w", err)
	}

	logger.InfoContext(ctx, "Currency granted", "user_id", userID, "amount", amount, "balance", balance)

	return map[string]any{"amount": amount, "balance": balance, "user_id": userID}, nil
}

// intValue accepts the numeric forms a decoded JSON config or a rendered
// template can produce.
func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}

		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}
