package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
)

// DefaultActionTimeout bounds an action that declares no timeout of its own.
const DefaultActionTimeout = 5 * time.Second

// Action is a side effect an action node can run. Config has already been
// rendered against the execution context.
type Action interface {
	Type() string
	Timeout() time.Duration
	Execute(ctx context.Context, config map[string]any, executionCtx *models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionRegistry maps action names to implementations.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry creates a registry holding the given actions.
func NewActionRegistry(actions ...Action) (*ActionRegistry, error) {
	registry := &ActionRegistry{actions: make(map[string]Action, len(actions))}

	for _, action := range actions {
		err := registry.Register(action)
		if err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// Register adds an action. Names are unique.
func (r *ActionRegistry) Register(action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[action.Type()]; exists {
		return fmt.Errorf("action %q already registered", action.Type())
	}

	r.actions[action.Type()] = action

	return nil
}

// Get returns the action registered under name.
func (r *ActionRegistry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]

	return action, ok
}

// Types lists the registered action names, sorted.
func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// actionTimeout picks config.timeout_ms, then the action's own default, then
// DefaultActionTimeout.
func actionTimeout(action Action, config map[string]any) time.Duration {
	if ms, ok := intValue(config["timeout_ms"]); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}

	if timeout := action.Timeout(); timeout > 0 {
		return timeout
	}

	return DefaultActionTimeout
}
