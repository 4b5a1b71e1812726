package cache

import (
	"context"
	"sync"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/jonboulle/clockwork"
)

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

type commandKey struct {
	guildID     string
	commandType models.CommandType
	commandName string
}

// Memory is an in-process workflow cache with per-entry expiry.
type Memory struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu       sync.Mutex
	entries  map[int64]expiring[*models.Workflow]
	floors   map[int64]expiring[int]
	commands map[commandKey]expiring[int64]
}

// NewMemory creates a memory cache. A nil clock means the real clock.
func NewMemory(clock clockwork.Clock, ttl time.Duration) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Memory{
		clock:    clock,
		ttl:      ttl,
		entries:  make(map[int64]expiring[*models.Workflow]),
		floors:   make(map[int64]expiring[int]),
		commands: make(map[commandKey]expiring[int64]),
	}
}

// live returns the entry under key if it has not expired, dropping it otherwise.
func live[K comparable, T any](m map[K]expiring[T], key K, now time.Time) (T, bool) {
	entry, ok := m[key]
	if !ok {
		var zero T

		return zero, false
	}

	if !now.Before(entry.expiresAt) {
		delete(m, key)

		var zero T

		return zero, false
	}

	return entry.value, true
}

func (m *Memory) Get(_ context.Context, workflowID int64) (*models.Workflow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workflow, ok := live(m.entries, workflowID, m.clock.Now())

	return workflow, ok, nil
}

func (m *Memory) Set(_ context.Context, workflow *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	if floor, ok := live(m.floors, workflow.ID, now); ok && workflow.Version < floor {
		return nil
	}

	m.entries[workflow.ID] = expiring[*models.Workflow]{value: workflow, expiresAt: now.Add(m.ttl)}

	return nil
}

func (m *Memory) Invalidate(_ context.Context, workflowID int64, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	delete(m.entries, workflowID)

	if floor, ok := live(m.floors, workflowID, now); ok && floor > version {
		version = floor
	}

	m.floors[workflowID] = expiring[int]{value: version, expiresAt: now.Add(m.ttl)}

	return nil
}

func (m *Memory) LookupCommand(
	_ context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workflowID, ok := live(m.commands, commandKey{guildID, commandType, commandName}, m.clock.Now())

	return workflowID, ok, nil
}

func (m *Memory) RememberCommand(_ context.Context, workflow *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := commandKey{workflow.GuildID, workflow.CommandType, workflow.CommandName}
	m.commands[key] = expiring[int64]{value: workflow.ID, expiresAt: m.clock.Now().Add(m.ttl)}

	return nil
}

// Len returns the number of stored workflow entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
