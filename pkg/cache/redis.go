package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "guildhall:workflow:"
	commandPrefix = "guildhall:command:"
)

// Redis stores workflows as JSON strings with a TTL. Set and Invalidate run
// as scripts so the version floor check and the write are atomic.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, ttl: ttl}
}

// NewRedisFromURL parses a redis:// URL, connects and pings the server.
func NewRedisFromURL(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedis(client, ttl), nil
}

func key(workflowID int64) string {
	return keyPrefix + strconv.FormatInt(workflowID, 10)
}

func floorKey(workflowID int64) string {
	return key(workflowID) + ":floor"
}

func commandIndexKey(guildID string, commandType models.CommandType, commandName string) string {
	return commandPrefix + guildID + ":" + string(commandType) + ":" + commandName
}

// setScript stores ARGV[2] under KEYS[1] unless the version ARGV[1] is below
// the floor kept under KEYS[2].
var setScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < floor then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// invalidateScript deletes KEYS[1] and raises the floor under KEYS[2] to ARGV[1].
var invalidateScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > floor then
	floor = tonumber(ARGV[1])
end
redis.call('SET', KEYS[2], floor, 'PX', ARGV[2])
return 1
`)

func (r *Redis) Get(ctx context.Context, workflowID int64) (*models.Workflow, bool, error) {
	body, err := r.client.Get(ctx, key(workflowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cached workflow %d: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cached workflow %d: %w", workflowID, err)
	}

	return &workflow, true, nil
}

func (r *Redis) Set(ctx context.Context, workflow *models.Workflow) error {
	body, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %d: %w", workflow.ID, err)
	}

	err = setScript.Run(ctx, r.client,
		[]string{key(workflow.ID), floorKey(workflow.ID)},
		workflow.Version, body, r.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to cache workflow %d: %w", workflow.ID, err)
	}

	return nil
}

func (r *Redis) Invalidate(ctx context.Context, workflowID int64, version int) error {
	err := invalidateScript.Run(ctx, r.client,
		[]string{key(workflowID), floorKey(workflowID)},
		version, r.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate workflow %d: %w", workflowID, err)
	}

	return nil
}

func (r *Redis) LookupCommand(
	ctx context.Context,
	guildID string,
	commandType models.CommandType,
	commandName string,
) (int64, bool, error) {
	workflowID, err := r.client.Get(ctx, commandIndexKey(guildID, commandType, commandName)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("failed to read command index: %w", err)
	}

	return workflowID, true, nil
}

func (r *Redis) RememberCommand(ctx context.Context, workflow *models.Workflow) error {
	err := r.client.Set(ctx,
		commandIndexKey(workflow.GuildID, workflow.CommandType, workflow.CommandName),
		workflow.ID, r.ttl,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to index command of workflow %d: %w", workflow.ID, err)
	}

	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
