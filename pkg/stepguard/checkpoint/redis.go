package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key prefix, default "stepguard:"
}

// RedisStore persists checkpoints in Redis. Each checkpoint is a string key
// written with SETNX; a sorted set per agent indexes them by step. Both are
// written by one script, so a checkpoint is never stored without its index
// entry. Keys of one agent share a hash tag and live in the same slot.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to Redis with the given options.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.Prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "stepguard:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) checkpointKey(agentID string, step Step) string {
	return fmt.Sprintf("%sagent:{%s}:checkpoint:%d", s.prefix, agentID, step.SortKey())
}

func (s *RedisStore) indexKey(agentID string) string {
	return fmt.Sprintf("%sagent:{%s}:steps", s.prefix, agentID)
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	key := cp.Step.SortKey()
	member := strconv.FormatInt(key, 10)
	added, err := appendScript.Run(ctx, s.client,
		[]string{s.checkpointKey(cp.AgentID, cp.Step), s.indexKey(cp.AgentID)},
		data, member, member,
	).Int()
	if err != nil {
		return fmt.Errorf("append checkpoint to redis: %w", redisErr(err))
	}
	if added == 0 {
		return ErrCheckpointExists
	}
	return nil
}

// appendScript stores the checkpoint and its index entry together.
// KEYS[1] checkpoint key, KEYS[2] step index.
// ARGV[1] encoded checkpoint, ARGV[2] score, ARGV[3] index member.
// The index type is checked before anything is written, since Redis does
// not roll back the writes of a script that fails midway.
var appendScript = redis.NewScript(`
local t = redis.call('TYPE', KEYS[2])
t = t['ok'] or t
if t ~= 'none' and t ~= 'zset' then
	return redis.error_reply('WRONGTYPE step index ' .. KEYS[2] .. ' is not a sorted set')
end
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, agentID string, step Step) ([]byte, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(agentID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint from redis: %w", redisErr(err))
	}
	return data, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, agentID string) ([]Info, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints from redis: %w", redisErr(err))
	}
	if len(members) == 0 {
		return []Info{}, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		sortKey, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt step index member %q: %w", m, err)
		}
		keys = append(keys, s.checkpointKey(agentID, StepFromSortKey(sortKey)))
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch checkpoints from redis: %w", err)
	}

	infos := make([]Info, 0, len(results))
	for _, result := range results {
		str, ok := result.(string)
		if !ok {
			continue
		}
		cp, err := Unmarshal([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		infos = append(infos, cp.Info(int64(len(str))))
	}
	sortInfos(infos)
	return infos, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisErr maps a closed client onto ErrStoreClosed.
func redisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return err
}
