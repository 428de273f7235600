package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/greenproof/core/pkg/hashing"
)

const (
	redisKeyPrefix = "greenproof:identity:"
	redisIndexKey  = "greenproof:identity:index"
)

// RedisStore shares one identity registry across processes. Each identity
// maps to a Redis list of JSON records; RPUSH preserves append order.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(id hashing.ContentHash) string {
	return redisKeyPrefix + string(id)
}

func (s *RedisStore) Append(ctx context.Context, id hashing.ContentHash, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(id), raw)
	pipe.SAdd(ctx, redisIndexKey, string(id))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Records(ctx context.Context, id hashing.ContentHash) ([]Record, error) {
	raws, err := s.client.LRange(ctx, s.key(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record for %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, redisKeyPrefix+id)
	}
	keys = append(keys, redisIndexKey)
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
