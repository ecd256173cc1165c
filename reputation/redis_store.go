package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed reputation store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RedisStore is a Redis-backed Store. Suitable when several pipeline processes
// share one reputation view.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "finstudio:"
	}
	return &RedisStore{client: client, keyPrefix: prefix + "reputation:"}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(agentID string) string {
	return s.keyPrefix + agentID
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "agents"
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, agentID string) (*Record, bool, error) {
	data, err := s.client.Get(ctx, s.key(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get reputation %s: %w", agentID, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("decode reputation %s: %w", agentID, err)
	}
	return &record, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode reputation %s: %w", record.AgentID, err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(record.AgentID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), record.AgentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put reputation %s: %w", record.AgentID, err)
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list reputation agents: %w", err)
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		record, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, record)
		}
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
