package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/registry"
)

// RedisStorage serves plugin.storage from a Redis hash per plugin, so
// values survive host restarts. Values are stored as JSON.
type RedisStorage struct {
	client *redis.Client
}

var _ sandbox.Provider = (*RedisStorage)(nil)

// NewRedisStorage connects to addr and verifies the connection.
func NewRedisStorage(addr string, db int, password string) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStorage{client: client}, nil
}

func storageKey(pluginName string) string {
	return "tuff:storage:" + pluginName
}

// Handle implements sandbox.Provider.
func (s *RedisStorage) Handle(ctx context.Context, call *sandbox.Call) (any, error) {
	var p registry.StorageParams
	if err := decode(call.Payload, &p); err != nil {
		return nil, err
	}
	key := storageKey(call.Plugin)

	switch p.Op {
	case "get":
		raw, err := s.client.HGet(ctx, key, p.Key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p.Key, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("corrupt value for %s: %w", p.Key, err)
		}
		return v, nil
	case "set":
		b, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		if err := s.client.HSet(ctx, key, p.Key, b).Err(); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", p.Key, err)
		}
		return true, nil
	case "delete":
		n, err := s.client.HDel(ctx, key, p.Key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", p.Key, err)
		}
		return n > 0, nil
	case "list":
		keys, err := s.client.HKeys(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list keys: %w", err)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported storage op %q", p.Op)
}

// Clear removes every key of pluginName.
func (s *RedisStorage) Clear(ctx context.Context, pluginName string) error {
	return s.client.Del(ctx, storageKey(pluginName)).Err()
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
