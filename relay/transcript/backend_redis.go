package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend keeps the store in a single redis hash: field is the user id,
// value is the JSON-encoded transcript.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// OpenRedisBackend connects to addr and verifies the connection.
func OpenRedisBackend(ctx context.Context, addr, key string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisBackend(client, key), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) Load(ctx context.Context) (Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}

	snapshot := make(Snapshot, len(fields))
	for userID, raw := range fields {
		t, err := decodeTranscript([]byte(raw))
		if err != nil {
			return nil, &PersistenceError{Source: "redis:" + r.key, Err: fmt.Errorf("user %s: %w", userID, err)}
		}
		snapshot[userID] = t
	}
	return snapshot, nil
}

func (r *RedisBackend) Save(ctx context.Context, snapshot Snapshot) error {
	values := make([]interface{}, 0, 2*len(snapshot))
	for userID, t := range snapshot {
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode transcript for %s failed: %w", userID, err)
		}
		values = append(values, userID, enc)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot to redis failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) SaveUser(ctx context.Context, userID string, t Transcript) error {
	if len(t) == 0 {
		if err := r.client.HDel(ctx, r.key, userID).Err(); err != nil {
			return fmt.Errorf("delete transcript for %s failed: %w", userID, err)
		}
		return nil
	}

	enc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript for %s failed: %w", userID, err)
	}
	if err := r.client.HSet(ctx, r.key, userID, enc).Err(); err != nil {
		return fmt.Errorf("save transcript for %s failed: %w", userID, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

var _ UserBackend = (*RedisBackend)(nil)
