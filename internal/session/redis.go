package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as JSON values under session:<client>:<key>.
// Client scopes Clear to one device or browser.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore scopes sessions to clientID. ttl 0 keeps them forever.
func NewRedisStore(client *redis.Client, clientID string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "session:" + clientID + ":", ttl: ttl}
}

func (r *RedisStore) Save(ctx context.Context, key string, s State) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, body, r.ttl).Err()
}

func (r *RedisStore) Load(ctx context.Context, key string) (State, error) {
	body, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrSessionNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get session: %w", err)
	}
	var s State
	if err := json.Unmarshal(body, &s); err != nil {
		return State{}, fmt.Errorf("decode session %s: %w", key, err)
	}
	return s, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan sessions: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
