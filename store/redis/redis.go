package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ryhazerus/throttle/store"
)

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

// RedisStore is a Store backed by Redis. Each scope is stored as a Redis
// hash keyed by resource name, with the state JSON-encoded in the field
// value. Reset deletes the whole hash.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save writes st into its scope's hash.
func (r *RedisStore) Save(ctx context.Context, st store.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("throttle/store/redis: encode: %w", err)
	}
	if err := r.client.HSet(ctx, redisKey(st.Scope), st.Resource, payload).Err(); err != nil {
		return fmt.Errorf("throttle/store/redis: save: %w", err)
	}
	return nil
}

// Load returns the saved state for scope and resource.
func (r *RedisStore) Load(ctx context.Context, scope, resource string) (store.State, bool, error) {
	payload, err := r.client.HGet(ctx, redisKey(scope), resource).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.State{}, false, nil
	}
	if err != nil {
		return store.State{}, false, fmt.Errorf("throttle/store/redis: load: %w", err)
	}

	var st store.State
	if err := json.Unmarshal(payload, &st); err != nil {
		return store.State{}, false, fmt.Errorf("throttle/store/redis: decode: %w", err)
	}
	return st, true, nil
}

// List scans the scope hashes whose name starts with prefix.
func (r *RedisStore) List(ctx context.Context, prefix string) ([]store.State, error) {
	var out []store.State
	iter := r.client.Scan(ctx, 0, redisKey(escapeGlob(prefix))+"*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := r.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("throttle/store/redis: list: %w", err)
		}
		for _, payload := range fields {
			var st store.State
			if err := json.Unmarshal([]byte(payload), &st); err != nil {
				return nil, fmt.Errorf("throttle/store/redis: decode: %w", err)
			}
			out = append(out, st)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("throttle/store/redis: list: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Resource < out[j].Resource
	})
	return out, nil
}

// Reset removes every state saved for scope.
func (r *RedisStore) Reset(ctx context.Context, scope string) error {
	return r.client.Del(ctx, redisKey(scope)).Err()
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisKey(scope string) string {
	return "throttle:" + scope
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
