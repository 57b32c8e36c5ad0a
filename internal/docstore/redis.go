package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisLockTTL bounds how long a Redis lock can be held before it expires,
// so a crashed holder cannot wedge a key forever.
const redisLockTTL = 30 * time.Second

// redisLockRetryInterval is how often RedisStore retries acquiring a
// contended lock key.
const redisLockRetryInterval = 20 * time.Millisecond

// RedisStore is an alternative Store backend for deployments that share a
// content root across more than one host (the default FileStore assumes a
// single filesystem). Grounded on the teacher's statestore.RedisStore:
// prefixed keys, functional options. Unlike the teacher's conversation
// store, documents here are not ephemeral, so there is no WithTTL option —
// a world or player-view document lives for the life of the experience.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix. Default is "gaia".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed document store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "gaia"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) docKey(key string) string {
	return fmt.Sprintf("%s:doc:%s", s.prefix, key)
}

func (s *RedisStore) lockKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, key)
}

// Lock implements Store using SET NX PX as the distributed mutex primitive.
func (s *RedisStore) Lock(ctx context.Context, key string) (Unlock, error) {
	lk := s.lockKey(key)
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	for {
		ok, err := s.client.SetNX(ctx, lk, token, redisLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("docstore: redis lock %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisLockRetryInterval):
		}
	}

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		// Best-effort release; a crashed process simply waits out redisLockTTL.
		_ = s.client.Del(context.Background(), lk).Err()
	}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.docKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.docKey(key), data, 0).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.docKey(key)).Err()
}

// List implements Store via SCAN over the prefixed keyspace.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.docKey(prefix) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		keys = append(keys, strings.TrimPrefix(full, s.prefix+":doc:"))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
