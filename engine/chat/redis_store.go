package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/WessleyAI/issuescope/pkg/llm"
)

const redisKeyPrefix = "issuescope:chat:"

// RedisStore keeps transcripts as JSON strings with a key TTL.
type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("chat: redis ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb *goredis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, issueID string, msgs []llm.Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("chat: encode transcript: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+issueID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("chat: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, issueID string) ([]llm.Message, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+issueID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: redis get: %w", err)
	}
	msgs := []llm.Message{}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("chat: decode transcript: %w", err)
	}
	return msgs, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.rdb.Close() }
