package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetStore keeps single-use password reset tokens.
type ResetStore interface {
	Save(ctx context.Context, token, uid string, ttl time.Duration) error
	// Consume returns the uid bound to token and deletes it.
	Consume(ctx context.Context, token string) (string, error)
}

// RedisResetStore keeps reset tokens in Redis with a TTL.
type RedisResetStore struct {
	client *redis.Client
	prefix string
}

func NewRedisResetStore(redisURL string) (*RedisResetStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisResetStore{client: client, prefix: "pwreset:"}, nil
}

func (s *RedisResetStore) Save(ctx context.Context, token, uid string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+token, uid, ttl).Err(); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	return nil
}

func (s *RedisResetStore) Consume(ctx context.Context, token string) (string, error) {
	uid, err := s.client.GetDel(ctx, s.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	return uid, nil
}

func (s *RedisResetStore) Close() error {
	return s.client.Close()
}

type memoryReset struct {
	uid       string
	expiresAt time.Time
}

// MemoryResetStore is used when no Redis is configured.
type MemoryResetStore struct {
	mu     sync.Mutex
	tokens map[string]memoryReset
	now    func() time.Time
}

func NewMemoryResetStore() *MemoryResetStore {
	return &MemoryResetStore{tokens: make(map[string]memoryReset), now: time.Now}
}

func (s *MemoryResetStore) Save(_ context.Context, token, uid string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = memoryReset{uid: uid, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryResetStore) Consume(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tokens[token]
	delete(s.tokens, token)
	if !ok || s.now().After(r.expiresAt) {
		return "", ErrInvalidResetToken
	}
	return r.uid, nil
}
