package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// defaultSessionKey is the single Redis key holding the aggregator credential
const defaultSessionKey = "sync:session:aggregator"

// RedisSessionStore implements sync.SessionStore on Redis. The key carries a
// TTL of SessionMaxAge so a credential can never outlive its trust window,
// even if the process that saved it is gone.
type RedisSessionStore struct {
	client *redis.Client
	key    string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(cfg RedisConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSessionStore{
		client: client,
		key:    defaultSessionKey,
	}, nil
}

// NewRedisSessionStoreWithClient creates a store with an existing Redis client
// This is useful for testing or when sharing a client across components
func NewRedisSessionStoreWithClient(client *redis.Client, key string) *RedisSessionStore {
	if key == "" {
		key = defaultSessionKey
	}
	return &RedisSessionStore{
		client: client,
		key:    key,
	}
}

// Load returns the saved credential, or nil when none is stored
func (s *RedisSessionStore) Load(ctx context.Context) (*syncdomain.SessionCredential, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var cred syncdomain.SessionCredential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &cred, nil
}

// Save stores the credential with the trust-window TTL
func (s *RedisSessionStore) Save(ctx context.Context, cred *syncdomain.SessionCredential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, syncdomain.SessionMaxAge).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the stored credential, if any
func (s *RedisSessionStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// Ensure RedisSessionStore implements SessionStore
var _ syncdomain.SessionStore = (*RedisSessionStore)(nil)
