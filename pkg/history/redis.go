// Package history provides persistent conversation history stores for an agency.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aixgo-dev/agency/agent"
)

// ErrStorageClosed is returned when operating on a closed store.
var ErrStorageClosed = errors.New("history store is closed")

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "agency:history:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix (default: "agency:history:").
	Prefix string
	// Conversation names the list holding this agency's log (default: "default").
	Conversation string
	// TTL expires the whole log after inactivity (0 = never expire).
	TTL time.Duration
	// MaxEntries caps the log length; older entries are trimmed on append
	// (0 = unbounded).
	MaxEntries int
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// Redis is an agency.History stored in a Redis list. Appends are single
// RPUSH commands, so concurrent writers from several processes keep a
// consistent order.
type Redis struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	maxEntries int

	mu     sync.RWMutex
	closed bool
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisFromClient(client, cfg), nil
}

// NewRedisFromClient wraps an existing client. Connection fields of cfg are
// ignored. This is useful for testing with miniredis.
func NewRedisFromClient(client *redis.Client, cfg RedisConfig) *Redis {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	conversation := cfg.Conversation
	if conversation == "" {
		conversation = "default"
	}
	return &Redis{
		client:     client,
		key:        prefix + conversation,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
	}
}

func (r *Redis) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrStorageClosed
	}
	return nil
}

// Append adds env to the end of the log.
func (r *Redis) Append(ctx context.Context, env agent.Envelope) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.key, data)
	if r.maxEntries > 0 {
		pipe.LTrim(ctx, r.key, int64(-r.maxEntries), -1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	return nil
}

// Entries returns the whole log in append order.
func (r *Redis) Entries(ctx context.Context) ([]agent.Envelope, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	entries := make([]agent.Envelope, 0, len(data))
	for _, d := range data {
		var env agent.Envelope
		if err := json.Unmarshal([]byte(d), &env); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		entries = append(entries, env)
	}
	return entries, nil
}

// Len returns the number of stored envelopes.
func (r *Redis) Len(ctx context.Context) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("history length: %w", err)
	}
	return int(n), nil
}

// Truncate keeps only the newest keep envelopes.
func (r *Redis) Truncate(ctx context.Context, keep int) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	var err error
	if keep <= 0 {
		err = r.client.Del(ctx, r.key).Err()
	} else {
		err = r.client.LTrim(ctx, r.key, int64(-keep), -1).Err()
	}
	if err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
