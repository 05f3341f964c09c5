package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements StorageBackend using Redis.
// It lets several driver hosts share one set of campaign records.
//
// Keys:
//
//	<prefix>record:<id>   full session record (string)
//	<prefix>updated       sorted set, score = update time in microseconds
//	<prefix>summaries     hash, id -> summary JSON
type RedisBackend struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr" env:"ADDR"`
	// Password is the Redis password (optional).
	Password string `yaml:"password" env:"PASSWORD"`
	// DB is the Redis database number.
	DB int `yaml:"db" env:"DB"`
	// Prefix is the key prefix for all session keys (default: "tracker:session:").
	Prefix string `yaml:"prefix" env:"PREFIX"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

const defaultRedisPrefix = "tracker:session:"

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
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

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Close client to release connection pool resources
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackendFromClient(client, cfg.Prefix), nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

// Key helpers
func (b *RedisBackend) recordKey(sessionID string) string {
	return b.prefix + "record:" + sessionID
}

func (b *RedisBackend) updatedKey() string {
	return b.prefix + "updated"
}

func (b *RedisBackend) summariesKey() string {
	return b.prefix + "summaries"
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// createScript claims the record key and writes both index entries in one
// atomic step. KEYS: record, updated, summaries. ARGV: record, score, id, summary.
var createScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
redis.call("HSET", KEYS[3], ARGV[3], ARGV[4])
return 1
`)

// Create persists a new session and its index entries atomically. Concurrent
// creators can never claim the same ID.
func (b *RedisBackend) Create(ctx context.Context, s *Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(s.Summary())
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	keys := []string{b.recordKey(s.ID), b.updatedKey(), b.summariesKey()}
	created, err := createScript.Run(ctx, b.client, keys,
		data, strconv.FormatInt(s.UpdatedAt.UnixMicro(), 10), s.ID, summary).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return ErrSessionExists
	}
	return nil
}

// Save replaces the record and its index entries in one transaction.
func (b *RedisBackend) Save(ctx context.Context, s *Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}

	summary, err := json.Marshal(s.Summary())
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.recordKey(s.ID), data, 0)
	pipe.ZAdd(ctx, b.updatedKey(), redis.Z{
		Score:  float64(s.UpdatedAt.UnixMicro()),
		Member: s.ID,
	})
	pipe.HSet(ctx, b.summariesKey(), s.ID, summary)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load retrieves a session by ID.
func (b *RedisBackend) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	key := b.recordKey(sessionID)
	data, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return Decode(data, sessionID, "redis key "+key)
}

// Latest returns the ID with the highest update score. Members with equal
// scores are returned in reverse lexical order, so ties resolve to the greatest ID.
func (b *RedisBackend) Latest(ctx context.Context) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}

	ids, err := b.client.ZRevRange(ctx, b.updatedKey(), 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	if len(ids) == 0 {
		return "", ErrNoSessions
	}
	return ids[0], nil
}

// List returns session summaries ordered by ID, newest first.
func (b *RedisBackend) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := b.client.HGetAll(ctx, b.summariesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	summaries := make([]Summary, 0, len(raw))
	for id, data := range raw {
		var sum Summary
		if err := json.Unmarshal([]byte(data), &sum); err != nil {
			return nil, &CorruptError{SessionID: id, Location: "redis hash " + b.summariesKey(), Err: err}
		}
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID > summaries[j].ID
	})

	if opts.Limit > 0 && opts.Limit < len(summaries) {
		summaries = summaries[:opts.Limit]
	}
	return summaries, nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}
