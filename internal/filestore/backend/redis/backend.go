// Package redis provides the size-constrained key-value backend.
//
// Values are self-describing JSON records with a base64 body, gzipped
// above a threshold, written with a TTL. Redis strings have a hard
// 512 MB ceiling, but the practical limit for a shared deployment is
// far lower; the configured max_value_size (default 25 MB) is enforced
// on the encoded value before any write.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardvault/filestore/internal/filestore/backend"
	"github.com/cardvault/filestore/internal/storage"
)

const (
	KeyAddr                 = "addr"
	KeyPassword             = "password"
	KeyDB                   = "db"
	KeyMaxRetries           = "max_retries"
	KeyDialTimeout          = "dial_timeout"
	KeyReadTimeout          = "read_timeout"
	KeyWriteTimeout         = "write_timeout"
	KeyPoolSize             = "pool_size"
	KeyKeyPrefix            = "key_prefix"
	KeyMaxValueSize         = "max_value_size"
	KeyEnableCompression    = "enable_compression"
	KeyCompressionThreshold = "compression_threshold"
)

func init() {
	backend.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:                 "localhost:6379",
		KeyPassword:             "",
		KeyDB:                   "0",
		KeyMaxRetries:           "3",
		KeyDialTimeout:          "5s",
		KeyReadTimeout:          "3s",
		KeyWriteTimeout:         "3s",
		KeyPoolSize:             "0",
		KeyKeyPrefix:            "filestore:",
		KeyMaxValueSize:         "25MiB",
		KeyEnableCompression:    "true",
		KeyCompressionThreshold: "1KiB",
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (backend.Backend, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}

	db, err := storage.GetInt(config, KeyDB, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], err.Error())
	}
	if db < 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], "must be non-negative")
	}

	maxRetries, err := storage.GetInt(config, KeyMaxRetries, 3)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyMaxRetries, config[KeyMaxRetries], err.Error())
	}

	dialTimeout, err := storage.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDialTimeout, config[KeyDialTimeout], err.Error())
	}

	readTimeout, err := storage.GetDuration(config, KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyReadTimeout, config[KeyReadTimeout], err.Error())
	}

	writeTimeout, err := storage.GetDuration(config, KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyWriteTimeout, config[KeyWriteTimeout], err.Error())
	}

	poolSize, err := storage.GetInt(config, KeyPoolSize, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyPoolSize, config[KeyPoolSize], err.Error())
	}

	maxValueSize, err := storage.GetSizeBytes(config, KeyMaxValueSize, 25<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyMaxValueSize, config[KeyMaxValueSize], err.Error())
	}

	enableCompression, err := storage.GetBool(config, KeyEnableCompression, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyEnableCompression, config[KeyEnableCompression], err.Error())
	}

	compressionThreshold, err := storage.GetSizeBytes(config, KeyCompressionThreshold, 1<<10)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyCompressionThreshold, config[KeyCompressionThreshold], err.Error())
	}

	password := storage.GetString(config, KeyPassword, "")
	keyPrefix := storage.GetString(config, KeyKeyPrefix, "filestore:")

	opts := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis file backend initialized",
		"addr", addr, "db", db, "key_prefix", keyPrefix, "max_value_size", maxValueSize)

	return &Backend{
		client:               client,
		prefix:               keyPrefix,
		maxValueSize:         maxValueSize,
		enableCompression:    enableCompression,
		compressionThreshold: compressionThreshold,
	}, nil
}

// Backend is a Redis implementation of backend.Backend.
type Backend struct {
	client               *redis.Client
	prefix               string
	maxValueSize         int64
	enableCompression    bool
	compressionThreshold int64
	closed               atomic.Bool
}

// NewWithClient creates a backend around an existing Redis client.
func NewWithClient(client *redis.Client, prefix string, maxValueSize int64) *Backend {
	if prefix == "" {
		prefix = "filestore:"
	}
	if maxValueSize <= 0 {
		maxValueSize = 25 << 20
	}
	return &Backend{
		client:               client,
		prefix:               prefix,
		maxValueSize:         maxValueSize,
		enableCompression:    true,
		compressionThreshold: 1 << 10,
	}
}

func (b *Backend) Name() string { return "redis" }

func (b *Backend) valueKey(key string) string { return b.prefix + "file:" + key }

// Put encodes and stores a record with the requested TTL.
// The encoded value is checked against the size ceiling before any
// write; an oversize payload is a rejection, never a truncation.
func (b *Backend) Put(ctx context.Context, in *backend.PutInput) (*backend.PutInfo, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	value, info, err := backend.EncodeRecord(in, b.enableCompression, b.compressionThreshold)
	if err != nil {
		return nil, err
	}

	if info.StoredSize > b.maxValueSize {
		return nil, fmt.Errorf("%w: %d > %d bytes after encoding",
			backend.ErrValueTooLarge, info.StoredSize, b.maxValueSize)
	}

	var ttl time.Duration
	if in.TTL > 0 {
		ttl = in.TTL
		info.ExpiresAt = time.Now().Add(ttl).UTC()
	}

	if err := b.client.Set(ctx, b.valueKey(in.Key), value, ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis put: %w", err)
	}
	return info, nil
}

// Get retrieves and decodes a record.
func (b *Backend) Get(ctx context.Context, key string) (*backend.Object, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	value, err := b.client.Get(ctx, b.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return backend.DecodeRecord(key, value)
}

// Exists checks if a value exists for key.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if b.closed.Load() {
		return false, backend.ErrClosed
	}

	n, err := b.client.Exists(ctx, b.valueKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes a value. Idempotent.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}

	if err := b.client.Del(ctx, b.valueKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Stats returns storage statistics. Redis cannot attribute memory to
// this keyspace cheaply, so SizeBytes is -1.
func (b *Backend) Stats(_ context.Context) (*backend.Stats, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	return &backend.Stats{
		SizeBytes:   -1,
		BackendType: "redis",
	}, nil
}

// Close releases the Redis client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
