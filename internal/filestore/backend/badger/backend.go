// Package badger provides a BadgerDB-backed local file backend.
//
// Intended for development deployments that have neither S3 nor Redis
// available. Stores objects in the encoded record format and supports
// TTL through badger's native entry expiry.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cardvault/filestore/internal/filestore/backend"
	"github.com/cardvault/filestore/internal/storage"
)

const keyPrefix = "file/"

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	backend.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.cardvault/files",
		KeySyncWrites:       "false",
		KeyValueLogFileSize: strconv.FormatInt(1<<30, 10),
		KeyMemTableSize:     strconv.FormatInt(64<<20, 10),
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (backend.Backend, error) {
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}

	if inMemory {
		return newInMemory()
	}

	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
	}

	syncWrites, err := storage.GetBool(config, KeySyncWrites, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
	}

	valueLogFileSize, err := storage.GetInt64(config, KeyValueLogFileSize, 1<<30)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyValueLogFileSize, config[KeyValueLogFileSize], err.Error())
	}

	memTableSize, err := storage.GetInt64(config, KeyMemTableSize, 64<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyMemTableSize, config[KeyMemTableSize], err.Error())
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = syncWrites
	if valueLogFileSize > 0 {
		opts.ValueLogFileSize = valueLogFileSize
	}
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger file backend initialized", "path", path, "sync_writes", syncWrites)
	return NewWithDB(db), nil
}

func newInMemory() (*Backend, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyInMemory, "failed to open in-memory database", err)
	}

	slog.Info("badger file backend initialized (in-memory)")
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of backend.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) Name() string { return "badger" }

func dbKey(key string) []byte { return []byte(keyPrefix + key) }

// Put stores the encoded record, with TTL when requested.
func (b *Backend) Put(_ context.Context, in *backend.PutInput) (*backend.PutInfo, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	value, info, err := backend.EncodeRecord(in, true, 1<<10)
	if err != nil {
		return nil, err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(dbKey(in.Key), value)
		if in.TTL > 0 {
			e = e.WithTTL(in.TTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return nil, fmt.Errorf("badger put: %w", err)
	}

	if in.TTL > 0 {
		info.ExpiresAt = time.Now().Add(in.TTL).UTC()
	}
	return info, nil
}

// Get retrieves and decodes a record.
func (b *Backend) Get(_ context.Context, key string) (*backend.Object, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}

	return backend.DecodeRecord(key, value)
}

// Exists checks if a record exists.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	if b.closed.Load() {
		return false, backend.ErrClosed
	}

	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger exists: %w", err)
	}
	return exists, nil
}

// Delete removes a record. Idempotent.
func (b *Backend) Delete(_ context.Context, key string) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return txn.Delete(dbKey(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// List implements backend.Lister by iterating the key space.
func (b *Backend) List(_ context.Context, opts backend.ListOptions) (*backend.ListResult, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	result := &backend.ListResult{}
	prefix := dbKey(opts.Prefix)
	start := prefix
	if opts.Cursor != "" {
		// Resume just past the cursor key.
		start = append(dbKey(opts.Cursor), 0)
	}

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: false,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if len(result.Entries) >= limit {
				result.Truncated = true
				result.Cursor = result.Entries[len(result.Entries)-1].Key
				return nil
			}
			item := it.Item()
			result.Entries = append(result.Entries, backend.ListEntry{
				Key:  strings.TrimPrefix(string(item.Key()), keyPrefix),
				Size: item.EstimatedSize(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}
	return result, nil
}

// Stats returns storage statistics.
func (b *Backend) Stats(_ context.Context) (*backend.Stats, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	lsm, vlog := b.db.Size()
	return &backend.Stats{
		SizeBytes:   lsm + vlog,
		BackendType: "badger",
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
