// Package memory provides an in-memory backend for tests and local use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cardvault/filestore/internal/filestore/backend"
)

func init() {
	backend.Register("memory", func(_ context.Context, _ map[string]string) (backend.Backend, error) {
		return New(), nil
	}, nil)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Backend is an in-memory implementation of backend.Backend.
// Values are stored in the encoded record format so the decode path
// (base64, gzip, corruption handling) matches an encoded backend.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]entry

	// Clock is overridable so tests can force expiry.
	Clock func() time.Time
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		entries: make(map[string]entry),
		Clock:   time.Now,
	}
}

func (b *Backend) Name() string { return "memory" }

// Put stores the encoded record for key.
func (b *Backend) Put(_ context.Context, in *backend.PutInput) (*backend.PutInfo, error) {
	value, info, err := backend.EncodeRecord(in, true, 1024)
	if err != nil {
		return nil, err
	}

	e := entry{value: value}
	if in.TTL > 0 {
		e.expiresAt = b.Clock().Add(in.TTL)
		info.ExpiresAt = e.expiresAt
	}

	b.mu.Lock()
	b.entries[in.Key] = e
	b.mu.Unlock()
	return info, nil
}

// Get retrieves and decodes the record for key.
func (b *Backend) Get(_ context.Context, key string) (*backend.Object, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, backend.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !b.Clock().Before(e.expiresAt) {
		return nil, backend.ErrNotFound
	}
	return backend.DecodeRecord(key, e.value)
}

func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && !b.Clock().Before(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Stats(_ context.Context) (*backend.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var size int64
	for _, e := range b.entries {
		size += int64(len(e.value))
	}
	return &backend.Stats{SizeBytes: size, BackendType: "memory"}, nil
}

// List implements backend.Lister over the in-memory key set.
func (b *Backend) List(_ context.Context, opts backend.ListOptions) (*backend.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	b.mu.RLock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.Cursor {
			keys = append(keys, k)
		}
	}
	b.mu.RUnlock()

	sort.Strings(keys)

	result := &backend.ListResult{}
	for _, k := range keys {
		if len(result.Entries) >= limit {
			result.Truncated = true
			result.Cursor = result.Entries[len(result.Entries)-1].Key
			break
		}
		b.mu.RLock()
		e := b.entries[k]
		b.mu.RUnlock()
		result.Entries = append(result.Entries, backend.ListEntry{
			Key:  k,
			Size: int64(len(e.value)),
		})
	}
	return result, nil
}

func (b *Backend) Close() error { return nil }

// Len returns the number of stored values (for tests).
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// CorruptValue overwrites the raw stored value for key (for tests).
func (b *Backend) CorruptValue(key string, value []byte) {
	b.mu.Lock()
	b.entries[key] = entry{value: value}
	b.mu.Unlock()
}

// RawValue returns the raw stored value for key (for tests).
func (b *Backend) RawValue(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	return e.value, ok
}
