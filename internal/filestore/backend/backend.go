// Package backend defines the physical storage interface for the file store.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested object was not found.
	ErrNotFound = errors.New("object not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrCorrupt indicates a stored record could not be decoded.
	// Distinct from ErrNotFound: the object exists but its bytes are unusable.
	ErrCorrupt = errors.New("stored record corrupt")

	// ErrValueTooLarge indicates the encoded value would exceed the
	// backend's hard per-value size ceiling. Nothing is written.
	ErrValueTooLarge = errors.New("encoded value exceeds backend size ceiling")
)

// PutInput describes an object to store.
type PutInput struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string

	// TTL requests automatic expiry. Backends without native expiry
	// ignore it and report a zero ExpiresAt.
	TTL time.Duration
}

// PutInfo reports what the backend actually wrote.
type PutInfo struct {
	StoredSize int64
	Compressed bool
	ExpiresAt  time.Time
}

// Object is a retrieved object with its original (decoded) bytes.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Size        int64
	CreatedAt   time.Time
}

// Stats contains storage statistics. SizeBytes is -1 when the backend
// cannot report usage cheaply.
type Stats struct {
	SizeBytes   int64
	BackendType string
}

// ListOptions selects a key range for native listing.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// ListEntry is one key in a native listing.
type ListEntry struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListResult is a page of a native listing.
type ListResult struct {
	Entries   []ListEntry
	Truncated bool
	Cursor    string
}

// Backend is the minimal physical storage contract.
// All implementations must be thread-safe.
type Backend interface {
	// Name returns the registered backend name ("s3", "redis", ...).
	Name() string
	Put(ctx context.Context, in *PutInput) (*PutInfo, error)
	Get(ctx context.Context, key string) (*Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Lister is implemented by backends with native prefix listing.
// Encoded key-value backends do not implement it; their canonical
// listing is served from the metadata registry.
type Lister interface {
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
}

// URLSigner is implemented by backends that can mint native
// time-limited access URLs for private objects.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
