package filestore

import (
	"time"
)

// File is an upload payload as handed over by the caller.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadOptions controls where and how a file is stored.
type UploadOptions struct {
	// Folder prefixes the storage key. Defaults to "uploads".
	Folder string

	// CustomName overrides the generated file name.
	CustomName string

	// Metadata is attached verbatim; the subsystem does not interpret it.
	Metadata map[string]string

	// IsPublic fixes visibility at creation. Immutable afterwards;
	// changing visibility means re-uploading under a new key.
	IsPublic bool

	// OwnerID is the opaque caller identity from the auth layer.
	OwnerID string
}

// UploadResult describes a stored (or deduplicated) file.
type UploadResult struct {
	Key         string
	URL         string
	Hash        string
	Size        int64
	StoredSize  int64
	ContentType string
	IsPublic    bool
	IsDuplicate bool
	Compressed  bool
	Backend     string
	UploadedAt  time.Time
	ExpiresAt   time.Time
}

// Content is a retrieved file with its original bytes.
type Content struct {
	Key          string
	Data         []byte
	ContentType  string
	OriginalName string
	Size         int64
	Metadata     map[string]string
	IsPublic     bool
	CreatedAt    time.Time
}

// DeleteResult is the outcome for one key in DeleteMany.
type DeleteResult struct {
	Key   string
	Error string // empty on success
}

// DeleteManyResult aggregates per-key outcomes.
type DeleteManyResult struct {
	Successful int
	Failed     int
	Results    []DeleteResult
}

// ListEntry is one file in a listing.
type ListEntry struct {
	Key         string
	Size        int64
	StoredSize  int64
	ContentType string
	IsPublic    bool
	Backend     string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ListOptions selects a listing page.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// ListResult is a page of files.
type ListResult struct {
	Files     []ListEntry
	Truncated bool
	Cursor    string
}

// StoreStats summarizes the store.
type StoreStats struct {
	TotalFiles   int64
	TotalSize    int64
	StoredSize   int64
	PublicFiles  int64
	PrivateFiles int64
	BackendType  string
	BackendSize  int64
}
