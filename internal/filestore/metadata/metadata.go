// Package metadata provides the SQLite-backed file metadata registry.
//
// The registry is the single source of truth for which files logically
// exist; physical backends are non-authoritative write targets.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cardvault/filestore/internal/storage"
)

var (
	// ErrNotFound indicates no row exists for the requested key or hash.
	ErrNotFound = errors.New("file record not found")

	// ErrDuplicateKey indicates the storage key is already registered.
	ErrDuplicateKey = errors.New("storage key already registered")

	// ErrDuplicateHash indicates another record already claimed this
	// content hash on this backend. Insert-if-absent on the hash is the
	// arbiter of new-vs-duplicate, so a concurrent identical upload
	// surfaces here instead of racing.
	ErrDuplicateHash = errors.New("content hash already registered")

	// ErrClosed indicates the registry has been closed.
	ErrClosed = errors.New("registry closed")
)

// File is one registered file record.
type File struct {
	Key          string
	OriginalName string
	StoredName   string
	Size         int64
	StoredSize   int64
	ContentType  string
	Hash         string
	Metadata     map[string]string
	IsPublic     bool
	Backend      string
	UploadedBy   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time // zero = never expires
}

// Expired reports whether the record is past its expiry at now.
func (f *File) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
}

// Stats summarizes the registry contents.
type Stats struct {
	TotalFiles   int64
	TotalSize    int64
	StoredSize   int64
	PublicFiles  int64
	PrivateFiles int64
}

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
	KeyCacheSize   = "cache_size"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
    key           TEXT PRIMARY KEY,
    original_name TEXT NOT NULL,
    stored_name   TEXT NOT NULL,
    size          INTEGER NOT NULL,
    stored_size   INTEGER NOT NULL,
    type          TEXT NOT NULL,
    hash          TEXT NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    is_public     INTEGER NOT NULL DEFAULT 0,
    backend       TEXT NOT NULL,
    uploaded_by   TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    expires_at    INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_files_hash_backend ON files(hash, backend);
CREATE INDEX IF NOT EXISTS idx_files_expires ON files(expires_at) WHERE expires_at > 0;
CREATE INDEX IF NOT EXISTS idx_files_owner ON files(uploaded_by);
`

// Registry is a SQLite-backed metadata registry.
type Registry struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (creating if necessary) the registry database.
func Open(config map[string]string) (*Registry, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("registry", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("registry", KeyPath, "failed to create directory", err)
	}

	journalMode := storage.GetString(config, KeyJournalMode, "wal")
	busyTimeout := storage.GetString(config, KeyBusyTimeout, "5000")
	cacheSize := storage.GetString(config, KeyCacheSize, "-64000")

	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%s&_cache_size=%s&_foreign_keys=on",
		path, journalMode, busyTimeout, cacheSize)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("registry", KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("registry", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("metadata registry initialized", "path", path, "journal_mode", journalMode)
	return &Registry{db: db}, nil
}

// Insert registers a new file record.
// Returns ErrDuplicateKey if the key exists, ErrDuplicateHash if the
// (hash, backend) claim is already taken by a concurrent upload.
func (r *Registry) Insert(ctx context.Context, f *File) error {
	if r.closed.Load() {
		return ErrClosed
	}

	meta, err := encodeMetadata(f.Metadata)
	if err != nil {
		return fmt.Errorf("registry insert: %w", err)
	}

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO files (key, original_name, stored_name, size, stored_size, type, hash,
		                    metadata, is_public, backend, uploaded_by, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Key, f.OriginalName, f.StoredName, f.Size, f.StoredSize, f.ContentType, f.Hash,
		meta, boolToInt(f.IsPublic), f.Backend, f.UploadedBy,
		f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano(), timeToNano(f.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err, "files.hash") {
			return ErrDuplicateHash
		}
		if isUniqueViolation(err, "files.key") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("registry insert: %w", err)
	}
	return nil
}

// GetByKey retrieves a record by storage key.
func (r *Registry) GetByKey(ctx context.Context, key string) (*File, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	row := r.db.QueryRowContext(ctx, selectColumns+` FROM files WHERE key = ?`, key)
	return scanFile(row)
}

// FindByHash retrieves the record claiming this content hash on the
// given backend, or ErrNotFound.
func (r *Registry) FindByHash(ctx context.Context, hash, backendName string) (*File, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	row := r.db.QueryRowContext(ctx,
		selectColumns+` FROM files WHERE hash = ? AND backend = ?`, hash, backendName)
	return scanFile(row)
}

// DeleteByKey removes a record. Returns ErrNotFound if no row matched.
func (r *Registry) DeleteByKey(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("registry delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a keyset-paginated page of records ordered by key.
// cursor is the last key of the previous page ("" for the first).
func (r *Registry) List(ctx context.Context, prefix string, limit int, cursor string) ([]*File, string, bool, error) {
	if r.closed.Load() {
		return nil, "", false, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		selectColumns+` FROM files
		 WHERE key LIKE ? ESCAPE '\' AND key > ?
		 ORDER BY key
		 LIMIT ?`,
		escapeLike(prefix)+"%", cursor, limit+1,
	)
	if err != nil {
		return nil, "", false, fmt.Errorf("registry list: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, "", false, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, fmt.Errorf("registry list: %w", err)
	}

	truncated := len(files) > limit
	nextCursor := ""
	if truncated {
		files = files[:limit]
		nextCursor = files[len(files)-1].Key
	}
	return files, nextCursor, truncated, nil
}

// Stats summarizes live records. Rows past their expiry at now are
// excluded so totals agree with the read path, which treats expired
// records as nonexistent before the sweeper prunes them.
func (r *Registry) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	var s Stats
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(size), 0),
		        COALESCE(SUM(stored_size), 0),
		        COALESCE(SUM(is_public), 0)
		 FROM files
		 WHERE expires_at = 0 OR expires_at > ?`,
		now.UnixNano(),
	).Scan(&s.TotalFiles, &s.TotalSize, &s.StoredSize, &s.PublicFiles)
	if err != nil {
		return nil, fmt.Errorf("registry stats: %w", err)
	}
	s.PrivateFiles = s.TotalFiles - s.PublicFiles
	return &s, nil
}

// ExpiredFiles returns up to limit records past their expiry at now.
func (r *Registry) ExpiredFiles(ctx context.Context, now time.Time, limit int) ([]*File, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx,
		selectColumns+` FROM files
		 WHERE expires_at > 0 AND expires_at <= ?
		 ORDER BY expires_at
		 LIMIT ?`,
		now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("registry expired: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

const selectColumns = `SELECT key, original_name, stored_name, size, stored_size, type, hash,
       metadata, is_public, backend, uploaded_by, created_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var f File
	var meta string
	var isPublic int
	var createdAt, updatedAt, expiresAt int64

	err := row.Scan(&f.Key, &f.OriginalName, &f.StoredName, &f.Size, &f.StoredSize,
		&f.ContentType, &f.Hash, &meta, &isPublic, &f.Backend, &f.UploadedBy,
		&createdAt, &updatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry scan: %w", err)
	}

	f.IsPublic = isPublic != 0
	f.CreatedAt = time.Unix(0, createdAt).UTC()
	f.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if expiresAt > 0 {
		f.ExpiresAt = time.Unix(0, expiresAt).UTC()
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &f.Metadata); err != nil {
			return nil, fmt.Errorf("registry scan: metadata: %w", err)
		}
	}
	return &f, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
