package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cardvault/filestore/internal/filestore/backend"
	"github.com/cardvault/filestore/internal/filestore/metadata"
	"github.com/cardvault/filestore/internal/observability"
	"github.com/cardvault/filestore/internal/storage"
)

// Options configures a Store.
type Options struct {
	Backend  backend.Backend
	Registry *metadata.Registry
	Metrics  *observability.Metrics

	// MaxFileSize rejects larger uploads before hashing. 0 = unlimited.
	MaxFileSize int64

	// AllowedTypes is a MIME allow-list; entries may be exact
	// ("image/png") or category wildcards ("image/*"). Empty = allow all.
	AllowedTypes []string

	// MaxStorageDays sets upload expiry on backends with native TTL.
	// 0 = files never expire.
	MaxStorageDays int

	// SignedURLExpiry is the validity window for private URLs.
	SignedURLExpiry time.Duration

	// SigningSecret keys the HMAC fallback signer. Required for private
	// URLs when the backend has no native presigning.
	SigningSecret string

	// PublicBaseURL is the serving prefix for direct and signed URLs.
	PublicBaseURL string

	DefaultFolder string
}

// Store is the storage adapter: one physical backend plus the metadata
// registry, exposed as a file-level API. The registry is authoritative
// for existence; the backend holds bytes.
type Store struct {
	backend  backend.Backend
	registry *metadata.Registry
	metrics  *observability.Metrics
	signer   *Signer
	logger   *slog.Logger

	maxFileSize     int64
	allowedTypes    []string
	maxStorageDays  int
	signedURLExpiry time.Duration
	defaultFolder   string

	closed atomic.Bool
	now    func() time.Time
}

// New creates a Store over an already-open backend and registry.
func New(opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, storage.NewConfigError("filestore", "backend", "cannot be nil")
	}
	if opts.Registry == nil {
		return nil, storage.NewConfigError("filestore", "registry", "cannot be nil")
	}
	if opts.SignedURLExpiry <= 0 {
		opts.SignedURLExpiry = time.Hour
	}
	if opts.DefaultFolder == "" {
		opts.DefaultFolder = defaultFolder
	}

	return &Store{
		backend:         opts.Backend,
		registry:        opts.Registry,
		metrics:         opts.Metrics,
		signer:          NewSigner(opts.SigningSecret, opts.PublicBaseURL),
		logger:          slog.Default().With("component", "filestore"),
		maxFileSize:     opts.MaxFileSize,
		allowedTypes:    opts.AllowedTypes,
		maxStorageDays:  opts.MaxStorageDays,
		signedURLExpiry: opts.SignedURLExpiry,
		defaultFolder:   opts.DefaultFolder,
		now:             time.Now,
	}, nil
}

// SelectBackend resolves which backend to open. An explicit name wins;
// "auto" prefers the streaming store when a bucket is configured, then
// the key-value store when an address is, and otherwise fails fast so a
// misconfigured deployment never silently stores files somewhere else.
func SelectBackend(ctx context.Context, name string, s3Cfg, redisCfg, badgerCfg map[string]string) (backend.Backend, error) {
	if name != "" && name != "auto" {
		cfg := map[string]string{}
		switch name {
		case "s3":
			cfg = s3Cfg
		case "redis":
			cfg = redisCfg
		case "badger":
			cfg = badgerCfg
		}
		return backend.New(ctx, name, cfg)
	}

	if storage.GetString(s3Cfg, "bucket", "") != "" {
		return backend.New(ctx, "s3", s3Cfg)
	}
	if storage.GetString(redisCfg, "addr", "") != "" {
		return backend.New(ctx, "redis", redisCfg)
	}
	return nil, storage.NewConfigError("filestore", "storage.backend",
		"no backend configured: set storage.backend, storage.s3.bucket, or storage.redis.addr")
}

// Upload validates, hashes, stores, and registers a file.
// Identical content already on the active backend is not re-stored:
// the existing record is returned with IsDuplicate set.
func (s *Store) Upload(ctx context.Context, file *File, opts UploadOptions) (*UploadResult, error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "upload",
		attribute.String("backend", s.backend.Name()),
		attribute.Int("size", len(file.Data)))
	result, err := s.upload(ctx, file, opts)
	op.End(err)
	if err != nil {
		s.countError("upload", err)
	}
	return result, err
}

func (s *Store) upload(ctx context.Context, file *File, opts UploadOptions) (*UploadResult, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}
	if err := s.validate(file); err != nil {
		return nil, err
	}

	hash := HashBytes(file.Data)

	// Fast path: content already registered on this backend.
	if existing, err := s.registry.FindByHash(ctx, hash, s.backend.Name()); err == nil {
		if !existing.Expired(s.now()) {
			return s.duplicateResult(ctx, existing), nil
		}
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	folder := opts.Folder
	if folder == "" {
		folder = s.defaultFolder
	}
	key, err := buildKey(folder, opts.CustomName, file.Name)
	if err != nil {
		return nil, err
	}

	// Keys are immutable: a collision with a live record is a caller
	// error, rejected before any backend write so the existing blob is
	// never overwritten. A collision with an expired record the sweeper
	// has not pruned yet reclaims the stale row and blob first.
	if existing, err := s.registry.GetByKey(ctx, key); err == nil {
		if !existing.Expired(s.now()) {
			return nil, newValidationError("name", "storage key %q already exists", key)
		}
		if err := s.removeStale(ctx, existing); err != nil {
			return nil, fmt.Errorf("reclaim expired %s: %w", key, err)
		}
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("key lookup: %w", err)
	}

	info, err := s.backend.Put(ctx, &backend.PutInput{
		Key:         key,
		Data:        file.Data,
		ContentType: file.ContentType,
		Metadata:    opts.Metadata,
		TTL:         s.ttl(),
	})
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	if s.metrics != nil {
		s.metrics.BytesStored.WithLabelValues("in").Add(float64(len(file.Data)))
	}

	record := &metadata.File{
		Key:          key,
		OriginalName: file.Name,
		StoredName:   key[strings.LastIndexByte(key, '/')+1:],
		Size:         int64(len(file.Data)),
		StoredSize:   info.StoredSize,
		ContentType:  file.ContentType,
		Hash:         hash,
		Metadata:     opts.Metadata,
		IsPublic:     opts.IsPublic,
		Backend:      s.backend.Name(),
		UploadedBy:   opts.OwnerID,
		ExpiresAt:    info.ExpiresAt,
	}

	insertErr := s.registry.Insert(ctx, record)
	if errors.Is(insertErr, metadata.ErrDuplicateHash) {
		existing, ferr := s.registry.FindByHash(ctx, hash, s.backend.Name())
		if ferr != nil {
			s.compensate(ctx, key, hash)
			return nil, fmt.Errorf("register %s: %w", key, insertErr)
		}
		if existing.Expired(s.now()) {
			// The claim belongs to an expired record; reclaim it and
			// take the hash claim for the new upload.
			if rerr := s.removeStale(ctx, existing); rerr != nil {
				s.compensate(ctx, key, hash)
				return nil, fmt.Errorf("reclaim expired %s: %w", existing.Key, rerr)
			}
			insertErr = s.registry.Insert(ctx, record)
		} else {
			// Concurrent identical upload won the claim. The blob just
			// written is redundant; return the winner's record.
			s.compensate(ctx, key, hash)
			return s.duplicateResult(ctx, existing), nil
		}
	}
	if insertErr != nil {
		// The blob is written but unregistered; remove it so the
		// backend does not accumulate orphans. Except on a key
		// collision: the blob at this key now belongs to another
		// record, and deleting it would destroy that file.
		if !errors.Is(insertErr, metadata.ErrDuplicateKey) {
			s.compensate(ctx, key, hash)
		}
		return nil, fmt.Errorf("register %s: %w", key, insertErr)
	}

	url, err := s.urlFor(ctx, record)
	if err != nil {
		// Registration succeeded; report the file without a URL
		// rather than failing the upload.
		s.logger.WarnContext(ctx, "upload stored but url generation failed",
			"key", key, "error", err)
		url = ""
	}

	return &UploadResult{
		Key:         record.Key,
		URL:         url,
		Hash:        hash,
		Size:        record.Size,
		StoredSize:  record.StoredSize,
		ContentType: record.ContentType,
		IsPublic:    record.IsPublic,
		Compressed:  info.Compressed,
		Backend:     record.Backend,
		UploadedAt:  record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// UploadDataURL ingests a self-describing "data:<mime>;base64," payload.
// Only image types are accepted; these are inline assets (avatars, card
// scans) and are stored public.
func (s *Store) UploadDataURL(ctx context.Context, encoded string, opts UploadOptions) (*UploadResult, error) {
	parsed, err := parseDataURL(encoded)
	if err != nil {
		s.countError("upload_data_url", err)
		return nil, err
	}
	if !strings.HasPrefix(parsed.ContentType, "image/") {
		err := newValidationError("payload", "unsupported media type %q: only images may be uploaded inline", parsed.ContentType)
		s.countError("upload_data_url", err)
		return nil, err
	}

	opts.IsPublic = true
	return s.Upload(ctx, &File{
		Name:        "inline" + extensionForMime(parsed.ContentType),
		ContentType: parsed.ContentType,
		Data:        parsed.Data,
	}, opts)
}

// Get retrieves a file's bytes and metadata by key.
// Expired records are reported as not found even before the sweeper
// prunes them. Retrieved bytes are verified against the recorded hash.
func (s *Store) Get(ctx context.Context, key string) (*Content, error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "get",
		attribute.String("key", key))
	content, err := s.get(ctx, key)
	op.End(err)
	if err != nil {
		s.countError("get", err)
	}
	return content, err
}

func (s *Store) get(ctx context.Context, key string) (*Content, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}

	record, err := s.registry.GetByKey(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	if record.Expired(s.now()) {
		return nil, ErrNotFound
	}
	if record.Backend != s.backend.Name() {
		return nil, fmt.Errorf("%s stored on %q, active backend is %q: %w",
			key, record.Backend, s.backend.Name(), ErrWrongBackend)
	}

	obj, err := s.backend.Get(ctx, key)
	if errors.Is(err, backend.ErrNotFound) {
		// Registered but physically missing: likely TTL fired on the
		// backend before the sweeper pruned the record.
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	if got := HashBytes(obj.Data); got != record.Hash {
		s.logger.ErrorContext(ctx, "stored content fails hash verification",
			"key", key, "want", record.Hash, "got", got)
		return nil, fmt.Errorf("%s: hash mismatch: %w", key, ErrCorrupt)
	}
	if s.metrics != nil {
		s.metrics.BytesStored.WithLabelValues("out").Add(float64(len(obj.Data)))
	}

	return &Content{
		Key:          key,
		Data:         obj.Data,
		ContentType:  record.ContentType,
		OriginalName: record.OriginalName,
		Size:         record.Size,
		Metadata:     record.Metadata,
		IsPublic:     record.IsPublic,
		CreatedAt:    record.CreatedAt,
	}, nil
}

// Delete removes a file from the backend and the registry.
// Backend-side absence is tolerated; the registry row decides existence.
func (s *Store) Delete(ctx context.Context, key string) error {
	op, ctx := observability.StartOperation(ctx, s.metrics, "delete",
		attribute.String("key", key))
	err := s.delete(ctx, key)
	op.End(err)
	if err != nil {
		s.countError("delete", err)
	}
	return err
}

func (s *Store) delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}

	record, err := s.registry.GetByKey(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", key, err)
	}

	if record.Backend == s.backend.Name() {
		if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	} else {
		// The bytes live on an inactive backend; drop the record and
		// leave the blob for that backend's own lifecycle.
		s.logger.WarnContext(ctx, "deleting record for inactive backend, blob not removed",
			"key", key, "backend", record.Backend)
	}

	if err := s.registry.DeleteByKey(ctx, key); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("deregister %s: %w", key, err)
	}
	return nil
}

// DeleteMany deletes a batch of keys, continuing past per-key failures.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (*DeleteManyResult, error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "delete_many",
		attribute.Int("count", len(keys)))
	defer op.End(nil)

	result := &DeleteManyResult{Results: make([]DeleteResult, 0, len(keys))}
	for _, key := range keys {
		r := DeleteResult{Key: key}
		if err := s.delete(ctx, key); err != nil {
			r.Error = err.Error()
			result.Failed++
			s.countError("delete_many", err)
		} else {
			result.Successful++
		}
		result.Results = append(result.Results, r)
	}
	return result, nil
}

// List returns a page of registered files under a prefix, ordered by key.
func (s *Store) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "list",
		attribute.String("prefix", opts.Prefix))
	result, err := s.list(ctx, opts)
	op.End(err)
	if err != nil {
		s.countError("list", err)
	}
	return result, err
}

func (s *Store) list(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}

	files, cursor, truncated, err := s.registry.List(ctx, opts.Prefix, opts.Limit, opts.Cursor)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	now := s.now()
	entries := make([]ListEntry, 0, len(files))
	for _, f := range files {
		if f.Expired(now) {
			continue
		}
		entries = append(entries, ListEntry{
			Key:         f.Key,
			Size:        f.Size,
			StoredSize:  f.StoredSize,
			ContentType: f.ContentType,
			IsPublic:    f.IsPublic,
			Backend:     f.Backend,
			CreatedAt:   f.CreatedAt,
			ExpiresAt:   f.ExpiresAt,
		})
	}
	return &ListResult{Files: entries, Truncated: truncated, Cursor: cursor}, nil
}

// Stats reports registry totals plus the active backend's usage.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "stats")
	stats, err := s.stats(ctx)
	op.End(err)
	if err != nil {
		s.countError("stats", err)
	}
	return stats, err
}

func (s *Store) stats(ctx context.Context) (*StoreStats, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}

	rs, err := s.registry.Stats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	result := &StoreStats{
		TotalFiles:   rs.TotalFiles,
		TotalSize:    rs.TotalSize,
		StoredSize:   rs.StoredSize,
		PublicFiles:  rs.PublicFiles,
		PrivateFiles: rs.PrivateFiles,
		BackendType:  s.backend.Name(),
		BackendSize:  -1,
	}
	if bs, err := s.backend.Stats(ctx); err == nil {
		result.BackendType = bs.BackendType
		result.BackendSize = bs.SizeBytes
	}
	return result, nil
}

// FileURL returns an access URL for a key: a direct URL for public
// files, a time-limited signed URL for private ones. Prefers the
// backend's native presigning when available.
func (s *Store) FileURL(ctx context.Context, key string) (string, error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "file_url",
		attribute.String("key", key))
	url, err := s.fileURL(ctx, key)
	op.End(err)
	if err != nil {
		s.countError("file_url", err)
	}
	return url, err
}

func (s *Store) fileURL(ctx context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", backend.ErrClosed
	}

	record, err := s.registry.GetByKey(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}
	if record.Expired(s.now()) {
		return "", ErrNotFound
	}
	return s.urlFor(ctx, record)
}

// VerifyURL checks the signature and expiry of a signed-URL query for a
// key. Callers serving private files gate reads on this.
func (s *Store) VerifyURL(key, rawQuery string) error {
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ErrSignatureInvalid
	}
	return s.signer.Verify(key, query, s.now())
}

// Close releases the backend and registry.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	berr := s.backend.Close()
	rerr := s.registry.Close()
	return errors.Join(berr, rerr)
}

// Backend exposes the active backend, mainly for the sweeper.
func (s *Store) Backend() backend.Backend { return s.backend }

// Registry exposes the metadata registry, mainly for the sweeper.
func (s *Store) Registry() *metadata.Registry { return s.registry }

func (s *Store) urlFor(ctx context.Context, record *metadata.File) (string, error) {
	if record.IsPublic {
		return s.signer.PublicURL(record.Key), nil
	}

	if signer, ok := s.backend.(backend.URLSigner); ok && record.Backend == s.backend.Name() {
		url, err := signer.SignedURL(ctx, record.Key, s.signedURLExpiry)
		if err == nil {
			return url, nil
		}
		s.logger.WarnContext(ctx, "native presign failed, falling back to hmac signer",
			"key", record.Key, "error", err)
	}

	if len(s.signer.secret) == 0 {
		return "", fmt.Errorf("private urls need a signing secret or a presigning backend: %w",
			ErrNotSupported)
	}
	return s.signer.SignedURL(record.Key, s.signedURLExpiry, s.now()), nil
}

func (s *Store) duplicateResult(ctx context.Context, existing *metadata.File) *UploadResult {
	if s.metrics != nil {
		s.metrics.DedupHits.Inc()
	}
	s.logger.DebugContext(ctx, "duplicate content, reusing existing file",
		"key", existing.Key, "hash", existing.Hash)

	url, err := s.urlFor(ctx, existing)
	if err != nil {
		url = ""
	}
	return &UploadResult{
		Key:         existing.Key,
		URL:         url,
		Hash:        existing.Hash,
		Size:        existing.Size,
		StoredSize:  existing.StoredSize,
		ContentType: existing.ContentType,
		IsPublic:    existing.IsPublic,
		IsDuplicate: true,
		Backend:     existing.Backend,
		UploadedAt:  existing.CreatedAt,
		ExpiresAt:   existing.ExpiresAt,
	}
}

// removeStale deletes an expired record and its blob so a new upload
// can reuse the key or the content-hash claim. Blob deletion is
// skipped for records held by an inactive backend.
func (s *Store) removeStale(ctx context.Context, f *metadata.File) error {
	if f.Backend == s.backend.Name() {
		if err := s.backend.Delete(ctx, f.Key); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("delete blob: %w", err)
		}
	}
	if err := s.registry.DeleteByKey(ctx, f.Key); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// compensate removes a blob whose registration failed. Best effort: on
// failure the orphan is logged with enough detail for the sweeper's
// orphan scan to reclaim it later.
func (s *Store) compensate(ctx context.Context, key, hash string) {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, backend.ErrNotFound) {
		s.logger.ErrorContext(ctx, "orphaned blob: registration and cleanup both failed",
			"key", key, "hash", hash, "backend", s.backend.Name(), "error", err)
	}
}

func (s *Store) validate(file *File) error {
	if file == nil || len(file.Data) == 0 {
		return newValidationError("data", "file is empty")
	}
	if strings.TrimSpace(file.Name) == "" {
		return newValidationError("name", "file name is required")
	}
	if s.maxFileSize > 0 && int64(len(file.Data)) > s.maxFileSize {
		return newValidationError("size", "file size %d exceeds limit %d",
			len(file.Data), s.maxFileSize)
	}
	if !s.typeAllowed(file.ContentType) {
		return newValidationError("type", "content type %q is not allowed", file.ContentType)
	}
	return nil
}

func (s *Store) typeAllowed(contentType string) bool {
	if len(s.allowedTypes) == 0 {
		return true
	}
	for _, allowed := range s.allowedTypes {
		if allowed == contentType {
			return true
		}
		if category, ok := strings.CutSuffix(allowed, "/*"); ok &&
			strings.HasPrefix(contentType, category+"/") {
			return true
		}
	}
	return false
}

func (s *Store) ttl() time.Duration {
	if s.maxStorageDays <= 0 {
		return 0
	}
	return time.Duration(s.maxStorageDays) * 24 * time.Hour
}

func (s *Store) countError(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ErrorsTotal.WithLabelValues(operation, errorType(err)).Inc()
}

func errorType(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrNotFound) || errors.Is(err, backend.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, backend.ErrValueTooLarge):
		return "too_large"
	case errors.Is(err, ErrWrongBackend):
		return "wrong_backend"
	default:
		return "internal"
	}
}
