package filestore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cardvault/filestore/internal/filestore/backend"
	"github.com/cardvault/filestore/internal/filestore/backend/memory"
	"github.com/cardvault/filestore/internal/filestore/metadata"
	"github.com/cardvault/filestore/internal/observability"
)

func newTestStore(t *testing.T) (*Store, *memory.Backend) {
	t.Helper()

	registry, err := metadata.Open(map[string]string{
		metadata.KeyPath: filepath.Join(t.TempDir(), "registry.db"),
	})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	mem := memory.New()
	store, err := New(Options{
		Backend:       mem,
		Registry:      registry,
		MaxFileSize:   1 << 20,
		AllowedTypes:  []string{"image/*", "text/plain", "application/pdf"},
		SigningSecret: "test-secret",
		PublicBaseURL: "http://localhost:8080/files",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mem
}

func testFile(name string, size int) *File {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &File{Name: name, ContentType: "text/plain", Data: data}
}

func TestUploadAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	file := testFile("notes.txt", 500)
	result, err := store.Upload(ctx, file, UploadOptions{
		Folder:   "docs",
		IsPublic: true,
		Metadata: map[string]string{"album": "vacation"},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if !strings.HasPrefix(result.Key, "docs/") {
		t.Errorf("key = %q, want docs/ prefix", result.Key)
	}
	if result.Size != 500 {
		t.Errorf("size = %d, want 500", result.Size)
	}
	if result.Hash != HashBytes(file.Data) {
		t.Errorf("hash mismatch")
	}
	if result.IsDuplicate {
		t.Error("first upload reported as duplicate")
	}
	if result.URL != "http://localhost:8080/files/"+result.Key {
		t.Errorf("url = %q", result.URL)
	}

	content, err := store.Get(ctx, result.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(content.Data) != string(file.Data) {
		t.Error("retrieved bytes differ from upload")
	}
	if content.OriginalName != "notes.txt" {
		t.Errorf("original name = %q", content.OriginalName)
	}
	if content.Metadata["album"] != "vacation" {
		t.Errorf("metadata = %v", content.Metadata)
	}
}

func TestUploadDuplicateContent(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	file := testFile("a.txt", 256)
	first, err := store.Upload(ctx, file, UploadOptions{IsPublic: true})
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	// Same bytes under a different name resolve to the same record.
	second, err := store.Upload(ctx, &File{
		Name:        "b.txt",
		ContentType: "text/plain",
		Data:        file.Data,
	}, UploadOptions{})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if !second.IsDuplicate {
		t.Error("second upload not reported as duplicate")
	}
	if second.Key != first.Key {
		t.Errorf("duplicate key = %q, want %q", second.Key, first.Key)
	}
	if mem.Len() != 1 {
		t.Errorf("backend holds %d values, want 1", mem.Len())
	}
}

func TestUploadValidation(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		file *File
	}{
		{"empty data", &File{Name: "x.txt", ContentType: "text/plain"}},
		{"empty name", &File{Name: "  ", ContentType: "text/plain", Data: []byte("x")}},
		{"oversize", testFile("big.txt", (1<<20)+1)},
		{"disallowed type", &File{Name: "x.exe", ContentType: "application/octet-stream", Data: []byte("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upload(ctx, tt.file, UploadOptions{})
			if !IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}

	// Rejections happen before any write.
	if mem.Len() != 0 {
		t.Errorf("backend holds %d values after rejections, want 0", mem.Len())
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFiles != 0 {
		t.Errorf("registry holds %d records after rejections, want 0", stats.TotalFiles)
	}
}

func TestUploadWildcardTypes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, &File{
		Name:        "photo.webp",
		ContentType: "image/webp",
		Data:        []byte("not really an image"),
	}, UploadOptions{})
	if err != nil {
		t.Fatalf("image/* should admit image/webp: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "uploads/nope.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetCorruptRecord(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	result, err := store.Upload(ctx, testFile("c.txt", 300), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	raw, ok := mem.RawValue(result.Key)
	if !ok {
		t.Fatal("stored value missing")
	}
	// Flip a byte mid-record so decoding fails.
	mangled := append([]byte(nil), raw...)
	mangled[len(mangled)/2] ^= 0xff
	mem.CorruptValue(result.Key, mangled)

	_, err = store.Get(ctx, result.Key)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("corruption must not read as not-found")
	}
}

func TestGetHashMismatch(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	result, err := store.Upload(ctx, testFile("d.txt", 64), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Replace with a validly-encoded record holding different bytes.
	value, _, err := backend.EncodeRecord(&backend.PutInput{
		Key:  result.Key,
		Data: []byte("tampered content"),
	}, false, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mem.CorruptValue(result.Key, value)

	_, err = store.Get(ctx, result.Key)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt on hash mismatch", err)
	}
}

func TestExpiredRecordReadsAsNotFound(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	store.maxStorageDays = 1
	result, err := store.Upload(ctx, testFile("e.txt", 100), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.ExpiresAt.IsZero() {
		t.Fatal("expected expiry to be set")
	}

	// Jump past expiry on both clocks.
	future := time.Now().Add(48 * time.Hour)
	store.now = func() time.Time { return future }
	mem.Clock = func() time.Time { return future }

	if _, err := store.Get(ctx, result.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after expiry", err)
	}

	list, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Files) != 0 {
		t.Errorf("expired file still listed: %v", list.Files)
	}
}

func TestReuploadAfterExpiryReclaimsHashClaim(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	store.maxStorageDays = 1
	file := testFile("e.txt", 100)
	first, err := store.Upload(ctx, file, UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// The record expires but the sweeper has not pruned it yet.
	future := time.Now().Add(48 * time.Hour)
	store.now = func() time.Time { return future }
	mem.Clock = func() time.Time { return future }

	second, err := store.Upload(ctx, file, UploadOptions{})
	if err != nil {
		t.Fatalf("re-upload of expired content: %v", err)
	}
	if second.IsDuplicate {
		t.Error("expired record reported as duplicate")
	}
	if second.Key == first.Key {
		t.Error("stale key reused for new record")
	}

	got, err := store.Get(ctx, second.Key)
	if err != nil {
		t.Fatalf("get after re-upload: %v", err)
	}
	if string(got.Data) != string(file.Data) {
		t.Error("retrieved bytes differ from re-upload")
	}

	// The stale record and its blob are gone.
	if _, err := store.Get(ctx, first.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for stale key", err)
	}
	if mem.Len() != 1 {
		t.Errorf("backend holds %d values, want 1", mem.Len())
	}
}

func TestStoreRecordsIntoMetrics(t *testing.T) {
	registry, err := metadata.Open(map[string]string{
		metadata.KeyPath: filepath.Join(t.TempDir(), "registry.db"),
	})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	metrics := observability.NewMetrics()
	store, err := New(Options{
		Backend:       memory.New(),
		Registry:      registry,
		Metrics:       metrics,
		MaxFileSize:   1 << 20,
		AllowedTypes:  []string{"text/plain"},
		PublicBaseURL: "http://localhost:8080/files",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.Upload(context.Background(), testFile("m.txt", 300), UploadOptions{}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Samples land in the registry the metrics endpoint serves.
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := map[string]bool{}
	for _, mf := range families {
		seen[mf.GetName()] = true
	}
	for _, name := range []string{"filestore_operation_total", "filestore_bytes_total"} {
		if !seen[name] {
			t.Errorf("no samples for %s after upload", name)
		}
	}
}

func TestCustomNameCollisionRejectedBeforeWrite(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	original := testFile("a.txt", 200)
	first, err := store.Upload(ctx, original, UploadOptions{CustomName: "pinned.txt"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	other := testFile("b.txt", 200)
	for i := range other.Data {
		other.Data[i] = byte((i * 7) % 251)
	}
	_, err = store.Upload(ctx, other, UploadOptions{CustomName: "pinned.txt"})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error on key collision", err)
	}

	// The existing file is untouched.
	got, err := store.Get(ctx, first.Key)
	if err != nil {
		t.Fatalf("get after rejected collision: %v", err)
	}
	if string(got.Data) != string(original.Data) {
		t.Error("existing blob overwritten by rejected upload")
	}
	if mem.Len() != 1 {
		t.Errorf("backend holds %d values, want 1", mem.Len())
	}
}

func TestDelete(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	result, err := store.Upload(ctx, testFile("f.txt", 50), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := store.Delete(ctx, result.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("backend holds %d values after delete", mem.Len())
	}
	if _, err := store.Get(ctx, result.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, result.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteMany(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		result, err := store.Upload(ctx, testFile("g.txt", 100+i), UploadOptions{})
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		keys = append(keys, result.Key)
	}
	keys = append(keys, "uploads/missing.txt")

	result, err := store.DeleteMany(ctx, keys)
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if result.Successful != 3 || result.Failed != 1 {
		t.Errorf("successful = %d, failed = %d, want 3/1", result.Successful, result.Failed)
	}
	if result.Results[3].Error == "" {
		t.Error("missing key should carry an error")
	}
}

func TestListPagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Upload(ctx, testFile("h.txt", 10+i), UploadOptions{Folder: "cards"}); err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
	}

	page1, err := store.List(ctx, ListOptions{Prefix: "cards/", Limit: 3})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page1.Files) != 3 || !page1.Truncated {
		t.Fatalf("page 1: %d files, truncated=%v", len(page1.Files), page1.Truncated)
	}

	page2, err := store.List(ctx, ListOptions{Prefix: "cards/", Limit: 3, Cursor: page1.Cursor})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2.Files) != 2 || page2.Truncated {
		t.Fatalf("page 2: %d files, truncated=%v", len(page2.Files), page2.Truncated)
	}
}

func TestStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Upload(ctx, testFile("i.txt", 2000), UploadOptions{IsPublic: true}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := store.Upload(ctx, testFile("j.txt", 3000), UploadOptions{}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("total files = %d, want 2", stats.TotalFiles)
	}
	if stats.TotalSize != 5000 {
		t.Errorf("total size = %d, want 5000", stats.TotalSize)
	}
	if stats.PublicFiles != 1 || stats.PrivateFiles != 1 {
		t.Errorf("public/private = %d/%d, want 1/1", stats.PublicFiles, stats.PrivateFiles)
	}
	if stats.BackendType != "memory" {
		t.Errorf("backend type = %q", stats.BackendType)
	}
}

func TestUploadDataURL(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// 1x1 PNG-ish payload; content is not inspected, only the header.
	encoded := "data:image/png;base64,aGVsbG8gcG5n"
	result, err := store.UploadDataURL(ctx, encoded, UploadOptions{Folder: "avatars"})
	if err != nil {
		t.Fatalf("upload data url: %v", err)
	}
	if !result.IsPublic {
		t.Error("inline image should be public")
	}
	if !strings.HasSuffix(result.Key, ".png") {
		t.Errorf("key = %q, want .png suffix", result.Key)
	}
	if result.ContentType != "image/png" {
		t.Errorf("content type = %q", result.ContentType)
	}
}

func TestUploadDataURLRejectsNonImage(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.UploadDataURL(context.Background(),
		"data:application/pdf;base64,aGVsbG8=", UploadOptions{})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestFileURL(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	public, err := store.Upload(ctx, testFile("pub.txt", 30), UploadOptions{IsPublic: true})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	private, err := store.Upload(ctx, testFile("priv.txt", 31), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	pubURL, err := store.FileURL(ctx, public.Key)
	if err != nil {
		t.Fatalf("public url: %v", err)
	}
	if strings.Contains(pubURL, "sig=") {
		t.Errorf("public url should not be signed: %q", pubURL)
	}

	privURL, err := store.FileURL(ctx, private.Key)
	if err != nil {
		t.Fatalf("private url: %v", err)
	}
	if !strings.Contains(privURL, "expires=") || !strings.Contains(privURL, "sig=") {
		t.Errorf("private url missing signature params: %q", privURL)
	}

	// The minted query must verify against the same key.
	_, rawQuery, _ := strings.Cut(privURL, "?")
	if err := store.VerifyURL(private.Key, rawQuery); err != nil {
		t.Errorf("verify minted url: %v", err)
	}
	if err := store.VerifyURL(public.Key, rawQuery); err == nil {
		t.Error("signature for one key verified for another")
	}
}

func TestFileURLWithoutSecret(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.signer = NewSigner("", "http://localhost:8080/files")

	private, err := store.Upload(ctx, testFile("secret.txt", 20), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// No secret and no presigning backend: private URLs are unavailable.
	if _, err := store.FileURL(ctx, private.Key); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}

	// Public files are unaffected.
	public, err := store.Upload(ctx, testFile("open.txt", 21), UploadOptions{IsPublic: true})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := store.FileURL(ctx, public.Key); err != nil {
		t.Errorf("public url: %v", err)
	}
}

func TestWrongBackend(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	result, err := store.Upload(ctx, testFile("k.txt", 40), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Simulate a record written under a different backend configuration.
	if err := store.registry.DeleteByKey(ctx, result.Key); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if err := store.registry.Insert(ctx, &metadata.File{
		Key:          result.Key,
		OriginalName: "k.txt",
		StoredName:   "k.txt",
		Size:         40,
		StoredSize:   40,
		ContentType:  "text/plain",
		Hash:         result.Hash,
		Backend:      "s3",
	}); err != nil {
		t.Fatalf("insert record: %v", err)
	}

	_, err = store.Get(ctx, result.Key)
	if !errors.Is(err, ErrWrongBackend) {
		t.Fatalf("err = %v, want ErrWrongBackend", err)
	}
}

func TestSelectBackendAuto(t *testing.T) {
	ctx := context.Background()

	// Nothing configured: fail fast, never a silent default.
	if _, err := SelectBackend(ctx, "auto", nil, nil, nil); err == nil {
		t.Fatal("expected error with no backend configured")
	}

	b, err := SelectBackend(ctx, "memory", nil, nil, nil)
	if err != nil {
		t.Fatalf("explicit memory backend: %v", err)
	}
	defer b.Close()
	if b.Name() != "memory" {
		t.Errorf("name = %q", b.Name())
	}
}
