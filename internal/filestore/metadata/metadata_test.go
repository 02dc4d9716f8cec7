package metadata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(map[string]string{
		KeyPath: filepath.Join(t.TempDir(), "registry.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testFile(key, hash string) *File {
	return &File{
		Key:          key,
		OriginalName: "notes.txt",
		StoredName:   filepath.Base(key),
		Size:         500,
		StoredSize:   500,
		ContentType:  "text/plain",
		Hash:         hash,
		Backend:      "memory",
		UploadedBy:   "u-1",
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	f := testFile("uploads/a.txt", "hash-a")
	f.Metadata = map[string]string{"origin": "test"}
	f.IsPublic = true

	if err := r.Insert(ctx, f); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetByKey(ctx, "uploads/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != "hash-a" || !got.IsPublic || got.ContentType != "text/plain" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Metadata["origin"] != "test" {
		t.Fatalf("metadata lost: %v", got.Metadata)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
	if !got.ExpiresAt.IsZero() {
		t.Fatal("expires_at should be zero when unset")
	}
}

func TestGetByKeyNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.GetByKey(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDuplicateKey(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Insert(ctx, testFile("uploads/a.txt", "hash-a")); err != nil {
		t.Fatal(err)
	}
	err := r.Insert(ctx, testFile("uploads/a.txt", "hash-b"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
}

func TestDuplicateHashClaim(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Insert(ctx, testFile("uploads/a.txt", "hash-a")); err != nil {
		t.Fatal(err)
	}

	// Same hash, same backend: the claim is taken.
	err := r.Insert(ctx, testFile("uploads/b.txt", "hash-a"))
	if !errors.Is(err, ErrDuplicateHash) {
		t.Fatalf("got %v, want ErrDuplicateHash", err)
	}

	// Same hash on a different backend is a separate blob.
	other := testFile("uploads/c.txt", "hash-a")
	other.Backend = "s3"
	if err := r.Insert(ctx, other); err != nil {
		t.Fatal(err)
	}
}

func TestFindByHash(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Insert(ctx, testFile("uploads/a.txt", "hash-a")); err != nil {
		t.Fatal(err)
	}

	got, err := r.FindByHash(ctx, "hash-a", "memory")
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != "uploads/a.txt" {
		t.Fatalf("got key %q", got.Key)
	}

	_, err = r.FindByHash(ctx, "hash-a", "s3")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound for other backend", err)
	}
}

func TestDeleteByKey(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Insert(ctx, testFile("uploads/a.txt", "hash-a")); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteByKey(ctx, "uploads/a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteByKey(ctx, "uploads/a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound on second delete", err)
	}
}

func TestListPagination(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f := testFile(fmt.Sprintf("uploads/f%02d.txt", i), fmt.Sprintf("hash-%d", i))
		if err := r.Insert(ctx, f); err != nil {
			t.Fatal(err)
		}
	}
	other := testFile("avatars/x.png", "hash-x")
	if err := r.Insert(ctx, other); err != nil {
		t.Fatal(err)
	}

	page1, cursor, truncated, err := r.List(ctx, "uploads/", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 3 || !truncated || cursor == "" {
		t.Fatalf("page1: %d files, truncated=%v, cursor=%q", len(page1), truncated, cursor)
	}

	page2, _, truncated, err := r.List(ctx, "uploads/", 3, cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || truncated {
		t.Fatalf("page2: %d files, truncated=%v", len(page2), truncated)
	}
	if page2[0].Key <= page1[len(page1)-1].Key {
		t.Fatal("pages out of order")
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	now := time.Now().UTC()

	pub := testFile("uploads/a.txt", "hash-a")
	pub.IsPublic = true
	pub.Size = 100
	priv := testFile("uploads/b.txt", "hash-b")
	priv.Size = 200
	expired := testFile("uploads/c.txt", "hash-c")
	expired.Size = 400
	expired.ExpiresAt = now.Add(-time.Hour)

	for _, f := range []*File{pub, priv, expired} {
		if err := r.Insert(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	s, err := r.Stats(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	// The expired row is invisible to reads and must not be counted.
	if s.TotalFiles != 2 || s.TotalSize != 300 || s.PublicFiles != 1 || s.PrivateFiles != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestExpiredFiles(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := testFile("uploads/old.txt", "hash-old")
	expired.ExpiresAt = now.Add(-time.Hour)
	fresh := testFile("uploads/new.txt", "hash-new")
	fresh.ExpiresAt = now.Add(time.Hour)
	forever := testFile("uploads/keep.txt", "hash-keep")

	for _, f := range []*File{expired, fresh, forever} {
		if err := r.Insert(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.ExpiredFiles(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "uploads/old.txt" {
		t.Fatalf("unexpected expired set: %+v", got)
	}

	if !got[0].Expired(now) {
		t.Fatal("Expired() should be true for past expiry")
	}
	if forever.Expired(now) {
		t.Fatal("zero expiry must never expire")
	}
}
