package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/cardvault/filestore/internal/filestore/backend"
)

func TestSweepExpired(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	store.maxStorageDays = 1
	expired, err := store.Upload(ctx, testFile("old.txt", 100), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	store.maxStorageDays = 0
	kept, err := store.Upload(ctx, testFile("new.txt", 101), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	future := time.Now().Add(48 * time.Hour)
	store.now = func() time.Time { return future }
	mem.Clock = func() time.Time { return future }

	sweeper := NewSweeper(store, SweepOptions{})
	report, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Expired != 1 {
		t.Errorf("expired = %d, want 1", report.Expired)
	}
	if report.Failed != 0 {
		t.Errorf("failed = %d, want 0", report.Failed)
	}

	// The expired record is gone from the registry, the kept one remains.
	if _, err := store.registry.GetByKey(ctx, expired.Key); err == nil {
		t.Error("expired record still registered after sweep")
	}
	if _, err := store.Get(ctx, kept.Key); err != nil {
		t.Errorf("kept file unreadable after sweep: %v", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	registered, err := store.Upload(ctx, testFile("real.txt", 100), UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// A blob with no registry record, as left by a failed registration.
	if _, err := mem.Put(ctx, &backend.PutInput{
		Key:  "uploads/orphan.txt",
		Data: []byte("nobody claims me"),
	}); err != nil {
		t.Fatalf("plant orphan: %v", err)
	}

	sweeper := NewSweeper(store, SweepOptions{OrphanGrace: time.Nanosecond})
	report, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Orphans != 1 {
		t.Errorf("orphans = %d, want 1", report.Orphans)
	}

	if ok, _ := mem.Exists(ctx, "uploads/orphan.txt"); ok {
		t.Error("orphan blob survived sweep")
	}
	if _, err := store.Get(ctx, registered.Key); err != nil {
		t.Errorf("registered file reclaimed by mistake: %v", err)
	}
}

func TestSweepRunStopsOnCancel(t *testing.T) {
	store, _ := newTestStore(t)

	sweeper := NewSweeper(store, SweepOptions{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweepReportsMissingLister(t *testing.T) {
	store, _ := newTestStore(t)

	// Wrap the backend so it no longer exposes native listing.
	store.backend = noList{store.backend}

	sweeper := NewSweeper(store, SweepOptions{})
	report, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !report.OrphanScanSkip {
		t.Error("expected orphan scan to be skipped without native listing")
	}
}

// noList embeds the minimal Backend interface, so the concrete List
// method is not promoted and the sweeper sees no Lister.
type noList struct{ backend.Backend }
