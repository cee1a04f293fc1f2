package gc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sapflux-io/pipeline/internal/objectstore"
)

type fakeReferenceStore struct {
	rawHashes  []string
	outputIDs  []string
}

func (s *fakeReferenceStore) ReferencedBlobKeys(ctx context.Context) ([]string, []string, error) {
	return s.rawHashes, s.outputIDs, nil
}

func setup(t *testing.T) (*objectstore.LocalStore, *fakeReferenceStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := objectstore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store, &fakeReferenceStore{}
}

func TestReconcile_DryRunReportsOrphansWithoutDeleting(t *testing.T) {
	blobs, refs := setup(t)
	ctx := context.Background()

	mustPut(t, blobs, "raw-files/keep", []byte("keep"))
	mustPut(t, blobs, "raw-files/orphan", []byte("orphan"))
	refs.rawHashes = []string{"keep"}

	c := &Collector{blobs: blobs, store: refs, log: slog.Default()}
	report, err := c.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].Key != "raw-files/orphan" {
		t.Fatalf("expected exactly raw-files/orphan flagged, got %+v", report.Orphans)
	}
	if len(report.Deleted) != 0 {
		t.Fatalf("dry run must not delete, got %v", report.Deleted)
	}
	if _, err := blobs.Get(ctx, "raw-files/orphan"); err != nil {
		t.Fatalf("dry run deleted the orphan: %v", err)
	}
}

func TestReconcile_ConfirmDeletesOrphansOnly(t *testing.T) {
	blobs, refs := setup(t)
	ctx := context.Background()

	mustPut(t, blobs, "outputs/keep.parquet", []byte("keep"))
	mustPut(t, blobs, "repro-cartridges/keep.zip", []byte("keep"))
	mustPut(t, blobs, "outputs/orphan.parquet", []byte("orphan"))
	refs.outputIDs = []string{"keep"}

	c := &Collector{blobs: blobs, store: refs, log: slog.Default()}
	report, err := c.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "outputs/orphan.parquet" {
		t.Fatalf("expected exactly outputs/orphan.parquet deleted, got %v", report.Deleted)
	}
	if _, err := blobs.Get(ctx, "outputs/keep.parquet"); err != nil {
		t.Fatalf("referenced output was deleted: %v", err)
	}
	if _, err := blobs.Get(ctx, "outputs/orphan.parquet"); err == nil {
		t.Fatalf("orphan output was not deleted")
	}
}

func TestReconcile_AgeFloorSkipsRecentOrphans(t *testing.T) {
	blobs, refs := setup(t)
	ctx := context.Background()
	mustPut(t, blobs, "raw-files/fresh-orphan", []byte("fresh"))

	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := &Collector{blobs: blobs, store: refs, log: slog.Default(), AgeFloor: 24 * time.Hour, Now: func() time.Time { return fixed }}
	report, err := c.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Deleted) != 0 {
		t.Fatalf("a just-written orphan within the age floor must not be deleted, got %v", report.Deleted)
	}
	if len(report.Orphans) != 1 {
		t.Fatalf("the orphan should still be reported, got %+v", report.Orphans)
	}
}

func mustPut(t *testing.T, s *objectstore.LocalStore, key string, content []byte) {
	t.Helper()
	if err := s.Put(context.Background(), key, content); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}
