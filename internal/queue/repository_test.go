package queue

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaldes/citasync/internal/model"
	"github.com/avaldes/citasync/internal/store"
)

var testLogger = slog.Default()

func newTestRepo() *Repository {
	return NewRepository(store.NewMemory(), testLogger)
}

func samplePayload(patient string) model.Appointment {
	return model.Appointment{
		Patient: patient,
		Doctor:  "Dr. Ruiz",
		Date:    "2026-09-10",
		Time:    "14:30",
		Phone:   "555-0101",
		Email:   "ana@example.com",
		Status:  model.StatusScheduled,
	}
}

// brokenKV fails every call, to exercise the degrade-to-empty boundary.
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("storage unavailable")
}
func (brokenKV) Set(context.Context, string, []byte) error {
	return errors.New("storage unavailable")
}
func (brokenKV) Remove(context.Context, ...string) error {
	return errors.New("storage unavailable")
}

// ---------------------------------------------------------------------------
// Save / ListAll
// ---------------------------------------------------------------------------

func TestSave_AppendsPendingRecord(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	rec, err := repo.Save(ctx, samplePayload("Ana"), model.OpCreate)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.SyncStatus != model.SyncPending {
		t.Errorf("SyncStatus = %q, want %q", rec.SyncStatus, model.SyncPending)
	}
	if rec.LocalID == "" {
		t.Error("LocalID not set")
	}

	all := repo.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("ListAll len = %d, want 1", len(all))
	}
	if all[0].LocalID != rec.LocalID {
		t.Errorf("stored LocalID = %q, want %q", all[0].LocalID, rec.LocalID)
	}
	if all[0].Patient != "Ana" {
		t.Errorf("stored patient = %q, want %q", all[0].Patient, "Ana")
	}
}

func TestSave_RejectsUnknownOperation(t *testing.T) {
	repo := newTestRepo()
	if _, err := repo.Save(context.Background(), samplePayload("Ana"), "upsert"); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestListAll_PreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	var ids []string
	for _, name := range []string{"Ana", "Berta", "Carlos"} {
		rec, err := repo.Save(ctx, samplePayload(name), model.OpCreate)
		if err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
		ids = append(ids, rec.LocalID)
	}

	all := repo.ListAll(ctx)
	if len(all) != 3 {
		t.Fatalf("ListAll len = %d, want 3", len(all))
	}
	for i, rec := range all {
		if rec.LocalID != ids[i] {
			t.Errorf("record %d = %q, want %q", i, rec.LocalID, ids[i])
		}
	}
}

func TestListAll_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	repo := NewRepository(kv, testLogger)
	if _, err := repo.Save(ctx, samplePayload("Ana"), model.OpCreate); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all := repo.ListAll(ctx)
	if len(all) != 1 || all[0].Patient != "Ana" {
		t.Fatalf("round trip through SQLite failed: %+v", all)
	}
}

// ---------------------------------------------------------------------------
// Update / Delete — missing IDs are no-ops, not errors
// ---------------------------------------------------------------------------

func TestUpdate_MissingIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()
	if _, err := repo.Save(ctx, samplePayload("Ana"), model.OpCreate); err != nil {
		t.Fatalf("Save: %v", err)
	}

	err := repo.Update(ctx, "local_0_missing", func(rec *model.Record) {
		rec.Patient = "changed"
	})
	if err != nil {
		t.Fatalf("Update of missing ID: %v", err)
	}
	if got := repo.ListAll(ctx)[0].Patient; got != "Ana" {
		t.Errorf("patient = %q, want unchanged %q", got, "Ana")
	}
}

func TestDelete_RemovesOnlyMatchingRecord(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	first, _ := repo.Save(ctx, samplePayload("Ana"), model.OpCreate)
	second, _ := repo.Save(ctx, samplePayload("Berta"), model.OpCreate)

	if err := repo.Delete(ctx, first.LocalID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "local_0_missing"); err != nil {
		t.Fatalf("Delete of missing ID: %v", err)
	}

	all := repo.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("ListAll len = %d, want 1", len(all))
	}
	if all[0].LocalID != second.LocalID {
		t.Errorf("surviving record = %q, want %q", all[0].LocalID, second.LocalID)
	}
}

// ---------------------------------------------------------------------------
// Status marks
// ---------------------------------------------------------------------------

func TestMarks_TransitionAndClearError(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()
	rec, _ := repo.Save(ctx, samplePayload("Ana"), model.OpCreate)

	if err := repo.MarkSyncing(ctx, rec.LocalID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if got := repo.ListAll(ctx)[0].SyncStatus; got != model.SyncInFlight {
		t.Errorf("status = %q, want %q", got, model.SyncInFlight)
	}

	if err := repo.MarkError(ctx, rec.LocalID, "boom"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	errored := repo.ListErrored(ctx)
	if len(errored) != 1 || errored[0].Error != "boom" {
		t.Fatalf("ListErrored = %+v, want one record with error %q", errored, "boom")
	}

	if err := repo.MarkSynced(ctx, rec.LocalID, "srv-42"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	got := repo.ListAll(ctx)[0]
	if got.SyncStatus != model.SyncDone {
		t.Errorf("status = %q, want %q", got.SyncStatus, model.SyncDone)
	}
	if got.ServerID != "srv-42" {
		t.Errorf("ServerID = %q, want %q", got.ServerID, "srv-42")
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want cleared", got.Error)
	}
}

// ---------------------------------------------------------------------------
// ClearSynced / ClearAll
// ---------------------------------------------------------------------------

func TestClearSynced_KeepsUnsynced(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	synced, _ := repo.Save(ctx, samplePayload("Ana"), model.OpCreate)
	pending, _ := repo.Save(ctx, samplePayload("Berta"), model.OpCreate)
	_ = repo.MarkSynced(ctx, synced.LocalID, "srv-1")

	if err := repo.ClearSynced(ctx); err != nil {
		t.Fatalf("ClearSynced: %v", err)
	}

	all := repo.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("ListAll len = %d, want 1", len(all))
	}
	if all[0].LocalID != pending.LocalID {
		t.Errorf("surviving record = %q, want %q", all[0].LocalID, pending.LocalID)
	}
}

func TestClearAll_WipesQueueAndMarkers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	_, _ = repo.Save(ctx, samplePayload("Ana"), model.OpCreate)
	if err := repo.RecordSyncTime(ctx); err != nil {
		t.Fatalf("RecordSyncTime: %v", err)
	}

	if err := repo.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if got := repo.ListAll(ctx); len(got) != 0 {
		t.Errorf("ListAll after ClearAll = %d records, want 0", len(got))
	}
	if _, ok := repo.LastSyncTime(ctx); ok {
		t.Error("LastSyncTime survived ClearAll")
	}
}

// ---------------------------------------------------------------------------
// Stats — total always equals the sum of the per-status counts
// ---------------------------------------------------------------------------

func TestStats_ConsistentAcrossMutations(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	a, _ := repo.Save(ctx, samplePayload("Ana"), model.OpCreate)
	b, _ := repo.Save(ctx, samplePayload("Berta"), model.OpCreate)
	c, _ := repo.Save(ctx, samplePayload("Carlos"), model.OpUpdate)
	_, _ = repo.Save(ctx, samplePayload("Diana"), model.OpDelete)

	_ = repo.MarkSyncing(ctx, a.LocalID)
	_ = repo.MarkSynced(ctx, b.LocalID, "srv-1")
	_ = repo.MarkError(ctx, c.LocalID, "boom")

	stats := repo.Stats(ctx)
	if stats.Total != len(repo.ListAll(ctx)) {
		t.Errorf("Total = %d, want %d", stats.Total, len(repo.ListAll(ctx)))
	}
	if sum := stats.Pending + stats.Syncing + stats.Synced + stats.Error; sum != stats.Total {
		t.Errorf("status counts sum to %d, want Total %d", sum, stats.Total)
	}
	want := model.Stats{Total: 4, Pending: 1, Syncing: 1, Synced: 1, Error: 1}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
}

// ---------------------------------------------------------------------------
// Last sync marker
// ---------------------------------------------------------------------------

func TestLastSyncTime_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	if _, ok := repo.LastSyncTime(ctx); ok {
		t.Fatal("LastSyncTime set before any sync")
	}

	before := time.Now().Add(-time.Second)
	if err := repo.RecordSyncTime(ctx); err != nil {
		t.Fatalf("RecordSyncTime: %v", err)
	}

	got, ok := repo.LastSyncTime(ctx)
	if !ok {
		t.Fatal("LastSyncTime not set after RecordSyncTime")
	}
	if got.Before(before) || got.After(time.Now().Add(time.Second)) {
		t.Errorf("LastSyncTime = %v, outside expected window", got)
	}
}

// ---------------------------------------------------------------------------
// Degraded storage — reads go empty, never panic or propagate
// ---------------------------------------------------------------------------

func TestReads_DegradeOnBrokenStorage(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(brokenKV{}, testLogger)

	if got := repo.ListAll(ctx); len(got) != 0 {
		t.Errorf("ListAll on broken storage = %d records, want 0", len(got))
	}
	if got := repo.Stats(ctx); got.Total != 0 {
		t.Errorf("Stats.Total on broken storage = %d, want 0", got.Total)
	}
	if _, ok := repo.LastSyncTime(ctx); ok {
		t.Error("LastSyncTime reported a value on broken storage")
	}
	// Mutations must surface their errors.
	if _, err := repo.Save(ctx, samplePayload("Ana"), model.OpCreate); err == nil {
		t.Error("Save on broken storage should fail")
	}
}

func TestListAll_CorruptBlobDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	if err := kv.Set(ctx, keyQueue, []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	repo := NewRepository(kv, testLogger)
	if got := repo.ListAll(ctx); len(got) != 0 {
		t.Errorf("ListAll with corrupt blob = %d records, want 0", len(got))
	}
}
