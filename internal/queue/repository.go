// Package queue implements the repository that owns the offline appointment
// drafts. All reads and writes of the queued collection funnel through a
// [*Repository]; the collection is stored as a single JSON blob so that the
// read-modify-write cycle stays consistent with a single writer.
//
// Read failures (missing store, corrupt blob) degrade to an empty collection
// and are logged rather than surfaced — the local cache is not authoritative,
// so availability wins over strictness here.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/avaldes/citasync/internal/model"
	"github.com/avaldes/citasync/internal/store"
)

// Storage keys. keySyncState is reserved for future orchestrator state and
// only touched by ClearAll.
const (
	keyQueue     = "offline_appointments"
	keySyncState = "sync_state"
	keyLastSync  = "last_sync"
)

// Repository is the sole owner of the queued record collection.
// Create one with [NewRepository].
type Repository struct {
	kv  store.KV
	log *slog.Logger
}

// NewRepository creates a Repository backed by the given store.
func NewRepository(kv store.KV, logger *slog.Logger) *Repository {
	return &Repository{kv: kv, log: logger}
}

// ListAll returns every queued record in insertion order. Store or decode
// failures degrade to an empty slice.
func (r *Repository) ListAll(ctx context.Context) []model.Record {
	blob, err := r.kv.Get(ctx, keyQueue)
	if err != nil {
		r.log.Error("reading offline queue", "error", err)
		return nil
	}
	if blob == nil {
		return nil
	}

	var records []model.Record
	if err := json.Unmarshal(blob, &records); err != nil {
		r.log.Error("decoding offline queue, treating as empty", "error", err)
		return nil
	}
	return records
}

// persist writes the full collection back as one blob.
func (r *Repository) persist(ctx context.Context, records []model.Record) error {
	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding offline queue: %w", err)
	}
	if err := r.kv.Set(ctx, keyQueue, blob); err != nil {
		return fmt.Errorf("persisting offline queue: %w", err)
	}
	return nil
}

// Save appends a fresh pending record for the given payload and operation
// and returns it.
func (r *Repository) Save(ctx context.Context, payload model.Appointment, op model.Operation) (model.Record, error) {
	if !op.Valid() {
		return model.Record{}, fmt.Errorf("unknown operation %q", op)
	}

	rec := model.NewRecord(payload, op)
	records := append(r.ListAll(ctx), rec)
	if err := r.persist(ctx, records); err != nil {
		return model.Record{}, err
	}

	r.log.Debug("queued offline record", "local_id", rec.LocalID, "operation", rec.Operation)
	return rec, nil
}

// Update applies patch to the record with the given local ID and persists the
// collection. A missing local ID is a no-op, not an error — a record may have
// been deleted concurrently and that must not break the sync loop.
func (r *Repository) Update(ctx context.Context, localID string, patch func(*model.Record)) error {
	records := r.ListAll(ctx)
	for i := range records {
		if records[i].LocalID == localID {
			patch(&records[i])
			return r.persist(ctx, records)
		}
	}
	return nil
}

// Delete removes the record with the given local ID. No-op if absent.
func (r *Repository) Delete(ctx context.Context, localID string) error {
	records := r.ListAll(ctx)
	kept := records[:0]
	for _, rec := range records {
		if rec.LocalID != localID {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return r.persist(ctx, kept)
}

// MarkSyncing transitions a record to the in-flight status.
func (r *Repository) MarkSyncing(ctx context.Context, localID string) error {
	return r.Update(ctx, localID, func(rec *model.Record) {
		rec.SyncStatus = model.SyncInFlight
	})
}

// MarkSynced transitions a record to synced, attaches the server identity,
// and clears any previous error.
func (r *Repository) MarkSynced(ctx context.Context, localID, serverID string) error {
	return r.Update(ctx, localID, func(rec *model.Record) {
		rec.SyncStatus = model.SyncDone
		rec.ServerID = serverID
		rec.Error = ""
	})
}

// MarkError transitions a record to the error status with the given message.
func (r *Repository) MarkError(ctx context.Context, localID, message string) error {
	return r.Update(ctx, localID, func(rec *model.Record) {
		rec.SyncStatus = model.SyncFailed
		rec.Error = message
	})
}

// ListPending returns records waiting to be synced, in insertion order.
func (r *Repository) ListPending(ctx context.Context) []model.Record {
	return r.listByStatus(ctx, model.SyncPending)
}

// ListErrored returns records whose last sync attempt failed.
func (r *Repository) ListErrored(ctx context.Context) []model.Record {
	return r.listByStatus(ctx, model.SyncFailed)
}

func (r *Repository) listByStatus(ctx context.Context, status model.SyncStatus) []model.Record {
	var out []model.Record
	for _, rec := range r.ListAll(ctx) {
		if rec.SyncStatus == status {
			out = append(out, rec)
		}
	}
	return out
}

// ClearSynced removes every record that reached the synced status. The
// authoritative copy lives on the server by then, so this loses no data.
func (r *Repository) ClearSynced(ctx context.Context) error {
	records := r.ListAll(ctx)
	kept := records[:0]
	for _, rec := range records {
		if rec.SyncStatus != model.SyncDone {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return r.persist(ctx, kept)
}

// ClearAll wipes the queue, the reserved sync-state slot, and the last-sync
// marker. Destructive; exposed for explicit user action only.
func (r *Repository) ClearAll(ctx context.Context) error {
	if err := r.kv.Remove(ctx, keyQueue, keySyncState, keyLastSync); err != nil {
		return fmt.Errorf("clearing offline data: %w", err)
	}
	return nil
}

// Stats counts records by status, computed fresh from the stored collection.
func (r *Repository) Stats(ctx context.Context) model.Stats {
	var stats model.Stats
	for _, rec := range r.ListAll(ctx) {
		stats.Total++
		switch rec.SyncStatus {
		case model.SyncPending:
			stats.Pending++
		case model.SyncInFlight:
			stats.Syncing++
		case model.SyncDone:
			stats.Synced++
		case model.SyncFailed:
			stats.Error++
		}
	}
	return stats
}

// LastSyncTime returns the time of the last successful batch sync, or false
// if no batch has ever synced a record.
func (r *Repository) LastSyncTime(ctx context.Context) (time.Time, bool) {
	blob, err := r.kv.Get(ctx, keyLastSync)
	if err != nil {
		r.log.Error("reading last sync marker", "error", err)
		return time.Time{}, false
	}
	if blob == nil {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(string(blob), 10, 64)
	if err != nil {
		r.log.Error("decoding last sync marker", "value", string(blob), "error", err)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// RecordSyncTime stores now as the last successful batch sync marker.
func (r *Repository) RecordSyncTime(ctx context.Context) error {
	ms := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := r.kv.Set(ctx, keyLastSync, []byte(ms)); err != nil {
		return fmt.Errorf("recording sync time: %w", err)
	}
	return nil
}
