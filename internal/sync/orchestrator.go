package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avaldes/citasync/internal/connectivity"
	"github.com/avaldes/citasync/internal/model"
)

// Snapshot is the unified view exposed to the UI layer.
type Snapshot struct {
	IsOnline  bool
	SyncState model.SyncState
	Records   []model.Record
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithAutoSync controls whether regaining connectivity triggers an automatic
// batch. Enabled by default.
func WithAutoSync(enabled bool) Option {
	return func(o *Orchestrator) { o.autoSync = enabled }
}

// Orchestrator coordinates connectivity, the queue repository, and the
// engine. Register [Orchestrator.HandleConnectivityChange] with a
// [connectivity.Monitor] to get automatic sync on reconnect.
//
// Every mutating action re-reads the full record list and stats from the
// repository afterwards, so the snapshot always reflects storage rather than
// optimistic patching.
type Orchestrator struct {
	engine   *Engine
	queue    Queue
	log      *slog.Logger
	autoSync bool

	mu         sync.Mutex
	online     bool
	syncing    bool
	rerun      bool // a trigger arrived mid-batch; run one more pass
	lastSyncAt time.Time
	records    []model.Record
	stats      model.Stats
}

// NewOrchestrator creates an Orchestrator. The connectivity state starts
// optimistic (online) until the first monitor event arrives.
func NewOrchestrator(engine *Engine, queue Queue, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:   engine,
		queue:    queue,
		log:      logger,
		autoSync: true,
		online:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Refresh re-reads records, stats, and the last-sync marker from the
// repository.
func (o *Orchestrator) Refresh(ctx context.Context) {
	records := o.queue.ListAll(ctx)
	stats := o.queue.Stats(ctx)
	lastSync, _ := o.queue.LastSyncTime(ctx)

	o.mu.Lock()
	o.records = records
	o.stats = stats
	o.lastSyncAt = lastSync
	o.mu.Unlock()
}

// Snapshot returns the current unified state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	records := make([]model.Record, len(o.records))
	copy(records, o.records)

	return Snapshot{
		IsOnline: o.online,
		SyncState: model.SyncState{
			IsSyncing:    o.syncing,
			LastSyncAt:   o.lastSyncAt,
			PendingCount: o.stats.Pending,
			ErrorCount:   o.stats.Error,
		},
		Records: records,
	}
}

// IsOnline reports the last connectivity derivation.
func (o *Orchestrator) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// HandleConnectivityChange updates the online flag and, when connectivity
// returns with work pending and no batch in flight, triggers an automatic
// sync. Errored records are never retried automatically.
func (o *Orchestrator) HandleConnectivityChange(ctx context.Context, status connectivity.Status) {
	online := status.Online()

	o.mu.Lock()
	o.online = online
	syncing := o.syncing
	o.mu.Unlock()

	if !o.autoSync || !online || syncing {
		return
	}
	if o.queue.Stats(ctx).Pending == 0 {
		return
	}

	o.log.Info("connection restored, syncing queued records")
	o.SyncNow(ctx)
}

// SyncNow runs a sync batch. Offline calls short-circuit to a synthetic
// failed result without touching the repository or the network. A call that
// arrives while a batch is in flight is coalesced: it returns an empty
// successful result immediately and the running call performs one extra pass
// after its batch completes.
func (o *Orchestrator) SyncNow(ctx context.Context) model.SyncResult {
	return o.run(ctx, o.engine.SyncAll)
}

// RetrySync moves errored records back to pending and syncs. Same offline
// and coalescing behaviour as [Orchestrator.SyncNow].
func (o *Orchestrator) RetrySync(ctx context.Context) model.SyncResult {
	return o.run(ctx, o.engine.RetryFailed)
}

func (o *Orchestrator) run(ctx context.Context, batch func(context.Context) model.SyncResult) model.SyncResult {
	o.mu.Lock()
	if !o.online {
		o.mu.Unlock()
		return model.OfflineResult()
	}
	if o.syncing {
		o.rerun = true
		o.mu.Unlock()
		return model.SyncResult{Success: true}
	}
	o.syncing = true
	o.mu.Unlock()

	result := batch(ctx)

	// Drain coalesced triggers before handing the in-flight flag back.
	for {
		o.mu.Lock()
		if !o.rerun {
			o.syncing = false
			o.mu.Unlock()
			break
		}
		o.rerun = false
		o.mu.Unlock()
		o.engine.SyncAll(ctx)
	}

	o.Refresh(ctx)
	return result
}

// SaveAppointment queues a new appointment draft for later creation on the
// server.
func (o *Orchestrator) SaveAppointment(ctx context.Context, payload model.Appointment) (model.Record, error) {
	rec, err := o.queue.Save(ctx, payload, model.OpCreate)
	o.Refresh(ctx)
	return rec, err
}

// DeleteRecord removes a queued record from local storage. Records that never
// reached the server disappear without any network call.
func (o *Orchestrator) DeleteRecord(ctx context.Context, localID string) error {
	err := o.queue.Delete(ctx, localID)
	o.Refresh(ctx)
	return err
}

// ClearSynced purges records that already reached the server.
func (o *Orchestrator) ClearSynced(ctx context.Context) error {
	err := o.queue.ClearSynced(ctx)
	o.Refresh(ctx)
	return err
}

// ClearAll wipes all offline data, including sync markers.
func (o *Orchestrator) ClearAll(ctx context.Context) error {
	err := o.queue.ClearAll(ctx)
	o.Refresh(ctx)
	return err
}
