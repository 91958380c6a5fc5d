// Package sync implements the offline mutation drain for queued appointment
// records. It replays pending create/update/delete operations against the
// remote API with per-record isolation: one record's failure never aborts the
// batch.
//
// The package contains two main components:
//
//   - [Engine] drains one batch of pending records and aggregates the result.
//   - [Orchestrator] bridges connectivity events, the queue repository, and
//     the engine into one observable state with imperative actions.
package sync

import (
	"context"
	"time"

	"github.com/avaldes/citasync/internal/model"
)

// Queue provides access to the offline record repository.
// Implemented by [queue.Repository].
type Queue interface {
	ListAll(ctx context.Context) []model.Record
	Save(ctx context.Context, payload model.Appointment, op model.Operation) (model.Record, error)
	Update(ctx context.Context, localID string, patch func(*model.Record)) error
	Delete(ctx context.Context, localID string) error
	MarkSyncing(ctx context.Context, localID string) error
	MarkSynced(ctx context.Context, localID, serverID string) error
	MarkError(ctx context.Context, localID, message string) error
	ListPending(ctx context.Context) []model.Record
	ListErrored(ctx context.Context) []model.Record
	ClearSynced(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Stats(ctx context.Context) model.Stats
	LastSyncTime(ctx context.Context) (time.Time, bool)
	RecordSyncTime(ctx context.Context) error
}

// Gateway provides the remote appointment mutations the engine replays.
// Implemented by [remote.Client].
type Gateway interface {
	Create(ctx context.Context, payload model.Appointment) (model.Appointment, error)
	Update(ctx context.Context, id string, payload model.Appointment) (model.Appointment, error)
	Delete(ctx context.Context, id string) error
}
