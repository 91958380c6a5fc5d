package model

import "time"

// SyncError records a single record that failed to sync within a batch.
type SyncError struct {
	LocalID string `json:"localId"`
	Message string `json:"error"`
}

// SyncResult aggregates the outcome of one sync batch. A batch never fails as
// a whole; individual record failures are collected here instead.
type SyncResult struct {
	Success     bool        `json:"success"`
	SyncedCount int         `json:"syncedCount"`
	ErrorCount  int         `json:"errorCount"`
	Errors      []SyncError `json:"errors"`
}

// OfflineResult is the synthetic result returned when a sync is requested
// without connectivity: a single error entry, no repository or network calls.
func OfflineResult() SyncResult {
	return SyncResult{
		Success:    false,
		ErrorCount: 1,
		Errors:     []SyncError{{Message: "no network connection"}},
	}
}

// SyncState is the orchestrator-level view of the queue, exposed to the UI.
type SyncState struct {
	// IsSyncing is true while a batch is in flight.
	IsSyncing bool
	// LastSyncAt is the time of the last batch that synced at least one
	// record. Zero if no batch ever succeeded.
	LastSyncAt time.Time
	// PendingCount and ErrorCount mirror the repository stats.
	PendingCount int
	ErrorCount   int
}

// Stats counts queued records by sync status. Computed fresh on every call;
// the queue is small enough that incremental counters are not worth keeping.
type Stats struct {
	Total   int
	Pending int
	Syncing int
	Synced  int
	Error   int
}
