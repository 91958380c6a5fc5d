package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the local synchronization state of a queued record.
// Valid transitions: pending → syncing → synced|error, and error → pending
// via an explicit retry. Nothing else.
type SyncStatus string

const (
	// SyncPending means the record is waiting to be pushed to the server.
	SyncPending SyncStatus = "pending"
	// SyncInFlight means the engine is currently pushing the record.
	SyncInFlight SyncStatus = "syncing"
	// SyncDone means the record reached the server and is safe to purge.
	SyncDone SyncStatus = "synced"
	// SyncFailed means the last push attempt failed; Error holds the message.
	SyncFailed SyncStatus = "error"
)

// Valid reports whether s is one of the known sync statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncInFlight, SyncDone, SyncFailed:
		return true
	}
	return false
}

// Operation is the remote mutation a queued record represents. It is fixed
// when the record is created and never changes.
type Operation string

const (
	// OpCreate posts a new appointment to the server.
	OpCreate Operation = "create"
	// OpUpdate rewrites an existing appointment; requires a server ID.
	OpUpdate Operation = "update"
	// OpDelete removes an appointment. Records without a server ID are
	// resolved locally without a network call.
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Record is an appointment draft queued while offline, waiting to be replayed
// against the remote API. The embedded Appointment is opaque to the sync
// machinery except when building remote requests.
type Record struct {
	Appointment

	// LocalID uniquely identifies the record in the local store.
	// Generated at creation time, immutable.
	LocalID string `json:"localId"`

	// ServerID is the remote identity, set after the first successful
	// create sync. Empty until then.
	ServerID string `json:"serverId,omitempty"`

	// Operation is the remote mutation to replay.
	Operation Operation `json:"operation"`

	// SyncStatus drives sync eligibility and UI badges.
	SyncStatus SyncStatus `json:"syncStatus"`

	// CreatedAt is the record creation time in milliseconds since epoch.
	CreatedAt int64 `json:"createdAt"`

	// Error holds the last sync failure message, cleared on retry.
	Error string `json:"error,omitempty"`
}

// NewRecord builds a pending record for the given payload and operation.
func NewRecord(payload Appointment, op Operation) Record {
	return Record{
		Appointment: payload,
		LocalID:     NewLocalID(),
		Operation:   op,
		SyncStatus:  SyncPending,
		CreatedAt:   time.Now().UnixMilli(),
	}
}

// NewLocalID mints a locally unique record ID: a millisecond timestamp for
// rough ordering plus a random suffix for uniqueness within the same tick.
func NewLocalID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("local_%d_%s", time.Now().UnixMilli(), suffix)
}
