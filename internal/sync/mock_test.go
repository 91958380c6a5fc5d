package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/avaldes/citasync/internal/model"
	"github.com/avaldes/citasync/internal/queue"
	"github.com/avaldes/citasync/internal/store"
)

var testLogger = slog.Default()

// --- Mock Gateway ------------------------------------------------------------

type mockGateway struct {
	mu     gosync.Mutex
	nextID int
	server map[string]model.Appointment // server ID → appointment

	createCalls int
	updateCalls int
	deleteCalls int

	failCreateFor map[string]error // patient name → error
	failMutateFor map[string]error // server ID → error for update/delete

	// blockCreate, when non-nil, makes Create wait until the channel is
	// closed. entered receives once per blocked call.
	blockCreate chan struct{}
	entered     chan struct{}
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		server:        make(map[string]model.Appointment),
		failCreateFor: make(map[string]error),
		failMutateFor: make(map[string]error),
	}
}

func (g *mockGateway) Create(_ context.Context, payload model.Appointment) (model.Appointment, error) {
	g.mu.Lock()
	block, entered := g.blockCreate, g.entered
	g.createCalls++
	g.mu.Unlock()

	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failCreateFor[payload.Patient]; err != nil {
		return model.Appointment{}, err
	}

	g.nextID++
	payload.ID = fmt.Sprintf("srv-%d", g.nextID)
	g.server[payload.ID] = payload
	return payload, nil
}

func (g *mockGateway) Update(_ context.Context, id string, payload model.Appointment) (model.Appointment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++

	if err := g.failMutateFor[id]; err != nil {
		return model.Appointment{}, err
	}
	if _, ok := g.server[id]; !ok {
		return model.Appointment{}, fmt.Errorf("appointment %q not found", id)
	}
	payload.ID = id
	g.server[id] = payload
	return payload, nil
}

func (g *mockGateway) Delete(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++

	if err := g.failMutateFor[id]; err != nil {
		return err
	}
	delete(g.server, id)
	return nil
}

func (g *mockGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls + g.updateCalls + g.deleteCalls
}

func (g *mockGateway) serverCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.server)
}

// --- Spy Queue ---------------------------------------------------------------

// spyQueue wraps a real repository and records the status transitions applied
// to each record, so tests can assert the pending → syncing → synced|error
// sequence.
type spyQueue struct {
	Queue

	mu          gosync.Mutex
	transitions map[string][]model.SyncStatus
}

func newSpyQueue(q Queue) *spyQueue {
	return &spyQueue{Queue: q, transitions: make(map[string][]model.SyncStatus)}
}

func (s *spyQueue) record(localID string, status model.SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[localID] = append(s.transitions[localID], status)
}

func (s *spyQueue) MarkSyncing(ctx context.Context, localID string) error {
	s.record(localID, model.SyncInFlight)
	return s.Queue.MarkSyncing(ctx, localID)
}

func (s *spyQueue) MarkSynced(ctx context.Context, localID, serverID string) error {
	s.record(localID, model.SyncDone)
	return s.Queue.MarkSynced(ctx, localID, serverID)
}

func (s *spyQueue) MarkError(ctx context.Context, localID, message string) error {
	s.record(localID, model.SyncFailed)
	return s.Queue.MarkError(ctx, localID, message)
}

func (s *spyQueue) Update(ctx context.Context, localID string, patch func(*model.Record)) error {
	// The engine resets errored records to pending through Update; observe
	// the resulting status by applying the patch to a probe record.
	probe := model.Record{SyncStatus: "probe"}
	patch(&probe)
	if probe.SyncStatus != "probe" {
		s.record(localID, probe.SyncStatus)
	}
	return s.Queue.Update(ctx, localID, patch)
}

func (s *spyQueue) transitionsFor(localID string) []model.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions[localID]
}

// --- Harness -----------------------------------------------------------------

func newTestRepo() *queue.Repository {
	return queue.NewRepository(store.NewMemory(), testLogger)
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
