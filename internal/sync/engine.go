package sync

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/avaldes/citasync/internal/model"
)

const (
	otelScope   = "citasync/sync"
	spanBatch   = "sync.batch"
	metricSynced = "citasync.sync.records.synced"
	metricLocal  = "citasync.sync.records.resolved_locally"
	metricErrors = "citasync.sync.errors"
)

// errMissingServerID marks invariant violations that must fail a record
// without touching the network.
var errMissingServerID = errors.New("cannot update: missing remote identity")

// outcome classifies how a single record was resolved.
type outcome int

const (
	outcomeSynced outcome = iota // remote call succeeded
	outcomeLocal                 // resolved without a network call (untracked delete)
	outcomeError                 // failed; record is in the error status
)

// Engine drains pending records against the remote gateway. It never returns
// an error from its batch methods — all failure is captured in the
// [model.SyncResult]. Create one with [NewEngine].
type Engine struct {
	queue Queue
	gw    Gateway
	log   *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer    trace.Tracer
	cntSynced metric.Int64Counter
	cntLocal  metric.Int64Counter
	cntErrors metric.Int64Counter
}

// NewEngine creates an Engine wired to the given queue and gateway.
func NewEngine(queue Queue, gw Gateway, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		queue: queue,
		gw:    gw,
		log:   logger,

		tracer:    tracer,
		cntSynced: mustCounter(metricSynced, "Number of records synced to the server"),
		cntLocal:  mustCounter(metricLocal, "Number of records resolved without a network call"),
		cntErrors: mustCounter(metricErrors, "Number of records that failed to sync"),
	}
}

// SyncAll drains one batch of pending records sequentially, in insertion
// order. An empty pending set short-circuits with a successful zero-count
// result and no network calls. After the batch, synced records are swept from
// local storage — their authoritative copy now lives on the server.
func (e *Engine) SyncAll(ctx context.Context) model.SyncResult {
	result := model.SyncResult{Success: true}

	pending := e.queue.ListPending(ctx)
	if len(pending) == 0 {
		return result
	}

	ctx, span := e.tracer.Start(ctx, spanBatch)
	defer span.End()
	span.SetAttributes(attribute.Int("sync.pending", len(pending)))

	for _, rec := range pending {
		out, err := e.syncRecord(ctx, rec)
		switch out {
		case outcomeSynced:
			result.SyncedCount++
			e.cntSynced.Add(ctx, 1)
		case outcomeLocal:
			e.cntLocal.Add(ctx, 1)
		case outcomeError:
			result.Success = false
			result.ErrorCount++
			result.Errors = append(result.Errors, model.SyncError{
				LocalID: rec.LocalID,
				Message: err.Error(),
			})
			e.cntErrors.Add(ctx, 1)
			e.log.Error("record sync failed",
				"local_id", rec.LocalID,
				"operation", rec.Operation,
				"error", err,
			)
		}
	}

	if result.SyncedCount > 0 {
		if err := e.queue.RecordSyncTime(ctx); err != nil {
			e.log.Error("recording batch sync time", "error", err)
		}
	}
	if err := e.queue.ClearSynced(ctx); err != nil {
		e.log.Error("sweeping synced records", "error", err)
	}

	span.SetAttributes(
		attribute.Int("sync.synced", result.SyncedCount),
		attribute.Int("sync.errors", result.ErrorCount),
	)

	e.log.Info("sync batch complete",
		"synced", result.SyncedCount,
		"errors", result.ErrorCount,
	)
	return result
}

// syncRecord resolves a single record. On failure the record is left in the
// error status with the message recorded.
func (e *Engine) syncRecord(ctx context.Context, rec model.Record) (outcome, error) {
	if err := e.queue.MarkSyncing(ctx, rec.LocalID); err != nil {
		e.log.Error("marking record as syncing", "local_id", rec.LocalID, "error", err)
	}

	out, err := e.dispatch(ctx, rec)
	if err != nil {
		if markErr := e.queue.MarkError(ctx, rec.LocalID, err.Error()); markErr != nil {
			e.log.Error("marking record as failed", "local_id", rec.LocalID, "error", markErr)
		}
		return outcomeError, err
	}
	return out, nil
}

// dispatch replays the record's operation against the gateway.
func (e *Engine) dispatch(ctx context.Context, rec model.Record) (outcome, error) {
	payload := rec.Appointment
	payload.ID = ""

	switch rec.Operation {
	case model.OpCreate:
		created, err := e.gw.Create(ctx, payload)
		if err != nil {
			return outcomeError, err
		}
		return outcomeSynced, e.queue.MarkSynced(ctx, rec.LocalID, created.ID)

	case model.OpUpdate:
		if rec.ServerID == "" {
			return outcomeError, errMissingServerID
		}
		if _, err := e.gw.Update(ctx, rec.ServerID, payload); err != nil {
			return outcomeError, err
		}
		return outcomeSynced, e.queue.MarkSynced(ctx, rec.LocalID, rec.ServerID)

	case model.OpDelete:
		if rec.ServerID == "" {
			// Never reached the server; nothing to undo remotely.
			return outcomeLocal, e.queue.Delete(ctx, rec.LocalID)
		}
		if err := e.gw.Delete(ctx, rec.ServerID); err != nil {
			return outcomeError, err
		}
		return outcomeSynced, e.queue.Delete(ctx, rec.LocalID)
	}

	return outcomeError, errors.New("unknown operation " + string(rec.Operation))
}

// RetryFailed moves every errored record back to pending, clearing its error
// message, then runs a full batch. This is the only path out of the error
// status.
func (e *Engine) RetryFailed(ctx context.Context) model.SyncResult {
	for _, rec := range e.queue.ListErrored(ctx) {
		err := e.queue.Update(ctx, rec.LocalID, func(r *model.Record) {
			r.SyncStatus = model.SyncPending
			r.Error = ""
		})
		if err != nil {
			e.log.Error("resetting errored record", "local_id", rec.LocalID, "error", err)
		}
	}
	return e.SyncAll(ctx)
}
