package eventstore

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/logfields"
)

// Recorder persists synchronization events from the bus into a Store and keeps
// an optional projection current.
type Recorder struct {
	store      Store
	projection *BatchHistoryProjection
	ready      chan struct{}
}

// NewRecorder creates a recorder. projection may be nil.
func NewRecorder(store Store, projection *BatchHistoryProjection) *Recorder {
	return &Recorder{store: store, projection: projection, ready: make(chan struct{})}
}

// Ready is closed once Run has subscribed to the bus.
func (r *Recorder) Ready() <-chan struct{} { return r.ready }

// Run consumes bus events until ctx is canceled or the bus is closed.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := events.Subscribe[events.Event](bus, 64)
	defer unsubscribe()
	close(r.ready)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.Record(ctx, evt)
		}
	}
}

// Record stores evt when it belongs to synchronization history. Other events are ignored.
func (r *Recorder) Record(ctx context.Context, evt events.Event) {
	batchID, eventType, pkg, payload := translate(evt)
	if eventType == "" {
		return
	}
	stored, err := NewEvent(batchID, eventType, pkg, payload)
	if err == nil {
		err = r.store.Append(ctx, &stored)
	}
	if err != nil {
		slog.Warn("Failed to record history event", logfields.BatchID(batchID), slog.String("event", eventType), logfields.Error(err))
		return
	}
	if r.projection != nil {
		r.projection.Apply(stored)
	}
}

// translate maps a bus event to its stored batch id, type, package and payload.
func translate(evt events.Event) (string, string, string, any) {
	switch e := evt.(type) {
	case events.BatchStarted:
		return e.BatchID, TypeBatchStarted, "", BatchStartedPayload{Targets: e.Targets}
	case events.PackageSynced:
		return e.BatchID, TypePackageSynced, e.Name, PackageSyncedPayload{Package: e.Name, Hash: e.Hash, Changed: e.Changed}
	case events.PackageDownloadError:
		return e.BatchID, TypePackageFailed, e.Name, PackageFailedPayload{Package: e.Name, Code: e.Code, Message: e.Message, Dirty: e.Dirty}
	case events.BatchDownloadComplete:
		return e.BatchID, TypeBatchCompleted, "", BatchCompletedPayload{
			Success:    e.Success,
			Packages:   e.Packages,
			Failed:     e.Failed,
			Error:      e.Error,
			DurationMS: e.Duration.Milliseconds(),
		}
	default:
		return "", "", "", nil
	}
}
