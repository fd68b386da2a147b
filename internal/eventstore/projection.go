package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"
)

const (
	batchStatusRunning   = "running"
	batchStatusSucceeded = "succeeded"
	batchStatusFailed    = "failed"
)

// BatchSummary is a read model summarizing one synchronization pass.
type BatchSummary struct {
	BatchID     string        `json:"batch_id"`
	Status      string        `json:"status"` // "running", "succeeded", "failed"
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Targets     []string      `json:"targets,omitempty"`
	Synced      []string      `json:"synced,omitempty"`
	Changed     int           `json:"changed"`
	Failed      []string      `json:"failed,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// BatchHistoryProjection maintains an in-memory view of synchronization history,
// reconstructed from events stored in the event store.
type BatchHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	batches  map[string]*BatchSummary
	history  []*BatchSummary // completed batches, newest first
	maxSize  int
	lastSync time.Time
}

// NewBatchHistoryProjection creates a new projection backed by the given store.
func NewBatchHistoryProjection(store Store, maxHistorySize int) *BatchHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &BatchHistoryProjection{
		store:   store,
		batches: make(map[string]*BatchSummary),
		history: make([]*BatchSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
func (p *BatchHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.Since(ctx, time.Time{})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches = make(map[string]*BatchSummary)
	p.history = make([]*BatchSummary, 0, p.maxSize)

	for _, event := range events {
		p.applyEventLocked(event)
	}

	slices.SortStableFunc(p.history, func(a, b *BatchSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBatchesLocked()

	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *BatchHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *BatchHistoryProjection) applyEventLocked(event Event) {
	batchID := event.BatchID
	if batchID == "" {
		return
	}

	summary, exists := p.batches[batchID]
	if !exists {
		summary = &BatchSummary{
			BatchID:   batchID,
			Status:    batchStatusRunning,
			StartedAt: event.At,
		}
		p.batches[batchID] = summary
	}

	switch event.Type {
	case TypeBatchStarted:
		summary.StartedAt = event.At
		var payload BatchStartedPayload
		if err := event.Decode(&payload); err == nil {
			summary.Targets = payload.Targets
		}

	case TypePackageSynced:
		var payload PackageSyncedPayload
		if err := event.Decode(&payload); err == nil {
			summary.Synced = append(summary.Synced, payload.Package)
			if payload.Changed {
				summary.Changed++
			}
		}

	case TypePackageFailed:
		var payload PackageFailedPayload
		if err := event.Decode(&payload); err == nil && !slices.Contains(summary.Failed, payload.Package) {
			summary.Failed = append(summary.Failed, payload.Package)
		}

	case TypeBatchCompleted:
		completed := event.At
		summary.CompletedAt = &completed
		summary.Duration = completed.Sub(summary.StartedAt)
		summary.Status = batchStatusSucceeded
		var payload BatchCompletedPayload
		if err := event.Decode(&payload); err == nil {
			if !payload.Success {
				summary.Status = batchStatusFailed
			}
			summary.Error = payload.Error
			if payload.DurationMS > 0 {
				summary.Duration = time.Duration(payload.DurationMS) * time.Millisecond
			}
		}
		p.addToHistoryLocked(summary)
	}
}

func (p *BatchHistoryProjection) addToHistoryLocked(summary *BatchSummary) {
	for _, h := range p.history {
		if h.BatchID == summary.BatchID {
			return
		}
	}
	p.history = append([]*BatchSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBatchesLocked()
}

// pruneBatchesLocked drops completed batches that fell out of the bounded history.
// Caller must hold p.mu (write lock).
func (p *BatchHistoryProjection) pruneBatchesLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.BatchID] = struct{}{}
	}
	for id, summary := range p.batches {
		if summary.Status == batchStatusRunning {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.batches, id)
		}
	}
}

// GetHistory returns completed batches, newest first.
func (p *BatchHistoryProjection) GetHistory() []BatchSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]BatchSummary, 0, len(p.history))
	for _, h := range p.history {
		result = append(result, *h)
	}
	return result
}

// GetBatch returns the summary for a specific batch.
func (p *BatchHistoryProjection) GetBatch(batchID string) (BatchSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.batches[batchID]
	if !exists {
		return BatchSummary{}, false
	}
	return *summary, true
}

// GetLastCompleted returns the most recently completed batch.
func (p *BatchHistoryProjection) GetLastCompleted() (BatchSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.history) == 0 {
		return BatchSummary{}, false
	}
	return *p.history[0], true
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *BatchHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
