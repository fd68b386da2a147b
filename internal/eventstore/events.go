package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Stored event type names.
const (
	TypeBatchStarted   = "BatchStarted"
	TypePackageSynced  = "PackageSynced"
	TypePackageFailed  = "PackageFailed"
	TypeBatchCompleted = "BatchCompleted"
)

// BatchStartedPayload is stored when a pass begins.
type BatchStartedPayload struct {
	Targets []string `json:"targets"`
}

// PackageSyncedPayload is stored when a package reaches its target hash.
type PackageSyncedPayload struct {
	Package string `json:"package"`
	Hash    string `json:"hash"`
	Changed bool   `json:"changed"`
}

// PackageFailedPayload is stored when a package step fails.
type PackageFailedPayload struct {
	Package string `json:"package"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Dirty   bool   `json:"dirty,omitempty"`
}

// BatchCompletedPayload is stored when a pass ends.
type BatchCompletedPayload struct {
	Success    bool     `json:"success"`
	Packages   int      `json:"packages"`
	Failed     []string `json:"failed,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// NewEvent encodes payload as JSON into an unsaved Event.
func NewEvent(batchID, eventType, pkg string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.EventStoreError("failed to marshal event payload").
			WithCause(err).
			WithContext("batch_id", batchID).
			WithContext("event_type", eventType).
			Build()
	}
	return Event{BatchID: batchID, Type: eventType, Package: pkg, At: time.Now(), Payload: data}, nil
}

// Decode unmarshals the payload of e into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.EventStoreError("failed to unmarshal event payload").
			WithCause(err).
			WithContext("event_id", e.ID).
			WithContext("event_type", e.Type).
			Build()
	}
	return nil
}
