package eventstore

import "time"

// Event is one stored history row. Package is empty for batch level events.
type Event struct {
	ID      int64     `json:"id"`
	BatchID string    `json:"batch_id"`
	Type    string    `json:"type"`
	Package string    `json:"package,omitempty"`
	At      time.Time `json:"at"`
	Payload []byte    `json:"payload"`
}
