package events

import "time"

// Event is implemented by every event published by packsync.
type Event interface {
	EventType() string
}

const (
	TypeBatchStarted            = "batch.started"
	TypePackageDownloadStarted  = "package.download_started"
	TypePackageTransferProgress = "package.transfer_progress"
	TypePackageDownloadError    = "package.download_error"
	TypePackageSynced           = "package.synced"
	TypeBatchDownloadComplete   = "batch.download_complete"
	TypeStateChanged            = "session.state_changed"
	TypePublicKeyReceived       = "session.public_key"
	TypeUpdateInfoReceived      = "session.update_info"
	TypeErrorOccurred           = "session.error"
)

// BatchStarted opens a synchronization pass.
type BatchStarted struct {
	BatchID string
	Targets []string
	At      time.Time
}

// PackageDownloadStarted is emitted before a package is cloned.
type PackageDownloadStarted struct {
	BatchID string
	Name    string
	URL     string
	At      time.Time
}

// PackageTransferProgress reports clone/fetch transfer counters.
type PackageTransferProgress struct {
	BatchID         string
	Name            string
	ReceivedObjects int
	TotalObjects    int
	IndexedObjects  int
	ReceivedBytes   int64
	IndexedDeltas   int
	TotalDeltas     int
}

// PackageDownloadError reports a failed package step. Dirty marks the dirty-tree sentinel.
type PackageDownloadError struct {
	BatchID string
	Name    string
	Message string
	Code    int
	Dirty   bool
	At      time.Time
}

// PackageSynced is emitted when a package is pinned to its target hash.
// Changed is false when nothing had to be cloned, fetched or checked out.
type PackageSynced struct {
	BatchID string
	Name    string
	Hash    string
	Changed bool
	At      time.Time
}

// BatchDownloadComplete ends a synchronization pass.
type BatchDownloadComplete struct {
	BatchID  string
	Success  bool
	Packages int
	Failed   []string
	Error    string
	Duration time.Duration
	At       time.Time
}

// StateChanged is emitted by the update session on every state or message change.
type StateChanged struct {
	From    string
	To      string
	Message string
	At      time.Time
}

// PublicKeyReceived carries the server challenge key.
type PublicKeyReceived struct {
	Key string
}

// UpdateInfoReceived carries a decoded verdict.
type UpdateInfoReceived struct {
	Status      string
	MinVersion  string
	MaxVersion  string
	Packages    int
	Message     string
	NeedRestart bool
}

// ErrorOccurred is emitted whenever the session records an error message.
type ErrorOccurred struct {
	Message string
}

func (BatchStarted) EventType() string            { return TypeBatchStarted }
func (PackageDownloadStarted) EventType() string  { return TypePackageDownloadStarted }
func (PackageTransferProgress) EventType() string { return TypePackageTransferProgress }
func (PackageDownloadError) EventType() string    { return TypePackageDownloadError }
func (PackageSynced) EventType() string           { return TypePackageSynced }
func (BatchDownloadComplete) EventType() string   { return TypeBatchDownloadComplete }
func (StateChanged) EventType() string            { return TypeStateChanged }
func (PublicKeyReceived) EventType() string       { return TypePublicKeyReceived }
func (UpdateInfoReceived) EventType() string      { return TypeUpdateInfoReceived }
func (ErrorOccurred) EventType() string           { return TypeErrorOccurred }
