package metrics

import "time"

// ResultLabel enumerates per-package outcomes for counters.
type ResultLabel string

const (
	ResultSynced    ResultLabel = "synced"
	ResultUnchanged ResultLabel = "unchanged"
	ResultDirty     ResultLabel = "dirty"
	ResultFailed    ResultLabel = "failed"
)

// Step names used for step duration histograms.
const (
	StepClone    = "clone"
	StepReset    = "reset"
	StepFetch    = "fetch"
	StepCheckout = "checkout"
)

// Recorder defines observability hooks for synchronization passes and the update session.
// Implementations may forward to Prometheus; NoopRecorder is the default.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration, success bool)
	IncPackageResult(result ResultLabel)
	ObserveBatchDuration(d time.Duration)
	IncBatchOutcome(success bool)
	SetEnabledPackages(n int)
	IncSessionTransition(state string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncPackageResult(ResultLabel)                    {}
func (NoopRecorder) ObserveBatchDuration(time.Duration)              {}
func (NoopRecorder) IncBatchOutcome(bool)                            {}
func (NoopRecorder) SetEnabledPackages(int)                          {}
func (NoopRecorder) IncSessionTransition(string)                     {}
