package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/git"
	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/metrics"
	"git.home.luguber.info/inful/packsync/internal/registry"
)

// Target is one entry of the authoritative package list.
type Target = registry.Entry

// Repository is the working copy backend used by the engine. *git.Client implements it.
type Repository interface {
	Exists(name string) bool
	Clone(ctx context.Context, url string, progress git.ProgressFunc) (string, git.Result)
	IsClean(name string) (bool, git.Result)
	ResetToHead(name string) git.Result
	HasCommit(name, hash string) bool
	Fetch(ctx context.Context, name string, progress git.ProgressFunc) git.Result
	CheckoutDetached(name, hash string) git.Result
	CurrentHead(name string) string
	IsDescendantOrEqual(name, candidate string) bool
}

var _ Repository = (*git.Client)(nil)

// Engine runs synchronization passes. Passes are serialized.
type Engine struct {
	mu                  sync.Mutex
	repo                Repository
	reg                 *registry.Registry
	bus                 *events.Bus
	recorder            metrics.Recorder
	abortOnResetFailure bool
	newBatchID          func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes progress and completion events on bus.
func WithBus(bus *events.Bus) Option { return func(e *Engine) { e.bus = bus } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithAbortOnResetFailure makes a failed reset a package failure instead of a logged local error.
func WithAbortOnResetFailure(abort bool) Option {
	return func(e *Engine) { e.abortOnResetFailure = abort }
}

// New creates an engine over repo and reg.
func New(repo Repository, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		reg:        reg,
		recorder:   metrics.NoopRecorder{},
		newBatchID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine mutates.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// PackageResult is the outcome of one target within a pass.
type PackageResult struct {
	Name    string
	URL     string
	Hash    string
	Changed bool
	Result  git.Result
}

// OK reports whether the package ended the pass pinned at its target hash.
func (p PackageResult) OK() bool { return p.Result.IsOK() }

// BatchResult summarizes one pass.
type BatchResult struct {
	BatchID  string
	Success  bool
	Packages []PackageResult
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Failed returns the names of packages that did not reach their target hash.
func (b BatchResult) Failed() []string {
	var names []string
	for _, p := range b.Packages {
		if !p.OK() {
			names = append(names, p.Name)
		}
	}
	return names
}

// Go runs SyncTo on a new goroutine. The channel receives exactly one result and is then closed.
func (e *Engine) Go(ctx context.Context, targets []Target) <-chan BatchResult {
	ch := make(chan BatchResult, 1)
	targets = slices.Clone(targets)
	go func() {
		defer close(ch)
		ch <- e.SyncTo(ctx, targets)
	}()
	return ch
}

// SyncTo runs one pass against targets and blocks until it completes.
func (e *Engine) SyncTo(ctx context.Context, targets []Target) BatchResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := BatchResult{BatchID: e.newBatchID(), Started: time.Now()}
	slog.Info("Synchronization pass started", logfields.BatchID(batch.BatchID), slog.Int("targets", len(targets)))

	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	e.publish(ctx, events.BatchStarted{BatchID: batch.BatchID, Targets: names, At: batch.Started})

	e.reg.DisableAll()

	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			batch.Err = errors.WrapError(err, errors.CategoryRuntime, "synchronization pass canceled").
				WithContext("batch_id", batch.BatchID).
				Build()
			break
		}
		if _, dup := seen[t.Name]; dup {
			// the first entry already decided this package's state
			pr := PackageResult{Name: t.Name, URL: t.URL, Hash: t.Hash}
			batch.Packages = append(batch.Packages, e.report(ctx, batch.BatchID, pr, git.Failed(duplicateTarget(t.Name))))
			continue
		}
		seen[t.Name] = struct{}{}
		batch.Packages = append(batch.Packages, e.syncPackage(ctx, batch.BatchID, t))
	}

	if err := e.reg.Save(); err != nil && batch.Err == nil {
		batch.Err = err
	}

	batch.Duration = time.Since(batch.Started)
	batch.Success = batch.Err == nil && len(batch.Failed()) == 0
	e.finish(ctx, batch)
	return batch
}

func (e *Engine) finish(ctx context.Context, batch BatchResult) {
	e.recorder.ObserveBatchDuration(batch.Duration)
	e.recorder.IncBatchOutcome(batch.Success)
	e.recorder.SetEnabledPackages(len(e.reg.Summary()))

	evt := events.BatchDownloadComplete{
		BatchID:  batch.BatchID,
		Success:  batch.Success,
		Packages: len(batch.Packages),
		Failed:   batch.Failed(),
		Duration: batch.Duration,
		At:       time.Now(),
	}
	if batch.Err != nil {
		evt.Error = batch.Err.Error()
	}

	attrs := []any{
		logfields.BatchID(batch.BatchID),
		slog.Bool("success", batch.Success),
		slog.Int("packages", len(batch.Packages)),
		slog.Int("failed", len(evt.Failed)),
		logfields.DurationMS(float64(batch.Duration.Milliseconds())),
	}
	if batch.Err != nil {
		attrs = append(attrs, logfields.Error(batch.Err))
	}
	slog.Info("Synchronization pass complete", attrs...)

	// Completion must be delivered even when the pass itself was canceled.
	e.publish(context.WithoutCancel(ctx), evt)
}

func (e *Engine) syncPackage(ctx context.Context, batchID string, t Target) PackageResult {
	pr := PackageResult{Name: t.Name, URL: t.URL, Hash: t.Hash}

	if err := ValidateTarget(t); err != nil {
		return e.fail(ctx, batchID, pr, git.Failed(err))
	}
	if derived := git.RepoNameFromURL(t.URL); derived != t.Name {
		return e.fail(ctx, batchID, pr, git.Failed(errors.ValidationError("package name does not match repository url").
			WithContext("package", t.Name).
			WithContext("derived", derived).
			WithContext("url", t.URL).
			Build()))
	}

	progress := e.progressFunc(batchID, t.Name)

	if !e.repo.Exists(t.Name) {
		e.publish(ctx, events.PackageDownloadStarted{BatchID: batchID, Name: t.Name, URL: t.URL, At: time.Now()})
		var res git.Result
		e.timed(metrics.StepClone, func() git.Result {
			_, res = e.repo.Clone(ctx, t.URL, progress)
			return res
		})
		if !res.IsOK() {
			return e.fail(ctx, batchID, pr, res)
		}
		pr.Changed = true
	}

	if _, ok := e.reg.Get(t.Name); ok {
		e.reg.SetEnabled(t.Name, true)
	}

	clean, res := e.repo.IsClean(t.Name)
	if !res.IsOK() {
		return e.fail(ctx, batchID, pr, res)
	}
	resetFailed := false
	if !clean {
		slog.Warn("Working copy is dirty; resetting", logfields.BatchID(batchID), logfields.Package(t.Name))
		reset := e.timed(metrics.StepReset, func() git.Result { return e.repo.ResetToHead(t.Name) })
		if !reset.IsOK() {
			slog.Error("Failed to reset working copy",
				logfields.BatchID(batchID),
				logfields.Package(t.Name),
				slog.Int("code", reset.Code),
				slog.String("message", reset.Message))
			if e.abortOnResetFailure {
				return e.fail(ctx, batchID, pr, reset)
			}
			resetFailed = true
		}
		pr.Changed = true
	}

	if head := e.repo.CurrentHead(t.Name); head != t.Hash {
		if !e.repo.HasCommit(t.Name, t.Hash) {
			slog.Info("Target commit not present locally; fetching",
				logfields.BatchID(batchID), logfields.Package(t.Name), logfields.Hash(t.Hash))
			fetched := e.timed(metrics.StepFetch, func() git.Result { return e.repo.Fetch(ctx, t.Name, progress) })
			if !fetched.IsOK() {
				return e.fail(ctx, batchID, pr, fetched)
			}
		}
		if r := e.ensureClean(t.Name); !r.IsOK() {
			return e.fail(ctx, batchID, pr, r)
		}
		checkout := e.timed(metrics.StepCheckout, func() git.Result { return e.repo.CheckoutDetached(t.Name, t.Hash) })
		if !checkout.IsOK() {
			return e.fail(ctx, batchID, pr, checkout)
		}
		pr.Changed = true
	} else if resetFailed {
		if r := e.ensureClean(t.Name); !r.IsOK() {
			return e.fail(ctx, batchID, pr, r)
		}
	}

	e.reg.Upsert(t.Name, t.URL, t.Hash, true)
	pr.Result = git.OK()

	label := metrics.ResultUnchanged
	if pr.Changed {
		label = metrics.ResultSynced
	}
	e.recorder.IncPackageResult(label)
	slog.Info("Package synchronized",
		logfields.BatchID(batchID), logfields.Package(t.Name), logfields.Hash(t.Hash), slog.Bool("changed", pr.Changed))
	e.publish(ctx, events.PackageSynced{BatchID: batchID, Name: t.Name, Hash: t.Hash, Changed: pr.Changed, At: time.Now()})
	return pr
}

func (e *Engine) ensureClean(name string) git.Result {
	clean, res := e.repo.IsClean(name)
	if !res.IsOK() {
		return res
	}
	if !clean {
		return git.Dirty(name)
	}
	return git.OK()
}

// fail records a package failure. A package that was re-enabled during the pass is disabled again.
func (e *Engine) fail(ctx context.Context, batchID string, pr PackageResult, res git.Result) PackageResult {
	if _, ok := e.reg.Get(pr.Name); ok {
		e.reg.SetEnabled(pr.Name, false)
	}
	return e.report(ctx, batchID, pr, res)
}

// report counts, logs and publishes a failed package without touching the registry.
func (e *Engine) report(ctx context.Context, batchID string, pr PackageResult, res git.Result) PackageResult {
	pr.Result = res

	label := metrics.ResultFailed
	if res.IsDirty() {
		label = metrics.ResultDirty
	}
	e.recorder.IncPackageResult(label)

	slog.Warn("Package synchronization failed",
		logfields.BatchID(batchID),
		logfields.Package(pr.Name),
		slog.String("kind", res.Kind.String()),
		slog.Int("code", res.Code),
		slog.String("message", res.Message))
	e.publish(ctx, events.PackageDownloadError{
		BatchID: batchID,
		Name:    pr.Name,
		Message: res.Message,
		Code:    res.Code,
		Dirty:   res.IsDirty(),
		At:      time.Now(),
	})
	return pr
}

func (e *Engine) timed(step string, fn func() git.Result) git.Result {
	start := time.Now()
	res := fn()
	e.recorder.ObserveStepDuration(step, time.Since(start), res.IsOK())
	return res
}

func (e *Engine) progressFunc(batchID, name string) git.ProgressFunc {
	if e.bus == nil {
		return nil
	}
	return func(p git.TransferProgress) {
		e.bus.TryPublish(events.PackageTransferProgress{
			BatchID:         batchID,
			Name:            name,
			ReceivedObjects: p.ReceivedObjects,
			TotalObjects:    p.TotalObjects,
			IndexedObjects:  p.IndexedObjects,
			ReceivedBytes:   p.ReceivedBytes,
			IndexedDeltas:   p.IndexedDeltas,
			TotalDeltas:     p.TotalDeltas,
		})
	}
}

func (e *Engine) publish(ctx context.Context, evt events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, evt); err != nil {
		slog.Warn("Failed to publish event", slog.String("event", evt.EventType()), logfields.Error(err))
	}
}

func (p PackageResult) String() string {
	if p.OK() {
		return fmt.Sprintf("%s@%s", p.Name, p.Hash)
	}
	return fmt.Sprintf("%s: %s", p.Name, p.Result.String())
}
