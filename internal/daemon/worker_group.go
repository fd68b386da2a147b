package daemon

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// WorkerGroup runs the daemon's long-lived goroutines by name. After
// StopAndWait starts, Go refuses new workers.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	running  map[string]int
	stopping bool
}

// Go starts fn as worker name. It returns false once the group is stopping.
func (g *WorkerGroup) Go(name string, fn func()) bool {
	if fn == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		slog.Debug("Worker refused, daemon stopping", slog.String("worker", name))
		return false
	}
	if g.running == nil {
		g.running = make(map[string]int)
	}
	g.running[name]++
	g.wg.Add(1)
	go func() {
		defer g.done(name)
		fn()
	}()
	return true
}

func (g *WorkerGroup) done(name string) {
	g.mu.Lock()
	if g.running[name]--; g.running[name] <= 0 {
		delete(g.running, name)
	}
	g.mu.Unlock()
	slog.Debug("Worker exited", slog.String("worker", name))
	g.wg.Done()
}

// Pending returns the names of workers still running, sorted.
func (g *WorkerGroup) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Sorted(maps.Keys(g.running))
}

// StopAndWait waits for every worker until ctx ends. The error names the
// workers that did not exit in time.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapError(ctx.Err(), errors.CategoryDaemon, "daemon workers did not stop").
			WithContext("pending", strings.Join(g.Pending(), ",")).
			Build()
	}
}
