package daemon

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
)

const defaultReloadDebounce = 2 * time.Second

// ReloadFunc applies a freshly loaded configuration.
type ReloadFunc func(ctx context.Context, cfg *config.Config) error

// ConfigWatcher reloads the configuration file when its content changes.
// The parent directory is watched so rename-based saves are seen too.
type ConfigWatcher struct {
	path   string
	reload ReloadFunc
	fs     *fsnotify.Watcher

	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration

	applied []byte // content of the last successful reload
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewConfigWatcher(configPath string, reload ReloadFunc) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to resolve config path").
			WithContext("path", configPath).
			Build()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryDaemon, "failed to create file watcher").Build()
	}
	applied, _ := os.ReadFile(abs)
	return &ConfigWatcher{
		path:     abs,
		reload:   reload,
		fs:       fs,
		Debounce: defaultReloadDebounce,
		applied:  applied,
		stop:     make(chan struct{}),
	}, nil
}

func (cw *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.path)
	if err := cw.fs.Add(dir); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to watch config directory").
			WithContext("path", dir).
			Build()
	}
	slog.Info("Watching configuration", logfields.Path(cw.path))
	cw.wg.Add(1)
	go cw.loop(ctx)
	return nil
}

// Stop is idempotent and waits for the watch loop to exit.
func (cw *ConfigWatcher) Stop() {
	cw.once.Do(func() {
		close(cw.stop)
		if err := cw.fs.Close(); err != nil {
			slog.Warn("Failed to close config watcher", logfields.Error(err))
		}
		cw.wg.Wait()
	})
}

func (cw *ConfigWatcher) loop(ctx context.Context) {
	defer cw.wg.Done()
	name := filepath.Base(cw.path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stop:
			return
		case ev, ok := <-cw.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Remove) {
				slog.Warn("Config file removed, keeping current settings", logfields.Path(ev.Name))
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce.Reset(cw.Debounce)
			}
		case err, ok := <-cw.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		case <-debounce.C:
			if err := cw.apply(ctx); err != nil {
				slog.Error("Config reload rejected", logfields.Path(cw.path), logfields.Error(err))
			}
		}
	}
}

// apply loads and hands over the file unless its bytes match the last
// applied version.
func (cw *ConfigWatcher) apply(ctx context.Context) error {
	raw, err := os.ReadFile(cw.path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to read config").Build()
	}
	if bytes.Equal(raw, cw.applied) {
		slog.Debug("Config unchanged, skipping reload", logfields.Path(cw.path))
		return nil
	}
	next, err := config.Load(cw.path)
	if err != nil {
		return err
	}
	if err := cw.reload(ctx, next); err != nil {
		return err
	}
	cw.applied = raw
	slog.Info("Configuration reloaded", logfields.Path(cw.path))
	return nil
}
