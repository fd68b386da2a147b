// Package registry persists the set of known packages and their pinned commits.
package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
)

// Record is one registered package.
type Record struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Hash    string `json:"hash"`
	Enabled bool   `json:"enabled"`
}

// Entry is the name/url/hash triple used in target lists and the summary.
type Entry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// fileRecord decodes a record where a missing enabled flag means enabled.
type fileRecord struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Hash    string `json:"hash"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// Registry is the in-memory package list backed by a JSON file.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	path        string
	packagesDir string
	records     []Record
	disabled    map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithPackagesDir sets the directory holding package working copies.
// It defaults to the directory containing the registry file.
func WithPackagesDir(dir string) Option { return func(r *Registry) { r.packagesDir = dir } }

// New returns an empty registry that saves to path.
func New(path string, opts ...Option) *Registry {
	r := &Registry{path: path, packagesDir: filepath.Dir(path), disabled: make(map[string]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the registry file. A missing file yields an empty registry.
func Load(path string, opts ...Option) (*Registry, error) {
	r := New(path, opts...)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Registry file not found, starting empty", logfields.Path(path))
			return r, nil
		}
		return nil, errors.WrapError(err, errors.CategoryRegistry, "failed to read registry").
			WithContext("path", path).
			Build()
	}
	var raw []fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapError(err, errors.CategoryRegistry, "registry file is not a JSON package list").
			WithContext("path", path).
			Build()
	}
	for _, fr := range raw {
		rec := Record{Name: fr.Name, URL: fr.URL, Hash: fr.Hash, Enabled: fr.Enabled == nil || *fr.Enabled}
		if i := r.indexOf(rec.Name); i >= 0 {
			r.records[i] = rec
		} else {
			r.records = append(r.records, rec)
		}
	}
	r.rebuildDisabled()
	return r, nil
}

// Path returns the registry file path.
func (r *Registry) Path() string { return r.path }

// PackagesDir returns the directory holding package working copies.
func (r *Registry) PackagesDir() string { return r.packagesDir }

// Save writes all records atomically, creating parent directories.
func (r *Registry) Save() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.recordsOrEmpty(), "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return errors.WrapError(err, errors.CategoryRegistry, "failed to encode registry").Build()
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create registry directory").
			WithContext("path", r.path).
			Build()
	}
	tempPath := r.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write registry").
			WithContext("path", tempPath).
			Build()
	}
	if err := os.Rename(tempPath, r.path); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to replace registry").
			WithContext("path", r.path).
			Build()
	}
	return nil
}

// Records returns a copy of all records in registry order.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.records)
}

// Get returns the record for name.
func (r *Registry) Get(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(name); i >= 0 {
		return r.records[i], true
	}
	return Record{}, false
}

// Summary returns the enabled records in registry order.
func (r *Registry) Summary() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Enabled {
			out = append(out, Entry{Name: rec.Name, URL: rec.URL, Hash: rec.Hash})
		}
	}
	return out
}

// SummaryJSON returns the compact JSON form of Summary.
func (r *Registry) SummaryJSON() string {
	data, err := json.Marshal(r.Summary())
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DisabledPackages returns the names of disabled packages, sorted.
func (r *Registry) DisabledPackages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.disabled))
	for name := range r.disabled {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// IsEnabled reports whether name is registered and enabled.
func (r *Registry) IsEnabled(name string) bool {
	rec, ok := r.Get(name)
	return ok && rec.Enabled
}

// Upsert replaces the record with the same name or appends a new one.
func (r *Registry) Upsert(name, url, hash string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := Record{Name: name, URL: url, Hash: hash, Enabled: enabled}
	if i := r.indexOf(name); i >= 0 {
		r.records[i] = rec
	} else {
		r.records = append(r.records, rec)
	}
	r.setDisabled(name, !enabled)
}

// SetEnabled toggles a package. Unknown names are logged and ignored.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(name)
	if i < 0 {
		slog.Warn("Cannot toggle unknown package", logfields.Package(name), slog.Bool("enabled", enabled))
		return
	}
	r.records[i].Enabled = enabled
	r.setDisabled(name, !enabled)
}

// DisableAll disables every known package.
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		r.records[i].Enabled = false
		r.disabled[r.records[i].Name] = struct{}{}
	}
}

// Remove deletes the record and the package directory, then saves.
func (r *Registry) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	if i := r.indexOf(name); i >= 0 {
		r.records = slices.Delete(r.records, i, i+1)
	} else {
		slog.Warn("Removing unregistered package directory", logfields.Package(name))
	}
	delete(r.disabled, name)
	r.mu.Unlock()

	dir := filepath.Join(r.packagesDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to delete package directory").
			WithContext("path", dir).
			Build()
	}
	slog.Info("Package removed", logfields.Package(name), logfields.Path(dir))
	return r.Save()
}

// ValidateName rejects names that would escape the packages directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.ValidationError("invalid package name").WithContext("package", name).Build()
	}
	return nil
}

func (r *Registry) indexOf(name string) int {
	return slices.IndexFunc(r.records, func(rec Record) bool { return rec.Name == name })
}

func (r *Registry) setDisabled(name string, disabled bool) {
	if disabled {
		r.disabled[name] = struct{}{}
	} else {
		delete(r.disabled, name)
	}
}

func (r *Registry) rebuildDisabled() {
	r.disabled = make(map[string]struct{})
	for _, rec := range r.records {
		if !rec.Enabled {
			r.disabled[rec.Name] = struct{}{}
		}
	}
}

func (r *Registry) recordsOrEmpty() []Record {
	if r.records == nil {
		return []Record{}
	}
	return r.records
}
