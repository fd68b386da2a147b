package syncer

import (
	"log/slog"

	"git.home.luguber.info/inful/packsync/internal/logfields"
)

// Gate names the package whose history unlocks extended features and the commit it must reach.
type Gate struct {
	Package  string
	Baseline string
}

// ShouldUseExtendedFeatures reports whether the gated package is installed, enabled and
// its head equals or descends from the baseline commit.
func (e *Engine) ShouldUseExtendedFeatures(g Gate) bool {
	if g.Package == "" || g.Baseline == "" {
		return false
	}
	if !e.repo.Exists(g.Package) {
		slog.Debug("Gate package not installed", logfields.Package(g.Package))
		return false
	}
	if !e.reg.IsEnabled(g.Package) {
		slog.Debug("Gate package disabled", logfields.Package(g.Package))
		return false
	}
	return e.repo.IsDescendantOrEqual(g.Package, g.Baseline)
}
