// Package syncer reconciles the package registry and the on-disk working copies
// with a target package list.
//
// A pass disables every known package, then walks the targets in order: missing
// working copies are cloned, dirty trees are reset once, and a working copy whose
// head differs from the target hash is fetched (when the commit is not local) and
// checked out detached at that hash. Packages that end the pass at their target
// hash are re-enabled and pinned in the registry; everything else stays disabled.
// The registry is saved at the end of every pass.
//
// Progress and failures are published on the events bus. Engine.Go runs a pass
// on its own goroutine and delivers the BatchResult on a channel.
package syncer
