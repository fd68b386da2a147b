// Package git is the repository adapter behind package synchronization.
//
// Each package lives in its own working copy under the packages directory. The
// adapter clones, fetches, checks cleanliness, discards local modifications and
// pins a working copy to an exact commit with a detached HEAD. Operations report
// a Result instead of an error so callers can tell a dirty tree (recoverable by
// ResetToHead) from a backend failure.
//
// Transient network failures on clone and fetch are retried with the configured
// retry.Policy; authentication, missing repositories and unsupported protocols
// are classified as permanent and never retried.
package git
