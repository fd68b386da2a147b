package helpers

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

var installOnce sync.Once

// InstallInProcessTransport serves file:// URLs from go-git's in-process server so
// tests do not depend on a git binary.
func InstallInProcessTransport() {
	installOnce.Do(func() {
		client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	})
}

// Upstream is a bare repository with a scratch worktree used to author commits.
type Upstream struct {
	Dir  string
	URL  string
	repo *git.Repository
	wt   *git.Worktree
	work string
}

// NewUpstream creates <root>/<name>.git and installs the in-process transport.
func NewUpstream(t *testing.T, root, name string) *Upstream {
	t.Helper()
	InstallInProcessTransport()

	bareDir := filepath.Join(root, name+".git")
	workDir := t.TempDir()
	storage := filesystem.NewStorage(osfs.New(bareDir), cache.NewObjectLRUDefault())
	repo, err := git.Init(storage, osfs.New(workDir))
	if err != nil {
		t.Fatalf("failed to init upstream %s: %v", name, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get upstream worktree: %v", err)
	}
	return &Upstream{Dir: bareDir, URL: "file://" + filepath.ToSlash(bareDir), repo: repo, wt: wt, work: workDir}
}

// Commit writes file with content, commits it and returns the commit id.
func (u *Upstream) Commit(t *testing.T, file, content, message string) string {
	t.Helper()
	path := filepath.Join(u.work, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", file, err)
	}
	if _, err := u.wt.Add(file); err != nil {
		t.Fatalf("add %s: %v", file, err)
	}
	hash, err := u.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "packsync", Email: "packsync@example.invalid", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

// Repository exposes the upstream's go-git handle for ancestry checks.
func (u *Upstream) Repository() *git.Repository { return u.repo }
