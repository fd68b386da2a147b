package git

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/retry"
)

// ZeroHash is reported by CurrentHead when the head cannot be resolved.
var ZeroHash = plumbing.ZeroHash.String()

// Client performs repository operations on working copies under one packages directory.
type Client struct {
	dir            string
	auth           transport.AuthMethod
	policy         retry.Policy
	cleanUntracked bool
}

// Option configures a Client.
type Option func(*Client)

// WithAuth sets the transport authentication used for clone and fetch.
func WithAuth(auth transport.AuthMethod) Option { return func(c *Client) { c.auth = auth } }

// WithRetryPolicy sets the retry policy for clone and fetch.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// WithCleanUntracked makes ResetToHead also delete untracked files and directories.
func WithCleanUntracked(clean bool) Option { return func(c *Client) { c.cleanUntracked = clean } }

// NewClient creates a client rooted at dir.
func NewClient(dir string, opts ...Option) *Client {
	c := &Client{dir: dir, policy: retry.DefaultPolicy(), cleanUntracked: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the packages directory.
func (c *Client) Dir() string { return c.dir }

// Path returns the working copy path of a package.
func (c *Client) Path(name string) string { return filepath.Join(c.dir, name) }

// Exists reports whether the package directory exists.
func (c *Client) Exists(name string) bool {
	fi, err := os.Stat(c.Path(name))
	return err == nil && fi.IsDir()
}

// RepoNameFromURL derives the working copy name from the last URL path segment,
// stripping trailing slashes and a .git suffix.
func RepoNameFromURL(url string) string {
	s := strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".git")
}

func (c *Client) open(name string) (*git.Repository, error) {
	repo, err := git.PlainOpen(c.Path(name))
	if err != nil {
		return nil, ClassifyGitError(err, "open", name)
	}
	return repo, nil
}

// Clone clones url into the packages directory and returns the derived name.
func (c *Client) Clone(ctx context.Context, url string, progress ProgressFunc) (string, Result) {
	name := RepoNameFromURL(url)
	if name == "" {
		return "", Failed(GitError("cannot derive package name from url").WithContext("url", url).Build())
	}
	path := c.Path(name)
	if _, err := os.Stat(path); err == nil {
		return name, Failed(ClassifyGitError(git.ErrRepositoryAlreadyExists, "clone", name))
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return name, Failed(ClassifyGitError(err, "clone", name))
	}

	slog.Debug("Cloning package", logfields.Name(name), logfields.URL(url), logfields.Path(path))
	err := c.withRetry(ctx, "clone", name, func() error {
		_, cerr := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
			URL:      url,
			Auth:     c.auth,
			Progress: newProgressWriter(progress),
		})
		if cerr != nil {
			_ = os.RemoveAll(path)
			return classifyRemoteError("clone", url, cerr)
		}
		return nil
	})
	if err != nil {
		return name, Failed(ClassifyGitError(err, "clone", name))
	}
	slog.Info("Package cloned", logfields.Name(name), logfields.URL(url), logfields.Hash(c.CurrentHead(name)))
	return name, OK()
}

// Status returns Dirty when any entry is neither unmodified nor ignored.
func (c *Client) Status(name string) Result {
	repo, err := c.open(name)
	if err != nil {
		return Failed(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Failed(ClassifyGitError(err, "status", name))
	}
	st, err := wt.Status()
	if err != nil {
		return Failed(ClassifyGitError(err, "status", name))
	}
	if !st.IsClean() {
		slog.Debug("Working copy is dirty", logfields.Name(name), slog.Int("entries", len(st)))
		return Dirty(name)
	}
	return OK()
}

// IsClean reports cleanliness; the Result carries the failure when the status could not be read.
func (c *Client) IsClean(name string) (bool, Result) {
	r := c.Status(name)
	switch r.Kind {
	case ResultOK:
		return true, r
	case ResultDirty:
		return false, OK()
	default:
		return false, r
	}
}

// ResetToHead discards local modifications by force-checking out the current head.
func (c *Client) ResetToHead(name string) Result {
	repo, err := c.open(name)
	if err != nil {
		return Failed(err)
	}
	head, err := repo.Head()
	if err != nil {
		return Failed(ClassifyGitError(err, "reset", name))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Failed(ClassifyGitError(err, "reset", name))
	}
	// go-git's hard reset also drops untracked files; keep them when cleaning is off.
	var kept []untrackedFile
	if !c.cleanUntracked {
		if kept, err = collectUntracked(wt, c.Path(name)); err != nil {
			return Failed(ClassifyGitError(err, "reset", name))
		}
	}
	if err := wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
		return Failed(ClassifyGitError(err, "reset", name))
	}
	if c.cleanUntracked {
		if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
			return Failed(ClassifyGitError(err, "clean", name))
		}
	} else if err := restoreUntracked(c.Path(name), kept); err != nil {
		return Failed(ClassifyGitError(err, "reset", name))
	}
	slog.Info("Reset working copy to head", logfields.Name(name), logfields.Hash(head.Hash().String()))
	return OK()
}

type untrackedFile struct {
	path string
	mode os.FileMode
	data []byte
}

func collectUntracked(wt *git.Worktree, root string) ([]untrackedFile, error) {
	status, err := wt.Status()
	if err != nil {
		return nil, err
	}
	var files []untrackedFile
	for path, st := range status {
		if st.Worktree != git.Untracked {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(path))
		fi, err := os.Lstat(full)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		data, err := os.ReadFile(full) // #nosec G304 -- path comes from the worktree status
		if err != nil {
			return nil, err
		}
		files = append(files, untrackedFile{path: full, mode: fi.Mode().Perm(), data: data})
	}
	return files, nil
}

func restoreUntracked(root string, files []untrackedFile) error {
	for _, f := range files {
		if _, err := os.Lstat(f.path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(f.path, f.data, f.mode); err != nil {
			return err
		}
	}
	if len(files) > 0 {
		slog.Debug("Kept untracked files across reset", logfields.Path(root), slog.Int("files", len(files)))
	}
	return nil
}

// HasCommit reports whether hash is a commit present in the local object store.
func (c *Client) HasCommit(name, hash string) bool {
	if !plumbing.IsHash(hash) {
		return false
	}
	repo, err := c.open(name)
	if err != nil {
		return false
	}
	_, err = repo.CommitObject(plumbing.NewHash(hash))
	return err == nil
}

// Fetch fetches origin, moves head to the fetched head and force-checks it out.
func (c *Client) Fetch(ctx context.Context, name string, progress ProgressFunc) Result {
	repo, err := c.open(name)
	if err != nil {
		return Failed(err)
	}
	url := remoteURL(repo)
	err = c.withRetry(ctx, "fetch", name, func() error {
		ferr := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			RefSpecs:   []ggitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
			Tags:       git.AllTags,
			Auth:       c.auth,
			Progress:   newProgressWriter(progress),
		})
		if ferr != nil && !stderrors.Is(ferr, git.NoErrAlreadyUpToDate) {
			return classifyRemoteError("fetch", url, ferr)
		}
		return nil
	})
	if err != nil {
		return Failed(ClassifyGitError(err, "fetch", name))
	}

	target, ok := fetchedHead(repo)
	if !ok {
		slog.Debug("No fetched head to move to", logfields.Name(name))
		return OK()
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Failed(ClassifyGitError(err, "fetch", name))
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return Failed(ClassifyGitError(err, "fetch", name))
	}
	slog.Info("Fetched package", logfields.Name(name), logfields.Hash(target.String()))
	return OK()
}

// CheckoutDetached pins the working copy to hash with a detached HEAD.
func (c *Client) CheckoutDetached(name, hash string) Result {
	if !plumbing.IsHash(hash) {
		return Failed(GitError("invalid commit id").WithContext("hash", hash).WithContext("package", name).Build())
	}
	repo, err := c.open(name)
	if err != nil {
		return Failed(err)
	}
	h := plumbing.NewHash(hash)
	if _, err := repo.CommitObject(h); err != nil {
		return Failed(ClassifyGitError(err, "checkout", name))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Failed(ClassifyGitError(err, "checkout", name))
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: h, Force: true}); err != nil {
		return Failed(ClassifyGitError(err, "checkout", name))
	}
	slog.Info("Checked out package", logfields.Name(name), logfields.Hash(hash))
	return OK()
}

// CurrentHead returns the head commit, or ZeroHash when it cannot be resolved.
func (c *Client) CurrentHead(name string) string {
	repo, err := c.open(name)
	if err != nil {
		return ZeroHash
	}
	head, err := repo.Head()
	if err != nil {
		return ZeroHash
	}
	return head.Hash().String()
}

// IsDescendantOrEqual reports whether head equals candidate or descends from it.
func (c *Client) IsDescendantOrEqual(name, candidate string) bool {
	if !plumbing.IsHash(candidate) {
		return false
	}
	repo, err := c.open(name)
	if err != nil {
		return false
	}
	head, err := repo.Head()
	if err != nil {
		return false
	}
	ok, err := isAncestor(repo, plumbing.NewHash(candidate), head.Hash())
	if err != nil {
		slog.Debug("Ancestry walk failed", logfields.Name(name), logfields.Error(err))
		return false
	}
	return ok
}

func remoteURL(repo *git.Repository) string {
	remote, err := repo.Remote(git.DefaultRemoteName)
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return remote.Config().URLs[0]
}

// fetchedHead resolves the commit to move to after a fetch: origin/HEAD, then the
// remote counterpart of the current branch, then origin/main and origin/master.
func fetchedHead(repo *git.Repository) (plumbing.Hash, bool) {
	candidates := []plumbing.ReferenceName{plumbing.NewRemoteHEADReferenceName(git.DefaultRemoteName)}
	if head, err := repo.Reference(plumbing.HEAD, false); err == nil && head.Type() == plumbing.SymbolicReference {
		candidates = append(candidates, plumbing.NewRemoteReferenceName(git.DefaultRemoteName, head.Target().Short()))
	}
	candidates = append(candidates,
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, "main"),
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, "master"),
	)
	for _, refName := range candidates {
		if ref, err := repo.Reference(refName, true); err == nil {
			return ref.Hash(), true
		}
	}
	return plumbing.ZeroHash, false
}

// isAncestor reports whether a is reachable from b by walking parents.
func isAncestor(repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := map[plumbing.Hash]struct{}{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == a {
			return true, nil
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return false, nil
}
