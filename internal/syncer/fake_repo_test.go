package syncer

import (
	"context"
	stderrors "errors"
	"slices"
	"sync"

	"git.home.luguber.info/inful/packsync/internal/git"
)

// fakeRepo models working copies in memory. remote holds the upstream history per
// package, oldest first; clone and fetch copy all of it.
type fakeRepo struct {
	mu         sync.Mutex
	remote     map[string][]string
	present    map[string]bool
	local      map[string]map[string]bool
	head       map[string]string
	dirty      map[string]bool
	resetFails map[string]bool
	cloneFails map[string]bool
	calls      []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		remote:     map[string][]string{},
		present:    map[string]bool{},
		local:      map[string]map[string]bool{},
		head:       map[string]string{},
		dirty:      map[string]bool{},
		resetFails: map[string]bool{},
		cloneFails: map[string]bool{},
	}
}

func (f *fakeRepo) record(op, name string) { f.calls = append(f.calls, op+":"+name) }

func (f *fakeRepo) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeRepo) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeRepo) copyRemote(name string) {
	if f.local[name] == nil {
		f.local[name] = map[string]bool{}
	}
	for _, h := range f.remote[name] {
		f.local[name][h] = true
	}
}

func (f *fakeRepo) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[name]
}

func (f *fakeRepo) Clone(_ context.Context, url string, progress git.ProgressFunc) (string, git.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := git.RepoNameFromURL(url)
	f.record("clone", name)
	if f.cloneFails[name] {
		return name, git.Failed(stderrors.New("repository not found"))
	}
	f.present[name] = true
	f.copyRemote(name)
	if hist := f.remote[name]; len(hist) > 0 {
		f.head[name] = hist[len(hist)-1]
	}
	if progress != nil {
		progress(git.TransferProgress{ReceivedObjects: 3, TotalObjects: 3})
	}
	return name, git.OK()
}

func (f *fakeRepo) IsClean(name string) (bool, git.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dirty[name], git.OK()
}

func (f *fakeRepo) ResetToHead(name string) git.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset", name)
	if f.resetFails[name] {
		return git.Failed(stderrors.New("index.lock exists"))
	}
	f.dirty[name] = false
	return git.OK()
}

func (f *fakeRepo) HasCommit(name, hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local[name][hash]
}

func (f *fakeRepo) Fetch(_ context.Context, name string, _ git.ProgressFunc) git.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch", name)
	f.copyRemote(name)
	return git.OK()
}

func (f *fakeRepo) CheckoutDetached(name, hash string) git.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkout", name)
	if !f.local[name][hash] {
		return git.Failed(stderrors.New("object not found"))
	}
	f.head[name] = hash
	return git.OK()
}

func (f *fakeRepo) CurrentHead(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.head[name]; ok {
		return h
	}
	return git.ZeroHash
}

func (f *fakeRepo) IsDescendantOrEqual(name, candidate string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	hist := f.remote[name]
	return slices.Index(hist, candidate) >= 0 && slices.Index(hist, f.head[name]) >= slices.Index(hist, candidate)
}
