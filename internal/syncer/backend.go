// internal/syncer/backend.go
package syncer

import (
	"context"
	"errors"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"

	"gitfleet/internal/gitrepo"
	"gitfleet/internal/model"
	"gitfleet/internal/store"
)

// Backend abstracts the git operations the engine drives against a
// repository store, so unit tests can substitute failures without a remote.
type Backend interface {
	Exists(path string) bool
	Valid(path string) bool
	CreateBare(path string) error
	Clone(ctx context.Context, path, url string, bare, mirror bool) error
	Fetch(ctx context.Context, path string, mirror bool) error
	Remove(path string) error
	Snapshot(ctx context.Context, path string, since time.Time) (*Snapshot, error)
}

// Snapshot is the state of a store read back after a clone or fetch.
type Snapshot struct {
	DefaultBranch string
	HeadCommit    string
	TotalCommits  int
	Branches      []model.RefInfo
	NewCommits    []model.CommitInfo
}

// storeBackend implements Backend on the real repository store.
type storeBackend struct {
	store *store.Store
}

func NewStoreBackend(st *store.Store) Backend {
	return &storeBackend{store: st}
}

func (b *storeBackend) Exists(path string) bool { return b.store.Exists(path) }
func (b *storeBackend) Valid(path string) bool  { return b.store.Valid(path) }

func (b *storeBackend) CreateBare(path string) error {
	_, err := b.store.CreateBare(path)
	return err
}

func (b *storeBackend) Clone(ctx context.Context, path, url string, bare, mirror bool) error {
	_, err := b.store.Clone(ctx, path, url, bare, mirror)
	return err
}

func (b *storeBackend) Remove(path string) error {
	return b.store.Remove(path)
}

// Fetch updates the store from its configured remote. Mirror stores fetch
// every ref, pruning deleted ones, so the local refs stay an exact copy.
func (b *storeBackend) Fetch(ctx context.Context, path string, mirror bool) error {
	repo, err := b.store.Open(path)
	if err != nil {
		return err
	}

	// Stores are bare pull copies with no local work, so remote heads map
	// straight onto local heads; the default clone refspec would leave the
	// snapshot reading stale branches.
	opts := &gogit.FetchOptions{
		RemoteName: "origin",
		Force:      true,
		Prune:      true,
		Tags:       gogit.AllTags,
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/heads/*"},
	}
	if mirror {
		opts.RefSpecs = []gitconfig.RefSpec{"+refs/*:refs/*"}
	}

	err = repo.FetchContext(ctx, opts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return store.MapTransportError(err, path)
	}
	return nil
}

// Snapshot reads back default branch, head, branch list, total commit count,
// and commits newer than since from the store.
func (b *storeBackend) Snapshot(ctx context.Context, path string, since time.Time) (*Snapshot, error) {
	refs := gitrepo.NewRefsHandler(b.store, path)

	defaultBranch, err := refs.DefaultBranch()
	if err != nil {
		return nil, err
	}
	branches, err := refs.ListBranches()
	if err != nil {
		return nil, err
	}
	total, err := refs.CountCommits(defaultBranch)
	if err != nil {
		return nil, err
	}
	newCommits, err := refs.CommitsSince(defaultBranch, since)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		DefaultBranch: defaultBranch,
		TotalCommits:  total,
		Branches:      branches,
		NewCommits:    newCommits,
	}
	for _, branch := range branches {
		if branch.Name == defaultBranch {
			snap.HeadCommit = branch.CommitSHA
		}
	}
	return snap, nil
}
