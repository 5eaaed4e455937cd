// internal/store/store.go
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	apperrors "gitfleet/internal/errors"
)

// Store resolves repository storage paths under a single root and owns the
// per-path handle registry. Handles are opened lazily and cached for the
// process lifetime; structural mutations (clone, re-clone, delete) must call
// Invalidate so stale handles are never reused.
type Store struct {
	root string

	mu      sync.RWMutex
	handles map[string]*gogit.Repository
}

func New(root string) *Store {
	return &Store{
		root:    root,
		handles: make(map[string]*gogit.Repository),
	}
}

// Root returns the repository root directory.
func (s *Store) Root() string { return s.root }

// Resolve maps (organisation, name) to the deterministic storage path
// <root>/<organisation>/<name>. Both components are sanitized so distinct
// repositories can never collide on disk.
func (s *Store) Resolve(organisation, name string) string {
	return filepath.Join(s.root, sanitize(organisation), sanitize(name))
}

// sanitize keeps alphanumerics, dashes, and underscores.
func sanitize(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Exists reports whether anything is present at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Valid reports whether path holds an openable git repository.
func (s *Store) Valid(path string) bool {
	_, err := s.Open(path)
	return err == nil
}

// Open returns a cached handle for the repository at path, opening it on
// first use.
func (s *Store) Open(path string) (*gogit.Repository, error) {
	s.mu.RLock()
	repo, ok := s.handles[path]
	s.mu.RUnlock()
	if ok {
		return repo, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.handles[path]; ok {
		return repo, nil
	}

	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "no repository at %s", path)
	}
	s.handles[path] = repo
	return repo, nil
}

// CreateBare initializes an empty bare repository at path.
func (s *Store) CreateBare(path string) (*gogit.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	repo, err := gogit.PlainInit(path, true)
	if err != nil {
		return nil, err
	}
	s.put(path, repo)
	return repo, nil
}

// Clone clones url into path. Mirror clones are bare and track every remote
// ref, intended as pull mirrors only.
func (s *Store) Clone(ctx context.Context, path, url string, bare, mirror bool) (*gogit.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	opts := &gogit.CloneOptions{URL: url}
	if mirror {
		bare = true
		opts.Mirror = true
	}
	repo, err := gogit.PlainCloneContext(ctx, path, bare, opts)
	if err != nil {
		// A failed clone can leave a partial directory behind.
		_ = os.RemoveAll(path)
		return nil, MapTransportError(err, url)
	}
	s.put(path, repo)
	return repo, nil
}

// Remove deletes the store directory and drops its handle.
func (s *Store) Remove(path string) error {
	s.Invalidate(path)
	return os.RemoveAll(path)
}

// Invalidate drops the cached handle for path.
func (s *Store) Invalidate(path string) {
	s.mu.Lock()
	delete(s.handles, path)
	s.mu.Unlock()
}

func (s *Store) put(path string, repo *gogit.Repository) {
	s.mu.Lock()
	s.handles[path] = repo
	s.mu.Unlock()
}

// MapTransportError classifies a remote operation failure into an engine
// error kind. Auth failures are not retryable; everything else from the
// transport is treated as a network failure.
func MapTransportError(err error, url string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return apperrors.Wrap(apperrors.KindPermissionDenied, err, "authentication against %s failed", url)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return apperrors.Wrap(apperrors.KindNotFound, err, "remote repository %s not found", url)
	default:
		return apperrors.Wrap(apperrors.KindNetworkFailure, err, "remote operation against %s failed", url)
	}
}
