// internal/gitrepo/worktree.go
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/locks"
	"gitfleet/internal/store"
)

// WorktreeHandler creates and deletes isolated working directories from a
// bare store and performs checkouts against them. It is the only component
// that mutates filesystem state outside the bare store.
//
// Linked worktrees are driven through the git binary: go-git cannot create
// them. Every mutating call is serialized per worktree path.
type WorktreeHandler struct {
	store    *store.Store
	repoPath string
	locks    *locks.Keyed
}

func NewWorktreeHandler(st *store.Store, repoPath string, pathLocks *locks.Keyed) *WorktreeHandler {
	return &WorktreeHandler{store: st, repoPath: repoPath, locks: pathLocks}
}

// CreateWorkdir materializes a working checkout of reference at path. Fails
// with CheckoutConflict if path exists and is non-empty, unless forced.
func (h *WorktreeHandler) CreateWorkdir(ctx context.Context, path, reference string, force bool) error {
	h.locks.Lock(path)
	defer h.locks.Unlock(path)

	if !force {
		if entries, err := os.ReadDir(path); err == nil && len(entries) > 0 {
			return apperrors.New(apperrors.KindCheckoutConflict, "path %s exists and is not empty", path)
		}
	}

	// Validate the reference against the bare store before touching disk.
	repo, err := h.store.Open(h.repoPath)
	if err != nil {
		return err
	}
	if _, err := ResolveReference(repo, reference); err != nil {
		return err
	}

	args := []string{"-C", h.repoPath, "worktree", "add"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path, reference)
	if err := runGit(ctx, args...); err != nil {
		return apperrors.Wrap(apperrors.KindCheckoutConflict, err, "failed to create worktree at %s", path)
	}

	// worktree metadata lives inside the bare store.
	h.store.Invalidate(h.repoPath)
	return nil
}

// DeleteWorkdir removes a worktree created with CreateWorkdir. Refuses to
// delete a worktree with uncommitted state unless forced.
func (h *WorktreeHandler) DeleteWorkdir(ctx context.Context, path string, force bool) error {
	h.locks.Lock(path)
	defer h.locks.Unlock(path)

	if !force {
		dirty, err := h.isDirty(ctx, path)
		if err != nil {
			return err
		}
		if dirty {
			return apperrors.New(apperrors.KindInUse, "worktree %s has uncommitted changes", path)
		}
	}

	args := []string{"-C", h.repoPath, "worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if err := runGit(ctx, args...); err != nil {
		return apperrors.Wrap(apperrors.KindInUse, err, "failed to delete worktree at %s", path)
	}

	h.store.Invalidate(h.repoPath)
	return nil
}

// CheckoutBranch switches the worktree at workdirPath to branch.
func (h *WorktreeHandler) CheckoutBranch(ctx context.Context, workdirPath, branch string, force bool) error {
	return h.checkout(ctx, workdirPath, branch, force)
}

// CheckoutCommit checks out a specific commit in the worktree (detached HEAD).
func (h *WorktreeHandler) CheckoutCommit(ctx context.Context, workdirPath, sha string, force bool) error {
	return h.checkout(ctx, workdirPath, sha, force)
}

func (h *WorktreeHandler) checkout(ctx context.Context, workdirPath, reference string, force bool) error {
	h.locks.Lock(workdirPath)
	defer h.locks.Unlock(workdirPath)

	repo, err := h.store.Open(h.repoPath)
	if err != nil {
		return err
	}
	if _, err := ResolveReference(repo, reference); err != nil {
		return err
	}

	if !force {
		dirty, err := h.isDirty(ctx, workdirPath)
		if err != nil {
			return err
		}
		if dirty {
			return apperrors.New(apperrors.KindDirtyWorkdir, "checkout of %q would discard uncommitted changes in %s", reference, workdirPath)
		}
	}

	args := []string{"-C", workdirPath, "checkout"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, reference)
	if err := runGit(ctx, args...); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidReference, err, "failed to checkout %q in %s", reference, workdirPath)
	}
	return nil
}

// isDirty reports whether the worktree has uncommitted changes.
func (h *WorktreeHandler) isDirty(ctx context.Context, workdirPath string) (bool, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", workdirPath, "status", "--porcelain").Output()
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindNotFound, err, "no worktree at %s", workdirPath)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func runGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
