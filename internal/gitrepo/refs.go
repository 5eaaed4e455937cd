// internal/gitrepo/refs.go
package gitrepo

import (
	"sort"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/model"
	"gitfleet/internal/store"
)

// RefsHandler enumerates and inspects branches, tags, and commit history for
// one repository. Independent of any working-directory state.
type RefsHandler struct {
	store    *store.Store
	repoPath string
}

func NewRefsHandler(st *store.Store, repoPath string) *RefsHandler {
	return &RefsHandler{store: st, repoPath: repoPath}
}

func (h *RefsHandler) repo() (*gogit.Repository, error) {
	return h.store.Open(h.repoPath)
}

// ListBranches returns all branches sorted by name.
func (h *RefsHandler) ListBranches() ([]model.RefInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}

	var refs []model.RefInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		refs = append(refs, model.RefInfo{
			Name:      ref.Name().Short(),
			Type:      "branch",
			CommitSHA: ref.Hash().String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// ListTags returns all tags sorted by name. Annotated tags are peeled to
// their target commit and carry the tag message.
func (h *RefsHandler) ListTags() ([]model.RefInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Tags()
	if err != nil {
		return nil, err
	}

	var refs []model.RefInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		refs = append(refs, h.tagInfo(repo, ref))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (h *RefsHandler) tagInfo(repo *gogit.Repository, ref *plumbing.Reference) model.RefInfo {
	info := model.RefInfo{
		Name:      ref.Name().Short(),
		Type:      "tag",
		CommitSHA: ref.Hash().String(),
	}
	if tag, err := repo.TagObject(ref.Hash()); err == nil {
		info.CommitSHA = tag.Target.String()
		info.Message = tag.Message
	}
	return info
}

// GetBranchInfo returns metadata for a single branch.
func (h *RefsHandler) GetBranchInfo(name string) (model.RefInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return model.RefInfo{}, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		return model.RefInfo{}, apperrors.Wrap(apperrors.KindNotFound, err, "branch %q not found", name)
	}
	return model.RefInfo{Name: name, Type: "branch", CommitSHA: ref.Hash().String()}, nil
}

// GetTagInfo returns metadata for a single tag.
func (h *RefsHandler) GetTagInfo(name string) (model.RefInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return model.RefInfo{}, err
	}
	ref, err := repo.Reference(plumbing.NewTagReferenceName(name), true)
	if err != nil {
		return model.RefInfo{}, apperrors.Wrap(apperrors.KindNotFound, err, "tag %q not found", name)
	}
	return h.tagInfo(repo, ref), nil
}

// GetCommits returns history for a reference in reverse-chronological order,
// ties broken by hash. Skip is applied before limit, after ordering. A
// non-positive limit means no limit; history can be unbounded, so callers
// should pass one.
func (h *RefsHandler) GetCommits(reference string, limit, skip int) ([]model.CommitInfo, error) {
	commits, err := h.collectCommits(reference, limit, skip)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(commits, func(i, j int) bool {
		if !commits[i].CommittedAt.Equal(commits[j].CommittedAt) {
			return commits[i].CommittedAt.After(commits[j].CommittedAt)
		}
		return commits[i].SHA < commits[j].SHA
	})

	if skip >= len(commits) {
		return nil, nil
	}
	commits = commits[skip:]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

func (h *RefsHandler) collectCommits(reference string, limit, skip int) ([]model.CommitInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	head, err := ResolveReference(repo, reference)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&gogit.LogOptions{From: head.Hash, Order: gogit.LogOrderCommitterTime})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	want := -1
	if limit > 0 {
		want = skip + limit
	}

	// Once want commits are collected the iterator can only stop on a
	// strictly older commit: commits sharing the cut timestamp may still be
	// reordered into the page by the hash tie-break, so the whole tie group
	// has to be drained first.
	var cutoff time.Time
	var commits []model.CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if want > 0 && len(commits) >= want && !c.Committer.When.Equal(cutoff) {
			return storer.ErrStop
		}
		commits = append(commits, commitToInfo(c))
		if want > 0 && len(commits) == want {
			cutoff = c.Committer.When
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// GetCommitDetails returns metadata for one commit by SHA.
func (h *RefsHandler) GetCommitDetails(sha string) (model.CommitInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return model.CommitInfo{}, err
	}
	if !isCommitSHA(sha) {
		return model.CommitInfo{}, apperrors.New(apperrors.KindNotFound, "%q is not a commit SHA", sha)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return model.CommitInfo{}, apperrors.Wrap(apperrors.KindNotFound, err, "commit %q not found", sha)
	}
	return commitToInfo(commit), nil
}

// GetBranchCommits returns paginated history for a branch.
func (h *RefsHandler) GetBranchCommits(branch string, limit, skip int) ([]model.CommitInfo, error) {
	if _, err := h.GetBranchInfo(branch); err != nil {
		return nil, err
	}
	return h.GetCommits(branch, limit, skip)
}

// GetTagCommits returns paginated history reachable from a tag.
func (h *RefsHandler) GetTagCommits(tag string, limit, skip int) ([]model.CommitInfo, error) {
	if _, err := h.GetTagInfo(tag); err != nil {
		return nil, err
	}
	return h.GetCommits(tag, limit, skip)
}

// CountCommits counts all commits reachable from a reference.
func (h *RefsHandler) CountCommits(reference string) (int, error) {
	repo, err := h.repo()
	if err != nil {
		return 0, err
	}
	head, err := ResolveReference(repo, reference)
	if err != nil {
		return 0, err
	}
	iter, err := repo.Log(&gogit.LogOptions{From: head.Hash})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	return count, err
}

// CommitsSince returns commits reachable from reference with a committer
// date strictly after since. Iteration is in committer-time order, so it
// stops at the first commit at or before the cutoff.
func (h *RefsHandler) CommitsSince(reference string, since time.Time) ([]model.CommitInfo, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	head, err := ResolveReference(repo, reference)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&gogit.LogOptions{From: head.Hash, Order: gogit.LogOrderCommitterTime})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var commits []model.CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if !since.IsZero() && !c.Committer.When.After(since) {
			return storer.ErrStop
		}
		commits = append(commits, commitToInfo(c))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// DefaultBranch reports the branch HEAD points at, falling back to the only
// branch present when HEAD is unborn.
func (h *RefsHandler) DefaultBranch() (string, error) {
	repo, err := h.repo()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err == nil && head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	branches, err := h.ListBranches()
	if err != nil || len(branches) == 0 {
		return "", apperrors.New(apperrors.KindNotFound, "repository has no branches")
	}
	return branches[0].Name, nil
}

func commitToInfo(c *object.Commit) model.CommitInfo {
	message := c.Message
	summary, _, _ := strings.Cut(message, "\n")

	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}

	return model.CommitInfo{
		SHA:            c.Hash.String(),
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		Message:        message,
		Summary:        summary,
		AuthoredAt:     c.Author.When,
		CommittedAt:    c.Committer.When,
		Parents:        parents,
	}
}
