// internal/gitrepo/resolve.go
package gitrepo

import (
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	apperrors "gitfleet/internal/errors"
)

// ResolveReference resolves ref to a commit. Resolution order is fixed:
// exact commit SHA, then tag (annotated tags peeled to their target), then
// branch. An ambiguous name shared by a tag and a branch resolves to the tag.
func ResolveReference(repo *gogit.Repository, ref string) (*object.Commit, error) {
	if ref == "" || ref == "HEAD" {
		head, err := repo.Head()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvalidReference, err, "repository has no HEAD")
		}
		return repo.CommitObject(head.Hash())
	}

	if isCommitSHA(ref) {
		if commit, err := repo.CommitObject(plumbing.NewHash(ref)); err == nil {
			return commit, nil
		}
	}

	if tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true); err == nil {
		return peelToCommit(repo, tagRef.Hash())
	}

	if branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return repo.CommitObject(branchRef.Hash())
	}

	return nil, apperrors.New(apperrors.KindInvalidReference, "reference %q does not resolve to a commit, tag, or branch", ref)
}

// peelToCommit follows an annotated tag object to its target commit, or
// treats the hash as a commit directly for lightweight tags.
func peelToCommit(repo *gogit.Repository, hash plumbing.Hash) (*object.Commit, error) {
	if commit, err := repo.CommitObject(hash); err == nil {
		return commit, nil
	}
	tag, err := repo.TagObject(hash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidReference, err, "tag object %s does not point at a commit", hash)
	}
	return tag.Commit()
}

func isCommitSHA(ref string) bool {
	if len(ref) != 40 {
		return false
	}
	for _, r := range ref {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
