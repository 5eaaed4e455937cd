// internal/gitrepo/fixture_test.go
package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"gitfleet/internal/store"
)

var fixtureEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newFixtureRepo initializes an empty non-bare repository in a temp dir and
// returns its path, handle, and a store rooted alongside it.
func newFixtureRepo(t *testing.T) (string, *gogit.Repository, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo, store.New(t.TempDir())
}

func mustOpen(t *testing.T, st *store.Store, path string) *gogit.Repository {
	t.Helper()
	repo, err := st.Open(path)
	require.NoError(t, err)
	return repo
}

func signature(when time.Time) *object.Signature {
	return &object.Signature{Name: "Dev One", Email: "dev@example.com", When: when}
}

// commitFile writes content to name, stages it, and commits with the given
// committer time.
func commitFile(t *testing.T, repo *gogit.Repository, name, content, msg string, when time.Time) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)

	full := filepath.Join(wt.Filesystem.Root(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author:    signature(when),
		Committer: signature(when),
	})
	require.NoError(t, err)
	return hash
}

// commitSeries creates n commits with strictly increasing committer times,
// one minute apart, returning the hashes oldest first.
func commitSeries(t *testing.T, repo *gogit.Repository, n int) []plumbing.Hash {
	t.Helper()
	hashes := make([]plumbing.Hash, n)
	for i := 0; i < n; i++ {
		hashes[i] = commitFile(t, repo, "counter.txt", fmt.Sprintf("%d\n", i),
			fmt.Sprintf("commit %d", i), fixtureEpoch.Add(time.Duration(i)*time.Minute))
	}
	return hashes
}

func createBranch(t *testing.T, repo *gogit.Repository, name string, target plumbing.Hash) {
	t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), target)
	require.NoError(t, repo.Storer.SetReference(ref))
}

func createLightweightTag(t *testing.T, repo *gogit.Repository, name string, target plumbing.Hash) {
	t.Helper()
	_, err := repo.CreateTag(name, target, nil)
	require.NoError(t, err)
}

func createAnnotatedTag(t *testing.T, repo *gogit.Repository, name string, target plumbing.Hash, message string) {
	t.Helper()
	_, err := repo.CreateTag(name, target, &gogit.CreateTagOptions{
		Tagger:  signature(fixtureEpoch),
		Message: message,
	})
	require.NoError(t, err)
}
