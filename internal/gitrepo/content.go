// internal/gitrepo/content.go
package gitrepo

import (
	"io"
	"sort"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/model"
	"gitfleet/internal/store"
)

// ContentHandler reads files, directories, trees, and blobs from one
// repository at a given reference. All operations are read-only and safe to
// run concurrently with a sync: ref updates in the underlying store are
// atomic, so a read observes a pre- or post-fetch state, never a torn one.
type ContentHandler struct {
	store    *store.Store
	repoPath string
}

func NewContentHandler(st *store.Store, repoPath string) *ContentHandler {
	return &ContentHandler{store: st, repoPath: repoPath}
}

func (h *ContentHandler) treeAt(reference, path string) (*object.Tree, error) {
	repo, err := h.store.Open(h.repoPath)
	if err != nil {
		return nil, err
	}
	commit, err := ResolveReference(repo, reference)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return tree, nil
	}
	sub, err := tree.Tree(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "%q is not a directory at %s", path, reference)
	}
	return sub, nil
}

// GetFileContent returns the full contents of the file at path. The blob is
// read entirely into memory; callers needing large-file safety must check
// GetFileSize first.
func (h *ContentHandler) GetFileContent(path, reference string) ([]byte, error) {
	root, err := h.treeAt(reference, "")
	if err != nil {
		return nil, err
	}
	file, err := root.File(path)
	if err != nil {
		entry, entryErr := root.FindEntry(path)
		if entryErr == nil && entry.Mode == filemode.Dir {
			return nil, apperrors.New(apperrors.KindNotAFile, "%q is not a file", path)
		}
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "file %q not found at %s", path, reference)
	}
	reader, err := file.Blob.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// ListDirectory lists the entries of a directory, directories first, each
// group ordered by name. Not paginated.
func (h *ContentHandler) ListDirectory(path, reference string) ([]model.FileEntry, error) {
	tree, err := h.treeAt(reference, path)
	if err != nil {
		return nil, err
	}

	repo, err := h.store.Open(h.repoPath)
	if err != nil {
		return nil, err
	}

	entries := make([]model.FileEntry, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		fe := model.FileEntry{
			Name: entry.Name,
			Path: joinTreePath(path, entry.Name),
			Type: "blob",
			Mode: uint32(entry.Mode),
			SHA:  entry.Hash.String(),
		}
		if entry.Mode == filemode.Dir {
			fe.Type = "tree"
		} else if blob, err := repo.BlobObject(entry.Hash); err == nil {
			fe.Size = blob.Size
		}
		entries = append(entries, fe)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "tree"
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// GetFilePath validates that path resolves to an existing object and reports
// its type and metadata.
func (h *ContentHandler) GetFilePath(path, reference string) (model.FileEntry, error) {
	root, err := h.treeAt(reference, "")
	if err != nil {
		return model.FileEntry{}, err
	}
	entry, err := root.FindEntry(path)
	if err != nil {
		return model.FileEntry{}, apperrors.Wrap(apperrors.KindNotFound, err, "path %q not found at %s", path, reference)
	}

	fe := model.FileEntry{
		Name: entry.Name,
		Path: path,
		Type: "blob",
		Mode: uint32(entry.Mode),
		SHA:  entry.Hash.String(),
	}
	if entry.Mode == filemode.Dir {
		fe.Type = "tree"
	} else {
		repo, err := h.store.Open(h.repoPath)
		if err != nil {
			return model.FileEntry{}, err
		}
		if blob, err := repo.BlobObject(entry.Hash); err == nil {
			fe.Size = blob.Size
		}
	}
	return fe, nil
}

// GetTree returns the tree object at reference and path.
func (h *ContentHandler) GetTree(reference, path string) (*object.Tree, error) {
	return h.treeAt(reference, path)
}

// GetBlob returns the blob object at reference and path.
func (h *ContentHandler) GetBlob(reference, path string) (*object.Blob, error) {
	root, err := h.treeAt(reference, "")
	if err != nil {
		return nil, err
	}
	file, err := root.File(path)
	if err != nil {
		entry, entryErr := root.FindEntry(path)
		if entryErr == nil && entry.Mode == filemode.Dir {
			return nil, apperrors.New(apperrors.KindNotAFile, "%q is not a file", path)
		}
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "blob %q not found at %s", path, reference)
	}
	return &file.Blob, nil
}

// GetFileSize returns the size of the file at path in bytes.
func (h *ContentHandler) GetFileSize(path, reference string) (int64, error) {
	blob, err := h.GetBlob(reference, path)
	if err != nil {
		return 0, err
	}
	return blob.Size, nil
}

func joinTreePath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
