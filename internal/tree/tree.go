// Package tree reconstructs hierarchical directory listings from the
// flat, digest-keyed Directory pool carried by a remote execution Tree.
package tree

import (
	"fmt"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"remoteclient/internal/digest"
)

// Index maps each Directory in a Tree's child pool to its content
// digest. Collisions are impossible by construction.
type Index map[digest.Digest]*remoteexecution.Directory

// MissingObjectError reports a DirectoryNode whose digest has no
// corresponding Directory in the pool. The tree is broken or
// incomplete; it is never treated as an empty directory.
type MissingObjectError struct {
	Digest digest.Digest
	Path   string
}

func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("directory %s references missing object %s", e.Path, e.Digest)
}

// NewIndex builds the digest lookup for a Tree's child pool.
func NewIndex(t *remoteexecution.Tree) (Index, error) {
	index := make(Index, len(t.Children))
	for _, child := range t.Children {
		d, err := digest.FromMessage(child)
		if err != nil {
			return nil, fmt.Errorf("hashing tree child: %w", err)
		}
		index[d] = child
	}
	return index, nil
}

// Resolve looks up a child directory, failing hard when the pool does
// not contain it.
func (idx Index) Resolve(d digest.Digest, path string) (*remoteexecution.Directory, error) {
	dir, ok := idx[d]
	if !ok {
		return nil, &MissingObjectError{Digest: d, Path: path}
	}
	return dir, nil
}

// NumFiles counts the file entries across the whole child pool.
func NumFiles(t *remoteexecution.Tree) int {
	n := 0
	for _, child := range t.Children {
		n += len(child.Files)
	}
	return n
}
