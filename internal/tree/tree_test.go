package tree

import (
	"bytes"
	"strings"
	"testing"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteclient/internal/digest"
)

func fileNode(t *testing.T, name, content string) *remoteexecution.FileNode {
	t.Helper()
	return &remoteexecution.FileNode{
		Name:   name,
		Digest: digest.FromBlob([]byte(content)).Proto(),
	}
}

// dirNode hashes dir and returns a DirectoryNode referencing it.
func dirNode(t *testing.T, name string, dir *remoteexecution.Directory) *remoteexecution.DirectoryNode {
	t.Helper()
	d, err := digest.FromMessage(dir)
	require.NoError(t, err)
	return &remoteexecution.DirectoryNode{Name: name, Digest: d.Proto()}
}

func TestNewIndex(t *testing.T) {
	child := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{fileNode(t, "x", "x-content")},
	}
	tr := &remoteexecution.Tree{
		Root:     &remoteexecution.Directory{},
		Children: []*remoteexecution.Directory{child},
	}

	index, err := NewIndex(tr)
	require.NoError(t, err)
	require.Len(t, index, 1)

	d, err := digest.FromMessage(child)
	require.NoError(t, err)
	resolved, err := index.Resolve(d, "sub")
	require.NoError(t, err)
	assert.Same(t, child, resolved)
}

func TestResolveMissingObject(t *testing.T) {
	index := Index{}
	missing := digest.FromBlob([]byte("nowhere"))

	_, err := index.Resolve(missing, "a/b")
	require.Error(t, err)

	var missingErr *MissingObjectError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, missing, missingErr.Digest)
	assert.Equal(t, "a/b", missingErr.Path)
	assert.Contains(t, err.Error(), missing.String())
}

func TestListDirectoryBudget(t *testing.T) {
	sub := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{
			fileNode(t, "d.txt", "d"),
			fileNode(t, "e.txt", "e"),
		},
	}
	root := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{
			fileNode(t, "a.txt", "a"),
			fileNode(t, "b.txt", "b"),
			fileNode(t, "c.txt", "c"),
		},
		Directories: []*remoteexecution.DirectoryNode{dirNode(t, "sub", sub)},
	}
	tr := &remoteexecution.Tree{Root: root, Children: []*remoteexecution.Directory{sub}}
	index, err := NewIndex(tr)
	require.NoError(t, err)

	var out bytes.Buffer
	printed, err := ListDirectory(&out, "", root, index, 4)
	require.NoError(t, err)

	// Three root files plus one file from sub reach the global budget
	// of 4; sub's second file is cut off by a single marker. The
	// subdirectory summary line does not count against the budget.
	assert.Equal(t, 4, printed)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "a.txt [File content digest: ")
	assert.Contains(t, lines[1], "b.txt [File content digest: ")
	assert.Contains(t, lines[2], "c.txt [File content digest: ")
	assert.Contains(t, lines[3], "sub [Directory digest: ")
	assert.Contains(t, lines[4], "sub/d.txt [File content digest: ")
	assert.Equal(t, TruncationMarker, lines[5])
	assert.Equal(t, 1, strings.Count(out.String(), TruncationMarker))
}

func TestListDirectoryExactBudget(t *testing.T) {
	sub := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{fileNode(t, "c.txt", "c")},
	}
	root := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{
			fileNode(t, "a.txt", "a"),
			fileNode(t, "b.txt", "b"),
		},
		Directories: []*remoteexecution.DirectoryNode{dirNode(t, "sub", sub)},
	}
	index, err := NewIndex(&remoteexecution.Tree{Root: root, Children: []*remoteexecution.Directory{sub}})
	require.NoError(t, err)

	// Budget exhausted exactly by the root's files: no marker, and the
	// subdirectory is never descended into.
	var out bytes.Buffer
	printed, err := ListDirectory(&out, "", root, index, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, printed)
	assert.NotContains(t, out.String(), TruncationMarker)
	assert.NotContains(t, out.String(), "sub")
}

func TestListDirectorySkipsSiblingsAfterExhaustion(t *testing.T) {
	first := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{
			fileNode(t, "x", "x"),
			fileNode(t, "y", "y"),
		},
	}
	second := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{fileNode(t, "z", "z")},
	}
	root := &remoteexecution.Directory{
		Directories: []*remoteexecution.DirectoryNode{
			dirNode(t, "first", first),
			dirNode(t, "second", second),
		},
	}
	index, err := NewIndex(&remoteexecution.Tree{
		Root:     root,
		Children: []*remoteexecution.Directory{first, second},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	printed, err := ListDirectory(&out, "", root, index, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, printed)
	assert.Contains(t, out.String(), "first/x")
	assert.NotContains(t, out.String(), "second")
	assert.Equal(t, 1, strings.Count(out.String(), TruncationMarker))
}

func TestListTreeMissingChildFails(t *testing.T) {
	orphan := &remoteexecution.Directory{
		Files: []*remoteexecution.FileNode{fileNode(t, "gone", "gone")},
	}
	root := &remoteexecution.Directory{
		Directories: []*remoteexecution.DirectoryNode{dirNode(t, "sub", orphan)},
	}
	// Child pool deliberately does not contain orphan.
	tr := &remoteexecution.Tree{Root: root}

	var out bytes.Buffer
	err := ListTree(&out, "", tr, 10)
	var missingErr *MissingObjectError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, "sub", missingErr.Path)
}

func TestListTreeEmpty(t *testing.T) {
	tr := &remoteexecution.Tree{Root: &remoteexecution.Directory{}}

	for _, limit := range []int{0, 1, 100} {
		var out bytes.Buffer
		require.NoError(t, ListTree(&out, "", tr, limit))
		assert.Empty(t, out.String())
	}
}

func TestNumFiles(t *testing.T) {
	tr := &remoteexecution.Tree{
		Root: &remoteexecution.Directory{},
		Children: []*remoteexecution.Directory{
			{Files: []*remoteexecution.FileNode{fileNode(t, "a", "a"), fileNode(t, "b", "b")}},
			{Files: []*remoteexecution.FileNode{fileNode(t, "c", "c")}},
		},
	}
	assert.Equal(t, 3, NumFiles(tr))
	assert.Equal(t, 0, NumFiles(&remoteexecution.Tree{Root: &remoteexecution.Directory{}}))
}
