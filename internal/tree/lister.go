package tree

import (
	"fmt"
	"io"
	"path"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"remoteclient/internal/digest"
)

// TruncationMarker is emitted once when a listing exhausts its budget.
const TruncationMarker = " ... (too many files to list, some omitted)"

// listFiles prints the directory's file entries in stored order, up to
// limit. Emits the truncation marker and stops if the budget runs out
// mid-list. Returns the number of file lines printed.
func listFiles(w io.Writer, dirPath string, dir *remoteexecution.Directory, limit int) int {
	printed := 0
	for _, file := range dir.Files {
		if printed >= limit {
			fmt.Fprintln(w, TruncationMarker)
			break
		}
		fmt.Fprintf(w, "%s [File content digest: %s]\n",
			path.Join(dirPath, file.Name), digest.FromProto(file.Digest))
		printed++
	}
	return printed
}

// ListDirectory recursively lists files and subdirectories with their
// digests. The limit is a global budget of file lines shared across the
// entire walk: the running total is threaded through every recursive
// call, so siblings after exhaustion are skipped and at most one
// truncation marker appears. Subdirectory summary lines are structural
// and do not count against the budget, but are only printed for
// directories reached before exhaustion. Returns the number of file
// lines printed.
func ListDirectory(w io.Writer, dirPath string, dir *remoteexecution.Directory, index Index, limit int) (int, error) {
	printed := listFiles(w, dirPath, dir, limit)
	if printed >= limit {
		return printed, nil
	}
	for _, child := range dir.Directories {
		childPath := path.Join(dirPath, child.Name)
		fmt.Fprintf(w, "%s [Directory digest: %s]\n", childPath, digest.FromProto(child.Digest))
		childDir, err := index.Resolve(digest.FromProto(child.Digest), childPath)
		if err != nil {
			return printed, err
		}
		n, err := ListDirectory(w, childPath, childDir, index, limit-printed)
		printed += n
		if err != nil {
			return printed, err
		}
		if printed >= limit {
			return printed, nil
		}
	}
	return printed, nil
}

// ListTree lists a whole Tree rooted at the given display path.
func ListTree(w io.Writer, dirPath string, t *remoteexecution.Tree, limit int) error {
	index, err := NewIndex(t)
	if err != nil {
		return err
	}
	_, err = ListDirectory(w, dirPath, t.Root, index, limit)
	return err
}
