// Package cas provides read-only access to a content-addressed store of
// blobs and directory trees.
package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"

	"remoteclient/internal/digest"
	"remoteclient/internal/tree"
)

// ErrBlobNotFound means the store has no content for a requested
// digest.
var ErrBlobNotFound = errors.New("blob not found")

// Cache is the minimal accessor contract the presentation layer
// depends on. Implementations guarantee digest-content integrity;
// retry and timeout policy also lives behind this interface.
type Cache interface {
	// FetchBlob retrieves raw content by digest.
	FetchBlob(ctx context.Context, d digest.Digest) ([]byte, error)

	// FetchTree resolves a root directory digest into a fully populated
	// Tree, child pool included.
	FetchTree(ctx context.Context, d digest.Digest) (*remoteexecution.Tree, error)

	// DownloadDirectory materializes the tree rooted at the digest under
	// the given local path.
	DownloadDirectory(ctx context.Context, path string, d digest.Digest) error
}

// BlobStreamer is implemented by caches that can write a blob's
// content directly to a writer without buffering it in memory.
type BlobStreamer interface {
	StreamBlob(ctx context.Context, d digest.Digest, w io.Writer) error
}

// StreamBlob writes a blob's content to w, streaming when the cache
// supports it and falling back to a buffered fetch otherwise.
func StreamBlob(ctx context.Context, cache Cache, d digest.Digest, w io.Writer) error {
	if s, ok := cache.(BlobStreamer); ok {
		return s.StreamBlob(ctx, d, w)
	}
	blob, err := cache.FetchBlob(ctx, d)
	if err != nil {
		return err
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("writing blob %s: %w", d, err)
	}
	return nil
}

// FetchOutputDirectory fetches and decodes the OutputDirectory a
// digest refers to.
func FetchOutputDirectory(ctx context.Context, cache Cache, d digest.Digest) (*remoteexecution.OutputDirectory, error) {
	blob, err := cache.FetchBlob(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("fetching output directory %s: %w", d, err)
	}
	var dir remoteexecution.OutputDirectory
	if err := proto.Unmarshal(blob, &dir); err != nil {
		return nil, fmt.Errorf("decoding output directory %s: %w", d, err)
	}
	return &dir, nil
}

// FetchTreeBlob fetches and decodes a Tree stored as a single blob, as
// output directories reference them.
func FetchTreeBlob(ctx context.Context, cache Cache, d digest.Digest) (*remoteexecution.Tree, error) {
	blob, err := cache.FetchBlob(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("fetching tree blob %s: %w", d, err)
	}
	var t remoteexecution.Tree
	if err := proto.Unmarshal(blob, &t); err != nil {
		return nil, fmt.Errorf("decoding tree blob %s: %w", d, err)
	}
	return &t, nil
}

// FetchCommand fetches and decodes the Command a digest refers to.
func FetchCommand(ctx context.Context, cache Cache, d digest.Digest) (*remoteexecution.Command, error) {
	blob, err := cache.FetchBlob(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("fetching command %s: %w", d, err)
	}
	var cmd remoteexecution.Command
	if err := proto.Unmarshal(blob, &cmd); err != nil {
		return nil, fmt.Errorf("decoding command %s: %w", d, err)
	}
	return &cmd, nil
}

// MaterializeTree writes the tree's files and directories under root,
// fetching file content through the cache. Executable bits are
// preserved.
func MaterializeTree(ctx context.Context, cache Cache, root string, t *remoteexecution.Tree) error {
	index, err := tree.NewIndex(t)
	if err != nil {
		return err
	}
	return materializeDirectory(ctx, cache, root, t.Root, index)
}

func materializeDirectory(ctx context.Context, cache Cache, dir string, node *remoteexecution.Directory, index tree.Index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	for _, file := range node.Files {
		name := filepath.Join(dir, file.Name)
		blob, err := cache.FetchBlob(ctx, digest.FromProto(file.Digest))
		if err != nil {
			return fmt.Errorf("downloading file %s: %w", name, err)
		}
		mode := os.FileMode(0o644)
		if file.IsExecutable {
			mode = 0o755
		}
		if err := os.WriteFile(name, blob, mode); err != nil {
			return fmt.Errorf("writing file %s: %w", name, err)
		}
	}
	for _, sub := range node.Directories {
		subPath := filepath.Join(dir, sub.Name)
		subDir, err := index.Resolve(digest.FromProto(sub.Digest), subPath)
		if err != nil {
			return err
		}
		if err := materializeDirectory(ctx, cache, subPath, subDir, index); err != nil {
			return err
		}
	}
	return nil
}
