package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"remoteclient/internal/action"
	"remoteclient/internal/cas"
	"remoteclient/internal/container"
	"remoteclient/internal/digest"
)

// fakeCache hands out canned blobs and materializes a fixed input file.
type fakeCache struct {
	blobs     map[digest.Digest][]byte
	inputName string
}

func (c *fakeCache) FetchBlob(_ context.Context, d digest.Digest) ([]byte, error) {
	blob, ok := c.blobs[d]
	if !ok {
		return nil, fmt.Errorf("fetching blob %s: %w", d, cas.ErrBlobNotFound)
	}
	return blob, nil
}

func (c *fakeCache) FetchTree(_ context.Context, d digest.Digest) (*remoteexecution.Tree, error) {
	return nil, fmt.Errorf("fetching tree %s: %w", d, cas.ErrBlobNotFound)
}

func (c *fakeCache) DownloadDirectory(_ context.Context, path string, _ digest.Digest) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	if c.inputName == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(path, c.inputName), []byte("input"), 0o644)
}

func setupAction(t *testing.T, cache *fakeCache) *action.Action {
	t.Helper()
	cmdBytes, err := proto.Marshal(&remoteexecution.Command{Arguments: []string{"make", "all"}})
	require.NoError(t, err)
	cmdDigest := digest.FromBlob(cmdBytes)
	cache.blobs[cmdDigest] = cmdBytes

	return &action.Action{
		CommandDigest:     cmdDigest,
		InputRootDigest:   digest.Empty,
		OutputFiles:       []string{"out/result.bin"},
		OutputDirectories: []string{"gen"},
		Platform: []action.Property{
			{Name: container.ImageKey, Value: "docker://gcr.io/builder"},
		},
	}
}

func TestSetup(t *testing.T) {
	cache := &fakeCache{blobs: map[digest.Digest][]byte{}, inputName: "src.c"}
	act := setupAction(t, cache)
	root := t.TempDir()

	line, err := Setup(context.Background(), cache, act, root)
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf(
		"docker run -v %[1]s:%[1]s-docker -w %[1]s-docker gcr.io/builder make all", root), line)

	// Inputs materialized, output locations pre-created but empty.
	assert.FileExists(t, filepath.Join(root, "src.c"))
	assert.DirExists(t, filepath.Join(root, "out"))
	assert.DirExists(t, filepath.Join(root, "gen"))
	assert.NoFileExists(t, filepath.Join(root, "out", "result.bin"))
}

func TestSetupExistingOutputFile(t *testing.T) {
	cache := &fakeCache{blobs: map[digest.Digest][]byte{}}
	act := setupAction(t, cache)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out", "result.bin"), []byte("old"), 0o644))

	_, err := Setup(context.Background(), cache, act, root)
	assert.ErrorIs(t, err, ErrOutputPathExists)
}

func TestSetupExistingOutputDirectory(t *testing.T) {
	cache := &fakeCache{blobs: map[digest.Digest][]byte{}}
	act := setupAction(t, cache)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "gen"), 0o755))

	_, err := Setup(context.Background(), cache, act, root)
	assert.ErrorIs(t, err, ErrOutputPathExists)
}

func TestSetupRequiresContainerImage(t *testing.T) {
	cache := &fakeCache{blobs: map[digest.Digest][]byte{}}
	act := setupAction(t, cache)
	act.Platform = nil

	_, err := Setup(context.Background(), cache, act, t.TempDir())
	assert.ErrorIs(t, err, container.ErrNoImage)
}
