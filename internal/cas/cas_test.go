package cas

import (
	"bytes"
	"context"
	"io"
	"testing"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"remoteclient/internal/digest"
)

func TestFetchCommand(t *testing.T) {
	cmd := &remoteexecution.Command{Arguments: []string{"echo", "hi"}}
	blob, err := proto.Marshal(cmd)
	require.NoError(t, err)
	d := digest.FromBlob(blob)

	cache := &countingCache{blobs: map[digest.Digest][]byte{d: blob}}

	got, err := FetchCommand(context.Background(), cache, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hi"}, got.Arguments)
}

func TestFetchCommandNotFound(t *testing.T) {
	_, err := FetchCommand(context.Background(), &countingCache{}, digest.FromBlob([]byte("x")))
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

// streamingCache wraps countingCache with a direct-to-writer path.
type streamingCache struct {
	countingCache
	streamCalls int
}

func (c *streamingCache) StreamBlob(ctx context.Context, d digest.Digest, w io.Writer) error {
	c.streamCalls++
	blob, err := c.FetchBlob(ctx, d)
	if err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

func TestStreamBlobFallsBackToBufferedFetch(t *testing.T) {
	content := []byte("blob content")
	d := digest.FromBlob(content)
	cache := &countingCache{blobs: map[digest.Digest][]byte{d: content}}

	var out bytes.Buffer
	require.NoError(t, StreamBlob(context.Background(), cache, d, &out))
	assert.Equal(t, content, out.Bytes())
	assert.Equal(t, 1, cache.blobCalls)
}

func TestStreamBlobPrefersStreamer(t *testing.T) {
	content := []byte("streamed content")
	d := digest.FromBlob(content)
	cache := &streamingCache{
		countingCache: countingCache{blobs: map[digest.Digest][]byte{d: content}},
	}

	var out bytes.Buffer
	require.NoError(t, StreamBlob(context.Background(), cache, d, &out))
	assert.Equal(t, content, out.Bytes())
	assert.Equal(t, 1, cache.streamCalls)
}

func TestStreamBlobNotFound(t *testing.T) {
	var out bytes.Buffer
	err := StreamBlob(context.Background(), &countingCache{}, digest.FromBlob([]byte("x")), &out)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.Zero(t, out.Len())
}
