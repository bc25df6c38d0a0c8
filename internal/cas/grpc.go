package cas

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	bytestream "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"remoteclient/internal/digest"
)

// Request metadata header defined by the remote execution API.
const requestMetadataKey = "build.bazel.remote.execution.v2.requestmetadata-bin"

const toolName = "remote-client"

// RemoteCacheOptions configures the gRPC connection to a remote cache.
type RemoteCacheOptions struct {
	// Target is the host:port of the cache frontend.
	Target string
	// InstanceName is the remote instance prefix, may be empty.
	InstanceName string
	// TLS enables transport security.
	TLS bool
	// Zstd fetches blobs over the compressed-blobs resource.
	Zstd bool

	Logger *zap.Logger
}

// RemoteCache fetches content-addressed objects from a remote cache
// over gRPC, using the ByteStream API for blobs and the
// ContentAddressableStorage API for trees.
type RemoteCache struct {
	conn     *grpc.ClientConn
	cas      remoteexecution.ContentAddressableStorageClient
	blobs    bytestream.ByteStreamClient
	instance string
	zstd     bool
	metadata string
	logger   *zap.Logger
}

// NewRemoteCache connects to a remote cache. Every RPC carries request
// metadata identifying the tool and a fresh invocation id.
func NewRemoteCache(opts RemoteCacheOptions) (*RemoteCache, error) {
	if opts.Target == "" {
		return nil, fmt.Errorf("remote cache target is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{})
	}
	conn, err := grpc.NewClient(opts.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("connecting to remote cache %s: %w", opts.Target, err)
	}

	md, err := proto.Marshal(&remoteexecution.RequestMetadata{
		ToolDetails:      &remoteexecution.ToolDetails{ToolName: toolName},
		ToolInvocationId: uuid.NewString(),
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshaling request metadata: %w", err)
	}

	return &RemoteCache{
		conn:     conn,
		cas:      remoteexecution.NewContentAddressableStorageClient(conn),
		blobs:    bytestream.NewByteStreamClient(conn),
		instance: opts.InstanceName,
		zstd:     opts.Zstd,
		metadata: string(md),
		logger:   opts.Logger,
	}, nil
}

// Close releases the underlying connection.
func (c *RemoteCache) Close() error {
	return c.conn.Close()
}

func (c *RemoteCache) withMetadata(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, requestMetadataKey, c.metadata)
}

func (c *RemoteCache) resourceName(d digest.Digest) string {
	name := fmt.Sprintf("blobs/%s/%d", d.Hash, d.SizeBytes)
	if c.zstd {
		name = fmt.Sprintf("compressed-blobs/zstd/%s/%d", d.Hash, d.SizeBytes)
	}
	if c.instance != "" {
		name = c.instance + "/" + name
	}
	return name
}

// byteStreamReader adapts a ByteStream read stream to io.Reader so
// blob content can flow through io.Copy and a streaming decompressor.
type byteStreamReader struct {
	stream bytestream.ByteStream_ReadClient
	buf    []byte
}

func (r *byteStreamReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		resp, err := r.stream.Recv()
		if err != nil {
			return 0, err
		}
		r.buf = resp.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// StreamBlob writes a blob's content to w chunk by chunk, without
// holding the whole blob in memory. Compressed transfers are
// decompressed on the way through.
func (c *RemoteCache) StreamBlob(ctx context.Context, d digest.Digest, w io.Writer) error {
	if d == digest.Empty {
		return nil
	}

	c.logger.Debug("streaming blob", zap.String("digest", d.String()))
	stream, err := c.blobs.Read(c.withMetadata(ctx), &bytestream.ReadRequest{
		ResourceName: c.resourceName(d),
	})
	if err != nil {
		return wrapFetchErr("reading blob", d, err)
	}

	var r io.Reader = &byteStreamReader{stream: stream}
	if c.zstd {
		decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("decompressing blob %s: %w", d, err)
		}
		defer decoder.Close()
		r = decoder
	}
	if _, err := io.Copy(w, r); err != nil {
		return wrapFetchErr("reading blob", d, err)
	}
	return nil
}

// FetchBlob retrieves a blob's content by digest.
func (c *RemoteCache) FetchBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	if d == digest.Empty {
		return nil, nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, d.SizeBytes))
	if err := c.StreamBlob(ctx, d, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FetchTree resolves a root directory digest into a Tree whose child
// pool holds every transitively referenced Directory.
func (c *RemoteCache) FetchTree(ctx context.Context, d digest.Digest) (*remoteexecution.Tree, error) {
	c.logger.Debug("fetching tree", zap.String("digest", d.String()))
	stream, err := c.cas.GetTree(c.withMetadata(ctx), &remoteexecution.GetTreeRequest{
		InstanceName: c.instance,
		RootDigest:   d.Proto(),
	})
	if err != nil {
		return nil, wrapFetchErr("fetching tree", d, err)
	}

	var dirs []*remoteexecution.Directory
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapFetchErr("fetching tree", d, err)
		}
		dirs = append(dirs, resp.Directories...)
	}

	// GetTree does not guarantee an order, so locate the root by digest.
	var root *remoteexecution.Directory
	for _, dir := range dirs {
		dd, err := digest.FromMessage(dir)
		if err != nil {
			return nil, fmt.Errorf("hashing tree directory: %w", err)
		}
		if dd == d {
			root = dir
			break
		}
	}
	if root == nil {
		if d == digest.Empty {
			root = &remoteexecution.Directory{}
		} else {
			return nil, fmt.Errorf("tree response for %s missing root directory: %w", d, ErrBlobNotFound)
		}
	}
	return &remoteexecution.Tree{Root: root, Children: dirs}, nil
}

// DownloadDirectory materializes the tree rooted at the digest under
// the given local path.
func (c *RemoteCache) DownloadDirectory(ctx context.Context, path string, d digest.Digest) error {
	t, err := c.FetchTree(ctx, d)
	if err != nil {
		return err
	}
	return MaterializeTree(ctx, c, path, t)
}

// wrapFetchErr adds digest and purpose context, mapping gRPC NotFound
// onto ErrBlobNotFound so callers can branch on it.
func wrapFetchErr(op string, d digest.Digest, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %s: %w", op, d, ErrBlobNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, d, err)
}
