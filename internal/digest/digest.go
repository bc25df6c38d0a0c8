// Package digest identifies content-addressed objects by their SHA-256
// hash and size.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"
)

// Digest is a content hash plus size. It is comparable and usable as a
// map key; equality is by value.
type Digest struct {
	Hash      string
	SizeBytes int64
}

// Empty is the digest of the empty blob.
var Empty = FromBlob(nil)

// FromBlob computes the digest of raw content.
func FromBlob(content []byte) Digest {
	h := sha256.Sum256(content)
	return Digest{
		Hash:      hex.EncodeToString(h[:]),
		SizeBytes: int64(len(content)),
	}
}

// FromMessage computes the digest of a protobuf message using its
// deterministic wire encoding, matching how remote caches key metadata
// objects.
func FromMessage(m proto.Message) (Digest, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	if err != nil {
		return Digest{}, fmt.Errorf("marshaling message for digest: %w", err)
	}
	return FromBlob(data), nil
}

// Parse reads the hash/size form used on the command line, e.g.
// "8b1a...e3/142".
func Parse(s string) (Digest, error) {
	hash, size, ok := strings.Cut(s, "/")
	if !ok {
		return Digest{}, fmt.Errorf("invalid digest %q: expected hash/size", s)
	}
	if len(hash) != sha256.Size*2 {
		return Digest{}, fmt.Errorf("invalid digest %q: hash must be %d hex characters", s, sha256.Size*2)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return Digest{}, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	sizeBytes, err := strconv.ParseInt(size, 10, 64)
	if err != nil || sizeBytes < 0 {
		return Digest{}, fmt.Errorf("invalid digest %q: bad size %q", s, size)
	}
	return Digest{Hash: hash, SizeBytes: sizeBytes}, nil
}

// FromProto converts a remote execution API digest.
func FromProto(d *remoteexecution.Digest) Digest {
	if d == nil {
		return Digest{}
	}
	return Digest{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

// Proto converts back to the remote execution API form.
func (d Digest) Proto() *remoteexecution.Digest {
	return &remoteexecution.Digest{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

// IsZero reports whether d is the zero value (no hash at all, distinct
// from the digest of the empty blob).
func (d Digest) IsZero() bool {
	return d.Hash == ""
}

func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.SizeBytes)
}

// MarshalJSON encodes the digest in its hash/size string form.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
