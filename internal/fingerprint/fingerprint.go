// Package fingerprint computes content fingerprints used as duplicate-detection keys.
//
// A fingerprint is the hex-encoded SHA-256 digest of a file's full byte stream.
// Files are read sequentially in fixed-size blocks so memory use does not
// depend on file size.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// BlockSize is the read size used when streaming a file into the digest.
const BlockSize = 64 * 1024

// Fingerprint is a hex-encoded 256-bit content digest.
type Fingerprint string

// String returns the hex digest.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 16 hex characters, for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 16 {
		return string(f)
	}
	return string(f[:16])
}

// Valid reports whether f looks like a hex SHA-256 digest.
func (f Fingerprint) Valid() bool {
	if len(f) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// Sum holds a fingerprint and the number of bytes it covers.
type Sum struct {
	Fingerprint Fingerprint
	Size        int64
}

// Reader digests r until EOF. The context is checked between blocks so a
// shutdown can abandon a large file part way through.
func Reader(ctx context.Context, r io.Reader) (Sum, error) {
	hash := sha256.New()
	buf := make([]byte, BlockSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return Sum{}, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sum{}, fmt.Errorf("read block at offset %d: %w", total, err)
		}
	}

	return Sum{
		Fingerprint: Fingerprint(hex.EncodeToString(hash.Sum(nil))),
		Size:        total,
	}, nil
}

// File opens path and digests its contents.
func File(ctx context.Context, path string) (Sum, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from the watched directory or the caller
	if err != nil {
		return Sum{}, err
	}
	defer f.Close()

	return Reader(ctx, f)
}

// Bytes digests an in-memory buffer.
func Bytes(b []byte) Fingerprint {
	sum := sha256.Sum256(b)
	return Fingerprint(hex.EncodeToString(sum[:]))
}
