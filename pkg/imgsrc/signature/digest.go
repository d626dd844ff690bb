package signature

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a content digest used to address stored objects.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// digestChunkSize is the read size used when hashing streams.
const digestChunkSize = 32 * 1024

// ParseAlgorithm parses a configured algorithm name, case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return SHA1, nil
	}
	if !a.Valid() {
		return "", fmt.Errorf("unsupported digest algorithm: %s", s)
	}
	return a, nil
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	switch a {
	case SHA1, SHA256, BLAKE3:
		return true
	}
	return false
}

// New returns a fresh hash for a.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	}
	return nil, fmt.Errorf("unsupported digest algorithm: %s", a)
}

// DigestOf reads r to EOF in fixed-size chunks and returns the hex digest.
func (a Algorithm) DigestOf(r io.Reader) (string, error) {
	h, err := a.New()
	if err != nil {
		return "", err
	}
	buf := make([]byte, digestChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ObjectName builds the stored file name for a digest and extension.
// SHA-1 names carry no prefix so that names written before the algorithm
// became configurable stay valid; every other algorithm is tagged.
func (a Algorithm) ObjectName(hexDigest, ext string) string {
	if a == SHA1 {
		return hexDigest + "." + ext
	}
	return string(a) + "-" + hexDigest + "." + ext
}

// DigestOf returns the SHA-1 hex digest of everything read from r.
func DigestOf(r io.Reader) (string, error) {
	return SHA1.DigestOf(r)
}
