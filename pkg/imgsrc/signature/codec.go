// Package signature computes and verifies keyed MACs carried as hex strings,
// and computes streaming content digests used for object names.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"hash"
)

// Codec signs and verifies messages with HMAC over a configurable hash.
type Codec struct {
	newHash func() hash.Hash
}

// Option is a functional option for configuring a Codec
type Option func(*Codec)

// WithHash sets the hash primitive used inside HMAC. Default is SHA-1, which
// existing clients sign with.
func WithHash(fn func() hash.Hash) Option {
	return func(c *Codec) {
		if fn != nil {
			c.newHash = fn
		}
	}
}

// New creates a new Codec with the given options
func New(opts ...Option) *Codec {
	c := &Codec{newHash: sha1.New}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default is the HMAC-SHA1 codec.
var Default = New()

// Sign returns the lowercase hex HMAC tag of message under key.
func (c *Codec) Sign(key, message []byte) string {
	return hex.EncodeToString(c.mac(key, message))
}

// Verify reports whether candidateHex is the tag of message under key.
// Malformed hex is a mismatch, not an error.
func (c *Codec) Verify(key, message []byte, candidateHex string) bool {
	candidate, err := hex.DecodeString(candidateHex)
	if err != nil {
		return false
	}

	// constant-time comparison
	return hmac.Equal(candidate, c.mac(key, message))
}

func (c *Codec) mac(key, message []byte) []byte {
	h := hmac.New(c.newHash, key)
	h.Write(message)
	return h.Sum(nil)
}

// Sign signs message with the default codec.
func Sign(key, message []byte) string {
	return Default.Sign(key, message)
}

// Verify verifies candidateHex with the default codec.
func Verify(key, message []byte, candidateHex string) bool {
	return Default.Verify(key, message, candidateHex)
}
