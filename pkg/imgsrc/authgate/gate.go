// Package authgate decides whether an upload request is authorized. Callers
// fetch the current nonce, sign its decimal form with the shared secret and
// send the signature back; the gate accepts it while the signed nonce is
// within a small window around the server's current nonce.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/imgsrc/pkg/imgsrc"
	"github.com/tendant/imgsrc/pkg/imgsrc/nonce"
	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
)

// DefaultTolerance is the number of buckets accepted either side of the
// current one.
const DefaultTolerance = 1

// ErrNoSecretKey is returned when constructing a Gate without a secret
var ErrNoSecretKey = errors.New("authgate: no secret key configured")

// Gate issues nonces and verifies request signatures. It holds no mutable
// state of its own; replay protection beyond the time window is delegated
// to an optional ReplayGuard.
type Gate struct {
	secret    []byte
	nonces    *nonce.Source
	codec     *signature.Codec
	tolerance uint64
	guard     ReplayGuard
	logger    *slog.Logger
}

// Option is a functional option for configuring a Gate
type Option func(*Gate)

// WithNonceSource sets the nonce source. Tests use it to pin the clock.
func WithNonceSource(src *nonce.Source) Option {
	return func(g *Gate) {
		if src != nil {
			g.nonces = src
		}
	}
}

// WithCodec sets the signature codec
func WithCodec(c *signature.Codec) Option {
	return func(g *Gate) {
		if c != nil {
			g.codec = c
		}
	}
}

// WithTolerance sets how many buckets either side of the current nonce are
// accepted.
func WithTolerance(buckets uint64) Option {
	return func(g *Gate) {
		g.tolerance = buckets
	}
}

// WithReplayGuard enables single-use signatures
func WithReplayGuard(guard ReplayGuard) Option {
	return func(g *Gate) {
		g.guard = guard
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gate for the given shared secret
func New(secret []byte, opts ...Option) (*Gate, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecretKey
	}

	g := &Gate{
		secret:    append([]byte(nil), secret...),
		nonces:    nonce.New(),
		codec:     signature.Default,
		tolerance: DefaultTolerance,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// IssueNonce returns the current nonce.
func (g *Gate) IssueNonce() uint64 {
	return g.nonces.Current()
}

// Verify reports whether signatureHex signs any nonce in the window around
// the server's current nonce. nonceHint is what the client claims to have
// signed; it is logged for diagnostics and never used for the decision.
func (g *Gate) Verify(signatureHex, nonceHint string) bool {
	_, ok := g.match(signatureHex, nonceHint)
	return ok
}

// Authenticate verifies the signature, then claims it with the replay guard
// if one is configured. It returns the nonce the signature matched.
func (g *Gate) Authenticate(ctx context.Context, signatureHex, nonceHint string) (uint64, error) {
	matched, ok := g.match(signatureHex, nonceHint)
	if !ok {
		return 0, imgsrc.ErrInvalidSignature
	}

	if g.guard != nil {
		// hex is case-insensitive, so claim the canonical form
		fresh, err := g.guard.Claim(ctx, strings.ToLower(signatureHex), g.window())
		if err != nil {
			return 0, fmt.Errorf("replay guard: %w", err)
		}
		if !fresh {
			g.logger.Warn("Rejected replayed signature", "nonce", matched)
			return 0, imgsrc.ErrReplayedSignature
		}
	}

	return matched, nil
}

// candidates returns the acceptable nonces around current, current first.
func (g *Gate) candidates(current uint64) []uint64 {
	out := make([]uint64, 0, 2*g.tolerance+1)
	out = append(out, current)
	for d := uint64(1); d <= g.tolerance; d++ {
		if current >= d {
			out = append(out, current-d)
		}
		out = append(out, current+d)
	}
	return out
}

func (g *Gate) match(signatureHex, nonceHint string) (uint64, bool) {
	current := g.nonces.Current()
	g.logger.Debug("Verifying signature", "nonce", current, "client_nonce", nonceHint)

	for _, c := range g.candidates(current) {
		if g.codec.Verify(g.secret, []byte(nonce.Format(c)), signatureHex) {
			return c, true
		}
	}
	return 0, false
}

// window is how long a signature can stay acceptable: every bucket in the
// tolerance window.
func (g *Gate) window() time.Duration {
	return g.nonces.Bucket() * time.Duration(2*g.tolerance+1)
}
