package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tendant/imgsrc/pkg/imgsrc/authgate"
	"github.com/tendant/imgsrc/pkg/imgsrc/nonce"
	"github.com/tendant/imgsrc/pkg/imgsrc/store"
	"github.com/tendant/imgsrc/pkg/imgsrc/store/s3mirror"
)

// NewLogger builds a slog logger writing to w in the configured format and level.
func (c *ServerConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// BuildStore creates the content store and its directories.
func (c *ServerConfig) BuildStore(logger *slog.Logger) (*store.Store, error) {
	return store.New(store.Config{
		DefaultDir: c.OutputDir,
		Dirs:       c.ExtraDirs,
		Algorithm:  c.Algorithm(),
		Logger:     logger,
	})
}

// BuildGate creates the signature gate with the configured replay guard. The
// returned close function releases the guard's connections, if any.
func (c *ServerConfig) BuildGate(ctx context.Context, logger *slog.Logger) (*authgate.Gate, func() error, error) {
	closeFn := func() error { return nil }
	opts := []authgate.Option{
		authgate.WithNonceSource(nonce.New(nonce.WithBucket(c.NonceBucket))),
		authgate.WithTolerance(c.NonceTolerance),
		authgate.WithLogger(logger),
	}

	switch strings.ToLower(c.ReplayGuard) {
	case ReplayGuardMemory:
		opts = append(opts, authgate.WithReplayGuard(authgate.NewMemoryGuard()))
	case ReplayGuardRedis:
		guard, client, err := authgate.DialRedisGuard(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect replay guard: %w", err)
		}
		opts = append(opts, authgate.WithReplayGuard(guard))
		closeFn = client.Close
	}

	gate, err := authgate.New([]byte(c.SecretKey), opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return gate, closeFn, nil
}

// BuildMirror creates the S3 mirror, or returns nil when no bucket is configured.
func (c *ServerConfig) BuildMirror(ctx context.Context, logger *slog.Logger) (*s3mirror.Mirror, error) {
	if !c.S3Mirror.Enabled() {
		return nil, nil
	}
	return s3mirror.New(ctx, c.S3Mirror, s3mirror.WithLogger(logger))
}
