package config

import (
	"fmt"
	"time"
)

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(c *ServerConfig) error {
		if addr == "" {
			return fmt.Errorf("addr cannot be empty")
		}
		c.Addr = addr
		return nil
	}
}

// WithSecretKey sets the shared HMAC secret
func WithSecretKey(secret string) Option {
	return func(c *ServerConfig) error {
		c.SecretKey = secret
		return nil
	}
}

// WithOutputDir sets the default output directory
func WithOutputDir(dir string) Option {
	return func(c *ServerConfig) error {
		c.OutputDir = dir
		return nil
	}
}

// WithExtraDir adds an indexed output directory
func WithExtraDir(index, dir string) Option {
	return func(c *ServerConfig) error {
		if index == "" || dir == "" {
			return fmt.Errorf("extra directory index and path are required")
		}
		if c.ExtraDirs == nil {
			c.ExtraDirs = map[string]string{}
		}
		c.ExtraDirs[index] = dir
		return nil
	}
}

// WithMaxUploadSize sets the upload size limit in bytes
func WithMaxUploadSize(n int64) Option {
	return func(c *ServerConfig) error {
		c.MaxUploadSize = n
		return nil
	}
}

// WithNonceWindow sets the nonce bucket width and tolerance
func WithNonceWindow(bucket time.Duration, tolerance uint64) Option {
	return func(c *ServerConfig) error {
		c.NonceBucket = bucket
		c.NonceTolerance = tolerance
		return nil
	}
}

// WithReplayGuard selects the replay guard mode
func WithReplayGuard(mode, redisURL string) Option {
	return func(c *ServerConfig) error {
		c.ReplayGuard = mode
		c.RedisURL = redisURL
		return nil
	}
}

// WithDigestAlgorithm selects the content digest used for object names
func WithDigestAlgorithm(algo string) Option {
	return func(c *ServerConfig) error {
		c.DigestAlgorithm = algo
		return nil
	}
}
