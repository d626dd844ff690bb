package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/store/s3mirror"
)

// Replay guard modes
const (
	ReplayGuardOff    = "off"
	ReplayGuardMemory = "memory"
	ReplayGuardRedis  = "redis"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// defaults. WithEnv fills unset fields from env-default tags, so apply it
// before options that should override the environment.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1:8080",
		ExtraDirs:       map[string]string{},
		MaxUploadSize:   20 * 1024 * 1024,
		NonceBucket:     30 * time.Second,
		NonceTolerance:  1,
		RequestTimeout:  60 * time.Second,
		DigestAlgorithm: string(signature.SHA1),
		ReplayGuard:     ReplayGuardOff,
		S3Mirror:        s3mirror.Config{Region: "us-east-1"},
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// ServerConfig is the complete runtime configuration of the image server.
type ServerConfig struct {
	Addr      string `env:"IMGSRC_ADDR" env-default:"127.0.0.1:8080"`
	SecretKey string `env:"SECRET_KEY"`
	OutputDir string `env:"IMGSRC_DIR"`

	// ExtraDirs maps X-Dir-Index values to directories (IMGSRC_DIR_<index>)
	ExtraDirs map[string]string

	AllowCORS      bool          `env:"ALLOW_CORS" env-default:"false"`
	MaxUploadSize  int64         `env:"MAX_UPLOAD_SIZE" env-default:"20971520"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" env-default:"60s"`

	// Authentication
	NonceBucket     time.Duration `env:"NONCE_BUCKET" env-default:"30s"`
	NonceTolerance  uint64        `env:"NONCE_TOLERANCE" env-default:"1"`
	ReplayGuard     string        `env:"REPLAY_GUARD" env-default:"off"`
	RedisURL        string        `env:"REDIS_URL"`
	DigestAlgorithm string        `env:"DIGEST_ALGORITHM" env-default:"sha1"`

	S3Mirror s3mirror.Config

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"text"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.OutputDir == "" {
		return errors.New("IMGSRC_DIR is required")
	}
	for index, dir := range c.ExtraDirs {
		if index == "" || dir == "" {
			return fmt.Errorf("invalid extra directory %q=%q", index, dir)
		}
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.MaxUploadSize)
	}
	if c.NonceBucket < time.Second {
		return fmt.Errorf("nonce bucket must be at least 1s, got %s", c.NonceBucket)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if _, err := signature.ParseAlgorithm(c.DigestAlgorithm); err != nil {
		return err
	}

	switch strings.ToLower(c.ReplayGuard) {
	case "", ReplayGuardOff, ReplayGuardMemory:
	case ReplayGuardRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when REPLAY_GUARD is redis")
		}
	default:
		return fmt.Errorf("replay guard must be 'off', 'memory' or 'redis', got: %s", c.ReplayGuard)
	}

	if _, err := c.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.LogFormat)
	}

	return nil
}

// Algorithm returns the parsed digest algorithm.
func (c *ServerConfig) Algorithm() signature.Algorithm {
	algo, err := signature.ParseAlgorithm(c.DigestAlgorithm)
	if err != nil {
		return signature.SHA1
	}
	return algo
}

func (c *ServerConfig) level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
