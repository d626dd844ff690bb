package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// ExtraDirPrefix prefixes environment variables naming indexed directories.
const ExtraDirPrefix = "IMGSRC_DIR_"

// WithEnv reads the environment into the configuration.
//
//	IMGSRC_ADDR        listen address (default: "127.0.0.1:8080")
//	SECRET_KEY         shared HMAC secret (required)
//	IMGSRC_DIR         default output directory (required)
//	IMGSRC_DIR_<index> directory selected by X-Dir-Index: <index>
//	ALLOW_CORS         allow any origin (default: false)
//	MAX_UPLOAD_SIZE    upload limit in bytes (default: 20971520)
//	REQUEST_TIMEOUT    per-request deadline (default: 60s)
//	NONCE_BUCKET       nonce bucket width (default: 30s)
//	NONCE_TOLERANCE    accepted buckets either side of now (default: 1)
//	REPLAY_GUARD       off, memory or redis (default: off)
//	REDIS_URL          redis://... for the redis replay guard
//	DIGEST_ALGORITHM   sha1, sha256 or blake3 (default: sha1)
//	S3_MIRROR_*        optional S3 mirror, enabled by S3_MIRROR_BUCKET
//	LOG_LEVEL          debug, info, warn or error (default: info)
//	LOG_FORMAT         text or json (default: text)
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return applyExtraDirs(c, os.Environ())
	}
}

func applyExtraDirs(c *ServerConfig, environ []string) error {
	if c.ExtraDirs == nil {
		c.ExtraDirs = map[string]string{}
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, ExtraDirPrefix) {
			continue
		}
		index := strings.TrimPrefix(key, ExtraDirPrefix)
		if index == "" {
			continue
		}
		if value == "" {
			return fmt.Errorf("%s is empty", key)
		}
		c.ExtraDirs[index] = value
	}
	return nil
}
