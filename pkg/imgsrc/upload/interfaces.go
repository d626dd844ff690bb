package upload

import (
	"context"
)

// Authenticator validates request signatures and returns the matched nonce.
type Authenticator interface {
	Authenticate(ctx context.Context, signatureHex, nonceHint string) (uint64, error)
}

// Mirror receives finalized objects for replication. Failures are logged
// and never fail an upload.
type Mirror interface {
	Put(ctx context.Context, index, name, localPath, contentType string) (string, error)
}
