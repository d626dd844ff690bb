package upload

import (
	"io"

	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
)

// Request headers carried by image uploads.
const (
	HeaderSignature = "X-Signature"
	HeaderNonce     = "X-Nonce"
	HeaderDirIndex  = "X-Dir-Index"
)

// Request is a single upload as received from the transport.
type Request struct {
	Signature   string
	NonceHint   string
	DirIndex    string
	ContentType string // multipart/form-data with boundary
	Body        io.Reader
}

// Result describes the stored object.
type Result struct {
	Nonce     uint64
	Digest    string
	Algorithm signature.Algorithm
	Extension string
	DirIndex  string // empty for the default directory
	Name      string
	Path      string
	Size      int64
	MirrorKey string // empty unless the mirror accepted the object
}
