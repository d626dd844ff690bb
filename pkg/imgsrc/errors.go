package imgsrc

import (
	"errors"
	"fmt"
)

// Client request errors. These map to 4xx responses and are safe to describe
// to the caller.
var (
	// ErrMissingHeader indicates a required request header is absent or empty
	ErrMissingHeader = errors.New("missing required header")

	// ErrInvalidHeader indicates a header value is not valid UTF-8 or is malformed
	ErrInvalidHeader = errors.New("invalid header value")

	// ErrInvalidSignature indicates the signature did not match any nonce in the window
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrReplayedSignature indicates the signature was already consumed
	ErrReplayedSignature = errors.New("signature already used")

	// ErrUnknownDirIndex indicates the requested destination index is not configured
	ErrUnknownDirIndex = errors.New("unknown directory index")

	// ErrMissingFile indicates the multipart body carried no file part
	ErrMissingFile = errors.New("no file field in request")

	// ErrMissingFilename indicates the file part had no filename
	ErrMissingFilename = errors.New("no filename in content disposition")

	// ErrInvalidFilename indicates the client filename is unsafe to use in a path
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrInvalidBody indicates the request body is not a readable multipart form
	ErrInvalidBody = errors.New("invalid multipart body")

	// ErrUnsupportedFormat indicates the upload is not a PNG or JPEG image
	ErrUnsupportedFormat = errors.New("invalid file format, must be JPEG or PNG")

	// ErrTooLarge indicates the upload exceeded the configured size limit
	ErrTooLarge = errors.New("file size exceeds limit")
)

var clientErrors = []error{
	ErrMissingHeader,
	ErrInvalidHeader,
	ErrInvalidSignature,
	ErrReplayedSignature,
	ErrUnknownDirIndex,
	ErrMissingFile,
	ErrMissingFilename,
	ErrInvalidFilename,
	ErrInvalidBody,
	ErrUnsupportedFormat,
	ErrTooLarge,
}

// IsClientError reports whether err belongs to the client request class.
// Anything else is treated as a server-side failure.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError returns true if the error is a signature validation error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrReplayedSignature)
}

// HeaderError names the header that failed validation.
type HeaderError struct {
	Header string
	Err    error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Header, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// StorageError represents a filesystem failure while staging or finalizing
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
