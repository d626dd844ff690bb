package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tendant/imgsrc/pkg/imgsrc"
	"github.com/tendant/imgsrc/pkg/imgsrc/sniff"
	"github.com/tendant/imgsrc/pkg/imgsrc/store"
)

const (
	// DefaultMaxSize is the largest accepted upload in bytes.
	DefaultMaxSize int64 = 20 * 1024 * 1024

	chunkSize = 32 * 1024
)

// Service runs the upload pipeline: authenticate, read the first multipart
// part, sniff its format, stream it to staging and finalize it under its
// content digest.
type Service struct {
	auth    Authenticator
	store   *store.Store
	mirror  Mirror
	maxSize int64
	logger  *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*Service)

// WithMaxSize sets the upload size limit in bytes.
func WithMaxSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithMirror replicates finalized objects through m.
func WithMirror(m Mirror) Option {
	return func(s *Service) {
		s.mirror = m
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an upload service.
func New(auth Authenticator, st *store.Store, options ...Option) (*Service, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}

	s := &Service{
		auth:    auth,
		store:   st,
		maxSize: DefaultMaxSize,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// MaxSize returns the configured upload size limit.
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Upload validates and stores one image. Only the first multipart part is
// read; any later parts are ignored. Nothing is persisted unless the whole
// pipeline succeeds.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	if err := checkHeader(HeaderSignature, req.Signature, true); err != nil {
		return nil, err
	}
	if err := checkHeader(HeaderNonce, req.NonceHint, true); err != nil {
		return nil, err
	}
	if err := checkHeader(HeaderDirIndex, req.DirIndex, false); err != nil {
		return nil, err
	}

	n, err := s.auth.Authenticate(ctx, req.Signature, req.NonceHint)
	if err != nil {
		return nil, err
	}

	root, err := s.store.Root(req.DirIndex)
	if err != nil {
		return nil, err
	}

	part, err := firstPart(req.ContentType, req.Body)
	if err != nil {
		return nil, err
	}
	defer part.Close()

	filename, err := rawFilename(part)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateFilename(filename); err != nil {
		return nil, err
	}

	buf := make([]byte, chunkSize)
	first, err := io.ReadAtLeast(part, buf, sniff.MinPrefix)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// Too short to be an image; Classify reports Unknown below.
	case err != nil:
		return nil, readError(err)
	}

	format := sniff.Classify(buf[:first])
	if !format.Accepted() {
		s.logger.Debug("Rejected upload format", "filename", filename, "format", format.String())
		return nil, fmt.Errorf("%w: detected %s", imgsrc.ErrUnsupportedFormat, format)
	}
	if int64(first) > s.maxSize {
		return nil, imgsrc.ErrTooLarge
	}

	staging, err := s.store.BeginStaging(root, filename, n)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := staging.Abandon(); err != nil {
			s.logger.Warn("Failed to remove staging file", "path", staging.Path(), "err", err)
		}
	}()
	staging.SetFormat(format)

	if _, err := staging.Write(buf[:first]); err != nil {
		return nil, &imgsrc.StorageError{Op: "write", Path: staging.Path(), Err: err}
	}

	total := int64(first)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, readErr := part.Read(buf)
		if m > 0 {
			total += int64(m)
			if total > s.maxSize {
				return nil, imgsrc.ErrTooLarge
			}
			if _, err := staging.Write(buf[:m]); err != nil {
				return nil, &imgsrc.StorageError{Op: "write", Path: staging.Path(), Err: err}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readError(readErr)
		}
	}

	obj, err := s.store.Finalize(ctx, staging)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Image stored",
		"name", obj.Name,
		"dir_index", root.Index,
		"size", obj.Size,
		"nonce", n,
	)

	result := &Result{
		Nonce:     n,
		Digest:    obj.Digest,
		Algorithm: obj.Algorithm,
		Extension: obj.Extension,
		DirIndex:  root.Index,
		Name:      obj.Name,
		Path:      obj.Path,
		Size:      obj.Size,
	}

	if s.mirror != nil {
		key, err := s.mirror.Put(ctx, root.Index, obj.Name, obj.Path, obj.Format.ContentType())
		if err != nil {
			s.logger.Warn("Failed to mirror object", "name", obj.Name, "err", err)
		} else {
			result.MirrorKey = key
		}
	}

	return result, nil
}

func checkHeader(name, value string, required bool) error {
	if value == "" {
		if required {
			return &imgsrc.HeaderError{Header: name, Err: imgsrc.ErrMissingHeader}
		}
		return nil
	}
	if !utf8.ValidString(value) {
		return &imgsrc.HeaderError{Header: name, Err: imgsrc.ErrInvalidHeader}
	}
	return nil
}

func firstPart(contentType string, body io.Reader) (*multipart.Part, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: empty body", imgsrc.ErrInvalidBody)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imgsrc.ErrInvalidBody, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("%w: unexpected content type %s", imgsrc.ErrInvalidBody, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing boundary", imgsrc.ErrInvalidBody)
	}

	part, err := multipart.NewReader(body, boundary).NextPart()
	if errors.Is(err, io.EOF) {
		return nil, imgsrc.ErrMissingFile
	}
	if err != nil {
		return nil, readError(err)
	}
	return part, nil
}

// rawFilename returns the filename parameter as sent. Part.FileName strips
// directories, which would hide traversal attempts from validation.
func rawFilename(part *multipart.Part) (string, error) {
	disposition := part.Header.Get("Content-Disposition")
	if disposition == "" {
		return "", imgsrc.ErrMissingFilename
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", fmt.Errorf("%w: %v", imgsrc.ErrMissingFilename, err)
	}
	filename, ok := params["filename"]
	if !ok {
		return "", imgsrc.ErrMissingFilename
	}
	if filename == "" {
		return "", fmt.Errorf("%w: empty", imgsrc.ErrInvalidFilename)
	}
	return filename, nil
}

func readError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return imgsrc.ErrTooLarge
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// the connection read deadline set from the request timeout
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: reading body: %v", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %v", imgsrc.ErrInvalidBody, err)
}
