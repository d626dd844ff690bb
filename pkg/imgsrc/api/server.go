// Package api exposes the nonce and upload operations over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/imgsrc/pkg/imgsrc/nonce"
	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/upload"
)

// multipartOverhead is allowed on top of the file size limit for boundaries
// and part headers. The pipeline enforces the exact file limit.
const multipartOverhead = 1 << 20

// NonceIssuer hands out the current nonce.
type NonceIssuer interface {
	IssueNonce() uint64
}

// Uploader runs the upload pipeline.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
	MaxSize() int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCORS enables permissive CORS headers.
func WithCORS(enabled bool) Option {
	return func(s *Server) {
		s.allowCORS = enabled
	}
}

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server routes HTTP requests to the nonce issuer and upload pipeline.
type Server struct {
	nonces    NonceIssuer
	uploads   Uploader
	logger    *slog.Logger
	allowCORS bool
	timeout   time.Duration
}

// New creates a Server.
func New(nonces NonceIssuer, uploads Uploader, opts ...Option) *Server {
	s := &Server{
		nonces:  nonces,
		uploads: uploads,
		logger:  slog.Default(),
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes sets up the HTTP routes
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDHeaderMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))
	if s.allowCORS {
		r.Use(CORSMiddleware())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Get("/healthz", s.handleHealthz)
		r.Get("/get_nonce", s.handleGetNonce)
	})

	// handleUpload owns its deadline so a stalled body cannot outlive it
	r.With(RequestSizeLimitMiddleware(s.uploads.MaxSize()+multipartOverhead)).
		Post("/image", s.handleUpload)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, http.StatusText(http.StatusOK))
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, nonce.Format(s.nonces.IssueNonce()))
}

// UploadResponse is returned for a stored image. SHA1 is null when names
// use another digest; DirIndex is null for the default directory.
type UploadResponse struct {
	Nonce     uint64  `json:"nonce"`
	SHA1      *string `json:"sha1"`
	Extension string  `json:"extension"`
	DirIndex  *string `json:"dindex"`
	Digest    string  `json:"digest"`
	Size      int64   `json:"size"`
}

func newUploadResponse(res *upload.Result) UploadResponse {
	resp := UploadResponse{
		Nonce:     res.Nonce,
		Extension: res.Extension,
		Digest:    string(res.Algorithm) + ":" + res.Digest,
		Size:      res.Size,
	}
	if res.Algorithm == signature.SHA1 {
		digest := res.Digest
		resp.SHA1 = &digest
	}
	if res.DirIndex != "" {
		index := res.DirIndex
		resp.DirIndex = &index
	}
	return resp
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	deadline := time.Now().Add(s.timeout)
	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()

	// Body reads ignore ctx; the connection read deadline unblocks them.
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("Failed to set read deadline", "err", err)
	}

	res, err := s.uploads.Upload(ctx, upload.Request{
		Signature:   r.Header.Get(upload.HeaderSignature),
		NonceHint:   r.Header.Get(upload.HeaderNonce),
		DirIndex:    r.Header.Get(upload.HeaderDirIndex),
		ContentType: r.Header.Get("Content-Type"),
		Body:        r.Body,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	render.JSON(w, r, newUploadResponse(res))
}
