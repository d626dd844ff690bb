package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/imgsrc/pkg/imgsrc"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps a pipeline error to a status, a stable code and a message
// that is safe to return to the caller.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, imgsrc.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large", imgsrc.ErrTooLarge.Error()
	case imgsrc.IsAuthError(err):
		return http.StatusBadRequest, "invalid_signature", imgsrc.ErrInvalidSignature.Error()
	case errors.Is(err, imgsrc.ErrMissingHeader), errors.Is(err, imgsrc.ErrInvalidHeader):
		return http.StatusBadRequest, "invalid_header", err.Error()
	case errors.Is(err, imgsrc.ErrUnknownDirIndex):
		return http.StatusBadRequest, "unknown_dir_index", imgsrc.ErrUnknownDirIndex.Error()
	case errors.Is(err, imgsrc.ErrUnsupportedFormat):
		return http.StatusBadRequest, "unsupported_format", imgsrc.ErrUnsupportedFormat.Error()
	case errors.Is(err, imgsrc.ErrMissingFile),
		errors.Is(err, imgsrc.ErrMissingFilename),
		errors.Is(err, imgsrc.ErrInvalidFilename):
		return http.StatusBadRequest, "invalid_file", err.Error()
	case errors.Is(err, imgsrc.ErrInvalidBody):
		return http.StatusBadRequest, "invalid_body", imgsrc.ErrInvalidBody.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	}
	return http.StatusInternalServerError, "internal_error", "An internal server error occurred"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	requestID := middleware.GetReqID(r.Context())

	if status >= http.StatusInternalServerError {
		s.logger.Error("Upload failed", "request_id", requestID, "err", err)
	} else {
		s.logger.Info("Upload rejected", "request_id", requestID, "code", code, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}})
}
