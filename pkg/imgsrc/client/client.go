// Package client uploads images to an imgsrc server. It fetches a nonce,
// signs it with the shared secret and streams the file as multipart form data.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/imgsrc/pkg/imgsrc/api"
	"github.com/tendant/imgsrc/pkg/imgsrc/nonce"
	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/upload"
)

// Client talks to an imgsrc server
type Client struct {
	baseURL      string
	secret       []byte
	httpClient   *http.Client
	progressFunc ProgressFunc
}

// ProgressFunc is called during upload to report progress
// It receives the number of bytes uploaded so far
type ProgressFunc func(bytesUploaded int64)

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, secret []byte, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("secret is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  append([]byte(nil), secret...),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithProgress sets a progress callback function
func WithProgress(fn ProgressFunc) ClientOption {
	return func(c *Client) {
		c.progressFunc = fn
	}
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Nonce fetches the server's current nonce.
func (c *Client) Nonce(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_nonce", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("nonce request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("failed to read nonce: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce %q: %w", body, err)
	}
	return n, nil
}

// Sign returns the signature for nonce n.
func (c *Client) Sign(n uint64) string {
	return signature.Sign(c.secret, []byte(nonce.Format(n)))
}

// uploadOptions contains upload configuration
type uploadOptions struct {
	dirIndex string
	nonce    *uint64
}

// UploadOption is a functional option for Upload method
type UploadOption func(*uploadOptions)

// WithDirIndex selects an indexed destination directory
func WithDirIndex(index string) UploadOption {
	return func(o *uploadOptions) {
		o.dirIndex = index
	}
}

// WithNonce signs n instead of fetching a fresh nonce
func WithNonce(n uint64) UploadOption {
	return func(o *uploadOptions) {
		o.nonce = &n
	}
}

// Upload streams data to the server as filename.
//
// Example:
//
//	c, _ := client.NewClient("http://localhost:8080", secret)
//	resp, err := c.Upload(ctx, "photo.jpg", file)
func (c *Client) Upload(ctx context.Context, filename string, data io.Reader, opts ...UploadOption) (*api.UploadResponse, error) {
	uploadOpts := &uploadOptions{}
	for _, opt := range opts {
		opt(uploadOpts)
	}

	var n uint64
	if uploadOpts.nonce != nil {
		n = *uploadOpts.nonce
	} else {
		var err error
		if n, err = c.Nonce(ctx); err != nil {
			return nil, err
		}
	}

	reader := data
	if c.progressFunc != nil {
		reader = &progressReader{reader: data, callback: c.progressFunc}
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, filename, reader))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(upload.HeaderSignature, c.Sign(n))
	req.Header.Set(upload.HeaderNonce, nonce.Format(n))
	if uploadOpts.dirIndex != "" {
		req.Header.Set(upload.HeaderDirIndex, uploadOpts.dirIndex)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out api.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeMultipart(mw *multipart.Writer, filename string, data io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", "application/octet-stream")

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, data); err != nil {
		return err
	}
	return mw.Close()
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.RequestID = body.Error.RequestID
	}
	return apiErr
}

// progressReader wraps an io.Reader to track upload progress
type progressReader struct {
	reader    io.Reader
	bytesRead int64
	callback  ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.bytesRead += int64(n)
	if pr.callback != nil && n > 0 {
		pr.callback(pr.bytesRead)
	}
	return n, err
}
