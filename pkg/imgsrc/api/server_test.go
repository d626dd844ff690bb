package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/imgsrc/pkg/imgsrc/authgate"
	"github.com/tendant/imgsrc/pkg/imgsrc/nonce"
	"github.com/tendant/imgsrc/pkg/imgsrc/signature"
	"github.com/tendant/imgsrc/pkg/imgsrc/store"
	"github.com/tendant/imgsrc/pkg/imgsrc/upload"
)

const testNonce uint64 = 57000000

var testSecret = []byte("api-test-secret")

var jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0x11}, 39)...)

var hexSHA1 = regexp.MustCompile(`^[0-9a-f]{40}$`)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testServer struct {
	handler http.Handler
	dir     string
	extra   string
}

func setupServerTest(t *testing.T, algo signature.Algorithm, uploadOpts ...upload.Option) *testServer {
	t.Helper()
	dir := t.TempDir()
	extra := t.TempDir()

	st, err := store.New(store.Config{DefaultDir: dir, Dirs: map[string]string{"1": extra}, Algorithm: algo})
	require.NoError(t, err)

	clock := fixedClock{t: time.Unix(int64(testNonce)*30, 0)}
	gate, err := authgate.New(testSecret, authgate.WithNonceSource(nonce.New(nonce.WithClock(clock))))
	require.NoError(t, err)

	svc, err := upload.New(gate, st, uploadOpts...)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	server := New(gate, svc, WithLogger(logger), WithCORS(true), WithTimeout(5*time.Second))
	return &testServer{handler: server.Routes(), dir: dir, extra: extra}
}

func multipartRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	pw, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = pw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/image", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(upload.HeaderSignature, signature.Sign(testSecret, []byte(nonce.Format(testNonce))))
	req.Header.Set(upload.HeaderNonce, nonce.Format(testNonce))
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestServer_Healthz(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1)

	rr := serve(ts.handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestServer_GetNonce(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1)

	rr := serve(ts.handler, httptest.NewRequest(http.MethodGet, "/get_nonce", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "57000000", rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestServer_UploadJPEG(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1)

	rr := serve(ts.handler, multipartRequest(t, "a.jpg", jpegData))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.Equal(t, "jpg", raw["extension"])
	assert.Nil(t, raw["dindex"])
	assert.Equal(t, float64(testNonce), raw["nonce"])
	assert.Equal(t, float64(len(jpegData)), raw["size"])

	sha, ok := raw["sha1"].(string)
	require.True(t, ok)
	assert.Regexp(t, hexSHA1, sha)
	assert.Equal(t, "sha1:"+sha, raw["digest"])

	entries := dirEntries(t, ts.dir)
	require.Len(t, entries, 1)
	assert.Equal(t, sha+".jpg", entries[0].Name())
}

func TestServer_UploadDirIndex(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1)

	req := multipartRequest(t, "a.jpg", jpegData)
	req.Header.Set(upload.HeaderDirIndex, "1")
	rr := serve(ts.handler, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.DirIndex)
	assert.Equal(t, "1", *resp.DirIndex)
	assert.Len(t, dirEntries(t, ts.extra), 1)
	assert.Empty(t, dirEntries(t, ts.dir))
}

func TestServer_UploadNonSHA1Digest(t *testing.T) {
	ts := setupServerTest(t, signature.BLAKE3)

	rr := serve(ts.handler, multipartRequest(t, "a.jpg", jpegData))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Nil(t, resp.SHA1)
	assert.True(t, strings.HasPrefix(resp.Digest, "blake3:"))
}

func TestServer_UploadRejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		code   string
	}{
		{
			name:   "traversal filename",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "../evil.jpg", jpegData) },
			status: http.StatusBadRequest,
			code:   "invalid_file",
		},
		{
			name: "overlong filename",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, strings.Repeat("a", 300)+".jpg", jpegData)
			},
			status: http.StatusBadRequest,
			code:   "invalid_file",
		},
		{
			name:   "not an image",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "a.jpg", []byte("plain text pretending")) },
			status: http.StatusBadRequest,
			code:   "unsupported_format",
		},
		{
			name: "missing signature",
			req: func(t *testing.T) *http.Request {
				r := multipartRequest(t, "a.jpg", jpegData)
				r.Header.Del(upload.HeaderSignature)
				return r
			},
			status: http.StatusBadRequest,
			code:   "invalid_header",
		},
		{
			name: "wrong signature",
			req: func(t *testing.T) *http.Request {
				r := multipartRequest(t, "a.jpg", jpegData)
				r.Header.Set(upload.HeaderSignature, signature.Sign([]byte("nope"), []byte(nonce.Format(testNonce))))
				return r
			},
			status: http.StatusBadRequest,
			code:   "invalid_signature",
		},
		{
			name: "stale signature",
			req: func(t *testing.T) *http.Request {
				r := multipartRequest(t, "a.jpg", jpegData)
				r.Header.Set(upload.HeaderSignature, signature.Sign(testSecret, []byte(nonce.Format(testNonce-2))))
				return r
			},
			status: http.StatusBadRequest,
			code:   "invalid_signature",
		},
		{
			name: "unknown dir index",
			req: func(t *testing.T) *http.Request {
				r := multipartRequest(t, "a.jpg", jpegData)
				r.Header.Set(upload.HeaderDirIndex, "9")
				return r
			},
			status: http.StatusBadRequest,
			code:   "unknown_dir_index",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				r := multipartRequest(t, "a.jpg", jpegData)
				r.Header.Set("Content-Type", "application/octet-stream")
				return r
			},
			status: http.StatusBadRequest,
			code:   "invalid_body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupServerTest(t, signature.SHA1)

			rr := serve(ts.handler, tt.req(t))
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())

			body := decodeError(t, rr)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.RequestID)
			assert.Empty(t, dirEntries(t, ts.dir))
		})
	}
}

func TestServer_SignatureErrorsAreGeneric(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1)

	req := multipartRequest(t, "a.jpg", jpegData)
	req.Header.Set(upload.HeaderSignature, "zz")
	body := decodeError(t, serve(ts.handler, req))
	assert.Equal(t, "invalid signature", body.Message)
}

func TestServer_UploadTooLarge(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1, upload.WithMaxSize(64))

	big := append(append([]byte{}, jpegData...), make([]byte, 64)...)
	rr := serve(ts.handler, multipartRequest(t, "big.jpg", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "file_too_large", decodeError(t, rr).Code)
	assert.Empty(t, dirEntries(t, ts.dir))
}

func TestServer_CORS(t *testing.T) {
	ts := setupServerTest(t, signature.SHA1)

	req := httptest.NewRequest(http.MethodOptions, "/image", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Signature")
	rr := serve(ts.handler, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal_error", decodeError(t, rr).Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(logger))
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	out := buf.String()
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=15")
	assert.Contains(t, out, "level=WARN")
}

func TestClassify(t *testing.T) {
	status, code, msg := classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
	assert.NotContains(t, msg, assert.AnError.Error())

	for _, err := range []error{
		context.DeadlineExceeded,
		fmt.Errorf("%w: reading body: i/o timeout", context.DeadlineExceeded),
	} {
		status, code, _ = classify(err)
		assert.Equal(t, http.StatusGatewayTimeout, status)
		assert.Equal(t, "timeout", code)
	}
}

func TestServer_UploadStalledBodyTimesOut(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(store.Config{DefaultDir: dir})
	require.NoError(t, err)
	clock := fixedClock{t: time.Unix(int64(testNonce)*30, 0)}
	gate, err := authgate.New(testSecret, authgate.WithNonceSource(nonce.New(nonce.WithClock(clock))))
	require.NoError(t, err)
	svc, err := upload.New(gate, st)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(New(gate, svc, WithLogger(logger), WithTimeout(300*time.Millisecond)).Routes())
	defer srv.Close()

	// The client sends the first bytes of the file and then stops.
	pr, pw := io.Pipe()
	release := make(chan struct{})
	defer close(release)
	mw := multipart.NewWriter(pw)
	go func() {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="slow.jpg"`)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = part.Write(append(append([]byte{}, jpegData...), bytes.Repeat([]byte{0x22}, 100)...))
		}
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		<-release
		pw.CloseWithError(errors.New("client gave up"))
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/image", pr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(upload.HeaderSignature, signature.Sign(testSecret, []byte(nonce.Format(testNonce))))
	req.Header.Set(upload.HeaderNonce, nonce.Format(testNonce))

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "timeout", body.Error.Code)
	assert.Empty(t, dirEntries(t, dir))
}
