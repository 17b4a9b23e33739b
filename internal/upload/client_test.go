package upload_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/talkback/internal/upload"
)

// receivedUpload captures what the test server saw.
type receivedUpload struct {
	method      string
	path        string
	requestID   string
	fieldName   string
	fileName    string
	contentType string
	data        []byte
}

// newServer starts a server that records the upload and answers with status
// and body.
func newServer(t *testing.T, status int, body string, got *receivedUpload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.method = r.Method
			got.path = r.URL.Path
			got.requestID = r.Header.Get(upload.RequestIDHeader)
			mr, err := r.MultipartReader()
			if err != nil {
				t.Errorf("multipart reader: %v", err)
			} else if part, err := mr.NextPart(); err == nil {
				got.fieldName = part.FormName()
				got.fileName = part.FileName()
				got.contentType = part.Header.Get("Content-Type")
				got.data, _ = io.ReadAll(part)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func static(url string) upload.EndpointFunc {
	return func() string { return url }
}

func TestUpload_Success(t *testing.T) {
	t.Parallel()

	var got receivedUpload
	srv := newServer(t, http.StatusOK, `{"response":"Hello there."}`, &got)

	c := upload.New(static(srv.URL))
	text, err := c.Upload(context.Background(), "req-1", []byte("RIFF-payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello there." {
		t.Errorf("response = %q, want %q", text, "Hello there.")
	}

	if got.method != http.MethodPost {
		t.Errorf("method = %s, want POST", got.method)
	}
	if got.path != "/process-audio" {
		t.Errorf("path = %s, want /process-audio", got.path)
	}
	if got.fieldName != "audio" {
		t.Errorf("field = %q, want audio", got.fieldName)
	}
	if got.fileName == "" {
		t.Error("part has no file name")
	}
	if got.contentType != "audio/wav" {
		t.Errorf("part content type = %q, want audio/wav", got.contentType)
	}
	if string(got.data) != "RIFF-payload" {
		t.Errorf("payload = %q, want RIFF-payload", got.data)
	}
	if got.requestID != "req-1" {
		t.Errorf("request id = %q, want req-1", got.requestID)
	}
}

func TestUpload_TrailingSlashEndpoint(t *testing.T) {
	t.Parallel()

	var got receivedUpload
	srv := newServer(t, http.StatusOK, `{"response":"ok"}`, &got)

	if _, err := upload.New(static(srv.URL+"/")).Upload(context.Background(), "", []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.path != "/process-audio" {
		t.Errorf("path = %s, want /process-audio", got.path)
	}
}

func TestUpload_EmptyResponseIsSuccess(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusOK, `{"response":""}`, nil)
	text, err := upload.New(static(srv.URL)).Upload(context.Background(), "", []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("response = %q, want empty", text)
	}
}

func statusIs(code int, detail string) func(error) bool {
	return func(err error) bool {
		var e *upload.StatusError
		return errors.As(err, &e) && e.Code == code && e.Detail == detail
	}
}

func errorAs[E error](err error) bool {
	var e E
	return errors.As(err, &e)
}

func TestUpload_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{
			name:    "internal server error",
			status:  http.StatusInternalServerError,
			body:    `oops`,
			check:   statusIs(500, ""),
			message: "Server responded with 500",
		},
		{
			name:    "error body with status",
			status:  http.StatusBadGateway,
			body:    `{"error":"transcription failed"}`,
			check:   statusIs(502, "transcription failed"),
			message: "Server responded with 502: transcription failed",
		},
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    `<html>`,
			check:   errorAs[*upload.MalformedResponseError],
			message: "Server sent an invalid response",
		},
		{
			name:    "missing response field",
			status:  http.StatusOK,
			body:    `{"answer":"x"}`,
			check:   errorAs[*upload.MalformedResponseError],
			message: "Server sent an invalid response",
		},
		{
			name:    "error field with 200",
			status:  http.StatusOK,
			body:    `{"error":"could not understand audio"}`,
			check:   errorAs[*upload.ServerError],
			message: "Server error: could not understand audio",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, tc.status, tc.body, nil)
			_, err := upload.New(static(srv.URL)).Upload(context.Background(), "", []byte("x"))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.check(err) {
				t.Errorf("unexpected error type: %T %v", err, err)
			}
			if got := upload.Message(err); got != tc.message {
				t.Errorf("Message = %q, want %q", got, tc.message)
			}
			if got := upload.Kind(err); got != "server" {
				t.Errorf("Kind = %q, want server", got)
			}
		})
	}
}

func TestUpload_NetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := upload.New(static(url)).Upload(context.Background(), "", []byte("x"))
	var ne *upload.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if !strings.HasPrefix(upload.Message(err), "Could not reach the server") {
		t.Errorf("Message = %q", upload.Message(err))
	}
	if upload.Kind(err) != "network" {
		t.Errorf("Kind = %q, want network", upload.Kind(err))
	}
}

func TestUpload_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := upload.New(static(srv.URL), upload.WithTimeout(50*time.Millisecond))
	_, err := c.Upload(context.Background(), "", []byte("x"))
	var ne *upload.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped DeadlineExceeded", err)
	}
}

func TestUpload_NoEndpoint(t *testing.T) {
	t.Parallel()

	for _, ep := range []upload.EndpointFunc{nil, static(""), static("   ")} {
		_, err := upload.New(ep).Upload(context.Background(), "", []byte("x"))
		if !errors.Is(err, upload.ErrNoEndpoint) {
			t.Errorf("err = %v, want ErrNoEndpoint", err)
		}
		if got := upload.Message(err); got != "API endpoint is not configured" {
			t.Errorf("Message = %q", got)
		}
		if upload.Kind(err) != "config" {
			t.Errorf("Kind = %q, want config", upload.Kind(err))
		}
	}
}

func TestUpload_EndpointReadPerCall(t *testing.T) {
	t.Parallel()

	var hitsA, hitsB atomic.Int32
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "a"})
	}))
	t.Cleanup(a.Close)
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "b"})
	}))
	t.Cleanup(b.Close)

	var current atomic.Value
	current.Store(a.URL)
	c := upload.New(func() string { return current.Load().(string) })

	if got, _ := c.Upload(context.Background(), "", []byte("x")); got != "a" {
		t.Errorf("first upload = %q, want a", got)
	}
	current.Store(b.URL)
	if got, _ := c.Upload(context.Background(), "", []byte("x")); got != "b" {
		t.Errorf("second upload = %q, want b", got)
	}
	if hitsA.Load() != 1 || hitsB.Load() != 1 {
		t.Errorf("hits a=%d b=%d, want 1 each", hitsA.Load(), hitsB.Load())
	}
}
