// Package upload sends a finished recording to the processing endpoint and
// returns the text the server answers with.
//
// The wire contract is a single multipart POST to {endpoint}/process-audio
// with one part named "audio" (Content-Type audio/wav). A 2xx response carries
// a JSON body {"response": "..."}; anything else is a failure reported as one
// of the typed errors in this package. There are no retries.
package upload

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
	"net/textproto"
	"strings"
	"time"
)

const (
	// Path is the processing route appended to the endpoint base URL.
	Path = "/process-audio"

	// FieldName is the multipart part carrying the recording.
	FieldName = "audio"

	// FileName is the file name sent with the recording part.
	FileName = "recording.wav"

	// ContentType is the MIME type of the recording part.
	ContentType = "audio/wav"

	// RequestIDHeader carries the session ID so server logs can be correlated.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 2 * time.Minute

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// EndpointFunc returns the endpoint base URL. It is called once per upload so
// configuration changes take effect without restarting.
type EndpointFunc func() string

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout takes precedence over
// [WithTimeout] when non-zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds a whole upload, including reading the response.
// Defaults to two minutes; the server transcribes and queries a model before
// it answers.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Client uploads recordings. It is safe for concurrent use.
type Client struct {
	endpoint  EndpointFunc
	http      *http.Client
	timeout   time.Duration
	userAgent string
	log       *slog.Logger
}

// New creates a [Client] that resolves its endpoint through endpoint on every
// call.
func New(endpoint EndpointFunc, opts ...Option) *Client {
	c := &Client{
		endpoint:  endpoint,
		http:      &http.Client{},
		timeout:   defaultTimeout,
		userAgent: "talkback",
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// URL returns the processing URL for the current endpoint, or
// [ErrNoEndpoint] when none is configured.
func (c *Client) URL() (string, error) {
	var base string
	if c.endpoint != nil {
		base = strings.TrimSpace(c.endpoint())
	}
	if base == "" {
		return "", ErrNoEndpoint
	}
	return strings.TrimRight(base, "/") + Path, nil
}

// Upload posts payload and returns the server's response text. requestID is
// sent in the [RequestIDHeader] header when non-empty.
func (c *Client) Upload(ctx context.Context, requestID string, payload []byte) (string, error) {
	url, err := c.URL()
	if err != nil {
		return "", err
	}

	body, contentType, err := encodeForm(payload)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 && c.http.Timeout == 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("upload: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &NetworkError{URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}

	c.log.Debug("upload finished",
		"request_id", requestID,
		"status", resp.StatusCode,
		"bytes", len(payload),
		"duration", time.Since(start),
	)

	return decodeResponse(resp.StatusCode, data)
}

// encodeForm builds the multipart body. CreateFormFile would label the part
// application/octet-stream, so the header is written by hand.
func encodeForm(payload []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, FileName))
	h.Set("Content-Type", ContentType)
	pw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("upload: create form part: %w", err)
	}
	if _, err := pw.Write(payload); err != nil {
		return nil, "", fmt.Errorf("upload: write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("upload: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// responseBody is the JSON document returned by the processing endpoint.
// The server reports failures in Error, with or without a non-2xx status.
type responseBody struct {
	Response *string `json:"response"`
	Error    string  `json:"error"`
}

func decodeResponse(status int, data []byte) (string, error) {
	var rb responseBody
	jsonErr := json.Unmarshal(data, &rb)

	if status < 200 || status > 299 {
		detail := ""
		if jsonErr == nil {
			detail = rb.Error
		}
		return "", &StatusError{Code: status, Detail: detail}
	}
	if jsonErr != nil {
		return "", &MalformedResponseError{Err: jsonErr}
	}
	if rb.Response == nil {
		if rb.Error != "" {
			return "", &ServerError{Message: rb.Error}
		}
		return "", &MalformedResponseError{Err: errors.New(`missing "response" field`)}
	}
	return *rb.Response, nil
}
