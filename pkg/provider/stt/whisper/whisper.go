// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. NativeProvider, built with the whispercpp build
// tag, runs the model in-process through the whisper.cpp CGO bindings.
//
// whisper.cpp expects 16 kHz mono audio; both providers convert the clip
// before inference.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, clip, stt.Config{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

const (
	// SampleRate is the input rate whisper.cpp models are trained on.
	SampleRate = 16000

	defaultTimeout = 60 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). By default the server keeps the model it was
// started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the whisper.cpp
// server (e.g., "en", "de", "fr"). A per-request stt.Config.Language wins.
// When both are empty the server auto-detects.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 60 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8081"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. The clip is converted to 16 kHz mono
// WAV and posted to /inference as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, cfg stt.Config) (stt.Transcript, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	mono := clip.Mono(SampleRate)

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(mono.WAV()); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"language":        lang,
		"model":           p.model,
		"prompt":          cfg.Prompt,
	}
	for _, name := range []string{"response_format", "language", "model", "prompt"} {
		if fields[name] == "" {
			continue
		}
		if err := mw.WriteField(name, fields[name]); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return stt.Transcript{}, fmt.Errorf("whisper: server error: %s", result.Error)
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: lang,
		Duration: mono.Duration(),
	}, nil
}
