// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint. Any server that implements
// POST /audio/transcriptions in the OpenAI shape works via [WithBaseURL].
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// SampleRate is the rate recordings are converted to before upload.
const SampleRate = 16000

const defaultModel = "whisper-1"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the transcription model, e.g. "whisper-1" or
// "gpt-4o-transcribe".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI STT Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, cfg stt.Config) (stt.Transcript, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	mono := clip.Mono(SampleRate)

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(mono.WAV()), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if cfg.Prompt != "" {
		params.Prompt = oai.String(cfg.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: lang,
		Duration: mono.Duration(),
	}, nil
}
