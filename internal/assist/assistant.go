// Package assist turns one uploaded recording into an answer: the clip is
// transcribed by an STT provider and the transcript is sent to an LLM
// provider as a single user turn under a configurable system prompt.
//
// Both provider calls run through their own circuit breaker so a failing
// backend is reported quickly instead of tying up every request until its
// timeout.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// DefaultSilenceFloor is the RMS level (in 16-bit sample units) below which
// a recording is treated as silence and never sent to a provider.
const DefaultSilenceFloor = 30.0

// ErrNoSpeech is returned when a recording is silent or the STT provider
// heard nothing in it.
var ErrNoSpeech = errors.New("assist: no speech detected")

// Settings shapes each answer. They may change at runtime through
// [Assistant.SetSettings].
type Settings struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	Language    string
}

// SettingsFrom maps the assistant section of the config file.
func SettingsFrom(c config.AssistantConfig) Settings {
	return Settings{
		Prompt:      c.SystemPrompt,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Language:    c.Language,
	}
}

// Reply is the outcome of one recording.
type Reply struct {
	// Transcript is what the STT provider heard.
	Transcript stt.Transcript

	// Text is the LLM's answer.
	Text string

	// Usage is the token usage reported by the LLM provider.
	Usage llm.Usage
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithSettings sets the initial prompt and generation parameters.
func WithSettings(s Settings) Option {
	return func(a *Assistant) { a.settings = s }
}

// WithProviderNames sets the provider labels used in metrics and logs.
func WithProviderNames(sttName, llmName string) Option {
	return func(a *Assistant) {
		a.sttName = sttName
		a.llmName = llmName
	}
}

// WithBreakers replaces the default circuit breakers.
func WithBreakers(sttBreaker, llmBreaker *resilience.CircuitBreaker) Option {
	return func(a *Assistant) {
		a.sttBreaker = sttBreaker
		a.llmBreaker = llmBreaker
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithLogger sets the fallback logger for calls without a request-scoped one.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.log = l }
}

// WithSilenceFloor overrides [DefaultSilenceFloor]. Zero disables the check.
func WithSilenceFloor(rms float64) Option {
	return func(a *Assistant) { a.silenceFloor = rms }
}

// Assistant answers recordings. It is safe for concurrent use.
type Assistant struct {
	stt          stt.Provider
	llm          llm.Provider
	sttName      string
	llmName      string
	sttBreaker   *resilience.CircuitBreaker
	llmBreaker   *resilience.CircuitBreaker
	metrics      *observe.Metrics
	log          *slog.Logger
	silenceFloor float64

	mu       sync.RWMutex
	settings Settings
}

// New creates an Assistant over the given providers.
func New(s stt.Provider, l llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{
		stt:          s,
		llm:          l,
		sttName:      "stt",
		llmName:      "llm",
		silenceFloor: DefaultSilenceFloor,
		settings:     Settings{Prompt: config.DefaultSystemPrompt},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.sttBreaker == nil {
		a.sttBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt", Logger: a.log})
	}
	if a.llmBreaker == nil {
		a.llmBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm", Logger: a.log})
	}
	return a
}

// Settings returns the current settings.
func (a *Assistant) Settings() Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// SetSettings replaces the settings used by subsequent replies. An empty
// prompt falls back to the default prompt.
func (a *Assistant) SetSettings(s Settings) {
	if strings.TrimSpace(s.Prompt) == "" {
		s.Prompt = config.DefaultSystemPrompt
	}
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
}

// SetPrompt replaces only the system prompt.
func (a *Assistant) SetPrompt(prompt string) {
	s := a.Settings()
	s.Prompt = prompt
	a.SetSettings(s)
}

// Breakers returns the STT and LLM circuit breakers, in that order.
func (a *Assistant) Breakers() []*resilience.CircuitBreaker {
	return []*resilience.CircuitBreaker{a.sttBreaker, a.llmBreaker}
}

// Reply transcribes clip and asks the LLM to answer the transcript.
func (a *Assistant) Reply(ctx context.Context, clip *audio.Clip) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "assist.Reply")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx)

	settings := a.Settings()
	span.SetAttributes(
		attribute.String("talkback.audio", clip.String()),
		attribute.String("talkback.stt.provider", a.sttName),
		attribute.String("talkback.llm.provider", a.llmName),
	)
	a.metrics.AudioDuration.Record(ctx, clip.Duration().Seconds())

	if len(clip.PCM) == 0 || (a.silenceFloor > 0 && clip.RMS() < a.silenceFloor) {
		span.SetStatus(codes.Error, ErrNoSpeech.Error())
		log.Debug("recording is silent", "rms", clip.RMS(), "floor", a.silenceFloor)
		return Reply{}, ErrNoSpeech
	}

	tr, err := a.transcribe(ctx, clip, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return Reply{}, err
	}
	if tr.Empty() {
		span.SetStatus(codes.Error, ErrNoSpeech.Error())
		return Reply{Transcript: tr}, ErrNoSpeech
	}
	log.Debug("transcribed recording", "chars", len(tr.Text), "language", tr.Language)

	resp, err := a.complete(ctx, tr.Text, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Reply{Transcript: tr}, err
	}

	a.metrics.ProcessDuration.Record(ctx, time.Since(start).Seconds())
	log.Info("answered recording",
		"audio", clip.String(),
		"transcript_chars", len(tr.Text),
		"answer_chars", len(resp.Content),
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return Reply{Transcript: tr, Text: resp.Content, Usage: resp.Usage}, nil
}

func (a *Assistant) transcribe(ctx context.Context, clip *audio.Clip, s Settings) (stt.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "assist.transcribe")
	defer span.End()

	start := time.Now()
	tr, err := resilience.Call(ctx, a.sttBreaker, func(ctx context.Context) (stt.Transcript, error) {
		return a.stt.Transcribe(ctx, clip, stt.Config{Language: s.Language})
	})
	a.record(ctx, a.sttName, "stt", err)
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if errors.Is(err, stt.ErrEmptyAudio) {
		return stt.Transcript{}, ErrNoSpeech
	}
	if err != nil {
		span.RecordError(err)
		return stt.Transcript{}, fmt.Errorf("assist: transcribe: %w", err)
	}
	return tr, nil
}

func (a *Assistant) complete(ctx context.Context, transcript string, s Settings) (*llm.CompletionResponse, error) {
	ctx, span := observe.StartSpan(ctx, "assist.complete")
	defer span.End()

	req := llm.CompletionRequest{
		SystemPrompt: s.Prompt,
		Messages:     []llm.Message{llm.UserMessage(transcript)},
		Temperature:  s.Temperature,
		MaxTokens:    s.MaxTokens,
	}

	start := time.Now()
	resp, err := resilience.Call(ctx, a.llmBreaker, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return a.llm.Complete(ctx, req)
	})
	a.record(ctx, a.llmName, "llm", err)
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("assist: complete: %w", err)
	}
	if resp == nil {
		return nil, errors.New("assist: complete: provider returned no response")
	}
	return resp, nil
}

func (a *Assistant) record(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = "rejected"
		} else {
			a.metrics.RecordProviderError(ctx, provider, kind)
		}
	}
	a.metrics.RecordProviderRequest(ctx, provider, kind, status)
}
