//go:build whispercpp

// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all requests.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for transcription
// (e.g., "en", "de", "fr"). Empty or "auto" lets whisper.cpp detect it.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Zero keeps
// the whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Each call creates its own whisper.cpp
// context from the shared model; contexts are not safe for concurrent use
// but the model is.
func (p *NativeProvider) Transcribe(ctx context.Context, clip *audio.Clip, cfg stt.Config) (stt.Transcript, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	mono := clip.Mono(SampleRate)
	samples := audio.PCMToFloat32(mono.PCM)

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if cfg.Prompt != "" {
		wctx.SetInitialPrompt(cfg.Prompt)
	}

	// The encoder-begin callback aborts inference when it returns false.
	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, proceed, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: wctx.DetectedLanguage(),
		Duration: mono.Duration(),
	}, nil
}
