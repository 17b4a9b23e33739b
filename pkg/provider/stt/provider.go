// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a whisper.cpp server,
// Deepgram or the OpenAI audio API) and turns one finished recording into
// text. Recordings arrive whole, so the interface is a single batch call even
// for providers whose wire protocol is streaming.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/talkback/pkg/audio"
)

// ErrEmptyAudio is returned when the clip holds no samples.
var ErrEmptyAudio = errors.New("stt: audio clip is empty")

// Config carries per-request recognition hints.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Prompt is optional context that biases recognition toward expected
	// vocabulary. Providers without prompt support ignore it.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts clip to text. Providers resample or downmix the
	// clip to whatever format their backend needs.
	//
	// An empty transcript with a nil error means the provider heard no
	// speech.
	Transcribe(ctx context.Context, clip *audio.Clip, cfg Config) (Transcript, error)
}
