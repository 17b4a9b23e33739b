//go:build !portaudio

package cli

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/talkback/pkg/capture"
)

var errNoPortAudio = errors.New(`capture source "portaudio" is not available: rebuild talkback with -tags portaudio`)

func newPortAudioSink(*slog.Logger) (capture.Sink, error) {
	return nil, errNoPortAudio
}
