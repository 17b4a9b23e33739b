//go:build portaudio

package cli

import (
	"log/slog"

	"github.com/MrWong99/talkback/pkg/capture"
	"github.com/MrWong99/talkback/pkg/capture/portaudio"
)

func newPortAudioSink(log *slog.Logger) (capture.Sink, error) {
	return portaudio.New(log), nil
}
