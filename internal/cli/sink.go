package cli

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/pkg/capture"
	"github.com/MrWong99/talkback/pkg/capture/ffmpeg"
)

// newSink builds the capture sink selected by client.capture.source.
func newSink(c config.CaptureConfig, log *slog.Logger) (capture.Sink, error) {
	switch c.Source {
	case config.SourceFFmpeg, "":
		opts := []ffmpeg.Option{ffmpeg.WithLogger(log)}
		if c.Format != "" {
			opts = append(opts, ffmpeg.WithInputFormat(c.Format))
		}
		return ffmpeg.New(opts...), nil
	case config.SourcePortAudio:
		return newPortAudioSink(log)
	default:
		return nil, fmt.Errorf("unknown capture source %q", c.Source)
	}
}

// sinkChecker is implemented by sinks that can verify their prerequisites
// without opening the microphone.
type sinkChecker interface {
	Check() error
}
