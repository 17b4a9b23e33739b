//go:build portaudio

// Package portaudio implements [capture.Sink] on top of the PortAudio C
// library through github.com/gordonklaus/portaudio.
//
// Building this package requires cgo and the PortAudio headers and library;
// it is excluded unless the "portaudio" build tag is set. Chunks carry raw
// PCM prefixed, on the first chunk, with a streaming WAV header, so the
// assembled payload is a WAV file with unknown sizes that [audio.Decode]
// accepts.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/capture"
)

// Compile-time interface assertions.
var (
	_ capture.Sink   = (*Sink)(nil)
	_ capture.Handle = (*handle)(nil)
)

// Sink opens the default PortAudio input device.
type Sink struct {
	log *slog.Logger
}

// New creates a [Sink]. A nil logger selects [slog.Default].
func New(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log}
}

// Open implements [capture.Sink]. Constraints.Device is ignored; PortAudio
// always opens the default input device.
func (s *Sink) Open(ctx context.Context, c capture.Constraints) (capture.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c = c.WithDefaults()

	if err := pa.Initialize(); err != nil {
		return nil, classify(fmt.Errorf("portaudio: initialize: %w", err))
	}

	frames := c.ChunkBytes() / (2 * c.Channels)
	in := make([]int16, frames*c.Channels)
	stream, err := pa.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), frames, in)
	if err != nil {
		_ = pa.Terminate()
		return nil, classify(fmt.Errorf("portaudio: open default stream: %w", err))
	}

	s.log.Debug("portaudio capture opened", "sample_rate", c.SampleRate, "channels", c.Channels, "frames", frames)

	return &handle{
		stream: stream,
		in:     in,
		header: audio.StreamHeader(c.SampleRate, c.Channels),
		log:    s.log,
		done:   make(chan struct{}),
	}, nil
}

func classify(err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized") {
		return &capture.PermissionError{Err: err}
	}
	return &capture.DeviceError{Err: err}
}

// handle owns one PortAudio stream. The read loop goroutine is the only
// caller of stream.Read.
type handle struct {
	stream *pa.Stream
	in     []int16
	header []byte
	log    *slog.Logger

	mu         sync.Mutex
	onChunk    func([]byte)
	onFinalize func()
	started    bool
	stopping   bool
	finalizing bool
	ended      bool
	fired      bool

	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

func (h *handle) OnChunk(cb func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChunk = cb
}

func (h *handle) OnFinalize(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinalize = cb
}

func (h *handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("portaudio: handle already started")
	}
	if err := h.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	h.started = true
	go h.readLoop()
	return nil
}

// Finalize asks the read loop to stop after the buffer it is filling.
func (h *handle) Finalize() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return errors.New("portaudio: handle not started")
	}
	h.stopping = true
	h.finalizing = true
	ended := h.ended
	h.mu.Unlock()
	if ended {
		h.fireFinalize()
	}
	return nil
}

// Release waits for the read loop to exit, then closes the stream and
// terminates PortAudio.
func (h *handle) Release() error {
	h.releaseOnce.Do(func() {
		h.mu.Lock()
		started := h.started
		h.stopping = true
		h.mu.Unlock()

		if started {
			<-h.done
			h.releaseErr = h.stream.Stop()
		}
		h.releaseErr = errors.Join(h.releaseErr, h.stream.Close(), pa.Terminate())
	})
	return h.releaseErr
}

func (h *handle) readLoop() {
	defer close(h.done)

	header := h.header
	for {
		h.mu.Lock()
		stop := h.stopping
		h.mu.Unlock()
		if stop {
			break
		}

		if err := h.stream.Read(); err != nil {
			// Input overflow drops samples but the stream stays usable.
			if errors.Is(err, pa.InputOverflowed) {
				h.log.Debug("portaudio input overflowed")
			} else {
				h.log.Warn("portaudio read failed", "err", err)
				break
			}
		}

		chunk := make([]byte, len(header)+len(h.in)*2)
		copy(chunk, header)
		for i, v := range h.in {
			binary.LittleEndian.PutUint16(chunk[len(header)+i*2:], uint16(v))
		}
		header = nil
		h.emit(chunk)
	}
	if header != nil {
		h.emit(header)
	}

	h.mu.Lock()
	h.ended = true
	finalizing := h.finalizing
	h.mu.Unlock()
	if finalizing {
		h.fireFinalize()
	}
}

func (h *handle) fireFinalize() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	cb := h.onFinalize
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (h *handle) emit(chunk []byte) {
	h.mu.Lock()
	cb := h.onChunk
	h.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}
