// Package ffmpeg implements [capture.Sink] by running the ffmpeg binary
// against the platform's audio input device and reading a WAV stream from
// its standard output.
//
// The first chunk of every handle carries the WAV header ffmpeg writes when
// the device has been opened successfully. Because the output is a pipe,
// ffmpeg cannot seek back to patch the size fields; consumers should decode
// the assembled payload with [audio.Decode], which recomputes them.
//
// Finalize asks ffmpeg to stop with an interrupt (or a "q" on stdin where
// signals are unavailable). ffmpeg then flushes its buffers and exits, the
// remaining bytes are delivered as the final chunk, and the finalize callback
// fires.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/capture"
)

const defaultStopTimeout = 3 * time.Second

// Compile-time interface assertions.
var (
	_ capture.Sink   = (*Sink)(nil)
	_ capture.Handle = (*handle)(nil)
)

// permissionHints are lower-case fragments of ffmpeg/OS error output that
// indicate a denied microphone permission rather than a missing device.
var permissionHints = []string{
	"permission denied",
	"not permitted",
	"not authorized",
	"access denied",
	"authorization",
}

// Option is a functional option for configuring a [Sink].
type Option func(*Sink)

// WithBinary sets the ffmpeg executable name or path. Defaults to "ffmpeg".
func WithBinary(path string) Option {
	return func(s *Sink) {
		s.binary = path
	}
}

// WithInputFormat overrides the ffmpeg input format (-f) used to open the
// device, e.g. "alsa", "pulse", "avfoundation" or "dshow".
func WithInputFormat(format string) Option {
	return func(s *Sink) {
		s.format = format
	}
}

// WithStopTimeout sets how long Release waits for ffmpeg to exit after a
// Finalize before killing it. Defaults to 3s.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.stopTimeout = d
	}
}

// WithLogger sets the logger used for process diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		s.log = l
	}
}

// Sink opens capture streams backed by an ffmpeg subprocess.
type Sink struct {
	binary      string
	format      string
	device      string
	stopTimeout time.Duration
	log         *slog.Logger
}

// New creates a [Sink] using the platform's default input format and device.
func New(opts ...Option) *Sink {
	format, device := DefaultInput()
	s := &Sink{
		binary:      "ffmpeg",
		format:      format,
		device:      device,
		stopTimeout: defaultStopTimeout,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DefaultInput returns the ffmpeg input format and device name that select
// the default microphone on the current operating system.
func DefaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	case "linux":
		return "pulse", "default"
	default:
		return "alsa", "default"
	}
}

// Check reports whether the configured ffmpeg binary can be found.
func (s *Sink) Check() error {
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("ffmpeg: %q not found in PATH: %w", s.binary, err)
	}
	return nil
}

// Args returns the ffmpeg command-line arguments used to capture with c.
func (s *Sink) Args(c capture.Constraints) []string {
	c = c.WithDefaults()
	device := c.Device
	if device == "" {
		device = s.device
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", s.format,
		"-i", device,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-acodec", "pcm_s16le",
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-f", "wav",
		"-",
	}
}

// Open implements [capture.Sink]. It starts ffmpeg and waits until the WAV
// header arrives on stdout, which proves the device is open. If ffmpeg exits
// first its stderr decides between [*capture.PermissionError] and
// [*capture.DeviceError].
func (s *Sink) Open(ctx context.Context, c capture.Constraints) (capture.Handle, error) {
	c = c.WithDefaults()

	bin, err := exec.LookPath(s.binary)
	if err != nil {
		return nil, &capture.DeviceError{Err: fmt.Errorf("ffmpeg not found: %w", err)}
	}

	cmd := exec.Command(bin, s.Args(c)...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &capture.DeviceError{Err: fmt.Errorf("ffmpeg: stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &capture.DeviceError{Err: fmt.Errorf("ffmpeg: stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &capture.DeviceError{Err: fmt.Errorf("ffmpeg: start: %w", err)}
	}

	header := make([]byte, audio.HeaderSize)
	readErr := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(stdout, header)
		readErr <- err
	}()

	select {
	case err := <-readErr:
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, classify(stderr.String(), err)
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-readErr
		_ = cmd.Wait()
		return nil, ctx.Err()
	}

	s.log.Debug("ffmpeg capture opened", "pid", cmd.Process.Pid, "format", s.format, "sample_rate", c.SampleRate, "channels", c.Channels)

	return &handle{
		cmd:         cmd,
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
		pending:     header,
		chunkSize:   c.ChunkBytes(),
		stopTimeout: s.stopTimeout,
		log:         s.log,
		exited:      make(chan struct{}),
	}, nil
}

// classify maps an ffmpeg startup failure to the capture error taxonomy.
func classify(stderr string, readErr error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	for _, hint := range permissionHints {
		if strings.Contains(lower, hint) {
			return &capture.PermissionError{Err: errors.New(firstLine(msg))}
		}
	}
	if msg == "" {
		return &capture.DeviceError{Err: fmt.Errorf("ffmpeg exited before audio started: %w", readErr)}
	}
	return &capture.DeviceError{Err: fmt.Errorf("ffmpeg exited before audio started: %s", firstLine(msg))}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// ─── handle ───────────────────────────────────────────────────────────────────

// handle is a running ffmpeg capture. The read loop owns stdout and the
// process wait; everything else is guarded by mu.
type handle struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	stderr      *syncBuffer
	pending     []byte
	chunkSize   int
	stopTimeout time.Duration
	log         *slog.Logger

	mu         sync.Mutex
	onChunk    func([]byte)
	onFinalize func()
	started    bool
	finalizing bool
	ended      bool
	fired      bool
	released   bool

	exited      chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

// OnChunk implements [capture.Handle].
func (h *handle) OnChunk(cb func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChunk = cb
}

// OnFinalize implements [capture.Handle].
func (h *handle) OnFinalize(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinalize = cb
}

// Start implements [capture.Handle].
func (h *handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errors.New("ffmpeg: handle already released")
	}
	if h.started {
		return errors.New("ffmpeg: handle already started")
	}
	h.started = true
	go h.readLoop()
	return nil
}

// Finalize implements [capture.Handle].
func (h *handle) Finalize() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return errors.New("ffmpeg: handle already released")
	}
	if h.finalizing {
		h.mu.Unlock()
		return nil
	}
	h.finalizing = true
	ended := h.ended
	h.mu.Unlock()

	if ended {
		// ffmpeg already stopped on its own; everything has been delivered.
		h.fireFinalize()
		return nil
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		// Signals are not supported everywhere; ffmpeg also quits on "q".
		if _, werr := io.WriteString(h.stdin, "q"); werr != nil {
			return fmt.Errorf("ffmpeg: stop capture: %w", errors.Join(err, werr))
		}
	}
	return nil
}

// Release implements [capture.Handle]. After a Finalize it gives ffmpeg the
// stop timeout to flush and exit before killing it.
func (h *handle) Release() error {
	h.releaseOnce.Do(func() {
		h.mu.Lock()
		h.released = true
		started := h.started
		finalizing := h.finalizing
		h.mu.Unlock()

		if !started {
			_ = h.cmd.Process.Kill()
			_ = h.stdout.Close()
			_ = h.cmd.Wait()
			_ = h.stdin.Close()
			return
		}

		if finalizing {
			select {
			case <-h.exited:
			case <-time.After(h.stopTimeout):
				h.log.Warn("ffmpeg did not exit after stop request, killing", "pid", h.cmd.Process.Pid)
				h.releaseErr = h.kill()
				<-h.exited
			}
		} else {
			h.releaseErr = h.kill()
			<-h.exited
		}
		_ = h.stdin.Close()
	})
	return h.releaseErr
}

func (h *handle) kill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("ffmpeg: kill: %w", err)
	}
	return nil
}

// readLoop slices stdout into chunks of chunkSize bytes. The bytes read
// during Open are prepended to the first chunk.
func (h *handle) readLoop() {
	first := h.pending
	h.pending = nil

	buf := make([]byte, h.chunkSize)
	for {
		n, err := io.ReadFull(h.stdout, buf)
		if n > 0 {
			chunk := make([]byte, 0, len(first)+n)
			chunk = append(chunk, first...)
			chunk = append(chunk, buf[:n]...)
			first = nil
			h.emit(chunk)
		}
		if err != nil {
			break
		}
	}
	if len(first) > 0 {
		h.emit(first)
	}

	waitErr := h.cmd.Wait()
	close(h.exited)

	h.mu.Lock()
	h.ended = true
	finalizing := h.finalizing
	h.mu.Unlock()

	if finalizing {
		h.log.Debug("ffmpeg capture finished", "pid", h.cmd.Process.Pid, "exit", waitErr)
		h.fireFinalize()
		return
	}
	if waitErr != nil {
		h.log.Warn("ffmpeg exited unexpectedly", "err", waitErr, "stderr", firstLine(strings.TrimSpace(h.stderr.String())))
	}
}

func (h *handle) emit(chunk []byte) {
	h.mu.Lock()
	cb := h.onChunk
	drop := h.released && !h.finalizing
	h.mu.Unlock()
	if cb != nil && !drop {
		cb(chunk)
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

// syncBuffer is a bytes.Buffer safe for the concurrent writes exec performs
// while copying stderr.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
