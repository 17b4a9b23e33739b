// Package session implements the recording session controller: the state
// machine that acquires the microphone, buffers the chunks it produces,
// uploads the assembled recording when capture stops, and exposes the
// resulting status to a front end.
//
// A session is one recording-through-upload cycle. It owns exactly one
// [capture.Handle] and one chunk buffer, both created when recording starts
// and never reused. The controller moves Idle → Recording → Uploading → Idle;
// every failure path lands back in Idle with an error message, from where the
// user may simply start again. Nothing is retried automatically.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/upload"
	"github.com/MrWong99/talkback/pkg/capture"
)

// MsgMicrophone is the error shown when the microphone cannot be acquired.
const MsgMicrophone = "Error accessing microphone. Please check permissions."

var (
	// ErrBusy is returned by [Controller.StartSession] while a session is
	// being opened, recording or uploading.
	ErrBusy = errors.New("session: a recording session is already active")

	// ErrClosed is returned by [Controller.StartSession] after
	// [Controller.Teardown].
	ErrClosed = errors.New("session: controller has been torn down")
)

// Uploader sends an assembled recording and returns the server's answer.
// [*upload.Client] satisfies it.
type Uploader interface {
	Upload(ctx context.Context, requestID string, payload []byte) (string, error)
}

var _ Uploader = (*upload.Client)(nil)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithConstraints sets the capture constraints passed to the sink.
func WithConstraints(c capture.Constraints) Option {
	return func(ctl *Controller) {
		ctl.constraints = c
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) {
		ctl.log = l
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(ctl *Controller) {
		ctl.metrics = m
	}
}

// WithOnChange registers fn to receive a [Status] snapshot after every
// transition. Calls are serialized. fn may call [Controller.Status] but must
// not start, stop or tear down the controller.
func WithOnChange(fn func(Status)) Option {
	return func(ctl *Controller) {
		ctl.onChange = fn
	}
}

// recording is the per-session state. Its fields are guarded by the
// controller's mutex.
type recording struct {
	id string

	// handle is nil once ownership moved to StopSession or Teardown.
	handle capture.Handle

	// chunks is the session's chunk buffer.
	chunks [][]byte

	// done is set when the buffer has been consumed or the session was
	// abandoned. Callbacks arriving afterwards are ignored.
	done bool

	started time.Time
}

// Controller owns the recording lifecycle. It is safe for concurrent use.
type Controller struct {
	sink        capture.Sink
	up          Uploader
	constraints capture.Constraints
	log         *slog.Logger
	metrics     *observe.Metrics
	onChange    func(Status)

	mu       sync.Mutex
	state    State
	lastErr  string
	lastResp string
	opening  bool
	closed   bool
	current  *recording

	// settled is closed whenever the controller is Idle with no start
	// attempt in flight.
	settled   chan struct{}
	isSettled bool

	notifyMu sync.Mutex
}

// New creates a [Controller] in the Idle state.
func New(sink capture.Sink, up Uploader, opts ...Option) *Controller {
	c := &Controller{
		sink:      sink,
		up:        up,
		log:       slog.Default(),
		settled:   make(chan struct{}),
		isSettled: true,
	}
	close(c.settled)
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{State: c.state, Err: c.lastErr, Response: c.lastResp}
}

// Wait blocks until the controller is Idle with no start attempt in flight,
// or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	ch := c.settled
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSession acquires the microphone and begins recording.
//
// The previous error and response are cleared, and observers notified,
// before access is requested. If access fails the error message is set, the
// controller stays Idle and the capture error is returned wrapped. A call
// made while another session is opening, recording or uploading returns
// [ErrBusy] and leaves that session untouched.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state != Idle || c.opening:
		c.mu.Unlock()
		return ErrBusy
	}
	c.opening = true
	c.lastErr = ""
	c.lastResp = ""
	c.unsettleLocked()
	c.mu.Unlock()
	c.notify()

	h, err := c.sink.Open(ctx, c.constraints)
	if err != nil {
		c.failStart(ctx, err)
		return fmt.Errorf("session: open microphone: %w", err)
	}

	rec := &recording{id: uuid.NewString(), handle: h, started: time.Now()}
	h.OnChunk(func(chunk []byte) { c.appendChunk(rec, chunk) })
	h.OnFinalize(func() { c.finalized(rec) })

	if err := h.Start(); err != nil {
		if rerr := h.Release(); rerr != nil {
			c.log.Warn("release after failed start", "err", rerr)
		}
		c.failStart(ctx, err)
		return fmt.Errorf("session: start capture: %w", err)
	}

	c.mu.Lock()
	c.opening = false
	if c.closed {
		rec.done = true
		rec.handle = nil
		c.settleLocked()
		c.mu.Unlock()
		if err := h.Release(); err != nil {
			c.log.Warn("release after teardown", "err", err)
		}
		return ErrClosed
	}
	c.current = rec
	c.state = Recording
	c.mu.Unlock()

	c.metrics.SessionsStarted.Add(ctx, 1)
	c.metrics.ActiveRecordings.Add(ctx, 1)
	c.log.Info("recording started", "session_id", rec.id)
	c.notify()
	return nil
}

func (c *Controller) failStart(ctx context.Context, err error) {
	c.mu.Lock()
	c.opening = false
	c.lastErr = MsgMicrophone
	c.settleLocked()
	c.mu.Unlock()

	kind := captureKind(err)
	c.metrics.RecordCaptureError(ctx, kind)
	c.log.Warn("microphone access failed", "kind", kind, "err", err)
	c.notify()
}

// StopSession stops recording. It is a no-op unless the controller is
// Recording.
//
// The controller moves to Uploading at once. The handle is asked to finalize
// and is then released, whether or not finalizing succeeded. The upload
// itself starts from the handle's finalize callback. If Finalize fails the
// callback may never come, so the session is abandoned with an error and the
// controller returns to Idle. The returned error is informational; the state
// is consistent either way.
func (c *Controller) StopSession() error {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return nil
	}
	rec := c.current
	h := rec.handle
	rec.handle = nil
	c.state = Uploading
	c.mu.Unlock()

	ctx := context.Background()
	c.metrics.ActiveRecordings.Add(ctx, -1)
	c.log.Info("recording stopped", "session_id", rec.id, "duration", time.Since(rec.started))
	c.notify()

	ferr := h.Finalize()
	rerr := h.Release()

	if ferr != nil {
		c.mu.Lock()
		abandoned := false
		if c.current == rec && !rec.done {
			rec.done = true
			rec.chunks = nil
			c.current = nil
			c.state = Idle
			c.lastErr = "Error finalizing recording: " + ferr.Error()
			c.settleLocked()
			abandoned = true
		}
		c.mu.Unlock()

		c.metrics.RecordCaptureError(ctx, "finalize")
		c.log.Error("finalize recording", "session_id", rec.id, "err", ferr)
		if abandoned {
			c.notify()
		}
		ferr = fmt.Errorf("session: finalize: %w", ferr)
	}
	if rerr != nil {
		c.log.Warn("release capture handle", "session_id", rec.id, "err", rerr)
		rerr = fmt.Errorf("session: release: %w", rerr)
	}
	return errors.Join(ferr, rerr)
}

// Teardown releases a still-held capture handle and refuses further
// sessions. A recording in progress is abandoned without upload; an upload
// already in flight runs to completion. Teardown is idempotent.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	var (
		h   capture.Handle
		rec = c.current
	)
	if rec != nil && rec.handle != nil {
		h = rec.handle
		rec.handle = nil
		rec.done = true
		rec.chunks = nil
		c.current = nil
		c.state = Idle
		if !c.opening {
			c.settleLocked()
		}
	}
	c.mu.Unlock()

	if h == nil {
		return
	}
	c.metrics.ActiveRecordings.Add(context.Background(), -1)
	if err := h.Release(); err != nil {
		c.log.Warn("release capture handle on teardown", "session_id", rec.id, "err", err)
	}
	c.log.Info("recording abandoned on teardown", "session_id", rec.id)
	c.notify()
}

// appendChunk adds chunk to the session's buffer until the buffer has been
// consumed.
func (c *Controller) appendChunk(rec *recording, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.done {
		return
	}
	rec.chunks = append(rec.chunks, chunk)
}

// finalized is the handle's finalize callback. It consumes the chunk buffer
// exactly once and hands the payload to the uploader.
func (c *Controller) finalized(rec *recording) {
	c.mu.Lock()
	if rec.done || c.current != rec || c.state != Uploading {
		c.mu.Unlock()
		return
	}
	rec.done = true
	payload := bytes.Join(rec.chunks, nil)
	chunks := len(rec.chunks)
	rec.chunks = nil
	c.mu.Unlock()

	c.log.Debug("recording assembled", "session_id", rec.id, "chunks", chunks, "bytes", len(payload))
	go c.upload(rec, payload)
}

// upload runs one upload to completion. It is not cancelled by Teardown.
func (c *Controller) upload(rec *recording, payload []byte) {
	ctx := context.Background()
	start := time.Now()
	text, err := c.up.Upload(ctx, rec.id, payload)
	elapsed := time.Since(start)

	c.mu.Lock()
	if err != nil {
		c.lastErr = upload.Message(err)
	} else {
		c.lastResp = text
		c.lastErr = ""
	}
	if c.current == rec {
		c.current = nil
	}
	c.state = Idle
	c.settleLocked()
	c.mu.Unlock()

	if err != nil {
		kind := upload.Kind(err)
		c.metrics.RecordUpload(ctx, kind, elapsed, len(payload))
		c.log.Warn("upload failed", "session_id", rec.id, "kind", kind, "duration", elapsed, "err", err)
	} else {
		c.metrics.RecordUpload(ctx, "", elapsed, len(payload))
		c.log.Info("upload succeeded", "session_id", rec.id, "bytes", len(payload), "duration", elapsed)
	}
	c.notify()
}

// notify publishes the current status to the observer. Holding notifyMu
// while taking the snapshot keeps observers from seeing states out of order.
func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onChange(c.Status())
}

func (c *Controller) unsettleLocked() {
	if c.isSettled {
		c.settled = make(chan struct{})
		c.isSettled = false
	}
}

func (c *Controller) settleLocked() {
	if !c.isSettled && c.state == Idle && !c.opening {
		close(c.settled)
		c.isSettled = true
	}
}

func captureKind(err error) string {
	var (
		pe *capture.PermissionError
		de *capture.DeviceError
	)
	switch {
	case errors.As(err, &pe):
		return "permission"
	case errors.As(err, &de):
		return "device"
	default:
		return "unknown"
	}
}
