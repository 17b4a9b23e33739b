// Package mock provides an in-memory implementation of [capture.Sink] and
// [capture.Handle] for use in unit tests.
//
// The mocks are safe for concurrent use. They record every call so tests can
// assert on call counts, and expose fields that control return values. Audio
// is injected with [Handle.Emit]; by default [Handle.Finalize] fires the
// finalize callback on a new goroutine, the way a real stream flushes
// asynchronously.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	ctrl := session.New(sink, uploader)
//	_ = ctrl.StartSession(ctx)
//	h := sink.Last()
//	h.Emit([]byte("chunk-1"))
//	_ = ctrl.StopSession()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/capture"
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [capture.Sink].
type Sink struct {
	mu sync.Mutex

	// OpenErr is returned by [Sink.Open] instead of a handle.
	OpenErr error

	// Gate, when non-nil, makes Open block until the channel is closed or the
	// context is cancelled. Use it to hold a start attempt in flight.
	Gate chan struct{}

	// FinalizeErr is copied into every handle returned by Open.
	FinalizeErr error

	// ManualFinalize is copied into every handle returned by Open.
	ManualFinalize bool

	// OpenCalls records the constraints of every Open call, in order.
	OpenCalls []capture.Constraints

	// Handles records every handle returned by Open, in order.
	Handles []*Handle

	entered chan struct{}
}

// Open implements [capture.Sink].
func (s *Sink) Open(ctx context.Context, c capture.Constraints) (capture.Handle, error) {
	s.mu.Lock()
	s.OpenCalls = append(s.OpenCalls, c)
	gate := s.Gate
	if s.entered != nil {
		close(s.entered)
		s.entered = nil
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	h := &Handle{
		FinalizeErr:    s.FinalizeErr,
		ManualFinalize: s.ManualFinalize,
	}
	s.Handles = append(s.Handles, h)
	return h, nil
}

// Entered returns a channel that is closed by the next Open call as soon as
// it is entered, before it waits on Gate.
func (s *Sink) Entered() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entered == nil {
		s.entered = make(chan struct{})
	}
	return s.entered
}

// CallCountOpen returns how many times Open was called.
func (s *Sink) CallCountOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// Last returns the most recently opened handle, or nil.
func (s *Sink) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Handles) == 0 {
		return nil
	}
	return s.Handles[len(s.Handles)-1]
}

// LiveHandles returns how many opened handles have not been released yet.
func (s *Sink) LiveHandles() int {
	s.mu.Lock()
	hs := make([]*Handle, len(s.Handles))
	copy(hs, s.Handles)
	s.mu.Unlock()

	n := 0
	for _, h := range hs {
		if h.CallCountRelease() == 0 {
			n++
		}
	}
	return n
}

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [capture.Handle].
type Handle struct {
	mu sync.Mutex

	// FinalizeErr is returned by [Handle.Finalize]; when set, the finalize
	// callback is not fired.
	FinalizeErr error

	// StartErr is returned by [Handle.Start].
	StartErr error

	// ManualFinalize stops Finalize from firing the finalize callback; call
	// [Handle.Complete] instead.
	ManualFinalize bool

	onChunk    func([]byte)
	onFinalize func()
	completed  bool

	starts    int
	finalizes int
	releases  int
}

// OnChunk implements [capture.Handle].
func (h *Handle) OnChunk(cb func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChunk = cb
}

// OnFinalize implements [capture.Handle].
func (h *Handle) OnFinalize(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinalize = cb
}

// Start implements [capture.Handle].
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
	return h.StartErr
}

// Finalize implements [capture.Handle].
func (h *Handle) Finalize() error {
	h.mu.Lock()
	h.finalizes++
	err := h.FinalizeErr
	manual := h.ManualFinalize
	h.mu.Unlock()

	if err != nil {
		return err
	}
	if !manual {
		go h.Complete()
	}
	return nil
}

// Release implements [capture.Handle]. Always returns nil.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	return nil
}

// Emit delivers chunk to the registered chunk callback, synchronously. It is
// a no-op once the handle has completed.
func (h *Handle) Emit(chunk []byte) {
	h.mu.Lock()
	cb := h.onChunk
	done := h.completed
	h.mu.Unlock()
	if cb != nil && !done {
		cb(chunk)
	}
}

// Complete fires the finalize callback, once. Later calls are no-ops.
func (h *Handle) Complete() {
	h.mu.Lock()
	cb := h.onFinalize
	done := h.completed
	h.completed = true
	h.mu.Unlock()
	if cb != nil && !done {
		cb()
	}
}

// CallCountStart returns how many times Start was called.
func (h *Handle) CallCountStart() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}

// CallCountFinalize returns how many times Finalize was called.
func (h *Handle) CallCountFinalize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalizes
}

// CallCountRelease returns how many times Release was called.
func (h *Handle) CallCountRelease() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

// Compile-time interface assertions.
var (
	_ capture.Sink   = (*Sink)(nil)
	_ capture.Handle = (*Handle)(nil)
)
