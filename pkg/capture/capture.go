// Package capture defines the microphone abstraction used by the recording
// session controller.
//
// A [Sink] is the platform's microphone access primitive. Opening it yields a
// [Handle]: an open capture stream that produces encoded audio incrementally
// as a sequence of chunks and a single terminal finalize signal. The
// concatenation of every chunk of one handle, in emission order, is a
// complete WAV file.
//
// Implementations live in sub-packages: ffmpeg (subprocess, the default),
// portaudio (native, behind the "portaudio" build tag) and mock (tests).
package capture

import (
	"context"
	"fmt"
	"time"
)

// Default capture parameters applied by [Constraints.WithDefaults].
const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultChunkInterval = 250 * time.Millisecond
)

// Constraints describes the requested capture format.
type Constraints struct {
	// Device selects the input device. The meaning is sink-specific; empty
	// selects the platform default.
	Device string

	// SampleRate is the capture sample rate in Hz.
	SampleRate int

	// Channels is the number of capture channels.
	Channels int

	// ChunkInterval is the approximate amount of audio carried by each chunk.
	ChunkInterval time.Duration
}

// WithDefaults returns c with zero fields replaced by the package defaults.
func (c Constraints) WithDefaults() Constraints {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	return c
}

// ChunkBytes returns the number of PCM bytes covering one ChunkInterval.
func (c Constraints) ChunkBytes() int {
	c = c.WithDefaults()
	n := int(int64(c.SampleRate) * int64(c.Channels) * 2 * int64(c.ChunkInterval) / int64(time.Second))
	if n < 2 {
		n = 2
	}
	return n
}

// Sink opens capture streams.
type Sink interface {
	// Open requests microphone access and opens a capture stream. It fails
	// with a [*PermissionError] when access is denied and a [*DeviceError]
	// when no usable input device exists. The returned handle does not emit
	// chunks until [Handle.Start] is called. ctx bounds the open attempt
	// only, not the lifetime of the handle.
	Open(ctx context.Context, c Constraints) (Handle, error)
}

// Handle is an open capture stream.
//
// Callbacks must be registered before Start. Chunk callbacks are invoked
// sequentially, never concurrently, in emission order. The finalize callback
// is invoked at most once, after the last chunk callback has returned.
type Handle interface {
	// OnChunk registers the callback receiving each encoded chunk. The slice
	// is owned by the callee after the call.
	OnChunk(func(chunk []byte))

	// OnFinalize registers the callback fired once the stream has flushed its
	// final chunk after [Handle.Finalize].
	OnFinalize(func())

	// Start begins capture.
	Start() error

	// Finalize asks the stream to stop capturing, flush its final chunk and
	// fire the finalize callback asynchronously. An error means the finalize
	// callback may never fire.
	Finalize() error

	// Release stops every underlying device track and frees the stream. It is
	// safe to call any number of times and must be called even if Finalize
	// failed.
	Release() error
}

// PermissionError reports that microphone access was denied by the user or
// the operating system.
type PermissionError struct {
	Err error
}

// Error implements error.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("capture: microphone permission denied: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *PermissionError) Unwrap() error { return e.Err }

// DeviceError reports that no usable input device could be opened.
type DeviceError struct {
	Err error
}

// Error implements error.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: input device unavailable: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }
