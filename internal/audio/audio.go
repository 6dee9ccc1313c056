// Package audio opens hardware capture streams and enumerates devices.
//
// Every capture source delivers mono float32 samples at the hardware's
// native rate into a bounded ring buffer owned by the stream. Conversion and
// gating happen downstream, never on the capture callback.
package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/ringbuf"
)

// Kind identifies what a source captures.
type Kind string

const (
	Microphone  Kind = "microphone"
	SystemAudio Kind = "system"
)

// DefaultDeviceID asks the OS to choose the device.
const DefaultDeviceID = "default"

var (
	// ErrUnsupported is returned when the platform has no backend for a kind.
	ErrUnsupported = errors.New("audio: capture not supported on this platform")
	// ErrDeviceUnavailable is returned when no device, not even the default, can be opened.
	ErrDeviceUnavailable = errors.New("audio: no capture device available")
	// ErrInitTimeout is returned when the hardware does not report its format in time.
	ErrInitTimeout = errors.New("audio: stream initialization timed out")
	// ErrReadTimeout ends a loopback stream whose data-ready wait expired.
	ErrReadTimeout = errors.New("audio: timed out waiting for audio data")
	// ErrOverflow ends a stream whose queue stayed full for too long.
	ErrOverflow = errors.New("audio: sustained queue overflow")
)

// Device describes a capture device.
type Device struct {
	ID      string
	Name    string
	Default bool
}

// IsDefaultID reports whether id selects the OS default device.
func IsDefaultID(id string) bool {
	return id == "" || id == DefaultDeviceID
}

// Stream is an open hardware stream.
type Stream interface {
	// SampleRate returns the negotiated native rate of queued samples.
	SampleRate() int
	// Samples returns the consumer side of the stream queue. Only one
	// goroutine may pop from it.
	Samples() *ringbuf.Ring[float32]
	// Done is closed when capture ends on its own because of a fatal error.
	Done() <-chan struct{}
	// Err returns the fatal error once Done is closed, nil before.
	Err() error
	// Dropped returns the number of samples lost to queue overflow.
	Dropped() uint64
	// Close stops capture and releases the hardware. It is idempotent.
	Close() error
}

// Source opens streams of one kind on the current platform.
type Source interface {
	Kind() Kind
	// Devices lists capture devices, with a synthetic default entry first.
	Devices() ([]Device, error)
	// Open starts a stream on the device. An unknown id falls back to the
	// default device with a warning.
	Open(deviceID string, opts StreamOptions) (Stream, error)
}

// StreamOptions tunes buffering and failure detection of a stream.
type StreamOptions struct {
	QueueCapacity int           // samples held between callback and worker
	OverflowLimit int           // consecutive short pushes before teardown
	InitTimeout   time.Duration // wait for the hardware format
	ReadTimeout   time.Duration // loopback data-ready wait
	Logger        zerolog.Logger
}

// Defaults used when StreamOptions fields are zero.
const (
	DefaultQueueCapacity = 131072
	DefaultOverflowLimit = 50
	DefaultInitTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
)

func (o StreamOptions) withDefaults() StreamOptions {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.OverflowLimit <= 0 {
		o.OverflowLimit = DefaultOverflowLimit
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

func defaultEntry(kind Kind) Device {
	name := "Default Microphone"
	if kind == SystemAudio {
		name = "Default System Audio"
	}
	return Device{ID: DefaultDeviceID, Name: name, Default: true}
}

// streamState carries what every backend shares: the queue, the negotiated
// rate and the one-shot fatal error.
type streamState struct {
	rate int
	ring *ringbuf.Ring[float32]
	prod *producer

	done    chan struct{}
	errOnce sync.Once
	err     error
}

func newStreamState(capacity int) *streamState {
	return &streamState{
		ring: ringbuf.New[float32](capacity),
		done: make(chan struct{}),
	}
}

func (s *streamState) SampleRate() int                 { return s.rate }
func (s *streamState) Samples() *ringbuf.Ring[float32] { return s.ring }
func (s *streamState) Done() <-chan struct{}           { return s.done }

// Dropped returns the number of samples lost to queue overflow.
func (s *streamState) Dropped() uint64 {
	if s.prod == nil {
		return 0
	}
	return s.prod.Dropped()
}

func (s *streamState) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// fail records err and closes Done. Only the first call has an effect.
func (s *streamState) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}
