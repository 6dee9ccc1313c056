// Package capture runs the per-stream pipeline: it drains the hardware
// queue on a worker goroutine, converts to 16 kHz PCM, gates silence and
// hands speech chunks to a Sink.
package capture

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/resample"
	"github.com/petems/speechgate/internal/vad"
)

// ErrAlreadyStarted is returned by Start on a running session.
var ErrAlreadyStarted = errors.New("capture: session already started")

const (
	DefaultChunkDuration = 100 * time.Millisecond
	DefaultPollInterval  = 5 * time.Millisecond
)

// Options configures a Session.
type Options struct {
	DeviceID      string
	ChunkDuration time.Duration // audio drained per worker iteration
	PollInterval  time.Duration // worker sleep when the queue is empty
	Gate          vad.Config
	Stream        audio.StreamOptions
	Logger        zerolog.Logger
	Observer      Observer
	Clock         func() time.Time
}

// Session is one capture stream plus the worker that gates it.
type Session struct {
	src  audio.Source
	opts Options
	id   string
	log  zerolog.Logger
	obs  Observer

	mu      sync.Mutex
	stream  audio.Stream
	rate    int
	gate    *vad.Gate
	running bool
	stop    chan struct{}
	done    chan struct{}

	errMu sync.Mutex
	err   error

	stats counters
}

type counters struct {
	captured   atomic.Uint64
	emitted    atomic.Uint64
	suppressed atomic.Uint64
	convertErr atomic.Uint64
	sinkErr    atomic.Uint64
	state      atomic.Int32
	lastRMS    atomic.Uint64
}

// Stats is a point-in-time view of a session.
type Stats struct {
	SessionID        string
	Kind             audio.Kind
	NativeSampleRate int
	Running          bool
	SamplesCaptured  uint64
	ChunksEmitted    uint64
	ChunksSuppressed uint64
	ConvertErrors    uint64
	SinkErrors       uint64
	DroppedSamples   uint64
	GateState        vad.State
	LastRMS          float64
}

// New validates opts and opens the device. The stream captures into its
// queue from this point, but nothing is processed until Start.
func New(src audio.Source, opts Options) (*Session, error) {
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = DefaultChunkDuration
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	var gateOpts []vad.Option
	if opts.Clock != nil {
		gateOpts = append(gateOpts, vad.WithClock(opts.Clock))
	}
	gate, err := vad.New(opts.Gate, gateOpts...)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		src:  src,
		opts: opts,
		id:   id,
		obs:  opts.Observer,
		gate: gate,
		log: opts.Logger.With().
			Str("component", "capture").
			Str("source", string(src.Kind())).
			Str("session", id).
			Logger(),
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// ID identifies the session in logs and sink frames.
func (s *Session) ID() string {
	return s.id
}

// Kind returns the kind of the underlying source.
func (s *Session) Kind() audio.Kind {
	return s.src.Kind()
}

// SampleRate is the rate of every chunk handed to the sink.
func (s *Session) SampleRate() int {
	return resample.OutputRate
}

// NativeSampleRate is the rate negotiated with the hardware by the most
// recent open.
func (s *Session) NativeSampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Start resets the gate and begins delivering chunks to sink. A stopped
// session reopens its device.
func (s *Session) Start(sink Sink) error {
	if sink == nil {
		return errors.New("capture: nil sink")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		select {
		case <-s.done:
			// The worker ended on a stream failure; clean up and reopen.
			s.shutdownLocked()
			s.closeStreamLocked()
		default:
			return ErrAlreadyStarted
		}
	}

	if s.stream == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}

	conv, err := resample.New(float64(s.rate))
	if err != nil {
		s.closeStreamLocked()
		return fmt.Errorf("failed to create converter: %w", err)
	}

	s.gate.Reset()
	s.stats.state.Store(int32(vad.Idle))
	s.fail(nil)
	// Samples queued between open and start predate the caller's interest.
	s.stream.Samples().Reset()

	w := &worker{
		session: s,
		stream:  s.stream,
		conv:    conv,
		gate:    s.gate,
		sink:    sink,
		buf:     make([]float32, drainSize(s.rate, s.opts.ChunkDuration)),
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go func(stop, done chan struct{}) {
		defer close(done)
		w.run(stop)
	}(s.stop, s.done)

	s.log.Info().
		Int("native_rate", s.rate).
		Int("drain_samples", len(w.buf)).
		Msg("Capture session started")
	return nil
}

// Stop ends the worker, waits for it and releases the hardware. It is safe
// to call at any time, repeatedly.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRunning := s.running
	s.shutdownLocked()
	err := s.closeStreamLocked()
	if wasRunning {
		s.log.Info().Msg("Capture session stopped")
	}
	return err
}

// Err returns the error that ended the most recent run, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done is closed when the current run ends, either through Stop or a
// stream failure. It returns nil when the session was never started.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stats returns counters for the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	running := s.running
	if running {
		select {
		case <-s.done:
			running = false
		default:
		}
	}
	rate := s.rate
	var dropped uint64
	if s.stream != nil {
		dropped = s.stream.Dropped()
	}
	s.mu.Unlock()

	return Stats{
		SessionID:        s.id,
		Kind:             s.src.Kind(),
		NativeSampleRate: rate,
		Running:          running,
		SamplesCaptured:  s.stats.captured.Load(),
		ChunksEmitted:    s.stats.emitted.Load(),
		ChunksSuppressed: s.stats.suppressed.Load(),
		ConvertErrors:    s.stats.convertErr.Load(),
		SinkErrors:       s.stats.sinkErr.Load(),
		DroppedSamples:   dropped,
		GateState:        vad.State(s.stats.state.Load()),
		LastRMS:          math.Float64frombits(s.stats.lastRMS.Load()),
	}
}

func (s *Session) openLocked() error {
	opts := s.opts.Stream
	opts.Logger = s.log
	stream, err := s.src.Open(s.opts.DeviceID, opts)
	if err != nil {
		return fmt.Errorf("failed to open %s stream: %w", s.src.Kind(), err)
	}
	s.stream = stream
	s.rate = stream.SampleRate()
	return nil
}

// shutdownLocked signals the worker and joins it.
func (s *Session) shutdownLocked() {
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false
}

func (s *Session) closeStreamLocked() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

// fail records the error that ended a run. The worker calls it while Stop
// may hold mu, so it takes only errMu.
func (s *Session) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// drainSize is the number of native-rate samples in one chunk duration.
func drainSize(rate int, d time.Duration) int {
	n := int(float64(rate) * d.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}
