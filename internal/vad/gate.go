// Package vad implements the energy gate that decides which 16 kHz PCM
// chunks carry speech and are forwarded downstream.
//
// The gate has three states. Idle buffers recent chunks as pre-roll so the
// start of an utterance is not clipped. Speech forwards every chunk. Hangover
// keeps forwarding for a wall-clock grace period after the level drops, so a
// short dip in the middle of a sentence does not cut the output.
package vad

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// State is the gate state.
type State int

const (
	Idle State = iota
	Speech
	Hangover
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speech:
		return "speech"
	case Hangover:
		return "hangover"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// rmsStep is the sub-sampling stride used by RMS.
const rmsStep = 10

// ErrInvalidConfig is returned when thresholds or sizes are inconsistent.
var ErrInvalidConfig = errors.New("vad: invalid config")

// Config holds the gate thresholds.
type Config struct {
	StartRMS      float64       // level that opens the gate
	EndRMS        float64       // level below which speech enters hangover
	Hangover      time.Duration // grace period before returning to idle
	PrerollChunks int           // chunks kept while idle
}

// Reference thresholds for 100 ms chunks of 16-bit PCM.
const (
	DefaultStartRMS          = 100.0
	DefaultEndRMS            = 50.0
	DefaultHangover          = 500 * time.Millisecond
	MicrophonePrerollChunks  = 3
	SystemAudioPrerollChunks = 20
)

// MicrophoneConfig returns the configuration used for microphone streams.
func MicrophoneConfig() Config {
	return Config{
		StartRMS:      DefaultStartRMS,
		EndRMS:        DefaultEndRMS,
		Hangover:      DefaultHangover,
		PrerollChunks: MicrophonePrerollChunks,
	}
}

// SystemAudioConfig returns the configuration used for loopback streams.
// False triggers on system audio are costlier, so it keeps a longer pre-roll.
func SystemAudioConfig() Config {
	cfg := MicrophoneConfig()
	cfg.PrerollChunks = SystemAudioPrerollChunks
	return cfg
}

// Validate checks that the config describes a usable gate.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.StartRMS) || math.IsNaN(c.EndRMS):
		return fmt.Errorf("%w: thresholds must be numbers", ErrInvalidConfig)
	case c.StartRMS <= c.EndRMS:
		return fmt.Errorf("%w: start rms %.1f must exceed end rms %.1f", ErrInvalidConfig, c.StartRMS, c.EndRMS)
	case c.EndRMS < 0:
		return fmt.Errorf("%w: end rms must not be negative", ErrInvalidConfig)
	case c.Hangover < 0:
		return fmt.Errorf("%w: hangover must not be negative", ErrInvalidConfig)
	case c.PrerollChunks < 0:
		return fmt.Errorf("%w: preroll chunks must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Gate classifies chunks as speech or silence. It is not safe for
// concurrent use; the pipeline worker owns it.
type Gate struct {
	cfg Config
	now func() time.Time

	state         State
	hangoverStart time.Time
	preroll       [][]int16
	lastRMS       float64
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock replaces time.Now as the source of hangover timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates an idle gate.
func New(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		cfg:     cfg,
		now:     time.Now,
		preroll: make([][]int16, 0, cfg.PrerollChunks+1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Process feeds one chunk through the gate and returns the chunks to emit,
// oldest first. The returned slice is empty while the gate is idle.
// The gate keeps a reference to chunk when it is buffered as pre-roll.
func (g *Gate) Process(chunk []int16) [][]int16 {
	rms := RMS(chunk)
	g.lastRMS = rms

	switch g.state {
	case Idle:
		if rms > g.cfg.StartRMS {
			g.state = Speech
			out := make([][]int16, 0, len(g.preroll)+1)
			out = append(out, g.preroll...)
			out = append(out, chunk)
			g.clearPreroll()
			return out
		}
		g.pushPreroll(chunk)
		return nil

	case Speech:
		if rms < g.cfg.EndRMS {
			g.state = Hangover
			g.hangoverStart = g.now()
		}
		return [][]int16{chunk}

	case Hangover:
		if rms > g.cfg.StartRMS {
			g.state = Speech
			return [][]int16{chunk}
		}
		if g.now().Sub(g.hangoverStart) > g.cfg.Hangover {
			// The tail is not emitted; it seeds the next utterance's pre-roll.
			g.state = Idle
			g.clearPreroll()
			g.pushPreroll(chunk)
			return nil
		}
		return [][]int16{chunk}
	}

	return nil
}

// Reset forces the gate back to idle and drops the pre-roll.
func (g *Gate) Reset() {
	g.state = Idle
	g.hangoverStart = time.Time{}
	g.clearPreroll()
}

// State returns the current state.
func (g *Gate) State() State {
	return g.state
}

// LastRMS returns the level of the most recently processed chunk.
func (g *Gate) LastRMS() float64 {
	return g.lastRMS
}

// PrerollLen returns the number of buffered pre-roll chunks.
func (g *Gate) PrerollLen() int {
	return len(g.preroll)
}

// Preroll returns a copy of the buffered pre-roll, oldest first.
func (g *Gate) Preroll() [][]int16 {
	out := make([][]int16, len(g.preroll))
	copy(out, g.preroll)
	return out
}

func (g *Gate) pushPreroll(chunk []int16) {
	g.preroll = append(g.preroll, chunk)
	if len(g.preroll) > g.cfg.PrerollChunks {
		evict := len(g.preroll) - g.cfg.PrerollChunks
		n := copy(g.preroll, g.preroll[evict:])
		clear(g.preroll[n:])
		g.preroll = g.preroll[:n]
	}
}

func (g *Gate) clearPreroll() {
	clear(g.preroll)
	g.preroll = g.preroll[:0]
}

// RMS returns the root-mean-square level of every tenth sample of chunk.
// An empty chunk has level 0.
func RMS(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	var count int
	for i := 0; i < len(chunk); i += rmsStep {
		s := float64(chunk[i])
		sum += s * s
		count++
	}
	return math.Sqrt(sum / float64(count))
}
