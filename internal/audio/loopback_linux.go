//go:build linux

package audio

import (
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// PulseMonitorSource captures what a PulseAudio/PipeWire sink plays by
// recording its monitor source with parec.
type PulseMonitorSource struct {
	log   zerolog.Logger
	pactl func(args ...string) ([]byte, error)
}

// NewSystemSource returns the loopback source for this platform.
func NewSystemSource(log zerolog.Logger) (Source, error) {
	if _, err := exec.LookPath("parec"); err != nil {
		return nil, fmt.Errorf("%w: parec not found: %v", ErrUnsupported, err)
	}
	return &PulseMonitorSource{
		log: log.With().Str("source", string(SystemAudio)).Logger(),
		pactl: func(args ...string) ([]byte, error) {
			return exec.Command("pactl", args...).Output()
		},
	}, nil
}

func (p *PulseMonitorSource) Kind() Kind {
	return SystemAudio
}

func (p *PulseMonitorSource) Devices() ([]Device, error) {
	sinks, err := p.sinks()
	if err != nil {
		return nil, err
	}
	def := p.defaultSink()

	result := make([]Device, 0, len(sinks)+1)
	result = append(result, defaultEntry(SystemAudio))
	for _, s := range sinks {
		result = append(result, Device{
			ID:      s.Name,
			Name:    s.Name,
			Default: s.Name == def,
		})
	}
	return result, nil
}

func (p *PulseMonitorSource) Open(deviceID string, opts StreamOptions) (Stream, error) {
	opts = opts.withDefaults()

	sinks, err := p.sinks()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	sink, fellBack, err := pickSink(sinks, deviceID, p.defaultSink())
	if err != nil {
		return nil, err
	}
	if fellBack {
		p.log.Warn().Str("device", deviceID).Str("using", sink.Name).Msg("Requested output device not found, using default")
	}
	if sink.Rate <= 0 {
		return nil, fmt.Errorf("cannot determine sample rate of sink %s", sink.Name)
	}

	cmd := exec.Command("parec",
		"--device="+sink.Name+".monitor",
		"--raw",
		"--format=float32le",
		"--channels=1",
		"--rate="+strconv.Itoa(sink.Rate),
		"--latency-msec=20",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open parec pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start parec: %w", err)
	}

	state := newStreamState(opts.QueueCapacity)
	state.rate = sink.Rate
	state.prod = newProducer(state.ring, opts.OverflowLimit, p.log, state.fail)

	s := &pulseStream{
		streamState: state,
		cmd:         cmd,
		quit:        make(chan struct{}),
		log:         p.log,
	}

	reader := &monitorReader{
		state:   state,
		quit:    s.quit,
		timeout: opts.ReadTimeout,
		log:     p.log,
	}
	ready := make(chan initResult[int], 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reader.run(stdout, ready)
	}()

	if _, err := awaitInit(ready, opts.InitTimeout, nil); err != nil {
		p.log.Error().Err(err).Str("device", sink.Name).Msg("Loopback initialization failed")
		s.Close()
		return nil, err
	}

	p.log.Info().Str("device", sink.Name).Int("sample_rate", sink.Rate).Msg("Loopback stream started")
	return s, nil
}

func (p *PulseMonitorSource) sinks() ([]pulseSink, error) {
	out, err := p.pactl("list", "short", "sinks")
	if err != nil {
		return nil, fmt.Errorf("failed to list sinks: %w", err)
	}
	return parseSinks(out), nil
}

func (p *PulseMonitorSource) defaultSink() string {
	out, err := p.pactl("info")
	if err != nil {
		p.log.Debug().Err(err).Msg("pactl info failed")
		return ""
	}
	return parseDefaultSink(out)
}

type pulseStream struct {
	*streamState
	cmd  *exec.Cmd
	quit chan struct{}
	wg   sync.WaitGroup
	log  zerolog.Logger

	closeOnce sync.Once
}

// Close kills parec, which unblocks the pending read, then joins the reader.
func (s *pulseStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.wg.Wait()
		s.cmd.Wait()
		s.log.Info().Msg("Loopback stream closed")
	})
	return nil
}
