package audio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// pulseSink is one row of `pactl list short sinks`.
type pulseSink struct {
	Name string
	Rate int
}

// parseSinks reads the tab separated output of `pactl list short sinks`:
// index, name, driver, sample spec, state.
func parseSinks(out []byte) []pulseSink {
	var sinks []pulseSink
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		sinks = append(sinks, pulseSink{
			Name: strings.TrimSpace(fields[1]),
			Rate: parseRate(line),
		})
	}
	return sinks
}

// parseRate finds the "<n>Hz" token of a sample spec such as
// "float32le 2ch 48000Hz". It returns 0 when there is none.
func parseRate(spec string) int {
	for _, tok := range strings.Fields(spec) {
		if !strings.HasSuffix(tok, "Hz") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSuffix(tok, "Hz")); err == nil && rate > 0 {
			return rate
		}
	}
	return 0
}

// parseDefaultSink extracts the "Default Sink:" line of `pactl info`.
func parseDefaultSink(info []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if name, ok := strings.CutPrefix(line, "Default Sink:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// pickSink resolves a requested sink name, falling back to the default sink
// and then to the first sink. fellBack reports a requested id that was
// not found.
func pickSink(sinks []pulseSink, requested, defaultName string) (sink pulseSink, fellBack bool, err error) {
	if len(sinks) == 0 {
		return pulseSink{}, false, ErrDeviceUnavailable
	}
	if !IsDefaultID(requested) {
		for _, s := range sinks {
			if s.Name == requested {
				return s, false, nil
			}
		}
		fellBack = true
	}
	for _, s := range sinks {
		if s.Name == defaultName {
			return s, fellBack, nil
		}
	}
	return sinks[0], fellBack, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// monitorReader pumps raw little-endian float32 bytes from a loopback pipe
// into the stream queue. Every read waits at most timeout for data.
type monitorReader struct {
	state   *streamState
	quit    <-chan struct{}
	timeout time.Duration
	log     zerolog.Logger
}

// run reads until quit is closed or a fatal error ends the stream. The first
// successful read reports the stream rate on ready.
func (m *monitorReader) run(r io.Reader, ready chan<- initResult[int]) {
	dl, _ := r.(readDeadliner)
	buf := make([]byte, 4096)
	samples := make([]float32, 0, len(buf)/4+1)

	var dec sampleDecoder
	initialized := false

	for {
		if dl != nil {
			dl.SetReadDeadline(time.Now().Add(m.timeout))
		}
		n, err := r.Read(buf)
		if n > 0 {
			if !initialized {
				initialized = true
				ready <- initResult[int]{val: m.state.rate}
			}
			samples = dec.decode(samples[:0], buf[:n])
			m.state.prod.push(samples)
		}
		if err == nil {
			continue
		}

		select {
		case <-m.quit:
			return
		default:
		}

		if errors.Is(err, os.ErrDeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrReadTimeout, m.timeout)
		} else {
			err = fmt.Errorf("loopback read failed: %w", err)
		}
		if !initialized {
			ready <- initResult[int]{err: err}
		}
		m.log.Error().Err(err).Msg("Loopback capture stopped")
		m.state.fail(err)
		return
	}
}
