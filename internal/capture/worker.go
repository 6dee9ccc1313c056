package capture

import (
	"fmt"
	"math"
	"time"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/resample"
	"github.com/petems/speechgate/internal/vad"
)

// worker owns the converter and gate of one run. Only the stream queue is
// shared with the capture side.
type worker struct {
	session *Session
	stream  audio.Stream
	conv    *resample.Converter
	gate    *vad.Gate
	sink    Sink
	buf     []float32
}

// run fills buf to a whole chunk before converting it, so gated chunks have
// the configured duration whatever packet size the platform delivers. A
// partial chunk is only flushed when the run ends.
func (w *worker) run(stop <-chan struct{}) {
	s := w.session
	kind := s.src.Kind()
	ring := w.stream.Samples()

	idle := time.NewTimer(s.opts.PollInterval)
	defer idle.Stop()

	fill := 0
	for {
		select {
		case <-stop:
			w.flush(kind, fill)
			return
		default:
		}

		n := ring.Pop(w.buf[fill:])
		if n > 0 {
			s.stats.captured.Add(uint64(n))
			s.obs.SamplesCaptured(kind, n)
			fill += n
			if fill == len(w.buf) {
				w.process(kind, w.buf)
				fill = 0
			}
			continue
		}

		// Queue is empty: a failed stream has nothing more to give.
		select {
		case <-w.stream.Done():
			w.flush(kind, fill)
			w.failStream(kind)
			return
		default:
		}

		idle.Reset(s.opts.PollInterval)
		select {
		case <-stop:
		case <-w.stream.Done():
		case <-idle.C:
		}
	}
}

func (w *worker) flush(kind audio.Kind, fill int) {
	if fill > 0 {
		w.process(kind, w.buf[:fill])
	}
}

func (w *worker) process(kind audio.Kind, raw []float32) {
	s := w.session

	pcm, err := w.conv.Convert(raw)
	if err != nil {
		s.stats.convertErr.Add(1)
		s.obs.ConvertError(kind)
		s.log.Warn().Err(err).Int("samples", len(raw)).Msg("Dropping chunk that failed conversion")
		return
	}
	// Too few native samples to yield one output sample.
	if len(pcm) == 0 {
		return
	}

	before := w.gate.State()
	out := w.gate.Process(pcm)
	after := w.gate.State()
	rms := w.gate.LastRMS()

	s.stats.lastRMS.Store(math.Float64bits(rms))
	if after != before {
		s.stats.state.Store(int32(after))
		s.obs.GateChanged(kind, after, rms)
		s.log.Debug().
			Stringer("from", before).
			Stringer("to", after).
			Float64("rms", rms).
			Msg("Gate transition")
	}

	if len(out) == 0 {
		s.stats.suppressed.Add(1)
		s.obs.ChunkSuppressed(kind)
		return
	}

	for _, chunk := range out {
		if len(chunk) == 0 {
			continue
		}
		payload := EncodePCM(make([]byte, 0, len(chunk)*2), chunk)
		if err := w.sink.WriteChunk(payload); err != nil {
			s.stats.sinkErr.Add(1)
			s.obs.SinkError(kind)
			s.log.Warn().Err(err).Msg("Sink rejected chunk")
			continue
		}
		s.stats.emitted.Add(1)
		s.obs.ChunkEmitted(kind, len(payload))
	}
}

// failStream tears down a stream that ended on its own.
func (w *worker) failStream(kind audio.Kind) {
	s := w.session
	err := w.stream.Err()
	if err == nil {
		err = fmt.Errorf("%s stream ended", kind)
	}
	s.fail(err)
	s.obs.StreamFailed(kind, err)
	s.log.Error().Err(err).Msg("Capture stream failed, stopping session")
	if cerr := w.stream.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("Failed to release failed stream")
	}
}
