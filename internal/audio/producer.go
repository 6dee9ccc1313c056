package audio

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/ringbuf"
)

// producer is the capture-side handle of a stream queue. It never blocks and
// turns a run of short pushes into a single fatal overflow error.
//
// Only the capture callback may call push.
type producer struct {
	ring  *ringbuf.Ring[float32]
	limit int
	log   zerolog.Logger
	fatal func(error)

	consecutive int
	tripped     bool
	dropped     atomic.Uint64
}

func newProducer(ring *ringbuf.Ring[float32], limit int, log zerolog.Logger, fatal func(error)) *producer {
	return &producer{
		ring:  ring,
		limit: limit,
		log:   log,
		fatal: fatal,
	}
}

// push stores samples, dropping what does not fit. It reports whether all
// samples were stored.
func (p *producer) push(samples []float32) bool {
	if p.tripped {
		return false
	}
	if len(samples) == 0 {
		return true
	}

	n := p.ring.Push(samples)
	if n == len(samples) {
		p.consecutive = 0
		return true
	}

	p.dropped.Add(uint64(len(samples) - n))
	p.consecutive++

	if p.consecutive == p.limit/2 && p.limit > 1 {
		p.log.Warn().Int("consecutive", p.consecutive).Msg("Capture queue overflowing, system may be overloaded")
	}
	if p.consecutive >= p.limit {
		p.tripped = true
		p.log.Error().Int("consecutive", p.consecutive).Msg("Stopping capture due to persistent overflow")
		p.fatal(fmt.Errorf("%w: %d consecutive short pushes", ErrOverflow, p.consecutive))
	}
	return false
}

// Dropped returns the number of samples discarded so far.
func (p *producer) Dropped() uint64 {
	return p.dropped.Load()
}
