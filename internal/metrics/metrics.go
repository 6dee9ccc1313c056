// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/vad"
)

// Metrics holds the pipeline collectors. Every series is labelled with the
// capture source ("microphone" or "system").
type Metrics struct {
	reg *prometheus.Registry

	// Capture
	CapturedSamples *prometheus.CounterVec
	StreamFailures  *prometheus.CounterVec

	// Conversion and gating
	ConvertErrors    *prometheus.CounterVec
	ChunksSuppressed *prometheus.CounterVec
	GateState        *prometheus.GaugeVec
	GateTransitions  *prometheus.CounterVec
	TransitionRMS    *prometheus.HistogramVec

	// Delivery
	ChunksEmitted *prometheus.CounterVec
	BytesEmitted  *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		CapturedSamples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_samples_captured_total",
			Help: "Native-rate samples drained from the capture queue",
		}, []string{"source"}),
		StreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_stream_failures_total",
			Help: "Capture streams that ended on a fatal error",
		}, []string{"source", "reason"}),

		ConvertErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_convert_errors_total",
			Help: "Chunks dropped because conversion to 16 kHz PCM failed",
		}, []string{"source"}),
		ChunksSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_chunks_suppressed_total",
			Help: "Chunks withheld by the voice activity gate",
		}, []string{"source"}),
		GateState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "speechgate_gate_state",
			Help: "Current gate state (0 idle, 1 speech, 2 hangover)",
		}, []string{"source"}),
		GateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_gate_transitions_total",
			Help: "Gate state changes by target state",
		}, []string{"source", "to"}),
		TransitionRMS: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speechgate_gate_transition_rms",
			Help:    "Chunk RMS observed at gate transitions",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2500, 5000, 10000},
		}, []string{"source"}),

		ChunksEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_chunks_emitted_total",
			Help: "Speech chunks delivered to the sink",
		}, []string{"source"}),
		BytesEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_bytes_emitted_total",
			Help: "PCM bytes delivered to the sink",
		}, []string{"source"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechgate_sink_errors_total",
			Help: "Chunks the sink failed to accept",
		}, []string{"source"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// The methods below implement capture.Observer.

func (m *Metrics) SamplesCaptured(kind audio.Kind, n int) {
	m.CapturedSamples.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) ChunkEmitted(kind audio.Kind, bytes int) {
	m.ChunksEmitted.WithLabelValues(string(kind)).Inc()
	m.BytesEmitted.WithLabelValues(string(kind)).Add(float64(bytes))
}

func (m *Metrics) ChunkSuppressed(kind audio.Kind) {
	m.ChunksSuppressed.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ConvertError(kind audio.Kind) {
	m.ConvertErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SinkError(kind audio.Kind) {
	m.SinkErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) GateChanged(kind audio.Kind, state vad.State, rms float64) {
	m.GateState.WithLabelValues(string(kind)).Set(float64(state))
	m.GateTransitions.WithLabelValues(string(kind), state.String()).Inc()
	m.TransitionRMS.WithLabelValues(string(kind)).Observe(rms)
}

func (m *Metrics) StreamFailed(kind audio.Kind, err error) {
	m.StreamFailures.WithLabelValues(string(kind), failureReason(err)).Inc()
	m.GateState.WithLabelValues(string(kind)).Set(float64(vad.Idle))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrOverflow):
		return "overflow"
	case errors.Is(err, audio.ErrReadTimeout):
		return "timeout"
	default:
		return "error"
	}
}
