package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/config"
	"github.com/petems/speechgate/internal/sink"
)

// SinkFactory creates the sink of one session. release is called after the
// session stops.
type SinkFactory func(kind audio.Kind, sessionID string) (s capture.Sink, release func() error, err error)

// DiscardSinks drops every chunk.
func DiscardSinks(audio.Kind, string) (capture.Sink, func() error, error) {
	return sink.Discard, func() error { return nil }, nil
}

// Sinks builds session sinks from the sink config: a WAV recording per
// session when wav_dir is set and a shared WebSocket stream when
// websocket_url is set.
type Sinks struct {
	wavDir string
	wsURL  string
	log    zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	ws    *sink.WebSocket
	users int
}

func NewSinks(cfg config.SinkConfig, log zerolog.Logger) *Sinks {
	return &Sinks{
		wavDir: cfg.WAVDir,
		wsURL:  cfg.WebSocketURL,
		log:    log,
		now:    time.Now,
	}
}

// Factory returns the SinkFactory for App.
func (s *Sinks) Factory() SinkFactory {
	return s.open
}

func (s *Sinks) open(kind audio.Kind, sessionID string) (capture.Sink, func() error, error) {
	var (
		targets  []capture.Sink
		releases []func() error
	)
	cleanup := func() error {
		var first error
		for _, r := range releases {
			if err := r(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if s.wavDir != "" {
		w, err := sink.NewWAV(sink.WAVPath(s.wavDir, string(kind), sessionID, s.now()))
		if err != nil {
			return nil, nil, err
		}
		s.log.Info().Str("path", w.Path()).Str("source", string(kind)).Msg("Recording speech to file")
		targets = append(targets, w)
		releases = append(releases, w.Close)
	}

	if s.wsURL != "" {
		ws, err := s.acquireWebSocket()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		releases = append(releases, s.releaseWebSocket)
		wsSink, err := ws.Session(kind, sessionID)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		targets = append(targets, wsSink)
	}

	switch len(targets) {
	case 0:
		return sink.Discard, cleanup, nil
	case 1:
		return targets[0], cleanup, nil
	default:
		return sink.Multi(targets...), cleanup, nil
	}
}

// acquireWebSocket dials on first use; sessions share the connection.
func (s *Sinks) acquireWebSocket() (*sink.WebSocket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws == nil {
		ws, err := sink.DialWebSocket(s.wsURL, http.Header{"User-Agent": {"speechgate"}}, s.log)
		if err != nil {
			return nil, err
		}
		s.ws = ws
	}
	s.users++
	return s.ws, nil
}

func (s *Sinks) releaseWebSocket() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users--
	if s.users > 0 || s.ws == nil {
		return nil
	}
	err := s.ws.Close()
	s.ws = nil
	return err
}
