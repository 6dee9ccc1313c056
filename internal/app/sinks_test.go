package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/config"
	"github.com/petems/speechgate/internal/sink"
)

func TestSinksDiscardWhenUnconfigured(t *testing.T) {
	s := NewSinks(config.SinkConfig{}, zerolog.Nop())

	out, release, err := s.Factory()(audio.Microphone, uuid.NewString())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := out.WriteChunk([]byte{1, 0}); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestSinksWritesWAVPerSession(t *testing.T) {
	dir := t.TempDir()
	s := NewSinks(config.SinkConfig{WAVDir: dir}, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	id := uuid.NewString()
	out, release, err := s.Factory()(audio.SystemAudio, id)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := out.WriteChunk(capture.EncodePCM(nil, []int16{1, 2, 3})); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	path := sink.WAVPath(dir, "system", id, s.now())
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected recording at %s: %v", path, err)
	}
	// 44 byte header plus three samples.
	if info.Size() != 44+6 {
		t.Fatalf("unexpected wav size %d", info.Size())
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("recording outside %s", dir)
	}
}

func TestSinksShareOneWebSocket(t *testing.T) {
	var connections atomic.Int32
	var frames atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connections.Add(1)
		defer conn.Close()
		for {
			kind, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				frames.Add(1)
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewSinks(config.SinkConfig{WebSocketURL: url}, zerolog.Nop())
	factory := s.Factory()

	mic, releaseMic, err := factory(audio.Microphone, uuid.NewString())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sys, releaseSys, err := factory(audio.SystemAudio, uuid.NewString())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	mic.WriteChunk([]byte{1, 0})
	sys.WriteChunk([]byte{2, 0})

	deadline := time.Now().Add(2 * time.Second)
	for frames.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := frames.Load(); got != 2 {
		t.Fatalf("expected 2 frames, got %d", got)
	}
	if got := connections.Load(); got != 1 {
		t.Fatalf("expected one shared connection, got %d", got)
	}

	releaseMic()
	if err := sys.WriteChunk([]byte{3, 0}); err != nil {
		t.Fatalf("connection closed while still in use: %v", err)
	}
	releaseSys()
	if err := sys.WriteChunk([]byte{4, 0}); err == nil {
		t.Fatal("expected write after last release to fail")
	}
}
