package sink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/resample"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	sessionIDLen     = 36
)

// Frame type bytes that prefix every binary message.
const (
	FrameMicrophone byte = 0x01
	FrameSystem     byte = 0x02
)

// StreamInfo is sent as a text message before the first chunk of a session.
type StreamInfo struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	Source     string `json:"source"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// WebSocket streams chunks of one or more sessions over a single
// connection. Each chunk is a binary message:
//
//	[1 byte source][36 byte session id][s16le PCM]
//
// Writes are synchronous, so a slow server slows the capture worker.
type WebSocket struct {
	url string
	log zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// DialWebSocket connects to url.
func DialWebSocket(url string, header http.Header, log zerolog.Logger) (*WebSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	log = log.With().Str("component", "websocket").Logger()
	log.Info().Str("url", url).Msg("Connected to speech endpoint")
	return &WebSocket{url: url, conn: conn, log: log}, nil
}

// Session returns a sink for one capture session. It announces the session
// with a StreamInfo message.
func (ws *WebSocket) Session(kind audio.Kind, sessionID string) (capture.Sink, error) {
	if len(sessionID) != sessionIDLen {
		return nil, fmt.Errorf("session id must be %d bytes, got %d", sessionIDLen, len(sessionID))
	}
	info := StreamInfo{
		Type:       "stream_start",
		SessionID:  sessionID,
		Source:     string(kind),
		SampleRate: resample.OutputRate,
		Channels:   1,
		Encoding:   "s16le",
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream info: %w", err)
	}
	if err := ws.write(websocket.TextMessage, data); err != nil {
		return nil, err
	}

	tag := FrameMicrophone
	if kind == audio.SystemAudio {
		tag = FrameSystem
	}
	header := make([]byte, 0, 1+sessionIDLen)
	header = append(header, tag)
	header = append(header, sessionID...)

	return capture.SinkFunc(func(pcm []byte) error {
		msg := make([]byte, 0, len(header)+len(pcm))
		msg = append(msg, header...)
		msg = append(msg, pcm...)
		return ws.write(websocket.BinaryMessage, msg)
	}), nil
}

func (ws *WebSocket) write(messageType int, data []byte) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}

	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil
	}
	ws.closed = true

	ws.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	ws.log.Info().Msg("Speech endpoint connection closed")
	return ws.conn.Close()
}

// ParseFrame splits a binary chunk message into its parts.
func ParseFrame(msg []byte) (source byte, sessionID string, pcm []byte, err error) {
	if len(msg) < 1+sessionIDLen {
		return 0, "", nil, fmt.Errorf("frame too short: %d bytes", len(msg))
	}
	return msg[0], string(msg[1 : 1+sessionIDLen]), msg[1+sessionIDLen:], nil
}
