package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rsavary/classnote/internal/audio"
	"github.com/rsavary/classnote/internal/capture"
	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/internal/notes"
	"github.com/rsavary/classnote/internal/session"
	ws "github.com/rsavary/classnote/internal/websocket"
	"github.com/rsavary/classnote/pkg/logger"
)

// SafeConn wraps a WebSocket connection with a mutex for thread-safe
// writes. Reads stay unguarded; only one goroutine reads.
type SafeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSafeConn creates a new safe WebSocket connection wrapper
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteJSON safely writes a JSON message to the connection
func (s *SafeConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// ReadMessage reads a message from the connection
func (s *SafeConn) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}

// Close closes the connection
func (s *SafeConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// bridgeMessage is the frame format on the capture bridge, both
// directions
type bridgeMessage struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// CaptureHandlers bridges a browser recording session over a single
// WebSocket connection: speech recognition events and audio chunks
// flow in, recognizer control frames and acknowledgements flow out.
type CaptureHandlers struct {
	sessions *session.Manager
	pipeline *notes.Pipeline
	hub      *ws.Server
	config   *config.Config
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewCaptureHandlers creates the capture bridge handlers
func NewCaptureHandlers(sessions *session.Manager, pipeline *notes.Pipeline, hub *ws.Server, cfg *config.Config, log *logger.Logger) *CaptureHandlers {
	return &CaptureHandlers{
		sessions: sessions,
		pipeline: pipeline,
		hub:      hub,
		config:   cfg,
		logger:   log.Named("capture-bridge"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// wsRecognizer drives the browser's speech recognition engine through
// control frames. The capture controller calls Start and Stop; the
// browser reports results and errors back over the same connection.
type wsRecognizer struct {
	conn   *SafeConn
	locale string
}

func (r *wsRecognizer) Start() error {
	return r.conn.WriteJSON(bridgeMessage{
		Type: "recognizer_start",
		Data: mustJSON(map[string]string{"locale": r.locale}),
	})
}

func (r *wsRecognizer) Stop() error {
	return r.conn.WriteJSON(bridgeMessage{Type: "recognizer_stop"})
}

// WebSocketHandler handles one capture bridge connection
func (h *CaptureHandlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	rawConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade to WebSocket", logger.Error(err))
		return
	}
	conn := NewSafeConn(rawConn)
	defer conn.Close()

	h.logger.Info("Capture bridge connected",
		logger.String("remote_addr", r.RemoteAddr))

	var (
		stream    *audio.BridgeStream
		sessionID string
	)

	// A dropped connection mid-recording leaves the session unusable,
	// so tear it down rather than hold the stream forever
	defer func() {
		if active := h.sessions.Active(); active != nil && active.ID() == sessionID {
			h.logger.Warn("Connection lost with live session, aborting",
				logger.String("recording_id", sessionID))
			h.sessions.AbortActive()
		}
		h.logger.Info("Capture bridge disconnected",
			logger.String("remote_addr", r.RemoteAddr))
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("Capture bridge read error", logger.Error(err))
			}
			return
		}

		// Binary frames are raw MediaRecorder chunks
		if msgType == websocket.BinaryMessage {
			if stream != nil {
				stream.Push(raw)
			}
			continue
		}

		var msg bridgeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(conn, "invalid message")
			continue
		}

		switch msg.Type {
		case "start":
			id, newStream, err := h.handleStart(r.Context(), conn, msg.Data)
			if err != nil {
				h.sendError(conn, err.Error())
				continue
			}
			sessionID, stream = id, newStream

		case "chunk":
			h.handleChunk(stream, msg.Data)

		case "result":
			h.handleResult(msg.Data)

		case "error":
			h.handleEngineError(msg.Data)

		case "end":
			if active := h.sessions.Active(); active != nil && active.Capture() != nil {
				active.Capture().OnEnd()
			}

		case "pause":
			if err := h.withActive(func(c *session.Controller) error { return c.Pause() }); err != nil {
				h.sendError(conn, err.Error())
			} else {
				h.send(conn, "paused", nil)
			}

		case "resume":
			if err := h.withActive(func(c *session.Controller) error { return c.Resume() }); err != nil {
				h.sendError(conn, err.Error())
			} else {
				h.send(conn, "resumed", nil)
			}

		case "marker":
			h.handleMarker(conn, msg.Data)

		case "stop":
			h.handleStop(conn, msg.Data)

		default:
			h.sendError(conn, "unknown message type: "+msg.Type)
		}
	}
}

func (h *CaptureHandlers) handleStart(ctx context.Context, conn *SafeConn, data json.RawMessage) (string, *audio.BridgeStream, error) {
	var req struct {
		Course string `json:"course"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", nil, err
		}
	}

	stream := audio.NewBridgeStream(h.logger)
	source := audio.NewBridgeSource(stream)
	recognizer := &wsRecognizer{conn: conn, locale: h.config.Capture.Locale}

	ctrl, err := h.sessions.StartSession(ctx, req.Course, source, recognizer)
	if err != nil {
		return "", nil, err
	}

	h.send(conn, "started", map[string]string{"recording_id": ctrl.ID()})
	return ctrl.ID(), stream, nil
}

func (h *CaptureHandlers) handleChunk(stream *audio.BridgeStream, data json.RawMessage) {
	if stream == nil {
		return
	}
	var req struct {
		Audio string `json:"audio"` // base64-encoded MediaRecorder chunk
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(chunk) == 0 {
		return
	}
	stream.Push(chunk)
}

func (h *CaptureHandlers) handleResult(data json.RawMessage) {
	active := h.sessions.Active()
	if active == nil || active.Capture() == nil {
		return
	}

	var req struct {
		Results []struct {
			Transcript string `json:"transcript"`
			IsFinal    bool   `json:"is_final"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	results := make([]capture.Result, 0, len(req.Results))
	for _, r := range req.Results {
		results = append(results, capture.Result{Transcript: r.Transcript, IsFinal: r.IsFinal})
	}
	active.Capture().OnResult(results)
}

func (h *CaptureHandlers) handleEngineError(data json.RawMessage) {
	active := h.sessions.Active()
	if active == nil || active.Capture() == nil {
		return
	}

	var req struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	active.Capture().OnError(capture.ErrorKind(req.Error))
}

func (h *CaptureHandlers) handleMarker(conn *SafeConn, data json.RawMessage) {
	active := h.sessions.Active()
	if active == nil {
		h.sendError(conn, session.ErrNoActiveSession.Error())
		return
	}

	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, "invalid marker payload")
		return
	}

	marker, err := active.AddMarker(session.MarkerKind(req.Kind))
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	h.send(conn, "marker_added", map[string]any{
		"recording_id":    active.ID(),
		"kind":            string(marker.Kind),
		"elapsed_seconds": marker.ElapsedSeconds,
	})
	if h.hub != nil {
		h.hub.MarkerAdded(active.ID(), string(marker.Kind), marker.ElapsedSeconds)
	}
}

func (h *CaptureHandlers) handleStop(conn *SafeConn, data json.RawMessage) {
	var req struct {
		Title string `json:"title"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendError(conn, "invalid stop payload")
			return
		}
	}

	result, err := h.sessions.StopSession(req.Title)
	if err != nil {
		// Precondition failures leave the session live so the client
		// can correct and retry
		h.sendError(conn, err.Error())
		return
	}

	h.send(conn, "stopped", map[string]any{
		"recording_id":   result.ID,
		"title":          result.Title,
		"duration_label": result.DurationLabel,
		"markers":        result.Markers,
	})

	job := notes.Job{
		RecordingID: result.ID,
		Title:       result.Title,
		Transcript:  result.LiveTranscript,
		Audio:       result.Audio,
	}
	go func() {
		if err := h.pipeline.Run(context.Background(), job); err != nil {
			h.logger.Error("Processing pipeline failed",
				logger.String("recording_id", job.RecordingID),
				logger.Error(err))
		}
	}()
}

// withActive runs an operation against the active session
func (h *CaptureHandlers) withActive(fn func(*session.Controller) error) error {
	active := h.sessions.Active()
	if active == nil {
		return session.ErrNoActiveSession
	}
	return fn(active)
}

func (h *CaptureHandlers) send(conn *SafeConn, msgType string, data any) {
	msg := bridgeMessage{Type: msgType}
	if data != nil {
		msg.Data = mustJSON(data)
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("Failed to send bridge message",
			logger.String("type", msgType),
			logger.Error(err))
	}
}

func (h *CaptureHandlers) sendError(conn *SafeConn, message string) {
	if err := conn.WriteJSON(bridgeMessage{Type: "error_response", Error: message}); err != nil {
		h.logger.Debug("Failed to send bridge error", logger.Error(err))
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
