package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rsavary/classnote/pkg/logger"
)

// Message types streamed to clients
const (
	MessageTypeTranscriptUpdate   = "transcript_update"
	MessageTypeProcessingProgress = "processing_progress"
	MessageTypeRecordingStatus    = "recording_status"
	MessageTypeMarkerAdded        = "marker_added"
	MessageTypeSubscribe          = "subscribe"   // Client subscribes to a recording
	MessageTypeUnsubscribe        = "unsubscribe" // Client drops a subscription
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// MessageHandler defines the interface for handling incoming WebSocket messages
type MessageHandler interface {
	HandleMessage(client *Client, messageType string, data map[string]any) error
}

// Client represents a WebSocket client
type Client struct {
	conn          *websocket.Conn
	send          chan *Message
	server        *Server
	mu            sync.Mutex
	closed        bool
	closeChan     chan struct{}
	subscriptions map[string]bool // recording IDs this client follows
}

// Server fans recording events out to connected clients. Clients with
// no subscriptions receive everything; subscribing narrows the stream
// to the named recordings.
type Server struct {
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Message
	upgrader       websocket.Upgrader
	logger         *logger.Logger
	mu             sync.RWMutex
	messageHandler MessageHandler
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("web-socket"),
	}
}

// SetMessageHandler sets the message handler for incoming WebSocket messages
func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

// Run starts the WebSocket server
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				// Mark client as closed first to prevent new messages
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				// Then close the channel
				close(client.send)
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.mu.RLock()
			clientsToRemove := make([]*Client, 0)
			for client := range s.clients {
				client.mu.Lock()
				if client.closed {
					clientsToRemove = append(clientsToRemove, client)
					client.mu.Unlock()
					continue
				}
				client.mu.Unlock()

				if !client.wantsMessage(message) {
					continue
				}

				select {
				case client.send <- message:
				default:
					// Channel is full, mark for removal
					clientsToRemove = append(clientsToRemove, client)
				}
			}
			s.mu.RUnlock()

			// Clean up failed clients
			if len(clientsToRemove) > 0 {
				s.mu.Lock()
				for _, client := range clientsToRemove {
					if _, ok := s.clients[client]; ok {
						delete(s.clients, client)
						client.mu.Lock()
						if !client.closed {
							client.closed = true
							close(client.send)
						}
						client.mu.Unlock()
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

// HandleConnection handles a WebSocket connection
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Handling new WebSocket connection request",
		logger.String("remote_addr", r.RemoteAddr),
		logger.String("user_agent", r.UserAgent()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan *Message, 256),
		server:        s,
		closeChan:     make(chan struct{}),
		subscriptions: make(map[string]bool),
	}

	s.register <- client

	go client.readPump()
	go client.writePump()
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(message *Message) {
	s.logger.Debug("Broadcasting message",
		logger.String("message_type", message.Type))

	s.broadcast <- message
}

// TranscriptUpdate streams a live transcript snapshot for a recording
func (s *Server) TranscriptUpdate(recordingID, text string, isFinal bool) {
	s.Broadcast(&Message{
		Type: MessageTypeTranscriptUpdate,
		Data: map[string]any{
			"recording_id": recordingID,
			"text":         text,
			"is_final":     isFinal,
		},
	})
}

// ProcessingProgress streams a pipeline stage transition for a recording
func (s *Server) ProcessingProgress(recordingID, stage string) {
	s.Broadcast(&Message{
		Type: MessageTypeProcessingProgress,
		Data: map[string]any{
			"recording_id": recordingID,
			"stage":        stage,
		},
	})
}

// RecordingStatus streams a status change for a recording
func (s *Server) RecordingStatus(recordingID, status string) {
	s.Broadcast(&Message{
		Type: MessageTypeRecordingStatus,
		Data: map[string]any{
			"recording_id": recordingID,
			"status":       status,
		},
	})
}

// MarkerAdded streams a new timeline marker for a recording
func (s *Server) MarkerAdded(recordingID, kind string, elapsedSeconds int) {
	s.Broadcast(&Message{
		Type: MessageTypeMarkerAdded,
		Data: map[string]any{
			"recording_id":    recordingID,
			"kind":            kind,
			"elapsed_seconds": elapsedSeconds,
		},
	})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
		}
		c.mu.Unlock()

		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			break
		}

		var message struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}

		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Error("Failed to parse WebSocket message", logger.Error(err))
			continue
		}

		c.server.logger.Debug("Received WebSocket message",
			logger.String("type", message.Type),
			logger.String("client", c.conn.RemoteAddr().String()))

		switch message.Type {
		case MessageTypeSubscribe:
			if id, ok := message.Data["recording_id"].(string); ok && id != "" {
				c.subscribe(id)
			}
			continue
		case MessageTypeUnsubscribe:
			if id, ok := message.Data["recording_id"].(string); ok && id != "" {
				c.unsubscribe(id)
			}
			continue
		}

		if c.server.messageHandler != nil {
			if err := c.server.messageHandler.HandleMessage(c, message.Type, message.Data); err != nil {
				c.server.logger.Error("Failed to handle WebSocket message",
					logger.Error(err),
					logger.String("type", message.Type))
			}
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
		}
		c.mu.Unlock()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Channel closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.mu.Unlock()
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", logger.Error(err))
				c.mu.Unlock()
				continue
			}

			w.Write(data)

			if err := w.Close(); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		// Channel is full, drop message
		return false
	}
}

func (c *Client) subscribe(recordingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[recordingID] = true
}

func (c *Client) unsubscribe(recordingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, recordingID)
}

// wantsMessage checks whether a message falls inside the client's
// subscriptions. A client with no subscriptions receives everything.
func (c *Client) wantsMessage(message *Message) bool {
	recordingID, _ := message.Data["recording_id"].(string)
	if recordingID == "" {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[recordingID]
}
