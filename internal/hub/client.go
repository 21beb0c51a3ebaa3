package hub

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"minichat/internal/models"
	"minichat/internal/service/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Event names carried in the websocket frames.
const (
	EventSendMessage = "sendMessage"
	EventNewMessage  = "newMessage"
	EventError       = "error"
)

// inboundEvent is a client -> server frame.
type inboundEvent struct {
	Event   string `json:"event"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

// newMessageEvent is the broadcast frame: the persisted record
// flattened beside the event name.
type newMessageEvent struct {
	Event     string    `json:"event"`
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// errorEvent is delivered to a single connection, never broadcast.
type errorEvent struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// Client is one live websocket connection, bound to at most one user.
// It leaves the broadcast set exactly when its read pump exits.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id   string
	addr string
	user *models.User

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection. user may be nil: the
// connection is still admitted, and outgoing messages then carry the
// client-supplied sender label.
func NewClient(h *Hub, conn *websocket.Conn, user *models.User) *Client {
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		id:   uuid.New().String(),
		addr: conn.RemoteAddr().String(),
		user: user,
	}
}

// trySend queues a payload without blocking. A false return means the
// buffer is full and the client should be dropped.
func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("client %s read error: %v", c.id, err)
			}
			return
		}
		c.handleSubmission(raw)
	}
}

// handleSubmission runs the submit -> persist -> broadcast protocol for
// one inbound frame. Nothing is broadcast when the store write fails.
func (c *Client) handleSubmission(raw []byte) {
	var in inboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Printf("client %s sent invalid frame: %v", c.id, err)
		return
	}
	if in.Event != EventSendMessage {
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		// Empty submissions are dropped without persistence or reply.
		return
	}

	sender := in.Sender
	if c.user != nil {
		sender = c.user.Username
	}
	c.persistAndBroadcast(in.Content, sender)
}

// persistAndBroadcast appends the message and queues the fan-out as one
// step. The submit lock spans both, so broadcast order always equals
// append-completion order even with many connections submitting at
// once. The hub context, not the connection, scopes the write: a client
// disconnecting mid-append must not abort the persist.
func (c *Client) persistAndBroadcast(content, sender string) {
	h := c.hub
	h.submitMu.Lock()
	defer h.submitMu.Unlock()

	msg, err := h.store.AppendMessage(h.ctx, content, sender)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyContent) {
			return
		}
		log.Printf("client %s append failed: %v", c.id, err)
		c.reportError("message could not be stored")
		return
	}

	payload, err := json.Marshal(newMessageEvent{
		Event:     EventNewMessage,
		ID:        msg.ID,
		Content:   msg.Content,
		Sender:    msg.Sender,
		Timestamp: msg.CreatedAt,
	})
	if err != nil {
		log.Printf("client %s marshal broadcast: %v", c.id, err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// reportError notifies only the submitting connection.
func (c *Client) reportError(msg string) {
	payload, err := json.Marshal(errorEvent{Event: EventError, Error: msg})
	if err != nil {
		return
	}
	c.trySend(payload)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
