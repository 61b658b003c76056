package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Heartbeat timings per spec.md §5: ping interval 25s, ping timeout 60s.
const (
	pingInterval   = 25 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20 // 1 MiB: generous enough for a CRDT update frame sent as a JSON byte array.
)

// MessageHandler processes one inbound frame for a client. Implemented by the
// WebSocket handler package so the hub itself stays free of event semantics.
type MessageHandler interface {
	HandleMessage(client *Client, raw []byte)
	HandleDisconnect(client *Client)
}

// Client is one WebSocket connection registered with a Hub. RoomID is set once the
// connection's first join-room event is processed; a client observes exactly one room
// at a time, matching spec.md's single-endpoint, join-room-scoped connection model.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	handler MessageHandler

	ID     string
	UserID string
	RoomID string

	send chan []byte
}

func NewClient(h *Hub, conn *websocket.Conn, id string, handler MessageHandler) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		handler: handler,
		ID:      id,
		send:    make(chan []byte, 256),
	}
}

// Send enqueues a frame for delivery; drops it (with a warning) if the client's buffer
// is saturated, rather than blocking the caller (often the hub's broadcast loop).
func (c *Client) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
		logrus.WithField("client_id", c.ID).Warn("client send buffer full, dropping frame")
	}
}

func (c *Client) Close() {
	c.conn.Close()
}

// Run starts the read and write pumps and blocks until the connection closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.handler.HandleDisconnect(c)
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("client_id", c.ID).WithError(err).Debug("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handler.HandleMessage(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
