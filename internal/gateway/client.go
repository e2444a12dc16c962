package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 64
)

// Client is one WebSocket observer. It only receives events; anything it
// sends besides control frames is ignored.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
	}
}

// SendEvent queues a frame. Slow clients lose events rather than
// stalling the broadcaster.
func (c *Client) SendEvent(frame protocol.EventFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.server.logger.Warn("ws: marshal event", "event", frame.Event, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.server.logger.Debug("ws: client send buffer full, dropping event", "id", c.id, "event", frame.Event)
	}
}

// Run pumps the connection until the peer goes away.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// Close shuts the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debug("ws: read error", "id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
