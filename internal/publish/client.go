package publish

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// request is a control message sent by a client, e.g.
// {"action":"subscribe","channel":"telemetry/rocket"}.
type request struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Client is a middleman between a websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string

	mu       sync.RWMutex
	channels map[string]struct{} // empty means all channels
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, clientQueueSize),
		remote:   conn.RemoteAddr().String(),
		channels: make(map[string]struct{}),
	}
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.channels) == 0 {
		return true
	}
	_, ok := c.channels[channel]
	return ok
}

func (c *Client) handle(req request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Action {
	case "subscribe":
		c.channels[req.Channel] = struct{}{}
	case "unsubscribe":
		delete(c.channels, req.Channel)
	default:
		c.hub.logger.Debug("unknown websocket request", slog.String("action", req.Action), slog.String("remote", c.remote))
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", slog.String("remote", c.remote), slog.Any("error", err))
			}
			return
		}

		var req request
		if err = json.Unmarshal(data, &req); err != nil {
			c.hub.logger.Debug("malformed websocket request", slog.String("remote", c.remote), slog.Any("error", err))
			continue
		}
		c.handle(req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one envelope per frame so clients can decode each message as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug("websocket write failed", slog.String("remote", c.remote), slog.Any("error", err))
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
