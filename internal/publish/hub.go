package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrHubBusy is returned by Hub.Publish when the broadcast queue is full.
var ErrHubBusy = errors.New("websocket hub broadcast queue is full")

const (
	broadcastQueueSize = 256
	clientQueueSize    = 256
)

type HubOption func(*Hub)

func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub maintains the set of websocket clients and broadcasts envelopes to
// the clients subscribed to their channel.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

type message struct {
	channel string
	data    []byte
}

func NewHub(opts ...HubOption) *Hub {
	h := Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, broadcastQueueSize),
		done:       make(chan struct{}),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients:    make(map[*Client]struct{}),
	}

	for _, opt := range opts {
		opt(&h)
	}

	return &h
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("websocket client connected", slog.String("remote", client.remote))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("websocket client disconnected", slog.String("remote", client.remote))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.subscribed(msg.channel) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.logger.Warn("websocket client too slow, removing", slog.String("remote", client.remote))
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an event for broadcast without blocking.
func (h *Hub) Publish(channel, event string, payload any) error {
	data, err := json.Marshal(Envelope{Channel: channel, Event: event, Payload: payload, Time: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}

	select {
	case h.broadcast <- message{channel: channel, data: data}:
		return nil
	default:
		return ErrHubBusy
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and attaches the client.
// Clients receive every channel until they send a subscribe request.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
