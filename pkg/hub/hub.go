package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-nao/internal/log"
)

// Hub maintains the set of active clients and broadcasts frames to them.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// New creates a hub. Run must be started before clients connect.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.For("hub").With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", "clients", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "clients", count)

		case frame := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// Slow consumer.
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a frame for every client. It never blocks; frames are
// dropped when the queue is full.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("broadcast queue full, dropping frame")
	}
}

// BroadcastJSON encodes v as a typed frame and broadcasts it.
func (h *Hub) BroadcastJSON(typ string, v any) error {
	frame, err := Encode(typ, v)
	if err != nil {
		return err
	}
	h.Broadcast(frame)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
