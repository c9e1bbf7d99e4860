package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub tracks subscribers and broadcasts encoded events to them. Slow
// subscribers whose queue is full are disconnected.
type Hub struct {
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	count   int
	running atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a hub. Call Run to start it.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
// It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Info("subscriber connected", "remote", c.remote, "subscribers", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("subscriber disconnected", "remote", c.remote, "subscribers", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
					h.logger.Warn("dropped slow subscriber", "remote", c.remote)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Publish encodes ev and queues it for every subscriber. It never blocks;
// when the queue is full the event is dropped.
func (h *Hub) Publish(ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
	return nil
}

// ClientCount returns the number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats holds hub counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns a snapshot of the counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.ClientCount(),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}
