// Package status implements a read-only WebSocket feed reporting
// preallocated pool occupancy: a single hub broadcasting one snapshot
// type, no interactive command surface to multiplex.
package status

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bpipe-run/preallocpool/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotInterval governs how often a snapshot is pushed to every
// connected client, independent of explicit requests.
var SnapshotInterval = 5 * time.Second

// Hub manages WebSocket clients subscribed to the pool status feed.
type Hub struct {
	reg    *registry.Registry
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	stopCh chan struct{}
}

// NewHub creates a Hub reporting on reg's pools.
func NewHub(reg *registry.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		reg:        reg,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's event loop. Call in a goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if msg := h.buildSnapshot(); msg != nil {
				client.Send(msg)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcastSnapshot()
		}
	}
}

// Stop ends the hub's event loop.
func (h *Hub) Stop() {
	close(h.stopCh)
}

// ServeWS upgrades an HTTP request to a WebSocket connection and
// registers the resulting client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) broadcastSnapshot() {
	msg := h.buildSnapshot()
	if msg == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.Send(msg)
	}
}

func (h *Hub) buildSnapshot() []byte {
	names := h.reg.PoolNames()
	pools := make([]PoolSnapshot, 0, len(names))
	for _, name := range names {
		ep, ok := h.reg.Pool(name)
		if !ok {
			continue
		}
		total, idle := ep.Size()
		pools = append(pools, PoolSnapshot{Name: name, Total: total, Idle: idle})
	}

	msg, err := MakeEnvelope(TypeSnapshot, SnapshotPayload{Pools: pools})
	if err != nil {
		h.logger.Warn("failed to build status snapshot", zap.Error(err))
		return nil
	}
	return msg
}
