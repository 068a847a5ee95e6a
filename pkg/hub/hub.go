// Package hub is the socket event router. It accepts websocket connections,
// admits them into sessions through the registry, persists content and
// chunks through the store, and fans events out to session peers.
//
// Delivery to peers is best effort: a slow peer's messages are dropped
// rather than backpressuring the sender, and clients reconcile through the
// content manifest on rejoin.
package hub

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/metrics"
	"github.com/jsbattig/share-things-sub004/pkg/session"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// Config holds the hub's tunables.
type Config struct {
	// SendLimit caps the content manifest returned on join.
	SendLimit int
}

// Hub routes socket events between the session registry, the chunk store,
// and connected clients.
type Hub struct {
	registry *session.Registry
	store    store.ChunkStore
	config   Config

	pending *chunkBuffer

	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}

	upgrader websocket.Upgrader
}

// New creates a hub.
func New(registry *session.Registry, chunks store.ChunkStore, config Config) *Hub {
	if config.SendLimit <= 0 {
		config.SendLimit = 5
	}
	return &Hub{
		registry: registry,
		store:    chunks,
		config:   config,
		pending:  newChunkBuffer(),
		sessions: make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Ciphertext is opaque and sessions are passphrase-gated, so
			// cross-origin browser clients are allowed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and starts its
// pumps. The connection stays unauthenticated until its first join.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h, conn)
	metrics.ConnectedClients.Inc()
	logger.Debug("Websocket connected", "remote_addr", client.remoteAddr)

	go client.writePump()
	go client.readPump()
}

// register adds an authenticated client to its session's fan-out set.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[c.sessionID] = set
	}
	set[c] = struct{}{}
}

// unregister removes a client from its session's fan-out set.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.sessions[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
}

// disconnect tears down a connection. An authenticated connection leaves its
// session and peers are told. The send channel stays open; closing done
// stops the writePump without racing concurrent broadcasters.
func (h *Hub) disconnect(c *Client) {
	metrics.ConnectedClients.Dec()

	if !c.joined {
		close(c.done)
		return
	}

	h.unregister(c)
	h.pending.dropClient(c.sessionID, c.clientID)
	if err := h.registry.Leave(context.Background(), c.sessionID, c.clientID); err != nil {
		logger.Debug("Leave on disconnect",
			"session_id", c.sessionID, "client_id", c.clientID, "error", err)
	}
	h.broadcast(c.sessionID, c, marshalEnvelope(EventClientLeft, ClientEvent{
		ClientID:   c.clientID,
		ClientName: c.clientName,
	}))
	close(c.done)

	logger.Debug("Websocket disconnected",
		"remote_addr", c.remoteAddr, "session_id", c.sessionID, "client_id", c.clientID)
}

// broadcast delivers a message to every client in the session except the
// sender. Never blocks; a peer with a full queue misses the message.
func (h *Hub) broadcast(sessionID string, exclude *Client, msg []byte) {
	if msg == nil {
		return
	}

	h.mu.RLock()
	peers := make([]*Client, 0, len(h.sessions[sessionID]))
	for peer := range h.sessions[sessionID] {
		if peer != exclude {
			peers = append(peers, peer)
		}
	}
	h.mu.RUnlock()

	for _, peer := range peers {
		if peer.enqueue(msg) {
			metrics.FanoutTotal.Inc()
		} else {
			metrics.FanoutDropped.Inc()
		}
	}
}

// NotifySessionExpired tells every connected member that the session
// expired and detaches their connections from it. Later events from those
// connections fail the membership check until they rejoin.
func (h *Hub) NotifySessionExpired(sessionID, message string) {
	msg := marshalEnvelope(EventSessionExpired, ExpiredEvent{
		SessionID: sessionID,
		Message:   message,
	})

	h.pending.dropSession(sessionID)

	h.mu.Lock()
	set := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	for c := range set {
		c.enqueue(msg)
	}
}

// SessionClientCount reports how many connections a session has.
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
