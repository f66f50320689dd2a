// Package ws is the reactive layer: clients subscribe to named query scopes
// over a WebSocket, and whenever a mutation invalidates a scope the hub
// re-runs the query and pushes the fresh result to every subscriber. Clients
// never diff server events into local state; they always receive the full
// query result.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
)

// QueryRunner executes a named query scope on behalf of a user. Implemented
// by the service layer.
type QueryRunner interface {
	RunQuery(ctx context.Context, handle, scope string) (any, error)
}

// PresenceTracker records connect/disconnect transitions. Implemented by the
// service layer.
type PresenceTracker interface {
	SetOnlineStatus(ctx context.Context, handle string, online bool) error
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	subs    map[*Client]map[string]struct{}
	total   int

	maxConns int
	queries  QueryRunner
	presence PresenceTracker

	register    chan *Client
	unregister  chan *Client
	invalidated chan []string
	done        chan struct{}
}

func NewHub(queries QueryRunner, presence PresenceTracker, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		subs:        make(map[*Client]map[string]struct{}),
		maxConns:    maxConns,
		queries:     queries,
		presence:    presence,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		invalidated: make(chan []string, 256),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case scopes := <-h.invalidated:
			h.refresh(ctx, scopes)
		}
	}
}

// Invalidate queues a refresh of every subscription under the given scopes.
// Never blocks the mutation path; under extreme backlog the refresh is
// dropped and the next invalidation catches the subscribers up.
func (h *Hub) Invalidate(scopes ...string) {
	if len(scopes) == 0 {
		return
	}
	select {
	case h.invalidated <- scopes:
	case <-h.done:
	default:
		logger.Errorf("ws invalidation queue full, dropping scopes %v", scopes)
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.subs = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.handle)
		c.Close()
		return
	}
	if _, ok := h.clients[c.handle]; !ok {
		h.clients[c.handle] = make(map[*Client]struct{})
	}
	h.clients[c.handle][c] = struct{}{}
	h.subs[c] = make(map[string]struct{})
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.SetOnlineStatus(ctx, c.handle, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.handle, err)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.handle]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	delete(h.subs, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.handle)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnlineStatus(ctx, c.handle, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.handle, err)
		}
	}
}

// HandleMessage dispatches an incoming WebSocket message.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg.Scope)
	case EventUnsubscribe:
		h.handleUnsubscribe(c, msg.Scope)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

// handleSubscribe registers the scope and immediately delivers the current
// query result, so a client never renders an empty state waiting for the
// first invalidation.
func (h *Hub) handleSubscribe(ctx context.Context, c *Client, scope string) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	if scope == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "scope required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	payload, err := h.queries.RunQuery(ctx, c.handle, scope)
	if err != nil {
		logger.Errorf("ws subscribe scope=%s user=%s: %v", scope, c.handle, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Scope: scope, Payload: "subscription rejected"})
		return
	}

	h.mu.Lock()
	if subs, ok := h.subs[c]; ok {
		subs[scope] = struct{}{}
	}
	h.mu.Unlock()

	h.sendToClient(c, OutgoingMessage{Type: EventData, Scope: scope, Payload: payload})
}

func (h *Hub) handleUnsubscribe(c *Client, scope string) {
	h.mu.Lock()
	if subs, ok := h.subs[c]; ok {
		delete(subs, scope)
	}
	h.mu.Unlock()
}

// refresh re-runs every subscription under the invalidated scopes and pushes
// the results. Queries run off the hub loop so a slow one cannot stall
// registration.
func (h *Hub) refresh(ctx context.Context, scopes []string) {
	h.mu.RLock()
	type target struct {
		client *Client
		scope  string
	}
	var targets []target
	for c, subs := range h.subs {
		for _, scope := range scopes {
			if _, ok := subs[scope]; ok {
				targets = append(targets, target{client: c, scope: scope})
			}
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		go func(c *Client, scope string) {
			qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			payload, err := h.queries.RunQuery(qctx, c.handle, scope)
			if err != nil {
				logger.Errorf("ws refresh scope=%s user=%s: %v", scope, c.handle, err)
				return
			}
			h.sendToClient(c, OutgoingMessage{Type: EventData, Scope: scope, Payload: payload})
		}(t.client, t.scope)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.handle)
		c.Close()
	}
}

// IsConnected reports whether the user holds at least one open socket. Used
// by the push layer to skip recipients who will see the message live.
func (h *Hub) IsConnected(handle string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[handle]) > 0
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
