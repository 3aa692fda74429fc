package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/models"
)

// Notification types pushed to dashboards.
const (
	NotificationTypeConnected = "connected"
	NotificationTypeLedger    = "ledger_event"
)

// sendBuffer is the number of notifications queued per client before new ones are dropped.
const sendBuffer = 64

// Notification represents a message sent over WebSocket
type Notification struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	UserID  string      `json:"userId,omitempty"`
}

// Client is one dashboard connection. An empty UserID subscribes to every user.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	send   chan Notification
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, Conn: conn, send: make(chan Notification, sendBuffer)}
}

// Hub tracks dashboard clients and pushes committed ledger events to them. It implements
// the engines' audit sink and never blocks the caller.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        logrus.FieldLogger
}

// NewHub creates a new Hub instance
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.WithField("component", "websocket"),
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for userID, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.UserID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.UserID] = set
			}
			set[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.UserID]; ok && set[client] {
				delete(set, client)
				close(client.send)
				if len(set) == 0 {
					delete(h.clients, client.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds client; it blocks until Run accepts it or ctx is done.
func (h *Hub) Register(ctx context.Context, client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Record pushes a committed event to the clients of its user and to the all-users feed.
func (h *Hub) Record(_ context.Context, event models.AuditEvent) {
	n := Notification{
		Type:    NotificationTypeLedger,
		Message: event.Type,
		Data:    event,
		UserID:  event.UserID,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.clients[event.UserID], n)
	if event.UserID != "" {
		h.deliver(h.clients[""], n)
	}
}

func (h *Hub) deliver(set map[*Client]bool, n Notification) {
	for client := range set {
		select {
		case client.send <- n:
		default:
			h.log.WithField("userId", client.UserID).Warn("dashboard client too slow, notification dropped")
		}
	}
}

// ConnectedClients returns the number of open connections.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
