package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains active WebSocket connections and routes feed messages to them.
// A user may hold several connections (one per open dispatcher view).
type Hub struct {
	// Registered clients (userID -> set of clients)
	clients map[string]map[*Client]bool

	// Messages addressed to a user
	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// Message represents a message to broadcast to a specific user
type Message struct {
	UserID string
	Data   interface{}
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop; it returns when ctx is cancelled, closing every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
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
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			total := h.countLocked()
			h.mu.Unlock()
			log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Printf("✅ [WEBSOCKET] Client CONNECTED")
			log.Printf("   User ID: %s", client.UserID)
			log.Printf("   Role: %s", client.UserRole)
			log.Printf("   Total connected clients: %d", total)
			log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		case client := <-h.unregister:
			h.mu.Lock()
			if h.removeLocked(client) {
				total := h.countLocked()
				log.Printf("🔴 [WEBSOCKET] Client DISCONNECTED: %s (%s), remaining: %d", client.UserID, client.UserRole, total)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				log.Printf("❌ Failed to marshal message: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.clients[message.UserID] {
				select {
				case client.send <- data:
				default:
					// Client buffer full, disconnect
					h.removeLocked(client)
					log.Printf("⚠️ Client buffer full, disconnecting: %s", message.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client; it is a no-op once the hub has stopped
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// removeLocked drops client and closes its send channel; h.mu must be held
func (h *Hub) removeLocked(client *Client) bool {
	set, ok := h.clients[client.UserID]
	if !ok || !set[client] {
		return false
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
	close(client.send)
	return true
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// BroadcastToUser queues a message for every connection of a specific user.
// Messages are dropped when the hub is backed up.
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Data: data}:
	default:
		log.Printf("⚠️ Hub broadcast queue full, dropping message for %s", userID)
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// IsUserConnected checks if a user is currently connected
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// GetConnectedClientIDs returns a list of all connected user IDs
func (h *Hub) GetConnectedClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		ids = append(ids, userID)
	}
	return ids
}
