// Package ws streams live recognition outcomes to door displays over websockets.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
)

// Hub fans events out to every connected client. A client that cannot keep up
// is disconnected instead of slowing the pipeline down.
type Hub struct {
	deviceID   string
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(deviceID string) *Hub {
	return &Hub{
		deviceID:   deviceID,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.send(event)
		}
	}
}

// join registers client, reporting false once the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) send(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Broadcast queues an event for every client. It never blocks; events are
// dropped while the hub is saturated.
func (h *Hub) Broadcast(eventType EventType, data any) {
	event := Event{
		Type:      eventType,
		DeviceID:  h.deviceID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- event:
	default:
	}
}

// OutcomeProcessed publishes a pipeline outcome to the live feed.
func (h *Hub) OutcomeProcessed(outcome domain.Outcome) {
	h.Broadcast(EventOutcome, outcome)
}

// ForwardFailures drains the outbox failure channel into the live feed until
// ctx is cancelled.
func (h *Hub) ForwardFailures(ctx context.Context, failures <-chan domain.OutboxEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-failures:
			h.Broadcast(EventDeliveryFailed, DeliveryFailure{
				Seq:        entry.Record.Seq,
				RecordID:   entry.Record.ID.String(),
				IdentityID: entry.Record.IdentityID,
				Attempts:   entry.Attempts,
				LastError:  entry.LastError,
			})
		}
	}
}

func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
