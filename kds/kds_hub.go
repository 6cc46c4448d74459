package kds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// Event types
const (
	EventOrderCreate   = "order_create"
	EventOrderUpdate   = "order_update"
	EventOrderDelete   = "order_delete"
	EventOrdersCleared = "orders_cleared"
	// EventClientChange is published by a connected client and relayed to
	// every other connection.
	EventClientChange = "client_change"
)

// OriginStore marks messages produced by the store itself.
const OriginStore = "store"

const writeWait = 5 * time.Second

type Message struct {
	Event  string          `json:"event"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type client struct {
	role    string
	writeMu sync.Mutex
}

// Hub menampung semua koneksi websocket (admin, cashier, packer) dan
// menyiarkan perubahan order. Messages are wake-ups only.
type Hub struct {
	clients map[*websocket.Conn]*client
	mutex   sync.Mutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*client)}
}

// Register -> menambahkan connection dengan role
func (h *Hub) Register(conn *websocket.Conn, role string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = &client{role: role}
}

// Unregister -> melepaskan connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	delete(h.clients, conn)
	h.mutex.Unlock()
	conn.Close()
}

// Count -> jumlah client terhubung
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// BroadcastOrder announces a store-side change of one order.
func (h *Hub) BroadcastOrder(event string, order models.Order) {
	data, err := json.Marshal(order)
	if err != nil {
		utils.ErrorLogger.Printf("Error marshaling order: %v", err)
		return
	}
	h.broadcast(Message{Event: event, Origin: OriginStore, Data: data}, nil)
}

// BroadcastOrderDelete announces removal of one order (or all when id is empty).
func (h *Hub) BroadcastOrderDelete(id string) {
	if id == "" {
		h.broadcast(Message{Event: EventOrdersCleared, Origin: OriginStore}, nil)
		return
	}
	data, _ := json.Marshal(map[string]string{"id": id})
	h.broadcast(Message{Event: EventOrderDelete, Origin: OriginStore, Data: data}, nil)
}

// Relay forwards a client-published message to every other connection.
func (h *Hub) Relay(from *websocket.Conn, msg Message) {
	msg.Event = EventClientChange
	h.broadcast(msg, from)
}

func (h *Hub) broadcast(msg Message, except *websocket.Conn) {
	data, err := json.Marshal(msg)
	if err != nil {
		utils.ErrorLogger.Printf("Error marshaling message: %v", err)
		return
	}

	h.mutex.Lock()
	targets := make(map[*websocket.Conn]*client, len(h.clients))
	for conn, c := range h.clients {
		if conn != except {
			targets[conn] = c
		}
	}
	h.mutex.Unlock()

	utils.InfoLogger.Debugf("Broadcasting %s to %d clients", msg.Event, len(targets))

	for conn, c := range targets {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			utils.ErrorLogger.Printf("Error sending message to client with role %s: %v", c.role, err)
			h.Unregister(conn)
		}
	}
}
