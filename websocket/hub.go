package websocket

import (
	"encoding/json"
	"sync"
)

// hubMessage is one queued broadcast: payload plus whether it should reach
// each client as a Text or Binary frame.
type hubMessage struct {
	data []byte
	text bool
}

// Hub is a registry of live connections used to fan a message out to all
// of them. It does not multiplex several logical streams over one
// connection — each registered Conn still speaks exactly one WebSocket
// session; Hub only tracks membership and drives concurrent sends.
type Hub struct {
	clients map[*Conn]bool

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan hubMessage

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// NewHub returns a ready-to-use Hub. Callers must run Run in a goroutine
// before Register/Broadcast have any effect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan hubMessage, chanCapacity),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop. It blocks until Close is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go func(c *Conn, msg hubMessage) {
					var err error
					if msg.text {
						err = c.SendText(string(msg.data))
					} else {
						err = c.SendBytes(msg.data)
					}
					if err != nil {
						h.Unregister(c)
					}
				}(client, message)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds client to the Hub so future Broadcasts reach it.
func (h *Hub) Register(client *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()
	h.register <- client
}

// Unregister removes client from the Hub and closes its connection. Safe
// to call more than once for the same client.
func (h *Hub) Unregister(client *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()
	h.unregister <- client
}

// Broadcast queues a binary message for delivery to every registered
// client. Delivery is concurrent and per-client failures unregister that
// client without affecting the others.
func (h *Hub) Broadcast(message []byte) {
	h.queue(hubMessage{data: message})
}

// BroadcastText queues a text message, delivered to each client as a Text
// frame.
func (h *Hub) BroadcastText(text string) {
	h.queue(hubMessage{data: []byte(text), text: true})
}

// BroadcastJSON marshals v and broadcasts the result as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.queue(hubMessage{data: data, text: true})
	return nil
}

func (h *Hub) queue(msg hubMessage) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()
	h.broadcast <- msg
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the event loop, closes every registered connection, and
// releases the Hub's channels. Safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for client := range h.clients {
		_ = client.Close()
	}
	h.clients = make(map[*Conn]bool)
	h.mu.Unlock()

	close(h.register)
	close(h.unregister)
	close(h.broadcast)

	return nil
}
