package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"position-ledger/internal/metrics"
)

const positionPattern = "pub:position:*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub relays position updates from Redis Pub/Sub to WebSocket clients.
// Each consumed transaction event that changes a position publishes the
// new snapshot on pub:position:<ticker>; the hub fans those out, keeping
// the latest snapshot per channel so new clients get current state on
// connect.
type Hub struct {
	rdb  *goredis.Client
	prom *metrics.Metrics

	mu      sync.RWMutex
	clients map[*wsClient]bool
	latest  map[string]json.RawMessage
}

// NewHub creates a hub over the given Redis client. prom may be nil.
func NewHub(rdb *goredis.Client, prom *metrics.Metrics) *Hub {
	return &Hub{
		rdb:     rdb,
		prom:    prom,
		clients: make(map[*wsClient]bool),
		latest:  make(map[string]json.RawMessage),
	}
}

// Run subscribes to all position channels and fans messages out until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.rdb.PSubscribe(ctx, positionPattern)
	defer sub.Close()

	log.Printf("[positionapi] subscribed to %s", positionPattern)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(channel string, data []byte) {
	envelope, err := json.Marshal(map[string]interface{}{
		"channel": channel,
		"ticker":  strings.TrimPrefix(channel, "pub:position:"),
		"data":    json.RawMessage(data),
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("[positionapi] envelope marshal: %v", err)
		return
	}

	h.mu.Lock()
	h.latest[channel] = envelope
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
			// slow client, drop the frame
		}
	}
	h.mu.Unlock()
}

// HandleWS upgrades the connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[positionapi] ws upgrade: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}

	log.Printf("[positionapi] ws client connected (%d total)", count)

	// queue the snapshots before readPump can start tearing the client
	// down; once removeClient closes the send channel no send may follow
	client.queueInitialState()
	go client.writePump()
	go client.readPump()
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// queueInitialState replays the latest snapshot of every position channel
// so the client does not wait for the next event to see current state.
// Runs synchronously in HandleWS, before the read pump exists.
func (c *wsClient) queueInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for _, envelope := range c.hub.latest {
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Println("[positionapi] ws client disconnected")
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
