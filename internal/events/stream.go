package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solbase-engine/internal/engine"
	"solbase-engine/pkg/utils"
)

const writeWait = 5 * time.Second

// Hub streams trades to websocket subscribers. Run owns the client set;
// a client that cannot keep up is disconnected.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int64
	upgrader   websocket.Upgrader
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, buffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) OnTrade(t engine.Trade) {
	payload, err := json.Marshal(tradeEvent{Type: "trade", Trade: t})
	if err != nil {
		utils.LogError(err, "Failed to encode trade")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		utils.Logger.WithField("pair", t.Pair).Warn("Trade stream backlog full, trade dropped")
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
			h.count.Store(int64(len(h.clients)))
		case conn := <-h.unregister:
			h.drop(conn)
		case msg := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(conn)
				}
			}
		case <-ctx.Done():
			for conn := range h.clients {
				h.drop(conn)
			}
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		h.count.Store(int64(len(h.clients)))
	}
}

// ServeHTTP upgrades the request and keeps the subscriber registered until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Logger.WithField("error", err.Error()).Debug("Websocket upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Subscribers never send; reading only detects the disconnect.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}
