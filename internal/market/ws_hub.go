package market

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/predyx/market-engine/internal/bus"
	"github.com/predyx/market-engine/internal/metrics"
)

// WSFrame is the envelope sent to WebSocket clients. Type is either
// "orderBookUpdate" or "tradeUpdate"; Payload carries the book snapshot or
// the trade.
type WSFrame struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id"`
	Payload interface{} `json:"payload"`
}

// wsClientMessage is what clients send: room membership changes. Type is
// "joinEvent" or "leaveEvent".
type wsClientMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type wsClient struct {
	conn  *websocket.Conn
	rooms map[string]bool // eventID -> joined
}

type roomChange struct {
	conn    *websocket.Conn
	eventID string
	join    bool
}

type wsBroadcast struct {
	eventID string
	data    []byte
}

// WSHub bridges the bus to WebSocket clients. Clients join per-event rooms
// with a {"type":"joinEvent","event_id":...} message and receive only the
// frames for events they joined. Slow clients are disconnected rather than
// allowed to stall the broadcast loop.
type WSHub struct {
	bus        *bus.Bus
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan wsBroadcast
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	roomOps    chan roomChange
	done       chan struct{}
}

// NewWSHub creates a hub attached to the given bus.
func NewWSHub(b *bus.Bus) *WSHub {
	return &WSHub{
		bus:        b,
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan wsBroadcast, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		roomOps:    make(chan roomChange, 64),
		done:       make(chan struct{}),
	}
}

// Run consumes the bus topics and drives the connection set. All client
// and room state is owned by this loop. Must be called in a goroutine; it
// returns when Stop is called.
func (h *WSHub) Run() {
	books, cancelBooks := h.bus.SubscribeBooks()
	trades, cancelTrades := h.bus.SubscribeTrades()
	defer cancelBooks()
	defer cancelTrades()

	for {
		select {
		case <-h.done:
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			metrics.WebSocketClients.Set(0)
			return

		case upd, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			h.enqueue(WSFrame{Type: "orderBookUpdate", EventID: upd.EventID, Payload: upd.Book})

		case upd, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			h.enqueue(WSFrame{Type: "tradeUpdate", EventID: upd.EventID, Payload: upd.Trade})

		case conn := <-h.register:
			h.clients[conn] = &wsClient{conn: conn, rooms: make(map[string]bool)}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))

		case op := <-h.roomOps:
			if c, ok := h.clients[op.conn]; ok {
				if op.join {
					c.rooms[op.eventID] = true
				} else {
					delete(c.rooms, op.eventID)
				}
			}

		case msg := <-h.broadcast:
			for conn, c := range h.clients {
				if !c.rooms[msg.eventID] {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
		}
	}
}

// Stop shuts down the hub and closes all client connections.
func (h *WSHub) Stop() {
	close(h.done)
}

func (h *WSHub) enqueue(frame WSFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- wsBroadcast{eventID: frame.EventID, data: data}:
	default:
		// Drop if the buffer is full so matching is never blocked on
		// delivery.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: room membership messages, keepalive, disconnect detection.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var msg wsClientMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.EventID == "" {
				continue
			}
			switch msg.Type {
			case "joinEvent", "leaveEvent":
				select {
				case h.roomOps <- roomChange{conn: conn, eventID: msg.EventID, join: msg.Type == "joinEvent"}:
				case <-h.done:
					return
				}
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-h.done:
				return
			}
		}
	}()
}
