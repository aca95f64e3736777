package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prosumer-p2p/internal/metrics"
)

// PlotPoint is one timestamped sample for real-time plotting.
type PlotPoint struct {
	NodeID        string    `json:"node_id"`
	Timestamp     time.Time `json:"timestamp"`
	DemandKWh     float64   `json:"demand_kwh"`
	GenerationKWh float64   `json:"generation_kwh"`
	BalanceKWh    float64   `json:"balance_kwh"`
	SOC           float64   `json:"soc"`
	Currency      float64   `json:"currency"`
	PeerPrice     float64   `json:"peer_price"`
}

// Plotter is a one-way sink for plot points. Emit never blocks.
type Plotter interface {
	Emit(p PlotPoint)
}

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// Hub fans plot points out to websocket subscribers.
// Points are handed over through a bounded channel and dropped when it is full.
// New subscribers first receive the most recent points.
type Hub struct {
	in     chan PlotPoint
	keep   int
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	recent  [][]byte
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(buffer, keep int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		in:      make(chan PlotPoint, buffer),
		keep:    keep,
		logger:  logger.With("component", "plot_hub"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Emit(p PlotPoint) {
	select {
	case h.in <- p:
	default:
		metrics.RecordPlotDropped()
	}
}

// Run broadcasts emitted points until ctx is done, then disconnects all subscribers.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-h.in:
			msg, err := json.Marshal(p)
			if err != nil {
				h.logger.Warn("encode plot point", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.keep > 0 {
		h.recent = append(h.recent, msg)
		if len(h.recent) > h.keep {
			h.recent = h.recent[len(h.recent)-h.keep:]
		}
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow subscriber.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams plot points to it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer+h.keep)}

	h.mu.Lock()
	for _, msg := range h.recent {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound frames and notices when the subscriber goes away.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
