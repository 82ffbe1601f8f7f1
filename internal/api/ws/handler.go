// Package ws provides the live seat-availability push channel:
// GET /ws/seats/:movie_id. It is additive to the read path — clients that
// never connect still get correct answers by polling GET /available_seats.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/statemachine"
)

// MessageType distinguishes the few frames this channel ever sends.
type MessageType string

const (
	TypeWelcome     MessageType = "welcome"
	TypeSeatsUpdate MessageType = "seats_update"
	TypeError       MessageType = "error"
)

// Message is the single frame shape this channel sends to clients; it
// never accepts client-originated frames beyond pings.
type Message struct {
	Type      MessageType `json:"type"`
	MovieID   string      `json:"movie_id,omitempty"`
	Seats     []int       `json:"available_seats,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// client is one connected subscriber, pinned to a single movie for the
// lifetime of the connection.
type client struct {
	id      uuid.UUID
	movieID string
	conn    *websocket.Conn
	send    chan *Message
}

// Hub fans out seat-availability diffs to every client subscribed to the
// affected movie. It implements statemachine.SeatsObserver.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[uuid.UUID]*client // movieID -> client set

	register   chan *client
	unregister chan *client

	logger *zap.Logger
}

var _ statemachine.SeatsObserver = (*Hub)(nil)

// NewHub creates and starts a Hub.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]map[uuid.UUID]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.movieID] == nil {
				h.clients[c.movieID] = make(map[uuid.UUID]*client)
			}
			h.clients[c.movieID][c.id] = c
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.movieID]; ok {
				if _, ok := set[c.id]; ok {
					delete(set, c.id)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.movieID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// OnSeatsChanged implements statemachine.SeatsObserver: it pushes a diff to
// every client currently subscribed to movieID. The send is non-blocking —
// a slow client drops frames rather than stalling the applier.
func (h *Hub) OnSeatsChanged(movieID string, availableSeats []int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set, ok := h.clients[movieID]
	if !ok {
		return
	}

	msg := &Message{
		Type:      TypeSeatsUpdate,
		MovieID:   movieID,
		Seats:     availableSeats,
		Timestamp: time.Now(),
	}
	for _, c := range set {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("dropping seats_update frame for slow client", zap.String("client_id", c.id.String()))
		}
	}
}

// Handler upgrades and serves the live-updates channel.
type Handler struct {
	hub      *Hub
	machine  *statemachine.Machine
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler builds a Handler backed by hub.
func NewHandler(hub *Hub, machine *statemachine.Machine, logger *zap.Logger) *Handler {
	return &Handler{
		hub:     hub,
		machine: machine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleSeats serves GET /ws/seats/:movie_id.
func (h *Handler) HandleSeats(c *gin.Context) {
	movieID := c.Param("movie_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:      uuid.New(),
		movieID: movieID,
		conn:    conn,
		send:    make(chan *Message, 16),
	}

	h.hub.register <- cl
	go h.writePump(cl)
	go h.readPump(cl)

	cl.send <- &Message{
		Type:      TypeWelcome,
		MovieID:   movieID,
		Seats:     h.machine.GetAvailableSeats(movieID),
		Timestamp: time.Now(),
	}
}

// readPump only drains client-originated frames (pings, close); this
// channel accepts no client commands.
func (h *Handler) readPump(cl *client) {
	defer func() {
		h.hub.unregister <- cl
		cl.conn.Close()
	}()

	cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(cl *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("marshal seats frame failed", zap.Error(err))
				continue
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
