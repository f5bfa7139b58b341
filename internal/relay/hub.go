package relay

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peakfit/callkit/internal/domain"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	// maxPending bounds the store-and-forward queue kept for a room that has
	// only one occupant. Old entries are dropped first.
	maxPending = 64
)

// Hub is a bare room-based forwarder: envelopes sent to a room are delivered
// to the other room members. It holds no media and no call state beyond room
// membership (plus a short per-room queue so an offer sent before the callee
// joins is not lost).
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*client]bool
	pending map[string][]domain.Envelope

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*client]bool),
		pending: make(map[string][]domain.Envelope),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the relay's HTTP surface: the websocket upgrade endpoint and
// a health probe.
func (h *Hub) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})
	return r
}

// ServeWS upgrades one connection and runs its pumps until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("upgrade failed")
		return
	}

	cl := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan domain.Envelope, sendBuffer),
		rooms: make(map[string]bool),
		done:  make(chan struct{}),
	}
	go cl.writePump()
	cl.readPump()
}

func (h *Hub) join(cl *client, room string) {
	if room == "" {
		return
	}

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]bool)
		h.rooms[room] = members
	}
	members[cl] = true
	cl.rooms[room] = true

	// Queued envelopes were sent while the room had no other member (an early
	// offer, or an invite into an empty user room); the new joiner gets them.
	replay := h.pending[room]
	delete(h.pending, room)
	h.mu.Unlock()

	log.Debug().Str("module", "relay").Str("room", room).Int("members", len(members)).Msg("joined")

	for _, env := range replay {
		cl.deliver(env)
	}
}

func (h *Hub) forward(from *client, env domain.Envelope) {
	room := env.RoomID()
	if room == "" {
		log.Warn().Str("module", "relay").Str("kind", string(env.Kind)).Msg("envelope without room, dropped")
		return
	}

	h.mu.Lock()
	var targets []*client
	for member := range h.rooms[room] {
		if member != from {
			targets = append(targets, member)
		}
	}
	if len(targets) == 0 {
		q := append(h.pending[room], env)
		if len(q) > maxPending {
			q = q[len(q)-maxPending:]
		}
		h.pending[room] = q
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	for _, t := range targets {
		t.deliver(env)
	}
}

// drop removes a client from every room it joined, tells remaining call-room
// members the peer left, and discards queues of rooms that emptied.
func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	notify := make(map[string][]*client)
	for room := range cl.rooms {
		members := h.rooms[room]
		delete(members, cl)
		if len(members) == 0 {
			delete(h.rooms, room)
			delete(h.pending, room)
			continue
		}
		if !strings.HasPrefix(room, "user:") {
			for member := range members {
				notify[room] = append(notify[room], member)
			}
		}
	}
	h.mu.Unlock()

	for room, members := range notify {
		env := domain.Envelope{Kind: domain.KindPeerLeft, CallID: room}
		for _, member := range members {
			member.deliver(env)
		}
	}
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan domain.Envelope
	rooms map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

// deliver queues an envelope for the write pump. A client whose buffer is
// full is disconnected rather than blocked on.
func (c *client) deliver(env domain.Envelope) {
	select {
	case c.send <- env:
	case <-c.done:
	default:
		log.Warn().Str("module", "relay").Msg("slow client, dropping connection")
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.hub.drop(c)
	}()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Kind == domain.KindJoinCall {
			c.hub.join(c, env.RoomID())
			continue
		}
		c.hub.forward(c, env)
	}
}

func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.close()
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.close()
				return
			}
		}
	}
}
