package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be shorter than pongWait
	readLimit  = 512              // viewers never send meaningful data
)

// Client is one WebSocket viewer of a school room.  Send is the
// outbound payload queue; a client that cannot keep up is dropped and
// expected to reconnect and re-fetch the snapshot.
type Client struct {
	SchoolID uint64
	Send     chan []byte

	conn *websocket.Conn
}

// Hub groups WebSocket viewers by school room and relays room payloads
// from the Subscriber to every viewer.  A room's subscription is opened
// when its first viewer joins and released when the last one leaves.
type Hub struct {
	sub Subscriber

	mu    sync.Mutex
	rooms map[uint64]*room
}

type room struct {
	clients map[*Client]bool
	cancel  func()
}

// NewHub returns a Hub backed by the given Subscriber.
func NewHub(sub Subscriber) *Hub {
	if sub == nil {
		panic("nil subscriber passed to NewHub")
	}
	return &Hub{
		sub:   sub,
		rooms: make(map[uint64]*room),
	}
}

// Join registers a client with its school room, opening the room's
// subscription if this is the first viewer.
func (h *Hub) Join(cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[cl.SchoolID]
	if !ok {
		msgs, cancel := h.sub.Subscribe(context.Background(), RoomChannel(cl.SchoolID))
		rm = &room{clients: make(map[*Client]bool), cancel: cancel}
		h.rooms[cl.SchoolID] = rm
		go h.pump(cl.SchoolID, msgs)
	}
	rm.clients[cl] = true
}

// Leave removes a client from its room, releasing the subscription
// when the room empties.
func (h *Hub) Leave(cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[cl.SchoolID]
	if !ok {
		return
	}
	if _, ok := rm.clients[cl]; !ok {
		return
	}
	delete(rm.clients, cl)
	close(cl.Send)
	if len(rm.clients) == 0 {
		rm.cancel()
		delete(h.rooms, cl.SchoolID)
	}
}

// pump forwards subscription payloads into the room until the
// subscription channel closes.
func (h *Hub) pump(schoolID uint64, msgs <-chan []byte) {
	for payload := range msgs {
		h.dispatch(schoolID, payload)
	}
}

// dispatch delivers one payload to every viewer of a room.  Viewers
// with a full Send queue are dropped; they reconnect and re-fetch.
func (h *Hub) dispatch(schoolID uint64, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[schoolID]
	if !ok {
		return
	}
	for cl := range rm.clients {
		select {
		case cl.Send <- payload:
		default:
			delete(rm.clients, cl)
			close(cl.Send)
		}
	}
	if len(rm.clients) == 0 {
		rm.cancel()
		delete(h.rooms, schoolID)
	}
}

// upgrader accepts any origin; authentication happens before the
// upgrade via the JWT middleware on the route.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades the request to a WebSocket, registers the viewer with
// the school room and blocks until the connection drops.
func (h *Hub) Serve(schoolID uint64, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cl := &Client{
		SchoolID: schoolID,
		Send:     make(chan []byte, 32),
		conn:     conn,
	}
	h.Join(cl)
	go cl.writePump()
	cl.readPump(h)
	return nil
}

// readPump consumes (and discards) inbound frames so that pings and
// close frames are processed; it unregisters the client when the
// connection drops.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains Send to the connection and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
