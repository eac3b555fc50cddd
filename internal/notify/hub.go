package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"process-calendar-api/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	userID string
}

// Hub fans notifications out to every open socket of a user.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*conn]struct{}
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewHub(log *logrus.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		conns: make(map[string]map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log.WithField("component", "hub"),
	}
}

// Publish queues msg for each of the user's sockets and returns how many
// received it. Sockets whose buffer is full are dropped.
func (h *Hub) Publish(userID string, msg any) int {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("encode realtime message")
		return 0
	}

	h.mu.RLock()
	var slow []*conn
	sent := 0
	for c := range h.conns[userID] {
		select {
		case c.send <- b:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
	}
	return sent
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Serve upgrades the request and blocks until the socket closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer), userID: userID}
	h.add(c)
	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	set := h.conns[c.userID]
	if set == nil {
		set = make(map[*conn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	metrics.WebsocketOpened()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	set := h.conns[c.userID]
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
	close(c.send)
	h.mu.Unlock()
	metrics.WebsocketClosed()
}

// readPump only handles control frames; clients do not send data.
func (h *Hub) readPump(c *conn) {
	defer func() {
		h.remove(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *conn) {
	tick := time.NewTicker(pingPeriod)
	defer func() {
		tick.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-tick.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close drops every socket.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*conn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}
