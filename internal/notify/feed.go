package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/mrdjehknhc/axtest/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type feedClient struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Feed websocket fan out of events as JSON. Client may pass ?user_id= to get events of one user
type Feed struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// NewFeed Constructor
func NewFeed() *Feed {
	return &Feed{clients: make(map[*feedClient]struct{})}
}

// Listen G broadcast events until ctx done or channel closed, then disconnect clients
func (f *Feed) Listen(ctx context.Context, ch <-chan events.Event) {
	defer f.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			f.Broadcast(e)
		}
	}
}

// Broadcast event to subscribed clients, slow clients lose the event
func (f *Feed) Broadcast(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.WithError(err).Error("notify / Feed / marshal")
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		if c.userID != "" && c.userID != e.UserID {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Warn("notify / Feed / dropping event for slow client")
		}
	}
}

// Clients count of connected clients
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// ServeHTTP upgrade connection and register client
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("notify / Feed / upgrade")
		return
	}
	c := &feedClient{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: r.URL.Query().Get("user_id"),
	}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	log.WithField("clients", f.Clients()).Debug("notify / Feed / client connected")

	go f.writePump(c)
	go f.readPump(c)
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
}

// G reads only to notice close and pongs
func (f *Feed) readPump(c *feedClient) {
	defer func() {
		f.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("notify / Feed / unexpected close")
			}
			return
		}
	}
}

// G
func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
