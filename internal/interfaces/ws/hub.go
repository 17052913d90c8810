package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Snapshotter 新连接先收到全量快照
type Snapshotter interface {
	Snapshot() []domain.SlotView
}

// snapshotMessage 连接建立时发送
type snapshotMessage struct {
	Type  string            `json:"type"`
	Slots []domain.SlotView `json:"slots"`
}

type client struct {
	conn *websocket.Conn
	send chan port.SlotEvent
}

// Hub 把槽位事件广播给所有 websocket 客户端
type Hub struct {
	snap Snapshotter

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	dropped int64
}

var _ port.SlotSink = (*Hub)(nil)

func NewHub(snap Snapshotter) *Hub {
	return &Hub{snap: snap, clients: make(map[*client]struct{})}
}

// Publish 非阻塞；发送缓冲已满的客户端丢弃该事件
func (h *Hub) Publish(ev port.SlotEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.dropped++
		}
	}
}

// SetSnapshotter 引擎创建后注入
func (h *Hub) SetSnapshotter(snap Snapshotter) {
	h.mu.Lock()
	h.snap = snap
	h.mu.Unlock()
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts events skipped for slow clients.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Handle upgrades the request and streams events until the client goes away.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan port.SlotEvent, sendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	h.mu.RLock()
	snap := h.snap
	h.mu.RUnlock()
	if snap != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snapshotMessage{Type: "snapshot", Slots: snap.Snapshot()}); err != nil {
			h.unregister(c)
			return
		}
	}

	go h.readPump(c)
	h.writePump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// readPump 只处理 pong 与关闭帧
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(c)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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

// Close 断开所有客户端
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	return nil
}
