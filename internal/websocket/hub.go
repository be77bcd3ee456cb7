// Package websocket 推送新邮件事件，按邮箱地址分发给订阅的连接。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

// MessageTypePing 是 Hub 定期发送的心跳
const MessageTypePing = "ping"

// Relay 把事件广播给所有实例，Redis 客户端实现它
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handler func([]byte)) error
}

// Client 代表一个 WebSocket 连接，只订阅一个邮箱
type Client struct {
	ID      string
	Mailbox string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

type delivery struct {
	mailbox string
	payload []byte
}

// Hub 管理所有 WebSocket 连接
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	mailboxes  map[string]map[string]*Client // mailbox -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan delivery
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	relay      Relay
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// Option 配置 Hub
type Option func(*Hub)

// WithRelay 设置跨实例广播，设置后本地事件也经由 Relay 回流
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub 创建 WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空或包含 "*" 时允许所有来源
//   - log: 日志，nil 时不输出
func NewHub(allowedOrigins []string, log *zap.Logger, opts ...Option) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		mailboxes:  make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		upgrader:   newUpgrader(allowedOrigins),
		log:        log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// 没有 Origin 的非浏览器客户端放行
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// Run 启动 Hub，直到 ctx 结束。启用 Relay 时同时订阅跨实例事件。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var relayDone chan struct{}
	if h.relay != nil {
		relayDone = make(chan struct{})
		go func() {
			defer close(relayDone)
			err := h.relay.Subscribe(ctx, func(payload []byte) {
				h.enqueue(payload)
			})
			if err != nil && ctx.Err() == nil {
				h.log.Error("new mail relay stopped", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			if relayDone != nil {
				<-relayDone
			}
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.mailboxes[client.Mailbox] == nil {
				h.mailboxes[client.Mailbox] = make(map[string]*Client)
			}
			h.mailboxes[client.Mailbox][client.ID] = client
			h.mu.Unlock()
			h.metrics.StreamClientConnected()
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("mailbox", client.Mailbox))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NotifyNewMail 发布新邮件事件，不阻塞调用方
func (h *Hub) NotifyNewMail(ctx context.Context, evt domain.NewMailEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("failed to marshal new mail event", zap.Error(err))
		return
	}
	if h.relay != nil {
		err := h.relay.Publish(ctx, payload)
		if err == nil {
			return
		}
		h.log.Warn("publish new mail event failed, delivering locally", zap.Error(err))
	}
	h.enqueue(payload)
}

// enqueue 解析事件中的邮箱并放入广播队列，队列满时丢弃
func (h *Hub) enqueue(payload []byte) {
	var evt struct {
		Mailbox string `json:"mailbox"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Mailbox == "" {
		h.log.Warn("drop malformed new mail event")
		return
	}
	select {
	case h.broadcast <- delivery{mailbox: strings.ToLower(evt.Mailbox), payload: payload}:
	case <-h.done:
	default:
		h.log.Warn("broadcast queue full, event dropped", zap.String("mailbox", evt.Mailbox))
	}
}

// ClientCount 返回订阅指定邮箱的连接数
func (h *Hub) ClientCount(mailbox string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.mailboxes[strings.ToLower(mailbox)])
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if clients, exists := h.mailboxes[client.Mailbox]; exists {
		delete(clients, client.ID)
		if len(clients) == 0 {
			delete(h.mailboxes, client.Mailbox)
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	h.metrics.StreamClientDisconnected()
	h.log.Debug("client unregistered", zap.String("id", client.ID))
}

// deliver 向订阅该邮箱的连接发送事件
func (h *Hub) deliver(msg delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.mailboxes[msg.mailbox] {
		select {
		case client.send <- msg.payload:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有连接发送应用层心跳
func (h *Hub) pingAllClients() {
	data, _ := json.Marshal(map[string]string{"type": MessageTypePing})

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
		h.metrics.StreamClientDisconnected()
	}
	h.clients = make(map[string]*Client)
	h.mailboxes = make(map[string]map[string]*Client)
}

// Serve 升级连接并订阅 mailbox，调用方负责鉴权
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, mailbox string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection",
			zap.Error(err),
			zap.String("origin", r.Header.Get("Origin")))
		return err
	}

	client := &Client{
		ID:      uuid.NewString(),
		Mailbox: strings.ToLower(mailbox),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		hub:     h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump 读取并丢弃客户端消息，用于感知断开
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump 发送事件与协议层 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
