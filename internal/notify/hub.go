package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ecodoc/agent/internal/domain"
)

// EventType 定义推送事件类型
type EventType string

const (
	EventDraftStatus EventType = "draft_status"
	EventSyncSummary EventType = "sync_summary"
	EventPing        EventType = "ping"
	EventPong        EventType = "pong"
)

// Event WebSocket 推送事件
type Event struct {
	Type      EventType            `json:"type"`
	Draft     *domain.DraftMessage `json:"draft,omitempty"`
	Succeeded int                  `json:"succeeded,omitempty"`
	Failed    int                  `json:"failed,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// client 一个已连接的本地 UI。
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *zap.Logger
}

// Hub 管理本地 UI 的 WebSocket 连接并广播同步事件。
//
// 实现 Notifier；没有任何连接时广播静默丢弃（通知尽力而为）。
type Hub struct {
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub 创建 WebSocket Hub。
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		log: log,
	}
}

// Run 启动 Hub，随 ctx 取消退出。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			h.log.Debug("websocket client connected", zap.String("client_id", c.id))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("websocket client disconnected", zap.String("client_id", c.id))
		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// 发送缓冲已满的连接直接跳过，不阻塞广播
				}
			}
			h.mu.RUnlock()
		case <-ticker.C:
			h.publish(&Event{Type: EventPing, Timestamp: time.Now()})
		}
	}
}

// HandleWS 处理 WebSocket 升级请求（gin 路由挂载点）。
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
		log:  h.log,
	}

	h.register <- cl
	go cl.writePump()
	go cl.readPump()
}

// DraftStatus 实现 Notifier。
func (h *Hub) DraftStatus(draft *domain.DraftMessage) {
	h.publish(&Event{
		Type:      EventDraftStatus,
		Draft:     draft,
		Timestamp: time.Now(),
	})
}

// SyncSummary 实现 Notifier。
func (h *Hub) SyncSummary(succeeded, failed int) {
	h.publish(&Event{
		Type:      EventSyncSummary,
		Succeeded: succeeded,
		Failed:    failed,
		Timestamp: time.Now(),
	})
}

// publish 序列化事件并投入广播通道。
func (h *Hub) publish(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal websocket event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// 广播通道满，丢弃（通知尽力而为）
	}
}

// closeAll 关闭所有连接。
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, id)
	}
}

// writePump 将 send 通道中的消息写入连接。
func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump 消费入站消息（仅响应 ping），连接出错时注销客户端。
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		if event.Type == EventPing {
			resp, _ := json.Marshal(&Event{Type: EventPong, Timestamp: time.Now()})
			select {
			case c.send <- resp:
			default:
			}
		}
	}
}
