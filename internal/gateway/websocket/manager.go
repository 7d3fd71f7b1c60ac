package websocket

import (
	"net/http"
	"sync"

	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service"
	"fresh_chat_server/pkg/errorx"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Manager 管理在线连接，同一用户可以有多个连接
// 实现 mq.Sender，通知由派发器回调推送到目标用户的所有连接
type Manager struct {
	svc      *service.Services
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	closed  bool
}

// NewManager 创建连接管理器
func NewManager(svc *service.Services) *Manager {
	return &Manager{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			// 移动端不带 Origin，鉴权由 JWT 完成
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Serve 升级连接并启动读写协程，userID 已由中间件认证
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时已写入 HTTP 错误响应
		return errorx.Wrap(err, errorx.CodeInvalidParam, "WebSocket 握手失败")
	}

	client := newClient(m, conn, userID)
	if !m.register(client) {
		_ = conn.Close()
		return errorx.ErrServerBusy
	}
	go client.writeLoop()
	go client.readLoop()
	client.start()
	zap.L().Info("ws connected", zap.String("user_id", userID))
	return nil
}

// SendNotification 推送给目标用户的所有在线连接，不在线时丢弃
func (m *Manager) SendNotification(n model.Notification) {
	for _, c := range m.connections(n.TargetID) {
		c.push(Outbound{Type: FrameNotification, ThreadKey: n.ThreadKey, Data: n})
	}
}

// Online 用户当前的连接数
func (m *Manager) Online(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID])
}

// Close 断开所有连接，之后不再接受新连接
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var all []*Client
	for _, set := range m.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func (m *Manager) register(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	set, ok := m.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		m.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return true
}

func (m *Manager) unregister(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.clients[c.userID]
	delete(set, c)
	if len(set) == 0 {
		delete(m.clients, c.userID)
	}
}

func (m *Manager) connections(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.clients[userID]))
	for c := range m.clients[userID] {
		out = append(out, c)
	}
	return out
}
