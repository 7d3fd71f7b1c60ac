package handler

import (
	"net/http"

	"fresh_chat_server/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConnServer 建立实时连接，由 websocket.Manager 实现
type ConnServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// WsHandler WebSocket 连接处理器
type WsHandler struct {
	conns ConnServer
}

// NewWsHandler 创建 WebSocket 处理器实例
func NewWsHandler(conns ConnServer) *WsHandler {
	return &WsHandler{conns: conns}
}

// Connect 升级为 WebSocket 连接，之后的交互见网关协议
// GET /wss?token=
func (h *WsHandler) Connect(c *gin.Context) {
	userID := middleware.CurrentUser(c)
	if err := h.conns.Serve(c.Writer, c.Request, userID); err != nil {
		// 握手失败时响应已写出，只记录日志
		zap.L().Warn("ws connect failed", zap.String("user_id", userID), zap.Error(err))
	}
}
