package handler

import (
	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/internal/infrastructure/middleware"
	"fresh_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler 私聊请求处理器，实时推送见 WebSocket 网关
type ChatHandler struct {
	chatSvc service.ChatService
}

// NewChatHandler 创建聊天处理器实例
func NewChatHandler(chatSvc service.ChatService) *ChatHandler {
	return &ChatHandler{chatSvc: chatSvc}
}

// SendMessage 发送消息
// POST /chat/send
// 请求体: request.SendMessageRequest
// 响应: model.Message
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req request.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	msg, err := h.chatSvc.Send(c.Request.Context(), req.ThreadKey, req.ToMessage(middleware.CurrentUser(c)))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, msg)
}

// MarkRead 将对方发来的消息标记为已读并清零未读数
// POST /chat/markRead
// 请求体: request.ThreadRequest
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req request.ThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.chatSvc.MarkRead(c.Request.Context(), req.ThreadKey, middleware.CurrentUser(c)); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// SetTyping 设置输入状态，客户端应在停止输入后主动清除
// POST /chat/typing
// 请求体: request.TypingRequest
func (h *ChatHandler) SetTyping(c *gin.Context) {
	var req request.TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.chatSvc.SetTyping(c.Request.Context(), req.ThreadKey, middleware.CurrentUser(c), req.Typing); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// GetMessages 会话中的全部消息，按发送顺序
// GET /chat/messages?threadKey=
func (h *ChatHandler) GetMessages(c *gin.Context) {
	var req request.ThreadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	msgs, err := h.chatSvc.Messages(c.Request.Context(), req.ThreadKey, middleware.CurrentUser(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, msgs)
}

// GetThread 会话元数据
// GET /chat/thread?threadKey=
func (h *ChatHandler) GetThread(c *gin.Context) {
	var req request.ThreadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	thread, err := h.chatSvc.Thread(c.Request.Context(), req.ThreadKey, middleware.CurrentUser(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, thread)
}

// GetUnread 各会话的未读数
// GET /chat/unread
// 响应: map[threadKey]count
func (h *ChatHandler) GetUnread(c *gin.Context) {
	counts, err := h.chatSvc.UnreadCounts(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, counts)
}
