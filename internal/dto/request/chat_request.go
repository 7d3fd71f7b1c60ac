package request

import (
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/geo"
)

// SendMessageRequest 发送消息请求，HTTP 与 WebSocket 共用
// 使用位置:
//   - internal/handler/chat_handler.go: SendMessage
//   - internal/gateway/websocket/client.go: handleSend
type SendMessageRequest struct {
	ThreadKey string            `json:"threadKey" binding:"required,threadkey"`
	Type      model.MessageType `json:"type" binding:"required,oneof=text location image"`
	Text      string            `json:"text" binding:"max=2000"`
	Location  *geo.Point        `json:"location"`
	ImageURL  string            `json:"imageUrl" binding:"omitempty,url"`
}

// ToMessage 转为待发送的消息，ID 与时间戳由服务端生成
func (r *SendMessageRequest) ToMessage(senderID string) model.Message {
	return model.Message{
		SenderID: senderID,
		Type:     r.Type,
		Text:     r.Text,
		Location: r.Location,
		ImageURL: r.ImageURL,
	}
}

// ThreadRequest 指定会话的请求
// 使用位置:
//   - internal/handler/chat_handler.go: MarkRead, GetMessages, GetThread
type ThreadRequest struct {
	ThreadKey string `json:"threadKey" form:"threadKey" binding:"required,threadkey"`
}

// TypingRequest 设置输入状态
// 使用位置:
//   - internal/handler/chat_handler.go: SetTyping
type TypingRequest struct {
	ThreadKey string `json:"threadKey" binding:"required,threadkey"`
	Typing    bool   `json:"typing"`
}
