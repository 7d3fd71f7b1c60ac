// Package websocket 实时网关：每个连接订阅关系、未读、列表与已打开的会话，变化时推送快照
package websocket

import (
	"errors"

	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/pkg/errorx"
)

// 下行帧类型
const (
	FrameRelationships = "relationships"
	FrameUnread        = "unread"
	FrameFeed          = "feed"
	FrameMessages      = "messages"
	FrameTyping        = "typing"
	FrameNotification  = "notification"
	FrameAck           = "ack"
	FrameError         = "error"
)

// 上行动作
const (
	ActionOpenThread  = "open_thread"
	ActionCloseThread = "close_thread"
	ActionKeystroke   = "keystroke"
	ActionStopTyping  = "stop_typing"
	ActionMarkRead    = "mark_read"
	ActionSend        = "send"
	ActionFeedFilter  = "feed_filter"
)

// Outbound 服务端推送的帧
type Outbound struct {
	Type      string `json:"type"`
	ThreadKey string `json:"threadKey,omitempty"`
	Action    string `json:"action,omitempty"` // ack / error 对应的上行动作
	Data      any    `json:"data,omitempty"`
}

// Inbound 客户端发送的帧
type Inbound struct {
	Action    string                      `json:"action"`
	ThreadKey string                      `json:"threadKey,omitempty"`
	Filter    *request.FeedRequest        `json:"filter,omitempty"`
	Message   *request.SendMessageRequest `json:"message,omitempty"`
}

// ErrorData error 帧的内容，与 HTTP 响应使用相同的业务码
type ErrorData struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func errorData(err error) ErrorData {
	var codeErr *errorx.CodeError
	if errors.As(err, &codeErr) {
		return ErrorData{Code: codeErr.Code, Msg: codeErr.Msg}
	}
	return ErrorData{Code: errorx.ErrServerBusy.Code, Msg: errorx.ErrServerBusy.Msg}
}
