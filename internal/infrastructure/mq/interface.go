// Package mq 负责把社交事件（新消息、好友申请、好友通过）交给外部推送系统
// 支持 channel（单机）与 kafka（分布式）两种投递模式，投递失败只记录日志，不影响核心写入
package mq

import (
	"context"
	"encoding/json"
	"sync"

	"fresh_chat_server/internal/model"

	"go.uber.org/zap"
)

// Dispatcher 通知派发接口
type Dispatcher interface {
	// Notify 提交一条通知，不等待最终送达
	Notify(ctx context.Context, n model.Notification) error
	// SetSender 注入最终送达端，为 nil 时只记录日志
	SetSender(sender Sender)
	// Close 停止派发并释放资源
	Close() error
}

// Sender 通知送达端，由 WebSocket 网关实现
// MQ 层只需知道"有个东西能把通知推给在线用户"，不关心具体实现
type Sender interface {
	SendNotification(n model.Notification)
}

// senderHolder 两种模式共用的送达端注入点
type senderHolder struct {
	mu     sync.RWMutex
	sender Sender
}

func (h *senderHolder) SetSender(sender Sender) {
	h.mu.Lock()
	h.sender = sender
	h.mu.Unlock()
}

// deliver 记录日志并推给在线用户，送达端 panic 不会向上传播
func (h *senderHolder) deliver(n model.Notification) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("notification sender panic", zap.Any("recover", r), zap.String("target", n.TargetID))
		}
	}()
	zap.L().Info("dispatch notification",
		zap.String("type", string(n.Type)),
		zap.String("target", n.TargetID),
		zap.String("source", n.SourceID),
		zap.String("thread", n.ThreadKey))

	h.mu.RLock()
	sender := h.sender
	h.mu.RUnlock()
	if sender != nil {
		sender.SendNotification(n)
	}
}

func encode(n model.Notification) ([]byte, error) {
	return json.Marshal(n)
}

func decode(data []byte) (model.Notification, error) {
	var n model.Notification
	err := json.Unmarshal(data, &n)
	return n, err
}

// Discard 不派发任何通知，用于未配置推送的场景与测试
type Discard struct{}

func (Discard) Notify(context.Context, model.Notification) error { return nil }
func (Discard) SetSender(Sender)                                   {}
func (Discard) Close() error                                       { return nil }
