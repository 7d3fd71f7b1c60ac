package chat

import (
	"context"
	"sync"
	"time"

	"fresh_chat_server/pkg/constants"

	"go.uber.org/zap"
)

// TypingSetter 写入输入状态
type TypingSetter interface {
	SetTyping(ctx context.Context, threadKey, userID string, typing bool) error
}

// TypingIndicator 单个连接在单个会话里的输入状态
// 最后一次按键后 timeout 内没有新输入即自动清除，清除请求丢失时读端还有 TYPING_STALE 兜底
type TypingIndicator struct {
	setter    TypingSetter
	threadKey string
	userID    string
	timeout   time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	gen    uint64
}

// NewTypingIndicator timeout <= 0 时使用 TYPING_TIMEOUT
func NewTypingIndicator(setter TypingSetter, threadKey, userID string, timeout time.Duration) *TypingIndicator {
	if timeout <= 0 {
		timeout = constants.TYPING_TIMEOUT
	}
	return &TypingIndicator{setter: setter, threadKey: threadKey, userID: userID, timeout: timeout}
}

// Keystroke 记录一次输入，首次输入时写入 typing=true 并重置超时
func (t *TypingIndicator) Keystroke(ctx context.Context) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
	wasActive := t.active
	t.active = true
	t.mu.Unlock()

	if wasActive {
		return nil
	}
	return t.setter.SetTyping(ctx, t.threadKey, t.userID, true)
}

// Stop 立即清除输入状态，如发送消息或离开会话时
func (t *TypingIndicator) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	if !wasActive {
		return nil
	}
	return t.setter.SetTyping(ctx, t.threadKey, t.userID, false)
}

// Active 当前是否处于输入状态
func (t *TypingIndicator) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *TypingIndicator) expire(gen uint64) {
	t.mu.Lock()
	// 超时触发前又有新的输入或已手动停止
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.setter.SetTyping(ctx, t.threadKey, t.userID, false); err != nil {
		zap.L().Warn("clear typing failed", zap.String("thread", t.threadKey), zap.String("user", t.userID), zap.Error(err))
	}
}
