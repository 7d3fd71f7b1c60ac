package mq

import (
	"context"
	"sync"

	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/errorx"

	"go.uber.org/zap"
)

// ChannelDispatcher 单机模式：缓冲通道 + 固定数量的 Worker
type ChannelDispatcher struct {
	senderHolder

	mu     sync.RWMutex
	tasks  chan model.Notification
	closed bool
	wg     sync.WaitGroup
}

// NewChannelDispatcher 创建并启动 Worker Pool
// workerNum: 后台协程数量
// bufferSize: 通道缓冲区大小
func NewChannelDispatcher(workerNum, bufferSize int) *ChannelDispatcher {
	if workerNum <= 0 {
		workerNum = 1
	}
	d := &ChannelDispatcher{tasks: make(chan model.Notification, bufferSize)}
	for i := 0; i < workerNum; i++ {
		d.wg.Add(1)
		go d.startWorker()
	}
	zap.L().Info("notification workers started", zap.Int("workers", workerNum), zap.Int("buffer", bufferSize))
	return d
}

// Notify 放入通道，通道已满时降级为同步执行
func (d *ChannelDispatcher) Notify(ctx context.Context, n model.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errorx.New(errorx.CodeServerBusy, "通知派发已关闭")
	}
	select {
	case d.tasks <- n:
	default:
		zap.L().Warn("notification channel full, executing synchronously")
		d.deliver(n)
	}
	return nil
}

// startWorker 单个 Worker 消费循环，单条通知的 panic 已在 deliver 中恢复
func (d *ChannelDispatcher) startWorker() {
	defer d.wg.Done()
	for n := range d.tasks {
		d.deliver(n)
	}
}

// Close 等待已入队的通知处理完毕
func (d *ChannelDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}
