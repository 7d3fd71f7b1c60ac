package backend

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub 进程内变更通知中心
// 每个订阅拥有独立的 goroutine，回调按顺序执行且不会与自身并发
// 通知会合并：回调执行期间到达的多次变更只触发一次重新加载，保证最终推送最新快照
type Hub struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]*subscription
	closed bool
}

type subscription struct {
	collection string
	key        string // 为空表示集合级订阅
	notify     chan struct{}
	done       chan struct{}
	once       sync.Once
}

// NewHub 创建通知中心
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]*subscription)}
}

// Subscribe 注册订阅，run 会立即执行一次，之后每次相关变更执行一次
func (h *Hub) Subscribe(collection, key string, run func()) Unsubscribe {
	sub := &subscription{
		collection: collection,
		key:        key,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	sub.notify <- struct{}{}
	go sub.loop(run)

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.stop()
	}
}

// Notify 通知某条记录发生变化
func (h *Hub) Notify(collection, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.collection != collection {
			continue
		}
		if sub.key != "" && sub.key != key {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Close 停止全部订阅
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int64]*subscription)
	h.closed = true
	h.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

// Size 当前订阅数量
func (h *Hub) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) loop(run func()) {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			select {
			case <-s.done:
				return
			default:
			}
			s.safeRun(run)
		}
	}
}

// safeRun 回调 panic 不影响后续推送
func (s *subscription) safeRun(run func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("subscription callback panic",
				zap.String("collection", s.collection),
				zap.String("key", s.key),
				zap.Any("recover", r))
		}
	}()
	run()
}

// Reader 订阅重新加载快照所需的读操作
type Reader interface {
	Get(ctx context.Context, collection, key string) (*Document, error)
	List(ctx context.Context, collection string, match Predicate) ([]Document, error)
}

// SubscribeQuery 基于 Hub 与 Reader 实现集合订阅，供各实现复用
func SubscribeQuery(h *Hub, r Reader, collection string, match Predicate, cb func([]Document)) Unsubscribe {
	return h.Subscribe(collection, "", func() {
		docs, err := r.List(context.Background(), collection, match)
		if err != nil {
			zap.L().Warn("reload query snapshot failed", zap.String("collection", collection), zap.Error(err))
			return
		}
		cb(docs)
	})
}

// SubscribeDocument 基于 Hub 与 Reader 实现单记录订阅
func SubscribeDocument(h *Hub, r Reader, collection, key string, cb func(*Document)) Unsubscribe {
	return h.Subscribe(collection, key, func() {
		doc, err := r.Get(context.Background(), collection, key)
		if err != nil {
			zap.L().Warn("reload document snapshot failed", zap.String("doc", Describe(collection, key)), zap.Error(err))
			return
		}
		cb(doc)
	})
}
