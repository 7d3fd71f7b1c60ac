package backend

import (
	"context"
	"encoding/json"
	"sync"

	"fresh_chat_server/pkg/errorx"
)

// MemoryBackend 单进程内的同步存储实现
// 所有写操作先按键加锁（多键按固定顺序），保证读改写事务与原子自增不会互相覆盖
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memDoc
	seq         int64
	closed      bool

	locks *KeyLocks
	hub   *Hub
}

type memDoc struct {
	seq    int64
	fields map[string]json.RawMessage
}

// NewMemoryBackend 创建内存存储
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]map[string]*memDoc),
		locks:       NewKeyLocks(),
		hub:         NewHub(),
	}
}

func (m *MemoryBackend) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errorx.Wrap(err, errorx.CodeBackendUnavailable, "请求已取消")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// snapshotLocked 复制记录，调用方需持有 m.mu
func (m *MemoryBackend) snapshotLocked(collection, key string) *Document {
	d, ok := m.collections[collection][key]
	if !ok {
		return nil
	}
	doc := &Document{Collection: collection, Key: key, Seq: d.seq, Fields: d.fields}
	return doc.Clone()
}

// docLocked 返回可写记录，不存在则创建，调用方需持有 m.mu 写锁
func (m *MemoryBackend) docLocked(collection, key string) *memDoc {
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]*memDoc)
		m.collections[collection] = coll
	}
	d, ok := coll[key]
	if !ok {
		m.seq++
		d = &memDoc{seq: m.seq, fields: make(map[string]json.RawMessage)}
		coll[key] = d
	}
	return d
}

// Get 读取单条记录
func (m *MemoryBackend) Get(ctx context.Context, collection, key string) (*Document, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(collection, key), nil
}

// List 按创建顺序返回匹配记录
func (m *MemoryBackend) List(ctx context.Context, collection string, match Predicate) ([]Document, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Document, 0, len(m.collections[collection]))
	for key := range m.collections[collection] {
		doc := m.snapshotLocked(collection, key)
		if match == nil || match(doc) {
			out = append(out, *doc)
		}
	}
	m.mu.RUnlock()
	SortBySeq(out)
	return out, nil
}

// UpsertRecord 合并写入字段
func (m *MemoryBackend) UpsertRecord(ctx context.Context, collection, key string, patch Fields) error {
	return m.Apply(ctx, Upsert(collection, key, patch))
}

// AtomicIncrement 原子自增
func (m *MemoryBackend) AtomicIncrement(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	if err := ValidateKey(collection, key); err != nil {
		return 0, err
	}
	if err := ValidateField(field); err != nil {
		return 0, err
	}
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	unlock := m.locks.Lock(LockKey(collection, key))
	defer unlock()

	m.mu.Lock()
	next, err := m.incrementLocked(collection, key, field, delta)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.hub.Notify(collection, key)
	return next, nil
}

func (m *MemoryBackend) incrementLocked(collection, key, field string, delta int64) (int64, error) {
	d := m.docLocked(collection, key)
	cur, err := DecodeInt(d.fields[field])
	if err != nil {
		return 0, errorx.Wrapf(err, errorx.CodeInvalidParam, "%s 的字段 %s 不是整数", Describe(collection, key), field)
	}
	next := cur + delta
	raw, _ := json.Marshal(next)
	Merge(d.fields, map[string]json.RawMessage{field: raw})
	return next, nil
}

// Apply 原子执行一批写入：先校验全部，再在全部键锁与存储锁下一次性生效
func (m *MemoryBackend) Apply(ctx context.Context, mutations ...Mutation) error {
	prepared, err := Prepare(mutations)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	if err := m.check(ctx); err != nil {
		return err
	}

	targets := SortedTargets(prepared)
	lockKeys := make([]string, 0, len(targets))
	for _, t := range targets {
		lockKeys = append(lockKeys, LockKey(t[0], t[1]))
	}
	unlock := m.locks.Lock(lockKeys...)
	defer unlock()

	m.mu.Lock()
	// 自增字段类型不合法或前置条件不满足时整批放弃
	for _, pm := range prepared {
		var raw json.RawMessage
		if d, ok := m.collections[pm.Collection][pm.Key]; ok {
			raw = d.fields[pm.Field]
		}
		var err error
		switch pm.Op {
		case OpIncrement:
			err = CheckIncrement(pm, raw)
		case OpExpect:
			err = CheckExpect(pm, raw)
		}
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	for _, pm := range prepared {
		switch pm.Op {
		case OpUpsert:
			Merge(m.docLocked(pm.Collection, pm.Key).fields, pm.Encoded)
		case OpIncrement:
			_, _ = m.incrementLocked(pm.Collection, pm.Key, pm.Field, pm.Delta)
		case OpDelete:
			delete(m.collections[pm.Collection], pm.Key)
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.hub.Notify(t[0], t[1])
	}
	return nil
}

// RunTransaction 单键读改写，事务体执行期间持有该键的锁
func (m *MemoryBackend) RunTransaction(ctx context.Context, collection, key string, fn TxFunc) error {
	if err := ValidateKey(collection, key); err != nil {
		return err
	}
	if err := m.check(ctx); err != nil {
		return err
	}
	unlock := m.locks.Lock(LockKey(collection, key))
	defer unlock()

	m.mu.RLock()
	current := m.snapshotLocked(collection, key)
	m.mu.RUnlock()

	patch, err := fn(current)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	encoded, err := EncodeFields(patch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	Merge(m.docLocked(collection, key).fields, encoded)
	m.mu.Unlock()
	m.hub.Notify(collection, key)
	return nil
}

// Delete 删除记录
func (m *MemoryBackend) Delete(ctx context.Context, collection, key string) error {
	return m.Apply(ctx, Remove(collection, key))
}

// SubscribeQuery 订阅集合
func (m *MemoryBackend) SubscribeQuery(collection string, match Predicate, cb func([]Document)) Unsubscribe {
	return SubscribeQuery(m.hub, m, collection, match, cb)
}

// SubscribeDocument 订阅单条记录
func (m *MemoryBackend) SubscribeDocument(collection, key string, cb func(*Document)) Unsubscribe {
	return SubscribeDocument(m.hub, m, collection, key, cb)
}

// Close 关闭存储并停止订阅
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.Close()
	return nil
}
