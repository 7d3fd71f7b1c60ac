package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/pkg/errorx"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	documentsCollection = "sync_documents"
	countersCollection  = "sync_counters"
	seqCounterID        = "seq"
	// fieldSep 替代字段名中的 "."，避免被 MongoDB 解析为嵌套路径
	fieldSep = "|"
)

// record 存储形态，字段值为 JSON 文本
type record struct {
	ID         string            `bson:"_id"`
	Collection string            `bson:"collection"`
	Key        string            `bson:"key"`
	Seq        int64             `bson:"seq"`
	Fields     map[string]string `bson:"fields"`
}

func recordID(collection, key string) string { return backend.LockKey(collection, key) }

func splitRecordID(id string) (collection, key string, ok bool) {
	return strings.Cut(id, "\x00")
}

func escapeField(name string) string   { return strings.ReplaceAll(name, ".", fieldSep) }
func unescapeField(name string) string { return strings.ReplaceAll(name, fieldSep, ".") }

func (r *record) document() *backend.Document {
	if len(r.Fields) == 0 {
		return nil
	}
	fields := make(map[string]json.RawMessage, len(r.Fields))
	for name, v := range r.Fields {
		fields[unescapeField(name)] = json.RawMessage(v)
	}
	return &backend.Document{Collection: r.Collection, Key: r.Key, Seq: r.Seq, Fields: fields}
}

// Backend MongoDB 同步存储
// 所有写入都在会话事务中完成，写冲突由驱动按 TransientTransactionError 自动重试
// 变更通过 Change Stream 广播到所有节点
type Backend struct {
	client   *mongo.Client
	docs     *mongo.Collection
	counters *mongo.Collection
	hub      *backend.Hub

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBackend 创建索引并启动变更监听
func NewBackend(ctx context.Context, client *mongo.Client, database string) (*Backend, error) {
	db := client.Database(database)
	b := &Backend{
		client:   client,
		docs:     db.Collection(documentsCollection),
		counters: db.Collection(countersCollection),
		hub:      backend.NewHub(),
		done:     make(chan struct{}),
	}

	_, err := b.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return nil, backend.Unavailable(err, "创建 MongoDB 索引失败")
	}

	stream, err := b.docs.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, backend.Unavailable(err, "启动 MongoDB Change Stream 失败")
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.watch(watchCtx, stream)
	return b, nil
}

func (b *Backend) watch(ctx context.Context, stream *mongo.ChangeStream) {
	defer close(b.done)
	defer stream.Close(context.Background())
	for stream.Next(ctx) {
		var event struct {
			DocumentKey struct {
				ID string `bson:"_id"`
			} `bson:"documentKey"`
		}
		if err := stream.Decode(&event); err != nil {
			zap.L().Warn("decode change event failed", zap.Error(err))
			continue
		}
		if collection, key, ok := splitRecordID(event.DocumentKey.ID); ok {
			b.hub.Notify(collection, key)
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		zap.L().Error("mongo change stream stopped", zap.Error(err))
	}
}

// Get 读取单条记录
func (b *Backend) Get(ctx context.Context, collection, key string) (*backend.Document, error) {
	doc, err := b.find(ctx, collection, key)
	if err != nil {
		return nil, backend.Unavailable(err, "读取 %s 失败", backend.Describe(collection, key))
	}
	return doc, nil
}

// find 返回驱动原始错误，事务内需要保留错误标签以便驱动判断是否重试
func (b *Backend) find(ctx context.Context, collection, key string) (*backend.Document, error) {
	var r record
	err := b.docs.FindOne(ctx, bson.M{"_id": recordID(collection, key)}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.document(), nil
}

// List 按首次写入顺序返回匹配记录
func (b *Backend) List(ctx context.Context, collection string, match backend.Predicate) ([]backend.Document, error) {
	cursor, err := b.docs.Find(ctx, bson.M{"collection": collection}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, backend.Unavailable(err, "读取集合 %s 失败", collection)
	}
	defer cursor.Close(ctx)

	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, backend.Unavailable(err, "解析集合 %s 失败", collection)
	}
	out := make([]backend.Document, 0, len(records))
	for i := range records {
		doc := records[i].document()
		if doc == nil {
			continue
		}
		if match == nil || match(doc) {
			out = append(out, *doc)
		}
	}
	backend.SortBySeq(out)
	return out, nil
}

// UpsertRecord 合并写入字段
func (b *Backend) UpsertRecord(ctx context.Context, collection, key string, patch backend.Fields) error {
	return b.Apply(ctx, backend.Upsert(collection, key, patch))
}

// AtomicIncrement 在事务中读取并写回整数字段
func (b *Backend) AtomicIncrement(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	if err := backend.ValidateKey(collection, key); err != nil {
		return 0, err
	}
	if err := backend.ValidateField(field); err != nil {
		return 0, err
	}
	seq, err := b.reserveSeq(ctx, 1)
	if err != nil {
		return 0, backend.Unavailable(err, "分配写入序号失败")
	}
	var next int64
	err = b.transact(ctx, func(sc mongo.SessionContext) error {
		var err error
		next, err = b.increment(sc, collection, key, field, delta, seq)
		return err
	})
	if err != nil {
		return 0, backend.Unavailable(err, "自增 %s 失败", backend.Describe(collection, key))
	}
	b.hub.Notify(collection, key)
	return next, nil
}

// Apply 在一个多文档事务中执行整批写入
func (b *Backend) Apply(ctx context.Context, mutations ...backend.Mutation) error {
	prepared, err := backend.Prepare(mutations)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	targets := backend.SortedTargets(prepared)
	first, err := b.reserveSeq(ctx, int64(len(targets)))
	if err != nil {
		return backend.Unavailable(err, "分配写入序号失败")
	}
	seqOf := make(map[string]int64, len(targets))
	for i, t := range targets {
		seqOf[backend.LockKey(t[0], t[1])] = first + int64(i)
	}

	err = b.transact(ctx, func(sc mongo.SessionContext) error {
		// 前置条件所在记录在同一批中也被写入，并发修改会触发写冲突使事务体重新执行
		for _, pm := range prepared {
			if pm.Op != backend.OpExpect {
				continue
			}
			current, err := b.find(sc, pm.Collection, pm.Key)
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if current != nil {
				raw = current.Fields[pm.Field]
			}
			if err := backend.CheckExpect(pm, raw); err != nil {
				return err
			}
		}
		for _, pm := range prepared {
			seq := seqOf[backend.LockKey(pm.Collection, pm.Key)]
			switch pm.Op {
			case backend.OpUpsert:
				if err := b.setFields(sc, pm.Collection, pm.Key, pm.Encoded, seq); err != nil {
					return err
				}
			case backend.OpIncrement:
				if _, err := b.increment(sc, pm.Collection, pm.Key, pm.Field, pm.Delta, seq); err != nil {
					return err
				}
			case backend.OpDelete:
				if _, err := b.docs.DeleteOne(sc, bson.M{"_id": recordID(pm.Collection, pm.Key)}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return backend.Unavailable(err, "批量写入 %d 条记录失败", len(targets))
	}
	for _, t := range targets {
		b.hub.Notify(t[0], t[1])
	}
	return nil
}

// RunTransaction 在会话事务中执行读改写，写冲突时整个事务体会被重新执行
func (b *Backend) RunTransaction(ctx context.Context, collection, key string, fn backend.TxFunc) error {
	if err := backend.ValidateKey(collection, key); err != nil {
		return err
	}
	seq, err := b.reserveSeq(ctx, 1)
	if err != nil {
		return backend.Unavailable(err, "分配写入序号失败")
	}
	wrote := false
	err = b.transact(ctx, func(sc mongo.SessionContext) error {
		wrote = false
		current, err := b.find(sc, collection, key)
		if err != nil {
			return err
		}
		patch, err := fn(current)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return nil
		}
		encoded, err := backend.EncodeFields(patch)
		if err != nil {
			return err
		}
		wrote = true
		return b.setFields(sc, collection, key, encoded, seq)
	})
	if err != nil {
		return backend.Unavailable(err, "事务写入 %s 失败", backend.Describe(collection, key))
	}
	if wrote {
		b.hub.Notify(collection, key)
	}
	return nil
}

// Delete 删除记录
func (b *Backend) Delete(ctx context.Context, collection, key string) error {
	return b.Apply(ctx, backend.Remove(collection, key))
}

// SubscribeQuery 订阅集合
func (b *Backend) SubscribeQuery(collection string, match backend.Predicate, cb func([]backend.Document)) backend.Unsubscribe {
	return backend.SubscribeQuery(b.hub, b, collection, match, cb)
}

// SubscribeDocument 订阅单条记录
func (b *Backend) SubscribeDocument(collection, key string, cb func(*backend.Document)) backend.Unsubscribe {
	return backend.SubscribeDocument(b.hub, b, collection, key, cb)
}

// Close 停止变更监听并断开连接
func (b *Backend) Close() error {
	b.hub.Close()
	b.cancel()
	<-b.done
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}

func (b *Backend) transact(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := b.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// reserveSeq 在事务外预留 n 个连续序号并返回第一个，避免所有写入争用同一计数文档
func (b *Backend) reserveSeq(ctx context.Context, n int64) (int64, error) {
	var counter struct {
		N int64 `bson:"n"`
	}
	err := b.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": seqCounterID},
		bson.M{"$inc": bson.M{"n": n}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.N - n + 1, nil
}

// setFields seq 只在记录首次创建时写入
func (b *Backend) setFields(sc mongo.SessionContext, collection, key string, encoded map[string]json.RawMessage, seq int64) error {
	if len(encoded) == 0 {
		return nil
	}
	set := bson.M{}
	for name, raw := range encoded {
		set["fields."+escapeField(name)] = string(raw)
	}
	_, err := b.docs.UpdateOne(sc,
		bson.M{"_id": recordID(collection, key)},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"collection": collection, "key": key, "seq": seq},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (b *Backend) increment(sc mongo.SessionContext, collection, key, field string, delta, seq int64) (int64, error) {
	current, err := b.find(sc, collection, key)
	if err != nil {
		return 0, err
	}
	var raw json.RawMessage
	if current != nil {
		raw = current.Fields[field]
	}
	cur, err := backend.DecodeInt(raw)
	if err != nil {
		return 0, errorx.Wrapf(err, errorx.CodeInvalidParam, "%s 的字段 %s 不是整数", backend.Describe(collection, key), field)
	}
	next := cur + delta
	encoded, _ := json.Marshal(next)
	if err := b.setFields(sc, collection, key, map[string]json.RawMessage{field: encoded}, seq); err != nil {
		return 0, err
	}
	return next, nil
}

var _ backend.SyncBackend = (*Backend)(nil)
