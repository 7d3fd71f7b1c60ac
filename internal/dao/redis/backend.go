package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/pkg/errorx"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis 键布局：
//
//	doc:<collection>:<key>  Hash，字段名 -> JSON 编码的字段值
//	idx:<collection>        ZSet，成员为主键，分数为首次写入序号
//	sync:seq                全局写入序号
//	sync:<collection>       Pub/Sub 频道，消息体为发生变化的主键
const (
	docPrefix     = "doc:"
	indexPrefix   = "idx:"
	seqKey        = "sync:seq"
	channelPrefix = "sync:"
)

func docKey(collection, key string) string { return docPrefix + collection + ":" + key }
func indexKey(collection string) string    { return indexPrefix + collection }
func channel(collection string) string     { return channelPrefix + collection }

// Backend Redis 同步存储
// 批量写入走 MULTI/EXEC，读改写事务走 WATCH 乐观锁，变更通过 Pub/Sub 广播到所有节点
type Backend struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	hub     *backend.Hub
	retries int
	done    chan struct{}
}

// NewBackend 创建 Redis 存储并订阅变更频道，retries 为乐观事务冲突重试次数
func NewBackend(ctx context.Context, client *redis.Client, retries int) (*Backend, error) {
	if retries <= 0 {
		retries = 1
	}
	ps := client.PSubscribe(ctx, channelPrefix+"*")
	// 等待订阅确认，避免丢失订阅建立之前的变更
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, backend.Unavailable(err, "订阅 Redis 变更频道失败")
	}
	b := &Backend{
		client:  client,
		pubsub:  ps,
		hub:     backend.NewHub(),
		retries: retries,
		done:    make(chan struct{}),
	}
	go b.receive()
	return b, nil
}

func (b *Backend) receive() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		collection := strings.TrimPrefix(msg.Channel, channelPrefix)
		b.hub.Notify(collection, msg.Payload)
	}
}

// Get 读取单条记录
func (b *Backend) Get(ctx context.Context, collection, key string) (*Document, error) {
	return b.get(ctx, b.client, collection, key)
}

// Document 与 backend.Document 相同，便于包内书写
type Document = backend.Document

// pipeliner *redis.Client 与 WATCH 中的 *redis.Tx 共有的读接口
type pipeliner interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

func (b *Backend) get(ctx context.Context, c pipeliner, collection, key string) (*Document, error) {
	var (
		hashCmd  *redis.MapStringStringCmd
		scoreCmd *redis.FloatCmd
	)
	_, err := c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		hashCmd = pipe.HGetAll(ctx, docKey(collection, key))
		scoreCmd = pipe.ZScore(ctx, indexKey(collection), key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, backend.Unavailable(err, "读取 %s 失败", backend.Describe(collection, key))
	}
	return toDocument(collection, key, hashCmd.Val(), scoreCmd.Val()), nil
}

func toDocument(collection, key string, hash map[string]string, score float64) *Document {
	if len(hash) == 0 {
		return nil
	}
	fields := make(map[string]json.RawMessage, len(hash))
	for name, v := range hash {
		fields[name] = json.RawMessage(v)
	}
	return &Document{Collection: collection, Key: key, Seq: int64(score), Fields: fields}
}

// List 按首次写入顺序返回匹配记录
func (b *Backend) List(ctx context.Context, collection string, match backend.Predicate) ([]Document, error) {
	members, err := b.client.ZRangeWithScores(ctx, indexKey(collection), 0, -1).Result()
	if err != nil {
		return nil, backend.Unavailable(err, "读取集合 %s 索引失败", collection)
	}
	if len(members) == 0 {
		return []Document{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, docKey(collection, m.Member.(string)))
		}
		return nil
	})
	if err != nil {
		return nil, backend.Unavailable(err, "读取集合 %s 失败", collection)
	}

	out := make([]Document, 0, len(members))
	for i, m := range members {
		doc := toDocument(collection, m.Member.(string), cmds[i].Val(), m.Score)
		// 索引与记录之间存在删除竞争时跳过
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

// AtomicIncrement 使用 HINCRBY 原子自增
func (b *Backend) AtomicIncrement(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	if err := backend.ValidateKey(collection, key); err != nil {
		return 0, err
	}
	if err := backend.ValidateField(field); err != nil {
		return 0, err
	}
	seq, err := b.reserveSeq(ctx, 1)
	if err != nil {
		return 0, err
	}
	var incr *redis.IntCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, docKey(collection, key), field, delta)
		pipe.ZAddNX(ctx, indexKey(collection), redis.Z{Score: float64(seq), Member: key})
		pipe.Publish(ctx, channel(collection), key)
		return nil
	})
	if err != nil {
		if isNotInteger(err) {
			return 0, errorx.Wrapf(err, errorx.CodeInvalidParam, "%s 的字段 %s 不是整数", backend.Describe(collection, key), field)
		}
		return 0, backend.Unavailable(err, "自增 %s 失败", backend.Describe(collection, key))
	}
	return incr.Val(), nil
}

// Apply 在一个 MULTI/EXEC 中执行整批写入
// 自增与前置条件涉及的记录先 WATCH 再校验，EXEC 之前被其他写入修改时整批重试
// EXEC 不会回滚单条命令的失败，非整数自增字段在校验阶段拒绝
func (b *Backend) Apply(ctx context.Context, mutations ...backend.Mutation) error {
	prepared, err := backend.Prepare(mutations)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	targets := backend.SortedTargets(prepared)
	watched := watchedKeys(prepared)

	for attempt := 0; attempt < b.retries; attempt++ {
		first, err := b.reserveSeq(ctx, int64(len(targets)))
		if err != nil {
			return err
		}
		err = b.client.Watch(ctx, func(tx *redis.Tx) error {
			if err := checkPreconditions(ctx, tx, prepared); err != nil {
				return err
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				queueWrites(ctx, pipe, prepared, targets, first)
				return nil
			})
			return err
		}, watched...)

		if !errors.Is(err, redis.TxFailedErr) {
			if isNotInteger(err) {
				return errorx.Wrap(err, errorx.CodeInvalidParam, "自增字段不是整数")
			}
			return backend.Unavailable(err, "批量写入 %d 条记录失败", len(targets))
		}
		zap.L().Debug("redis apply conflict, retrying", zap.Int("targets", len(targets)), zap.Int("attempt", attempt+1))
		if err := backoff(ctx); err != nil {
			return err
		}
	}
	return errorx.Newf(errorx.CodeBackendUnavailable, "批量写入 %d 条记录冲突次数过多", len(targets))
}

// watchedKeys 自增与前置条件所在记录的 Hash 键
func watchedKeys(prepared []backend.EncodedMutation) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, pm := range prepared {
		if pm.Op != backend.OpIncrement && pm.Op != backend.OpExpect {
			continue
		}
		dk := docKey(pm.Collection, pm.Key)
		if _, ok := seen[dk]; ok {
			continue
		}
		seen[dk] = struct{}{}
		keys = append(keys, dk)
	}
	return keys
}

// checkPreconditions 在 WATCH 之后读取字段当前值并校验
func checkPreconditions(ctx context.Context, tx *redis.Tx, prepared []backend.EncodedMutation) error {
	for _, pm := range prepared {
		if pm.Op != backend.OpIncrement && pm.Op != backend.OpExpect {
			continue
		}
		raw, err := tx.HGet(ctx, docKey(pm.Collection, pm.Key), pm.Field).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return backend.Unavailable(err, "读取 %s 失败", backend.Describe(pm.Collection, pm.Key))
		}
		if pm.Op == backend.OpIncrement {
			err = backend.CheckIncrement(pm, json.RawMessage(raw))
		} else {
			err = backend.CheckExpect(pm, json.RawMessage(raw))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// queueWrites 把整批写入与变更广播放入同一个 MULTI
func queueWrites(ctx context.Context, pipe redis.Pipeliner, prepared []backend.EncodedMutation, targets [][2]string, first int64) {
	seqOf := make(map[string]int64, len(targets))
	for i, t := range targets {
		seqOf[backend.LockKey(t[0], t[1])] = first + int64(i)
	}
	for _, pm := range prepared {
		dk := docKey(pm.Collection, pm.Key)
		z := redis.Z{Score: float64(seqOf[backend.LockKey(pm.Collection, pm.Key)]), Member: pm.Key}
		switch pm.Op {
		case backend.OpUpsert:
			if len(pm.Encoded) == 0 {
				continue
			}
			pipe.HSet(ctx, dk, hashValues(pm.Encoded))
			pipe.ZAddNX(ctx, indexKey(pm.Collection), z)
		case backend.OpIncrement:
			pipe.HIncrBy(ctx, dk, pm.Field, pm.Delta)
			pipe.ZAddNX(ctx, indexKey(pm.Collection), z)
		case backend.OpDelete:
			pipe.Del(ctx, dk)
			pipe.ZRem(ctx, indexKey(pm.Collection), pm.Key)
		}
	}
	for _, t := range targets {
		pipe.Publish(ctx, channel(t[0]), t[1])
	}
}

// RunTransaction WATCH 记录后执行读改写，冲突时随机退避重试
func (b *Backend) RunTransaction(ctx context.Context, collection, key string, fn backend.TxFunc) error {
	if err := backend.ValidateKey(collection, key); err != nil {
		return err
	}
	dk := docKey(collection, key)

	for attempt := 0; attempt < b.retries; attempt++ {
		seq, err := b.reserveSeq(ctx, 1)
		if err != nil {
			return err
		}
		err = b.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := b.get(ctx, tx, collection, key)
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
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, dk, hashValues(encoded))
				pipe.ZAddNX(ctx, indexKey(collection), redis.Z{Score: float64(seq), Member: key})
				pipe.Publish(ctx, channel(collection), key)
				return nil
			})
			return err
		}, dk)

		if !errors.Is(err, redis.TxFailedErr) {
			return backend.Unavailable(err, "事务写入 %s 失败", backend.Describe(collection, key))
		}
		zap.L().Debug("redis transaction conflict, retrying",
			zap.String("doc", backend.Describe(collection, key)),
			zap.Int("attempt", attempt+1))
		if err := backoff(ctx); err != nil {
			return err
		}
	}
	return errorx.Newf(errorx.CodeBackendUnavailable, "事务写入 %s 冲突次数过多", backend.Describe(collection, key))
}

// backoff 乐观事务冲突后随机等待 1-5ms
func backoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return backend.Unavailable(ctx.Err(), "事务已取消")
	case <-time.After(time.Duration(1+rand.Intn(5)) * time.Millisecond):
		return nil
	}
}

// Delete 删除记录
func (b *Backend) Delete(ctx context.Context, collection, key string) error {
	return b.Apply(ctx, backend.Remove(collection, key))
}

// SubscribeQuery 订阅集合
func (b *Backend) SubscribeQuery(collection string, match backend.Predicate, cb func([]Document)) backend.Unsubscribe {
	return backend.SubscribeQuery(b.hub, b, collection, match, cb)
}

// SubscribeDocument 订阅单条记录
func (b *Backend) SubscribeDocument(collection, key string, cb func(*Document)) backend.Unsubscribe {
	return backend.SubscribeDocument(b.hub, b, collection, key, cb)
}

// Close 关闭订阅与客户端
func (b *Backend) Close() error {
	b.hub.Close()
	err := b.pubsub.Close()
	<-b.done
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// reserveSeq 预留 n 个连续序号，返回第一个
func (b *Backend) reserveSeq(ctx context.Context, n int64) (int64, error) {
	last, err := b.client.IncrBy(ctx, seqKey, n).Result()
	if err != nil {
		return 0, backend.Unavailable(err, "分配写入序号失败")
	}
	return last - n + 1, nil
}

func hashValues(encoded map[string]json.RawMessage) map[string]any {
	values := make(map[string]any, len(encoded))
	for name, raw := range encoded {
		values[name] = string(raw)
	}
	return values
}

func isNotInteger(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not an integer")
}

var _ backend.SyncBackend = (*Backend)(nil)
