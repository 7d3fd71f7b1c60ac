// Package backend 定义所有 Store 读写共享记录所依赖的同步存储接口
// 实现方需保证：字段级合并写入、单字段原子自增、单键读改写事务、变更订阅
// 内存实现（本包）、Redis、MySQL/PostgreSQL、MongoDB 实现可互换，上层不感知具体实现
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"fresh_chat_server/pkg/errorx"
)

// Fields 定向字段更新，值会被编码为 JSON
// 字段名中的 "." 表示嵌套，如 "unread.U123"
type Fields map[string]any

// Predicate 查询过滤条件，为 nil 时匹配整个集合
type Predicate func(doc *Document) bool

// TxFunc 读改写事务体
// current 为 nil 表示记录不存在；返回空 patch 表示无需写入
// 返回的错误会原样传递给 RunTransaction 的调用方
type TxFunc func(current *Document) (Fields, error)

// Unsubscribe 取消订阅，可重复调用
type Unsubscribe func()

// SyncBackend 同步存储接口
type SyncBackend interface {
	// Get 读取单条记录，不存在时返回 (nil, nil)
	Get(ctx context.Context, collection, key string) (*Document, error)
	// List 按写入顺序返回集合中满足条件的记录
	List(ctx context.Context, collection string, match Predicate) ([]Document, error)
	// UpsertRecord 合并写入字段，记录不存在则创建，未出现的字段保持不变
	UpsertRecord(ctx context.Context, collection, key string, patch Fields) error
	// AtomicIncrement 原子地为整数字段加 delta，返回新值
	AtomicIncrement(ctx context.Context, collection, key, field string, delta int64) (int64, error)
	// Apply 原子地执行一批写入，读者不会观察到其中一部分生效
	Apply(ctx context.Context, mutations ...Mutation) error
	// RunTransaction 对单条记录执行读改写，并发写入不会丢失
	RunTransaction(ctx context.Context, collection, key string, fn TxFunc) error
	// Delete 删除整条记录
	Delete(ctx context.Context, collection, key string) error
	// SubscribeQuery 订阅集合查询，立即推送一次当前快照，之后每次匹配记录变化时推送
	SubscribeQuery(collection string, match Predicate, cb func([]Document)) Unsubscribe
	// SubscribeDocument 订阅单条记录，记录不存在时回调参数为 nil
	SubscribeDocument(collection, key string, cb func(*Document)) Unsubscribe
	// Close 释放连接并停止所有订阅
	Close() error
}

// MutationOp 批量写入的操作类型
type MutationOp int

const (
	OpUpsert MutationOp = iota
	OpIncrement
	OpDelete
	OpExpect
)

// Mutation Apply 中的一项写入
type Mutation struct {
	Op         MutationOp
	Collection string
	Key        string
	Patch      Fields // OpUpsert
	Field      string // OpIncrement / OpExpect
	Delta      int64  // OpIncrement
	Want       int64  // OpExpect
}

// Upsert 构造合并写入
func Upsert(collection, key string, patch Fields) Mutation {
	return Mutation{Op: OpUpsert, Collection: collection, Key: key, Patch: patch}
}

// Increment 构造原子自增
func Increment(collection, key, field string, delta int64) Mutation {
	return Mutation{Op: OpIncrement, Collection: collection, Key: key, Field: field, Delta: delta}
}

// Expect 构造前置条件：整数字段（缺省为 0）等于 want 时整批才生效，否则整批放弃并返回 CodeConflict
// 前置条件不写入数据，应与同一记录上的写入放在同一批中
func Expect(collection, key, field string, want int64) Mutation {
	return Mutation{Op: OpExpect, Collection: collection, Key: key, Field: field, Want: want}
}

// Remove 构造删除
func Remove(collection, key string) Mutation {
	return Mutation{Op: OpDelete, Collection: collection, Key: key}
}

// EncodedMutation 字段值已编码的写入，供各实现使用
type EncodedMutation struct {
	Mutation
	Encoded map[string]json.RawMessage
}

// Prepare 校验并编码一批写入，任何一项非法则整体拒绝，保证不会产生部分写入
func Prepare(mutations []Mutation) ([]EncodedMutation, error) {
	out := make([]EncodedMutation, 0, len(mutations))
	for _, m := range mutations {
		if err := ValidateKey(m.Collection, m.Key); err != nil {
			return nil, err
		}
		em := EncodedMutation{Mutation: m}
		switch m.Op {
		case OpUpsert:
			enc, err := EncodeFields(m.Patch)
			if err != nil {
				return nil, err
			}
			em.Encoded = enc
		case OpIncrement, OpExpect:
			if err := ValidateField(m.Field); err != nil {
				return nil, err
			}
		case OpDelete:
		default:
			return nil, errorx.Newf(errorx.CodeInvalidParam, "未知的写入类型 %d", m.Op)
		}
		out = append(out, em)
	}
	return out, nil
}

// ValidateKey 校验集合名与主键
func ValidateKey(collection, key string) error {
	if collection == "" || key == "" {
		return errorx.New(errorx.CodeInvalidParam, "集合名与主键不能为空")
	}
	return nil
}

// ValidateField 校验字段名
func ValidateField(field string) error {
	if field == "" || strings.HasPrefix(field, ".") || strings.HasSuffix(field, ".") || strings.Contains(field, "..") {
		return errorx.Newf(errorx.CodeInvalidParam, "非法字段名 %q", field)
	}
	return nil
}

// EncodeFields 将 patch 编码为逐字段的 JSON
func EncodeFields(patch Fields) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(patch))
	for name, v := range patch {
		if err := ValidateField(name); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errorx.Wrapf(err, errorx.CodeInvalidParam, "字段 %s 无法编码", name)
		}
		out[name] = raw
	}
	return out, nil
}

// DecodeInt 将字段值解析为整数，缺省视为 0
func DecodeInt(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errorx.Wrap(err, errorx.CodeInvalidParam, "字段不是整数")
	}
	return n, nil
}

// CheckIncrement 自增前校验字段当前值为整数
func CheckIncrement(m EncodedMutation, raw json.RawMessage) error {
	if _, err := DecodeInt(raw); err != nil {
		return errorx.Wrapf(err, errorx.CodeInvalidParam, "%s 的字段 %s 不是整数", Describe(m.Collection, m.Key), m.Field)
	}
	return nil
}

// CheckExpect 校验前置条件，raw 为字段当前值
func CheckExpect(m EncodedMutation, raw json.RawMessage) error {
	cur, err := DecodeInt(raw)
	if err != nil {
		return errorx.Wrapf(err, errorx.CodeInvalidParam, "%s 的字段 %s 不是整数", Describe(m.Collection, m.Key), m.Field)
	}
	if cur != m.Want {
		return errorx.Newf(errorx.CodeConflict, "%s 的字段 %s 已被修改，当前 %d，期望 %d", Describe(m.Collection, m.Key), m.Field, cur, m.Want)
	}
	return nil
}

// LockKey 用于按键加锁 / 去重的复合键
func LockKey(collection, key string) string {
	return collection + "\x00" + key
}

// SortedTargets 返回一批写入涉及的不重复记录，按固定顺序排列，用于稳定的加锁顺序
func SortedTargets(mutations []EncodedMutation) [][2]string {
	seen := make(map[string]struct{}, len(mutations))
	out := make([][2]string, 0, len(mutations))
	for _, m := range mutations {
		lk := LockKey(m.Collection, m.Key)
		if _, ok := seen[lk]; ok {
			continue
		}
		seen[lk] = struct{}{}
		out = append(out, [2]string{m.Collection, m.Key})
	}
	sort.Slice(out, func(i, j int) bool {
		return LockKey(out[i][0], out[i][1]) < LockKey(out[j][0], out[j][1])
	})
	return out
}

// Unavailable 将存储层 I/O 错误包装为 BackendUnavailableError
func Unavailable(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	// 已带业务码的错误（如事务体返回的状态错误）原样返回
	var codeErr *errorx.CodeError
	if errors.As(err, &codeErr) {
		return err
	}
	return errorx.Wrapf(err, errorx.CodeBackendUnavailable, format, args...)
}

// SortBySeq 按写入顺序排序
func SortBySeq(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Seq != docs[j].Seq {
			return docs[i].Seq < docs[j].Seq
		}
		return docs[i].Key < docs[j].Key
	})
}

// ErrClosed 存储已关闭
var ErrClosed = errorx.New(errorx.CodeBackendUnavailable, "同步存储已关闭")

// Describe 用于日志与错误消息的记录标识
func Describe(collection, key string) string {
	return fmt.Sprintf("%s/%s", collection, key)
}
