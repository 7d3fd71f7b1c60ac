package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/pkg/errorx"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errNoop 事务体无需写入时用于回滚占位记录
var errNoop = errors.New("noop")

// Backend 关系型同步存储
// 每次写入在数据库事务中按固定顺序对记录头加 SELECT ... FOR UPDATE 行锁，变更通知在本进程内广播
type Backend struct {
	db  *gorm.DB
	hub *backend.Hub
}

// NewBackend 基于已迁移的连接创建存储
func NewBackend(db *gorm.DB) *Backend {
	return &Backend{db: db, hub: backend.NewHub()}
}

// Get 读取单条记录
func (b *Backend) Get(ctx context.Context, collection, key string) (*backend.Document, error) {
	var doc syncDocument
	err := b.db.WithContext(ctx).
		Where("collection = ? AND doc_key = ?", collection, key).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErrorf(err, "读取 %s", backend.Describe(collection, key))
	}

	var fields []syncField
	if err := b.db.WithContext(ctx).Where("doc_id = ?", doc.ID).Find(&fields).Error; err != nil {
		return nil, wrapDBErrorf(err, "读取 %s 字段", backend.Describe(collection, key))
	}
	docs := assemble(collection, []syncDocument{doc}, fields)
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// List 按首次写入顺序返回匹配记录
func (b *Backend) List(ctx context.Context, collection string, match backend.Predicate) ([]backend.Document, error) {
	var docs []syncDocument
	if err := b.db.WithContext(ctx).Where("collection = ?", collection).Order("id").Find(&docs).Error; err != nil {
		return nil, wrapDBErrorf(err, "读取集合 %s", collection)
	}
	if len(docs) == 0 {
		return []backend.Document{}, nil
	}
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	var fields []syncField
	if err := b.db.WithContext(ctx).Where("doc_id IN ?", ids).Find(&fields).Error; err != nil {
		return nil, wrapDBErrorf(err, "读取集合 %s 字段", collection)
	}

	all := assemble(collection, docs, fields)
	if match == nil {
		return all, nil
	}
	out := all[:0]
	for i := range all {
		if match(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// UpsertRecord 合并写入字段
func (b *Backend) UpsertRecord(ctx context.Context, collection, key string, patch backend.Fields) error {
	return b.Apply(ctx, backend.Upsert(collection, key, patch))
}

// AtomicIncrement 在行锁内读取并写回整数字段
func (b *Backend) AtomicIncrement(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	if err := backend.ValidateKey(collection, key); err != nil {
		return 0, err
	}
	if err := backend.ValidateField(field); err != nil {
		return 0, err
	}
	var next int64
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := lockDocument(tx, collection, key)
		if err != nil {
			return err
		}
		next, err = increment(tx, id, collection, key, field, delta)
		return err
	})
	if err != nil {
		return 0, wrapDBErrorf(err, "自增 %s", backend.Describe(collection, key))
	}
	b.hub.Notify(collection, key)
	return next, nil
}

// Apply 在单个数据库事务中执行整批写入
func (b *Backend) Apply(ctx context.Context, mutations ...backend.Mutation) error {
	prepared, err := backend.Prepare(mutations)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	targets := backend.SortedTargets(prepared)

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先按固定顺序加锁，避免与其他批量写入形成死锁
		ids := make(map[string]int64, len(targets))
		for _, t := range targets {
			id, err := lockDocument(tx, t[0], t[1])
			if err != nil {
				return err
			}
			ids[backend.LockKey(t[0], t[1])] = id
		}
		// 前置条件在任何写入之前校验
		for _, pm := range prepared {
			if pm.Op != backend.OpExpect {
				continue
			}
			raw, err := readField(tx, ids[backend.LockKey(pm.Collection, pm.Key)], pm.Field)
			if err != nil {
				return err
			}
			if err := backend.CheckExpect(pm, raw); err != nil {
				return err
			}
		}
		for _, pm := range prepared {
			id := ids[backend.LockKey(pm.Collection, pm.Key)]
			switch pm.Op {
			case backend.OpUpsert:
				if err := upsertFields(tx, id, pm.Encoded); err != nil {
					return err
				}
			case backend.OpIncrement:
				if _, err := increment(tx, id, pm.Collection, pm.Key, pm.Field, pm.Delta); err != nil {
					return err
				}
			case backend.OpDelete:
				if err := tx.Where("doc_id = ?", id).Delete(&syncField{}).Error; err != nil {
					return err
				}
				if err := tx.Delete(&syncDocument{}, id).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return wrapDBErrorf(err, "批量写入 %d 条记录", len(targets))
	}
	for _, t := range targets {
		b.hub.Notify(t[0], t[1])
	}
	return nil
}

// RunTransaction 在行锁内执行读改写
func (b *Backend) RunTransaction(ctx context.Context, collection, key string, fn backend.TxFunc) error {
	if err := backend.ValidateKey(collection, key); err != nil {
		return err
	}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := lockDocument(tx, collection, key)
		if err != nil {
			return err
		}
		var fields []syncField
		if err := tx.Where("doc_id = ?", id).Find(&fields).Error; err != nil {
			return err
		}
		var current *backend.Document
		if docs := assemble(collection, []syncDocument{{ID: id, DocKey: key}}, fields); len(docs) == 1 {
			current = &docs[0]
		}

		patch, err := fn(current)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return errNoop
		}
		encoded, err := backend.EncodeFields(patch)
		if err != nil {
			return err
		}
		return upsertFields(tx, id, encoded)
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return wrapDBErrorf(err, "事务写入 %s", backend.Describe(collection, key))
	}
	b.hub.Notify(collection, key)
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

// Close 停止订阅并关闭连接池
func (b *Backend) Close() error {
	b.hub.Close()
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// lockDocument 确保记录头存在并加行锁，返回记录 ID
func lockDocument(tx *gorm.DB, collection, key string) (int64, error) {
	head := syncDocument{Collection: collection, DocKey: key}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&head).Error; err != nil {
		return 0, err
	}
	var doc syncDocument
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection = ? AND doc_key = ?", collection, key).
		First(&doc).Error
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func upsertFields(tx *gorm.DB, docID int64, encoded map[string]json.RawMessage) error {
	if len(encoded) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_id"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(fieldRows(docID, encoded)).Error
}

// readField 读取单个字段的原始值，不存在时为空，调用方需已持有记录行锁
func readField(tx *gorm.DB, docID int64, field string) (json.RawMessage, error) {
	var row syncField
	if err := tx.Where("doc_id = ? AND field = ?", docID, field).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	return json.RawMessage(row.Value), nil
}

// increment 调用方需已持有记录行锁
func increment(tx *gorm.DB, docID int64, collection, key, field string, delta int64) (int64, error) {
	raw, err := readField(tx, docID, field)
	if err != nil {
		return 0, err
	}
	cur, err := backend.DecodeInt(raw)
	if err != nil {
		return 0, errorx.Wrapf(err, errorx.CodeInvalidParam, "%s 的字段 %s 不是整数", backend.Describe(collection, key), field)
	}
	next := cur + delta
	value := strconv.FormatInt(next, 10)
	if err := upsertFields(tx, docID, map[string]json.RawMessage{field: json.RawMessage(value)}); err != nil {
		return 0, err
	}
	return next, nil
}

var _ backend.SyncBackend = (*Backend)(nil)
