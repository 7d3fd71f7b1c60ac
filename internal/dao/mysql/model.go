package mysql

import (
	"encoding/json"
	"errors"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/pkg/errorx"

	"gorm.io/gorm"
)

// syncDocument 记录头，自增主键即首次写入序号
type syncDocument struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Collection string    `gorm:"type:varchar(191);not null;uniqueIndex:idx_collection_key,priority:1"`
	DocKey     string    `gorm:"column:doc_key;type:varchar(191);not null;uniqueIndex:idx_collection_key,priority:2"`
	CreatedAt  time.Time
}

func (syncDocument) TableName() string { return "sync_documents" }

// syncField 逐字段存储，值为 JSON 文本
type syncField struct {
	DocID int64  `gorm:"column:doc_id;primaryKey;autoIncrement:false"`
	Field string `gorm:"type:varchar(191);primaryKey"`
	Value string `gorm:"type:text;not null"`
}

func (syncField) TableName() string { return "sync_fields" }

// assemble 将记录头与字段行组装为 Document，没有任何字段的记录视为不存在
func assemble(collection string, docs []syncDocument, fields []syncField) []backend.Document {
	byID := make(map[int64]map[string]json.RawMessage, len(docs))
	for _, f := range fields {
		m, ok := byID[f.DocID]
		if !ok {
			m = make(map[string]json.RawMessage)
			byID[f.DocID] = m
		}
		m[f.Field] = json.RawMessage(f.Value)
	}
	out := make([]backend.Document, 0, len(docs))
	for _, d := range docs {
		m := byID[d.ID]
		if len(m) == 0 {
			continue
		}
		out = append(out, backend.Document{Collection: collection, Key: d.DocKey, Seq: d.ID, Fields: m})
	}
	backend.SortBySeq(out)
	return out
}

// fieldRows 将编码后的 patch 转为字段行
func fieldRows(docID int64, encoded map[string]json.RawMessage) []syncField {
	rows := make([]syncField, 0, len(encoded))
	for name, raw := range encoded {
		rows = append(rows, syncField{DocID: docID, Field: name, Value: string(raw)})
	}
	return rows
}

// wrapDBError 包装数据库错误
//   - ErrRecordNotFound -> CodeNotFound
//   - 其他错误 -> CodeBackendUnavailable
func wrapDBError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorx.Wrap(err, errorx.CodeNotFound, msg)
	}
	return backend.Unavailable(err, "%s", msg)
}

// wrapDBErrorf 功能同 wrapDBError，支持格式化消息
func wrapDBErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorx.Wrapf(err, errorx.CodeNotFound, format, args...)
	}
	return backend.Unavailable(err, format, args...)
}
