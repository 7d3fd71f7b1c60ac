// Package presence 维护用户最近活跃时间并推导在线状态
package presence

import (
	"context"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
)

// Status 由最近活跃时间推导的在线状态
type Status string

const (
	Online  Status = "ONLINE"
	Away    Status = "AWAY"
	Offline Status = "OFFLINE"
)

// Classify 距 now 不足 15 分钟为在线，不足 60 分钟为离开，其余为离线
func Classify(lastActive, now time.Time) Status {
	gap := now.Sub(lastActive)
	switch {
	case gap < constants.ONLINE_WINDOW:
		return Online
	case gap < constants.AWAY_WINDOW:
		return Away
	default:
		return Offline
	}
}

// Tracker 由调用方驱动的心跳，不做服务端会话计时
type Tracker struct {
	store backend.SyncBackend
	now   func() time.Time
}

// NewTracker now 为 nil 时使用 time.Now
func NewTracker(store backend.SyncBackend, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Touch 将 lastActive 设为当前时间，只更新该字段
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return errorx.New(errorx.CodeInvalidParam, "用户 ID 不能为空")
	}
	nowMs := t.now().UnixMilli()
	return t.store.RunTransaction(ctx, constants.COLLECTION_USERS, userID, func(cur *backend.Document) (backend.Fields, error) {
		if cur == nil {
			return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", userID)
		}
		// 时钟回拨时保留更晚的时间
		if cur.Int(model.UserFieldLastActive) >= nowMs {
			return nil, nil
		}
		return backend.Fields{model.UserFieldLastActive: nowMs}, nil
	})
}

// StatusOf 读取用户当前的在线状态
func (t *Tracker) StatusOf(ctx context.Context, userID string) (Status, error) {
	doc, err := t.store.Get(ctx, constants.COLLECTION_USERS, userID)
	if err != nil {
		return Offline, err
	}
	if doc == nil {
		return Offline, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", userID)
	}
	return Classify(time.UnixMilli(doc.Int(model.UserFieldLastActive)), t.now()), nil
}
