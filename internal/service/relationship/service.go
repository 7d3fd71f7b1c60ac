// Package relationship 维护以无序用户对为键的好友关系状态机
// NONE -> PENDING（申请） -> FRIEND（由非发起方接受），不存在反向迁移
package relationship

import (
	"context"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/infrastructure/mq"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/gamification"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"

	"go.uber.org/zap"
)

// XPAwarder 经验发放，由 gamification.Engine 实现
type XPAwarder interface {
	AwardXP(ctx context.Context, userID string, amount int64) (*gamification.Award, error)
}

// Option 可选配置
type Option func(*relationshipService)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *relationshipService) { s.now = now }
}

// WithLocation 连续天数按该时区的自然日计算
func WithLocation(loc *time.Location) Option {
	return func(s *relationshipService) { s.loc = loc }
}

type relationshipService struct {
	store    backend.SyncBackend
	xp       XPAwarder
	notifier mq.Dispatcher
	now      func() time.Time
	loc      *time.Location
}

// NewRelationshipService 构造函数
func NewRelationshipService(store backend.SyncBackend, xp XPAwarder, notifier mq.Dispatcher, opts ...Option) *relationshipService {
	s := &relationshipService{
		store:    store,
		xp:       xp,
		notifier: notifier,
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = mq.Discard{}
	}
	return s
}

func checkPair(a, b string) error {
	if a == "" || b == "" {
		return errorx.New(errorx.CodeInvalidParam, "用户 ID 不能为空")
	}
	if a == b {
		return errorx.New(errorx.CodeInvalidParam, "不能对自己执行好友操作")
	}
	return nil
}

// RequestFriend from 向 to 发起好友申请
// 已是好友或已有待处理申请时返回 InvalidState，不会覆盖原发起方
func (s *relationshipService) RequestFriend(ctx context.Context, from, to string) (*model.Relationship, error) {
	if err := checkPair(from, to); err != nil {
		return nil, err
	}
	target, err := s.store.Get(ctx, constants.COLLECTION_USERS, to)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", to)
	}
	if contains(target.Strings(model.UserFieldBlocked), from) {
		return nil, errorx.New(errorx.CodeInvalidState, "对方暂不接受你的好友申请")
	}

	key := model.PairKey(from, to)
	nowMs := s.now().UnixMilli()
	var rel model.Relationship
	err = s.store.RunTransaction(ctx, constants.COLLECTION_RELATIONSHIPS, key, func(cur *backend.Document) (backend.Fields, error) {
		rel = model.Relationship{}
		if cur != nil {
			existing, err := decode(cur)
			if err != nil {
				return nil, err
			}
			switch existing.Status {
			case model.StatusFriend:
				return nil, errorx.New(errorx.CodeInvalidState, "你们已经是好友")
			case model.StatusPending:
				return nil, errorx.New(errorx.CodeInvalidState, "已有待处理的好友申请")
			}
			rel = existing
		}
		a, b, _ := model.ParsePairKey(key)
		rel.Key = key
		rel.Users = []string{a, b}
		rel.Status = model.StatusPending
		rel.InitiatedBy = from
		rel.UpdatedAt = nowMs
		return backend.Fields{
			model.RelFieldUsers:       rel.Users,
			model.RelFieldStatus:      rel.Status,
			model.RelFieldInitiatedBy: from,
			model.RelFieldStreak:      rel.Streak,
			model.RelFieldUpdatedAt:   nowMs,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.Notification{
		Type:      model.NotifyFriendRequest,
		TargetID:  to,
		SourceID:  from,
		CreatedAt: nowMs,
	})
	return &rel, nil
}

// AcceptFriend me 接受 other 发来的申请
// 已是好友时直接返回当前记录，经验只在 PENDING -> FRIEND 迁移时发放一次
func (s *relationshipService) AcceptFriend(ctx context.Context, me, other string) (*model.Relationship, error) {
	if err := checkPair(me, other); err != nil {
		return nil, err
	}
	key := model.PairKey(me, other)
	nowMs := s.now().UnixMilli()

	var (
		rel          model.Relationship
		transitioned bool
	)
	err := s.store.RunTransaction(ctx, constants.COLLECTION_RELATIONSHIPS, key, func(cur *backend.Document) (backend.Fields, error) {
		transitioned = false
		if cur == nil {
			return nil, errorx.New(errorx.CodeInvalidState, "没有待处理的好友申请")
		}
		existing, err := decode(cur)
		if err != nil {
			return nil, err
		}
		rel = existing
		switch existing.Status {
		case model.StatusFriend:
			return nil, nil
		case model.StatusPending:
		default:
			return nil, errorx.New(errorx.CodeInvalidState, "没有待处理的好友申请")
		}
		// PENDING 记录必须带发起方，缺失时不做猜测
		if existing.InitiatedBy == "" {
			return nil, errorx.Newf(errorx.CodeInvalidState, "好友申请 %s 缺少发起方", key)
		}
		if existing.InitiatedBy == me {
			return nil, errorx.New(errorx.CodeInvalidState, "不能接受自己发出的申请")
		}

		transitioned = true
		rel.Status = model.StatusFriend
		rel.InitiatedBy = ""
		rel.UpdatedAt = nowMs
		return backend.Fields{
			model.RelFieldStatus:      model.StatusFriend,
			model.RelFieldInitiatedBy: "",
			model.RelFieldUpdatedAt:   nowMs,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return &rel, nil
	}

	// 关系已落库，经验发放失败不回滚
	for _, id := range rel.Users {
		if _, err := s.xp.AwardXP(ctx, id, constants.XP_FRIENDSHIP); err != nil {
			zap.L().Error("award friendship xp failed", zap.String("user", id), zap.String("pair", key), zap.Error(err))
		}
	}
	s.notify(ctx, model.Notification{
		Type:      model.NotifyFriendAccepted,
		TargetID:  other,
		SourceID:  me,
		CreatedAt: nowMs,
	})
	return &rel, nil
}

// GetStatus 查询两人的关系，不存在时返回 NONE
func (s *relationshipService) GetStatus(ctx context.Context, a, b string) (*model.Relationship, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	key := model.PairKey(a, b)
	doc, err := s.store.Get(ctx, constants.COLLECTION_RELATIONSHIPS, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		x, y, _ := model.ParsePairKey(key)
		return &model.Relationship{Key: key, Users: []string{x, y}, Status: model.StatusNone}, nil
	}
	rel, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// List 返回涉及 viewer 的全部关系
func (s *relationshipService) List(ctx context.Context, viewer string) ([]model.Relationship, error) {
	if viewer == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "用户 ID 不能为空")
	}
	docs, err := s.store.List(ctx, constants.COLLECTION_RELATIONSHIPS, involves(viewer))
	if err != nil {
		return nil, err
	}
	return FromDocuments(docs), nil
}

// Subscribe 涉及 viewer 的任意关系变化时推送完整集合
func (s *relationshipService) Subscribe(viewer string, cb func([]model.Relationship)) backend.Unsubscribe {
	return s.store.SubscribeQuery(constants.COLLECTION_RELATIONSHIPS, involves(viewer), func(docs []backend.Document) {
		cb(FromDocuments(docs))
	})
}

// RecordInteraction 发送消息后重算连续聊天天数，只对好友关系生效
// 返回更新后的天数，非好友返回 0
func (s *relationshipService) RecordInteraction(ctx context.Context, a, b string) (int64, error) {
	if err := checkPair(a, b); err != nil {
		return 0, err
	}
	now := s.now()
	var streak int64
	err := s.store.RunTransaction(ctx, constants.COLLECTION_RELATIONSHIPS, model.PairKey(a, b), func(cur *backend.Document) (backend.Fields, error) {
		streak = 0
		if cur == nil {
			return nil, nil
		}
		rel, err := decode(cur)
		if err != nil {
			return nil, err
		}
		if rel.Status != model.StatusFriend {
			return nil, nil
		}
		var last time.Time
		if rel.LastInteraction > 0 {
			last = time.UnixMilli(rel.LastInteraction)
		}
		streak = gamification.ComputeStreak(rel.Streak, last, now, s.loc)
		return backend.Fields{
			model.RelFieldStreak:          streak,
			model.RelFieldLastInteraction: now.UnixMilli(),
		}, nil
	})
	return streak, err
}

func (s *relationshipService) notify(ctx context.Context, n model.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		zap.L().Warn("dispatch notification failed", zap.String("type", string(n.Type)), zap.String("target", n.TargetID), zap.Error(err))
	}
}

func involves(viewer string) backend.Predicate {
	return func(doc *backend.Document) bool {
		return contains(doc.Strings(model.RelFieldUsers), viewer)
	}
}

func decode(doc *backend.Document) (model.Relationship, error) {
	var rel model.Relationship
	if err := doc.Decode(&rel); err != nil {
		return rel, errorx.Wrapf(err, errorx.CodeServerBusy, "解析关系记录 %s 失败", doc.Key)
	}
	rel.Key = doc.Key
	if len(rel.Users) != 2 {
		if a, b, ok := model.ParsePairKey(doc.Key); ok {
			rel.Users = []string{a, b}
		}
	}
	if rel.Status == "" {
		rel.Status = model.StatusNone
	}
	return rel, nil
}

// FromDocuments 解码关系记录，跳过无法解析的记录
func FromDocuments(docs []backend.Document) []model.Relationship {
	out := make([]model.Relationship, 0, len(docs))
	for i := range docs {
		rel, err := decode(&docs[i])
		if err != nil {
			zap.L().Warn("skip malformed relationship", zap.String("key", docs[i].Key), zap.Error(err))
			continue
		}
		out = append(out, rel)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
