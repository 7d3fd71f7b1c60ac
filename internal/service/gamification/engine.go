// Package gamification 负责经验值、等级、徽章与连续聊天天数的计算
package gamification

import (
	"context"
	"sort"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
)

// Award 一次经验发放后的结果
type Award struct {
	XP       int64    `json:"xp"`
	Level    int64    `json:"level"`
	Badges   []string `json:"badges"`
	LevelUp  bool     `json:"levelUp"`
	Unlocked []string `json:"unlocked,omitempty"`
}

// Engine 经验值发放
type Engine struct {
	store backend.SyncBackend
}

// NewEngine 构造函数
func NewEngine(store backend.SyncBackend) *Engine {
	return &Engine{store: store}
}

// CalculateLevel 等级 = floor(xp/100) + 1
func CalculateLevel(xp int64) int64 {
	if xp < 0 {
		xp = 0
	}
	return xp/constants.XP_PER_LEVEL + 1
}

// EvaluateBadges 在已有徽章上追加新解锁的徽章，已解锁的不会被移除
// 返回合并后的有序列表与本次新增的徽章
func EvaluateBadges(existing []string, hearts, level int64) (badges []string, unlocked []string) {
	set := make(map[string]struct{}, len(existing)+3)
	for _, b := range existing {
		set[b] = struct{}{}
	}
	unlock := func(badge string, ok bool) {
		if !ok {
			return
		}
		if _, has := set[badge]; has {
			return
		}
		set[badge] = struct{}{}
		unlocked = append(unlocked, badge)
	}
	unlock(constants.BADGE_POPULAR, hearts >= constants.HEARTS_POPULAR)
	unlock(constants.BADGE_SUPERSTAR, hearts >= constants.HEARTS_SUPERSTAR)
	unlock(constants.BADGE_VETERAN, level >= constants.LEVEL_VETERAN)

	badges = make([]string, 0, len(set))
	for b := range set {
		badges = append(badges, b)
	}
	sort.Strings(badges)
	return badges, unlocked
}

// AwardXP 在单键事务内累加经验、重算等级并评估徽章
func (e *Engine) AwardXP(ctx context.Context, userID string, amount int64) (*Award, error) {
	if userID == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "用户 ID 不能为空")
	}
	if amount <= 0 {
		return nil, errorx.Newf(errorx.CodeInvalidParam, "经验值必须为正数，当前 %d", amount)
	}

	var award Award
	err := e.store.RunTransaction(ctx, constants.COLLECTION_USERS, userID, func(cur *backend.Document) (backend.Fields, error) {
		if cur == nil {
			return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", userID)
		}
		var user model.UserProfile
		if err := cur.Decode(&user); err != nil {
			return nil, errorx.Wrap(err, errorx.CodeServerBusy, "解析用户记录失败")
		}

		newXP := user.XP + amount
		newLevel := CalculateLevel(newXP)
		badges, unlocked := EvaluateBadges(user.Badges, user.Hearts, newLevel)

		award = Award{
			XP:       newXP,
			Level:    newLevel,
			Badges:   badges,
			LevelUp:  newLevel > CalculateLevel(user.XP),
			Unlocked: unlocked,
		}
		patch := backend.Fields{
			model.UserFieldXP:    newXP,
			model.UserFieldLevel: newLevel,
		}
		if len(unlocked) > 0 {
			patch[model.UserFieldBadges] = badges
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}
	return &award, nil
}

// ComputeStreak 根据上次互动与本次互动所在的自然日计算连续天数
//   - 本次在上次的次日：+1
//   - 同一天：不变
//   - 间隔两天及以上，或上次时间在未来：重置为 1
//
// 自然日以 loc 时区划分，而非滚动 24 小时
func ComputeStreak(prev int64, last, now time.Time, loc *time.Location) int64 {
	if last.IsZero() {
		return 1
	}
	if loc == nil {
		loc = time.Local
	}
	switch dayNumber(now, loc) - dayNumber(last, loc) {
	case 0:
		if prev < 1 {
			return 1
		}
		return prev
	case 1:
		return prev + 1
	default:
		return 1
	}
}

// dayNumber 自然日序号，跨夏令时也按日历计数
func dayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
