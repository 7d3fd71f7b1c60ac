// Package user 处理用户资料与互动计数：首次登录建档、资料编辑、爱心、访问、拉黑、举报、注销
package user

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/gamification"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/geo"
	"fresh_chat_server/pkg/util/random"

	"go.uber.org/zap"
)

// XPAwarder 经验发放
type XPAwarder interface {
	AwardXP(ctx context.Context, userID string, amount int64) (*gamification.Award, error)
}

// ProfileUpdate 资料编辑，仅非 nil 字段会被写入
type ProfileUpdate struct {
	Name      *string
	Gender    *string
	Age       *int
	Bio       *string
	Interests []string
	Album     []string
	PhotoURL  *string
	Location  *geo.Point
}

const (
	nameMaxLength = 32
	bioMaxLength  = 300
	albumMaxSize  = 9
)

type userService struct {
	store backend.SyncBackend
	xp    XPAwarder
	now   func() time.Time
}

// NewUserService 构造函数，now 为 nil 时使用 time.Now
func NewUserService(store backend.SyncBackend, xp XPAwarder, now func() time.Time) *userService {
	if now == nil {
		now = time.Now
	}
	return &userService{store: store, xp: xp, now: now}
}

// checkID 用户 ID 会出现在会话键与字段名中，不能包含分隔符
func checkID(id string) error {
	if id == "" {
		return errorx.New(errorx.CodeInvalidParam, "用户 ID 不能为空")
	}
	if strings.ContainsAny(id, "_./") {
		return errorx.Newf(errorx.CodeInvalidParam, "用户 ID %q 包含非法字符", id)
	}
	return nil
}

// EnsureProfile 按身份提供方信息取得用户资料，首次登录时创建
// 访客没有稳定 ID，会分配一个新的
func (u *userService) EnsureProfile(ctx context.Context, identity model.Identity) (*model.UserProfile, bool, error) {
	if identity.AuthMethod == model.AuthGuest && identity.ID == "" {
		identity.ID = "G" + random.GetNowAndLenRandomString(10)
	}
	if err := checkID(identity.ID); err != nil {
		return nil, false, err
	}
	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = "Guest"
	}

	nowMs := u.now().UnixMilli()
	var (
		profile model.UserProfile
		created bool
	)
	err := u.store.RunTransaction(ctx, constants.COLLECTION_USERS, identity.ID, func(cur *backend.Document) (backend.Fields, error) {
		created = cur == nil
		if !created {
			if err := cur.Decode(&profile); err != nil {
				return nil, errorx.Wrap(err, errorx.CodeServerBusy, "解析用户记录失败")
			}
			profile.ID = identity.ID
			profile.LastActive = nowMs
			return backend.Fields{model.UserFieldLastActive: nowMs}, nil
		}
		profile = model.UserProfile{
			ID:         identity.ID,
			Name:       name,
			PhotoURL:   identity.AvatarURL,
			AuthMethod: identity.AuthMethod,
			Level:      1,
			LastActive: nowMs,
			CreatedAt:  nowMs,
		}
		return backend.Fields{
			"id":                      profile.ID,
			model.UserFieldName:       profile.Name,
			model.UserFieldPhotoURL:   profile.PhotoURL,
			model.UserFieldAuthMethod: profile.AuthMethod,
			model.UserFieldPremium:    false,
			model.UserFieldHearts:     0,
			model.UserFieldViews:      0,
			model.UserFieldXP:         0,
			model.UserFieldLevel:      1,
			model.UserFieldLastActive: nowMs,
			model.UserFieldCreatedAt:  nowMs,
		}, nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		zap.L().Info("user profile created", zap.String("user", profile.ID), zap.String("method", string(profile.AuthMethod)))
	}
	return &profile, created, nil
}

// GetProfile 读取完整资料
func (u *userService) GetProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	doc, err := u.store.Get(ctx, constants.COLLECTION_USERS, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", id)
	}
	var profile model.UserProfile
	if err := doc.Decode(&profile); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeServerBusy, "解析用户记录失败")
	}
	profile.ID = id
	return &profile, nil
}

// UpdateProfile 只有本人可编辑，计数类字段不受影响
func (u *userService) UpdateProfile(ctx context.Context, owner string, req ProfileUpdate) (*model.UserProfile, error) {
	patch, err := req.fields()
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return u.GetProfile(ctx, owner)
	}
	if err := checkID(owner); err != nil {
		return nil, err
	}
	err = u.store.RunTransaction(ctx, constants.COLLECTION_USERS, owner, func(cur *backend.Document) (backend.Fields, error) {
		if cur == nil {
			return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", owner)
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}
	return u.GetProfile(ctx, owner)
}

func (r ProfileUpdate) fields() (backend.Fields, error) {
	patch := backend.Fields{}
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		if name == "" || utf8.RuneCountInString(name) > nameMaxLength {
			return nil, errorx.Newf(errorx.CodeInvalidParam, "昵称长度需在 1-%d 之间", nameMaxLength)
		}
		patch[model.UserFieldName] = name
	}
	if r.Gender != nil {
		patch[model.UserFieldGender] = *r.Gender
	}
	if r.Age != nil {
		if *r.Age < 18 || *r.Age > 120 {
			return nil, errorx.New(errorx.CodeInvalidParam, "年龄需在 18-120 之间")
		}
		patch[model.UserFieldAge] = *r.Age
	}
	if r.Bio != nil {
		if utf8.RuneCountInString(*r.Bio) > bioMaxLength {
			return nil, errorx.Newf(errorx.CodeInvalidParam, "简介不能超过 %d 字", bioMaxLength)
		}
		patch[model.UserFieldBio] = *r.Bio
	}
	if r.Interests != nil {
		patch[model.UserFieldInterests] = dedupe(r.Interests)
	}
	if r.Album != nil {
		if len(r.Album) > albumMaxSize {
			return nil, errorx.Newf(errorx.CodeInvalidParam, "相册最多 %d 张", albumMaxSize)
		}
		patch[model.UserFieldAlbum] = r.Album
	}
	if r.PhotoURL != nil {
		patch[model.UserFieldPhotoURL] = *r.PhotoURL
	}
	if r.Location != nil {
		if !r.Location.Valid() {
			return nil, errorx.New(errorx.CodeInvalidParam, "位置坐标不合法")
		}
		patch[model.UserFieldLocation] = r.Location
	}
	return patch, nil
}

// dedupe 兴趣标签是集合，保留首次出现的顺序
func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// target 校验互动对象存在且没有拉黑 actor
func (u *userService) target(ctx context.Context, actor, target string) error {
	if err := checkID(actor); err != nil {
		return err
	}
	if err := checkID(target); err != nil {
		return err
	}
	doc, err := u.store.Get(ctx, constants.COLLECTION_USERS, target)
	if err != nil {
		return err
	}
	if doc == nil {
		return errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", target)
	}
	for _, id := range doc.Strings(model.UserFieldBlocked) {
		if id == actor {
			return errorx.New(errorx.CodeInvalidState, "对方已将你拉黑")
		}
	}
	return nil
}

// SendHeart 为对方爱心数原子 +1，并给对方发放经验
func (u *userService) SendHeart(ctx context.Context, from, to string) (int64, error) {
	if from == to {
		return 0, errorx.New(errorx.CodeInvalidParam, "不能给自己送爱心")
	}
	if err := u.target(ctx, from, to); err != nil {
		return 0, err
	}
	hearts, err := u.store.AtomicIncrement(ctx, constants.COLLECTION_USERS, to, model.UserFieldHearts, 1)
	if err != nil {
		return 0, err
	}
	if _, err := u.xp.AwardXP(ctx, to, constants.XP_HEART_RECEIVED); err != nil {
		zap.L().Error("award heart xp failed", zap.String("user", to), zap.Error(err))
	}
	return hearts, nil
}

// TrackProfileVisit 访问他人主页，访问自己的主页不计数
func (u *userService) TrackProfileVisit(ctx context.Context, visitor, target string) (int64, error) {
	if visitor == target {
		return 0, nil
	}
	if err := u.target(ctx, visitor, target); err != nil {
		return 0, err
	}
	views, err := u.store.AtomicIncrement(ctx, constants.COLLECTION_USERS, target, model.UserFieldViews, 1)
	if err != nil {
		return 0, err
	}
	if _, err := u.xp.AwardXP(ctx, target, constants.XP_PROFILE_VIEWED); err != nil {
		zap.L().Error("award visit xp failed", zap.String("user", target), zap.Error(err))
	}
	return views, nil
}

// BlockUser 加入拉黑列表，重复拉黑无副作用
func (u *userService) BlockUser(ctx context.Context, me, target string) error {
	if err := checkID(me); err != nil {
		return err
	}
	if err := checkID(target); err != nil {
		return err
	}
	if me == target {
		return errorx.New(errorx.CodeInvalidParam, "不能拉黑自己")
	}
	return u.store.RunTransaction(ctx, constants.COLLECTION_USERS, me, func(cur *backend.Document) (backend.Fields, error) {
		if cur == nil {
			return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", me)
		}
		blocked := cur.Strings(model.UserFieldBlocked)
		for _, id := range blocked {
			if id == target {
				return nil, nil
			}
		}
		return backend.Fields{model.UserFieldBlocked: append(blocked, target)}, nil
	})
}

// ReportUser 记录一条举报
func (u *userService) ReportUser(ctx context.Context, me, target, reason string) (*model.Report, error) {
	if err := checkID(me); err != nil {
		return nil, err
	}
	if err := checkID(target); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" || utf8.RuneCountInString(reason) > constants.REPORT_REASON_MAX_LENGTH {
		return nil, errorx.Newf(errorx.CodeInvalidParam, "举报原因长度需在 1-%d 之间", constants.REPORT_REASON_MAX_LENGTH)
	}
	report := model.Report{
		ID:         "R" + random.GetNowAndLenRandomString(12),
		ReporterID: me,
		ReportedID: target,
		Reason:     reason,
		CreatedAt:  u.now().UnixMilli(),
	}
	err := u.store.UpsertRecord(ctx, constants.COLLECTION_REPORTS, report.ID, backend.Fields{
		"id":         report.ID,
		"reporterId": report.ReporterID,
		"reportedId": report.ReportedID,
		"reason":     report.Reason,
		"createdAt":  report.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("user reported", zap.String("reporter", me), zap.String("reported", target), zap.String("report", report.ID))
	return &report, nil
}

// DeleteAccount 不可恢复地删除用户记录，不级联其他数据
func (u *userService) DeleteAccount(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := u.store.Delete(ctx, constants.COLLECTION_USERS, id); err != nil {
		return err
	}
	zap.L().Info("user account deleted", zap.String("user", id))
	return nil
}
