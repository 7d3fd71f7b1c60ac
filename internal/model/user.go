// Package model 定义同步存储中各集合记录的结构
// 字段的 json tag 即存储层的字段名，时间统一为 Unix 毫秒
package model

import (
	"time"

	"fresh_chat_server/pkg/geo"
)

// AuthMethod 登录方式
type AuthMethod string

const (
	AuthGoogle AuthMethod = "google"
	AuthApple  AuthMethod = "apple"
	AuthGuest  AuthMethod = "guest"
)

// 用户记录字段名，用于定向字段更新
const (
	UserFieldName           = "name"
	UserFieldGender         = "gender"
	UserFieldAge            = "age"
	UserFieldBio            = "bio"
	UserFieldInterests      = "interests"
	UserFieldAlbum          = "album"
	UserFieldPhotoURL       = "photoUrl"
	UserFieldLocation       = "location"
	UserFieldPremium        = "isPremium"
	UserFieldAuthMethod     = "authMethod"
	UserFieldHearts         = "hearts"
	UserFieldViews          = "views"
	UserFieldXP             = "xp"
	UserFieldLevel          = "level"
	UserFieldBadges         = "badges"
	UserFieldLastActive     = "lastActive"
	UserFieldBlocked        = "blockedUsers"
	UserFieldCreatedAt      = "createdAt"
	UserFieldRefreshTokenID = "refreshTokenId"
)

// UserProfile 用户资料，首次登录时创建
type UserProfile struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Gender         string     `json:"gender,omitempty"`
	Age            int        `json:"age,omitempty"`
	Bio            string     `json:"bio,omitempty"`
	Interests      []string   `json:"interests,omitempty"`
	Album          []string   `json:"album,omitempty"`
	PhotoURL       string     `json:"photoUrl,omitempty"`
	Location       *geo.Point `json:"location,omitempty"`
	IsPremium      bool       `json:"isPremium"`
	AuthMethod     AuthMethod `json:"authMethod"`
	Hearts         int64      `json:"hearts"`
	Views          int64      `json:"views"`
	XP             int64      `json:"xp"`
	Level          int64      `json:"level"`
	Badges         []string   `json:"badges,omitempty"`
	LastActive     int64      `json:"lastActive"`
	BlockedUsers   []string   `json:"blockedUsers,omitempty"`
	CreatedAt      int64      `json:"createdAt"`
	RefreshTokenID string     `json:"refreshTokenId,omitempty"`
}

// LastActiveAt 最近活跃时间
func (u *UserProfile) LastActiveAt() time.Time {
	return time.UnixMilli(u.LastActive)
}

// HasBlocked 判断是否已拉黑 target
func (u *UserProfile) HasBlocked(target string) bool {
	for _, id := range u.BlockedUsers {
		if id == target {
			return true
		}
	}
	return false
}

// HasBadge 判断是否已解锁徽章
func (u *UserProfile) HasBadge(badge string) bool {
	for _, b := range u.Badges {
		if b == badge {
			return true
		}
	}
	return false
}

// PublicProfile 对外展示的资料，不含拉黑列表与令牌
type PublicProfile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Gender     string     `json:"gender,omitempty"`
	Age        int        `json:"age,omitempty"`
	Bio        string     `json:"bio,omitempty"`
	Interests  []string   `json:"interests,omitempty"`
	Album      []string   `json:"album,omitempty"`
	PhotoURL   string     `json:"photoUrl,omitempty"`
	IsPremium  bool       `json:"isPremium"`
	Hearts     int64      `json:"hearts"`
	Views      int64      `json:"views"`
	XP         int64      `json:"xp"`
	Level      int64      `json:"level"`
	Badges     []string   `json:"badges,omitempty"`
	LastActive int64      `json:"lastActive"`
	Location   *geo.Point `json:"-"`
}

// Public 转为对外资料
func (u *UserProfile) Public() PublicProfile {
	return PublicProfile{
		ID:         u.ID,
		Name:       u.Name,
		Gender:     u.Gender,
		Age:        u.Age,
		Bio:        u.Bio,
		Interests:  u.Interests,
		Album:      u.Album,
		PhotoURL:   u.PhotoURL,
		IsPremium:  u.IsPremium,
		Hearts:     u.Hearts,
		Views:      u.Views,
		XP:         u.XP,
		Level:      u.Level,
		Badges:     u.Badges,
		LastActive: u.LastActive,
		Location:   u.Location,
	}
}

// Identity 身份提供方在登录时交给核心的信息
type Identity struct {
	ID         string
	Name       string
	AvatarURL  string
	AuthMethod AuthMethod
}
