package model

import (
	"sort"
	"strings"
)

// RelationshipStatus 好友关系状态
type RelationshipStatus string

const (
	StatusNone    RelationshipStatus = "NONE"
	StatusPending RelationshipStatus = "PENDING"
	StatusFriend  RelationshipStatus = "FRIEND"
)

// 关系记录字段名
const (
	RelFieldUsers           = "users"
	RelFieldStatus          = "status"
	RelFieldInitiatedBy     = "initiatedBy"
	RelFieldStreak          = "streak"
	RelFieldLastInteraction = "lastInteraction"
	RelFieldUpdatedAt       = "updatedAt"
)

const pairSeparator = "_"

// PairKey 两个用户的规范键：排序后拼接，与参数顺序无关
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + pairSeparator + ids[1]
}

// ParsePairKey 拆分规范键，键不合法时 ok 为 false
func ParsePairKey(key string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(key, pairSeparator)
	if !ok || a == "" || b == "" || a >= b || strings.Contains(b, pairSeparator) {
		return "", "", false
	}
	return a, b, true
}

// Relationship 好友关系记录，主键为 PairKey
type Relationship struct {
	Key             string             `json:"-"`
	Users           []string           `json:"users"`
	Status          RelationshipStatus `json:"status"`
	InitiatedBy     string             `json:"initiatedBy,omitempty"`
	Streak          int64              `json:"streak"`
	LastInteraction int64              `json:"lastInteraction,omitempty"`
	UpdatedAt       int64              `json:"updatedAt,omitempty"`
}

// Other 返回关系中另一方的 ID
func (r *Relationship) Other(viewer string) string {
	for _, id := range r.Users {
		if id != viewer {
			return id
		}
	}
	return ""
}

// Involves 判断关系是否涉及该用户
func (r *Relationship) Involves(userID string) bool {
	for _, id := range r.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// RequestDirection 好友申请相对于查看者的方向
type RequestDirection string

const (
	DirectionNone     RequestDirection = ""
	DirectionOutgoing RequestDirection = "outgoing" // 我发出，等待对方
	DirectionIncoming RequestDirection = "incoming" // 对方发出，我可接受
)

// Direction 通过比较 initiatedBy 与查看者推导申请方向
func (r *Relationship) Direction(viewer string) RequestDirection {
	if r.Status != StatusPending || r.InitiatedBy == "" {
		return DirectionNone
	}
	if r.InitiatedBy == viewer {
		return DirectionOutgoing
	}
	return DirectionIncoming
}
