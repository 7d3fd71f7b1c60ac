// Package feed 将用户、好友关系、未读数与在线状态合成附近 / 好友 / 聊天三个列表
package feed

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/chat"
	"fresh_chat_server/internal/service/presence"
	"fresh_chat_server/internal/service/relationship"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/geo"

	"go.uber.org/zap"
)

// Tab 列表视图
type Tab string

const (
	TabNearby  Tab = "nearby"
	TabFriends Tab = "friends"
	TabLive    Tab = "live"
)

// Filter 列表过滤条件，Gender 为空或 "all" 时不过滤性别
type Filter struct {
	Tab    Tab    `json:"tab"`
	Gender string `json:"gender,omitempty"`
}

// Normalize 校验并补全默认值
func (f Filter) Normalize() (Filter, error) {
	switch f.Tab {
	case "":
		f.Tab = TabNearby
	case TabNearby, TabFriends, TabLive:
	default:
		return f, errorx.Newf(errorx.CodeInvalidParam, "未知的列表视图 %q", f.Tab)
	}
	if f.Gender == "all" {
		f.Gender = ""
	}
	return f, nil
}

// Entry 列表中的一项
type Entry struct {
	User         model.PublicProfile      `json:"user"`
	DistanceKm   *float64                 `json:"distanceKm,omitempty"` // 任一方没有位置时为空
	Presence     presence.Status          `json:"presence"`
	Relationship model.RelationshipStatus `json:"relationship"`
	Direction    model.RequestDirection   `json:"direction,omitempty"`
	Streak       int64                    `json:"streak"`
	ThreadKey    string                   `json:"threadKey"`
	Unread       int64                    `json:"unread"`
}

// Inputs 合成列表所需的全部输入
type Inputs struct {
	Viewer        model.UserProfile
	Users         []model.UserProfile
	Relationships []model.Relationship // 涉及 Viewer 的关系
	Unread        map[string]int64     // 会话 ID -> Viewer 的未读数
}

// Compose 纯函数：相同输入总是得到相同的有序列表
func Compose(in Inputs, f Filter, now time.Time) []Entry {
	viewer := &in.Viewer
	rels := make(map[string]*model.Relationship, len(in.Relationships))
	for i := range in.Relationships {
		r := &in.Relationships[i]
		rels[r.Other(viewer.ID)] = r
	}
	retention := now.Add(-constants.RETENTION_WINDOW).UnixMilli()
	live := now.Add(-constants.LIVE_WINDOW).UnixMilli()

	out := make([]Entry, 0, len(in.Users))
	for i := range in.Users {
		u := &in.Users[i]
		// 1. 长期不活跃的账号不展示
		if u.LastActive < retention {
			continue
		}
		// 2. 自己、已拉黑的人、拉黑了自己的人
		if u.ID == viewer.ID || viewer.HasBlocked(u.ID) || u.HasBlocked(viewer.ID) {
			continue
		}
		if f.Gender != "" && u.Gender != f.Gender {
			continue
		}

		// 3. 关联关系与未读数
		key := model.PairKey(viewer.ID, u.ID)
		e := Entry{
			User:         u.Public(),
			Presence:     presence.Classify(u.LastActiveAt(), now),
			Relationship: model.StatusNone,
			ThreadKey:    key,
			Unread:       in.Unread[key],
		}
		if r, ok := rels[u.ID]; ok {
			e.Relationship = r.Status
			e.Direction = r.Direction(viewer.ID)
			e.Streak = r.Streak
		}

		// 4. 距离
		if viewer.Location != nil && u.Location != nil {
			d := geo.DistanceKm(*viewer.Location, *u.Location)
			e.DistanceKm = &d
		}

		// 5. 视图过滤
		switch f.Tab {
		case TabFriends:
			if e.Relationship != model.StatusFriend {
				continue
			}
		case TabLive:
			if u.LastActive < live || (e.Relationship != model.StatusFriend && e.Unread == 0) {
				continue
			}
		}
		out = append(out, e)
	}

	// 6. 在线的排在前面，组内按距离升序，最后按用户 ID
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Presence == presence.Online, out[j].Presence == presence.Online
		if ai != aj {
			return ai
		}
		di, dj := distance(out[i]), distance(out[j])
		if di != dj {
			return di < dj
		}
		return out[i].User.ID < out[j].User.ID
	})
	return out
}

func distance(e Entry) float64 {
	if e.DistanceKm == nil {
		return math.Inf(1)
	}
	return *e.DistanceKm
}

// Composer 从同步存储读取输入并合成列表
type Composer struct {
	store backend.SyncBackend
	now   func() time.Time
}

// NewComposer now 为 nil 时使用 time.Now
func NewComposer(store backend.SyncBackend, now func() time.Time) *Composer {
	if now == nil {
		now = time.Now
	}
	return &Composer{store: store, now: now}
}

// Compose 读取当前数据合成一次列表
func (c *Composer) Compose(ctx context.Context, viewerID string, f Filter) ([]Entry, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	userDocs, err := c.store.List(ctx, constants.COLLECTION_USERS, nil)
	if err != nil {
		return nil, err
	}
	relDocs, err := c.store.List(ctx, constants.COLLECTION_RELATIONSHIPS, involves(viewerID))
	if err != nil {
		return nil, err
	}
	chatDocs, err := c.store.List(ctx, constants.COLLECTION_CHATS, participatesIn(viewerID))
	if err != nil {
		return nil, err
	}
	in, ok := buildInputs(viewerID, userDocs, relDocs, chatDocs)
	if !ok {
		return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", viewerID)
	}
	return Compose(in, f, c.now()), nil
}

// Subscribe 任一输入变化时重新合成并推送
// 三路订阅都收到首个快照后才开始推送
func (c *Composer) Subscribe(viewerID string, f Filter, cb func([]Entry)) backend.Unsubscribe {
	f, err := f.Normalize()
	if err != nil {
		f = Filter{Tab: TabNearby}
	}
	var (
		mu                             sync.Mutex
		users, rels, chats             []backend.Document
		haveUsers, haveRels, haveChats bool
	)
	recompute := func() {
		if !haveUsers || !haveRels || !haveChats {
			return
		}
		in, ok := buildInputs(viewerID, users, rels, chats)
		if !ok {
			cb([]Entry{})
			return
		}
		cb(Compose(in, f, c.now()))
	}

	unsubs := []backend.Unsubscribe{
		c.store.SubscribeQuery(constants.COLLECTION_USERS, nil, func(docs []backend.Document) {
			mu.Lock()
			defer mu.Unlock()
			users, haveUsers = docs, true
			recompute()
		}),
		c.store.SubscribeQuery(constants.COLLECTION_RELATIONSHIPS, involves(viewerID), func(docs []backend.Document) {
			mu.Lock()
			defer mu.Unlock()
			rels, haveRels = docs, true
			recompute()
		}),
		c.store.SubscribeQuery(constants.COLLECTION_CHATS, participatesIn(viewerID), func(docs []backend.Document) {
			mu.Lock()
			defer mu.Unlock()
			chats, haveChats = docs, true
			recompute()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// buildInputs 查看者不存在时 ok 为 false
func buildInputs(viewerID string, userDocs, relDocs, chatDocs []backend.Document) (in Inputs, ok bool) {
	in.Users = make([]model.UserProfile, 0, len(userDocs))
	for i := range userDocs {
		var u model.UserProfile
		if err := userDocs[i].Decode(&u); err != nil {
			zap.L().Warn("skip malformed user", zap.String("id", userDocs[i].Key), zap.Error(err))
			continue
		}
		u.ID = userDocs[i].Key
		if u.ID == viewerID {
			in.Viewer, ok = u, true
		}
		in.Users = append(in.Users, u)
	}
	in.Relationships = relationship.FromDocuments(relDocs)
	in.Unread = chat.UnreadFor(viewerID, chatDocs)
	return in, ok
}

func involves(viewer string) backend.Predicate {
	return func(doc *backend.Document) bool {
		return contains(doc.Strings(model.RelFieldUsers), viewer)
	}
}

func participatesIn(viewer string) backend.Predicate {
	return func(doc *backend.Document) bool {
		return contains(doc.Strings(model.ChatFieldParticipants), viewer)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
