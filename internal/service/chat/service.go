// Package chat 负责会话消息、按参与者区分的未读计数与"正在输入"状态
// 会话键与两人的好友关系键相同
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/infrastructure/mq"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/gamification"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

// InteractionRecorder 发送消息后更新连续聊天天数
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, a, b string) (int64, error)
}

// XPAwarder 经验发放
type XPAwarder interface {
	AwardXP(ctx context.Context, userID string, amount int64) (*gamification.Award, error)
}

// Option 可选配置
type Option func(*chatService)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *chatService) { s.now = now }
}

// WithTypingStale 调整输入标记的过期时间，默认 constants.TYPING_STALE
func WithTypingStale(d time.Duration) Option {
	return func(s *chatService) { s.typingStale = d }
}

type chatService struct {
	store       backend.SyncBackend
	streaks     InteractionRecorder
	xp          XPAwarder
	notifier    mq.Dispatcher
	now         func() time.Time
	typingStale time.Duration
}

// NewChatService 构造函数
func NewChatService(store backend.SyncBackend, streaks InteractionRecorder, xp XPAwarder, notifier mq.Dispatcher, opts ...Option) *chatService {
	s := &chatService{
		store:       store,
		streaks:     streaks,
		xp:          xp,
		notifier:    notifier,
		now:         time.Now,
		typingStale: constants.TYPING_STALE,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = mq.Discard{}
	}
	return s
}

// participants 校验会话键并返回对方 ID
func participants(threadKey, userID string) (other string, err error) {
	a, b, ok := model.ParsePairKey(threadKey)
	if !ok {
		return "", errorx.Newf(errorx.CodeInvalidParam, "非法的会话 ID %q", threadKey)
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", errorx.New(errorx.CodeForbidden, "不是该会话的参与者")
}

// validateMessage 每种类型只允许对应的那一项内容
func validateMessage(msg *model.Message) error {
	switch msg.Type {
	case model.MessageText:
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Text == "" {
			return errorx.New(errorx.CodeInvalidParam, "消息内容不能为空")
		}
		if utf8.RuneCountInString(msg.Text) > constants.MESSAGE_MAX_LENGTH {
			return errorx.Newf(errorx.CodeInvalidParam, "消息长度不能超过 %d", constants.MESSAGE_MAX_LENGTH)
		}
		if msg.Location != nil || msg.ImageURL != "" {
			return errorx.New(errorx.CodeInvalidParam, "文本消息不能携带位置或图片")
		}
	case model.MessageLocation:
		if msg.Location == nil || !msg.Location.Valid() {
			return errorx.New(errorx.CodeInvalidParam, "位置坐标不合法")
		}
		if msg.Text != "" || msg.ImageURL != "" {
			return errorx.New(errorx.CodeInvalidParam, "位置消息不能携带文本或图片")
		}
	case model.MessageImage:
		if strings.TrimSpace(msg.ImageURL) == "" {
			return errorx.New(errorx.CodeInvalidParam, "图片地址不能为空")
		}
		if msg.Text != "" || msg.Location != nil {
			return errorx.New(errorx.CodeInvalidParam, "图片消息不能携带文本或位置")
		}
	default:
		return errorx.Newf(errorx.CodeInvalidParam, "未知的消息类型 %q", msg.Type)
	}
	return nil
}

func messageFields(msg *model.Message) backend.Fields {
	fields := backend.Fields{
		"id":                 msg.ID,
		"senderId":           msg.SenderID,
		"type":               msg.Type,
		"timestamp":          msg.Timestamp,
		model.MsgFieldIsRead: false,
	}
	switch msg.Type {
	case model.MessageText:
		fields["text"] = msg.Text
	case model.MessageLocation:
		fields["location"] = msg.Location
	case model.MessageImage:
		fields["imageUrl"] = msg.ImageURL
	}
	return fields
}

// Send 追加消息并为接收方未读数 +1
// 消息写入、会话元数据与未读自增在同一批写入中生效；连续天数与经验随后更新，失败只记录日志
func (s *chatService) Send(ctx context.Context, threadKey string, msg model.Message) (*model.Message, error) {
	recipient, err := participants(threadKey, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if err := validateMessage(&msg); err != nil {
		return nil, err
	}

	target, err := s.store.Get(ctx, constants.COLLECTION_USERS, recipient)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errorx.Newf(errorx.CodeUserNotExist, "用户 %s 不存在", recipient)
	}
	if contains(target.Strings(model.UserFieldBlocked), msg.SenderID) {
		return nil, errorx.New(errorx.CodeInvalidState, "对方已将你拉黑，无法发送消息")
	}

	now := s.now()
	msg.ID = snowflake.GenerateIDString()
	msg.Timestamp = now.UnixMilli()
	msg.IsRead = false
	a, b, _ := model.ParsePairKey(threadKey)

	err = s.store.Apply(ctx,
		backend.Upsert(constants.MessagesCollection(threadKey), msg.ID, messageFields(&msg)),
		backend.Upsert(constants.COLLECTION_CHATS, threadKey, backend.Fields{
			model.ChatFieldParticipants: []string{a, b},
			model.ChatFieldLastUpdated:  msg.Timestamp,
			model.ChatFieldLastMessage:  msg.Preview(),
		}),
		backend.Increment(constants.COLLECTION_CHATS, threadKey, model.ParticipantField(model.ChatFieldUnread, recipient), 1),
	)
	if err != nil {
		zap.L().Error("send message failed", zap.String("thread", threadKey), zap.String("sender", msg.SenderID), zap.Error(err))
		return nil, err
	}

	if _, err := s.streaks.RecordInteraction(ctx, msg.SenderID, recipient); err != nil {
		zap.L().Error("update streak failed", zap.String("thread", threadKey), zap.Error(err))
	}
	if _, err := s.xp.AwardXP(ctx, msg.SenderID, constants.XP_MESSAGE_SENT); err != nil {
		zap.L().Error("award message xp failed", zap.String("user", msg.SenderID), zap.Error(err))
	}
	if err := s.notifier.Notify(ctx, model.Notification{
		Type:      model.NotifyNewMessage,
		TargetID:  recipient,
		SourceID:  msg.SenderID,
		ThreadKey: threadKey,
		Preview:   msg.Preview(),
		CreatedAt: msg.Timestamp,
	}); err != nil {
		zap.L().Warn("dispatch notification failed", zap.String("thread", threadKey), zap.Error(err))
	}
	return &msg, nil
}

// MarkRead 清零 reader 的未读数，并把对方在此刻之前发出的消息标为已读，可重复调用
// 写回以读取时的未读数为前提条件，期间有新消息计入则重新读取，计数与未读消息保持一致
func (s *chatService) MarkRead(ctx context.Context, threadKey, readerID string) error {
	if _, err := participants(threadKey, readerID); err != nil {
		return err
	}
	for attempt := 0; attempt < constants.TX_MAX_RETRIES; attempt++ {
		err := s.markRead(ctx, threadKey, readerID)
		if !errorx.IsConflict(err) {
			if err != nil {
				zap.L().Error("mark read failed", zap.String("thread", threadKey), zap.String("reader", readerID), zap.Error(err))
			}
			return err
		}
		zap.L().Debug("mark read raced with send, retrying", zap.String("thread", threadKey), zap.Int("attempt", attempt+1))
	}
	return errorx.Newf(errorx.CodeBackendUnavailable, "会话 %s 标记已读冲突次数过多", threadKey)
}

func (s *chatService) markRead(ctx context.Context, threadKey, readerID string) error {
	unreadField := model.ParticipantField(model.ChatFieldUnread, readerID)
	doc, err := s.store.Get(ctx, constants.COLLECTION_CHATS, threadKey)
	if err != nil {
		return err
	}
	var counter int64
	if doc != nil {
		counter = doc.Int(unreadField)
	}

	nowMs := s.now().UnixMilli()
	unread, err := s.store.List(ctx, constants.MessagesCollection(threadKey), func(doc *backend.Document) bool {
		return doc.String("senderId") != readerID && !isRead(doc) && doc.Int("timestamp") <= nowMs
	})
	if err != nil {
		return err
	}

	a, b, _ := model.ParsePairKey(threadKey)
	mutations := make([]backend.Mutation, 0, len(unread)+2)
	meta := backend.Fields{model.ChatFieldParticipants: []string{a, b}}
	meta[unreadField] = 0
	meta[model.ParticipantField(model.ChatFieldLastRead, readerID)] = nowMs
	mutations = append(mutations,
		backend.Expect(constants.COLLECTION_CHATS, threadKey, unreadField, counter),
		backend.Upsert(constants.COLLECTION_CHATS, threadKey, meta),
	)
	for _, doc := range unread {
		mutations = append(mutations, backend.Upsert(doc.Collection, doc.Key, backend.Fields{model.MsgFieldIsRead: true}))
	}
	return s.store.Apply(ctx, mutations...)
}

func isRead(doc *backend.Document) bool {
	return string(doc.Fields[model.MsgFieldIsRead]) == "true"
}

// SetTyping 设置或清除输入状态，尽力而为
func (s *chatService) SetTyping(ctx context.Context, threadKey, userID string, typing bool) error {
	if _, err := participants(threadKey, userID); err != nil {
		return err
	}
	patch := backend.Fields{}
	patch[model.ParticipantField(model.ChatFieldTyping, userID)] = typing
	patch[model.ParticipantField(model.ChatFieldTypingAt, userID)] = s.now().UnixMilli()
	return s.store.UpsertRecord(ctx, constants.COLLECTION_CHATS, threadKey, patch)
}

// Messages 按发送顺序返回会话消息
func (s *chatService) Messages(ctx context.Context, threadKey, viewer string) ([]model.Message, error) {
	if _, err := participants(threadKey, viewer); err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, constants.MessagesCollection(threadKey), nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(docs), nil
}

// Thread 读取会话元数据，不存在时返回空会话
func (s *chatService) Thread(ctx context.Context, threadKey, viewer string) (*model.ChatThread, error) {
	if _, err := participants(threadKey, viewer); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, constants.COLLECTION_CHATS, threadKey)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		a, b, _ := model.ParsePairKey(threadKey)
		return &model.ChatThread{Key: threadKey, Participants: []string{a, b}}, nil
	}
	return decodeThread(doc)
}

// UnreadCounts viewer 各会话的未读数，键为会话 ID
func (s *chatService) UnreadCounts(ctx context.Context, viewer string) (map[string]int64, error) {
	if viewer == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "用户 ID 不能为空")
	}
	docs, err := s.store.List(ctx, constants.COLLECTION_CHATS, participatesIn(viewer))
	if err != nil {
		return nil, err
	}
	return UnreadFor(viewer, docs), nil
}

// Subscribe 推送会话的有序消息列表
func (s *chatService) Subscribe(threadKey string, cb func([]model.Message)) backend.Unsubscribe {
	return s.store.SubscribeQuery(constants.MessagesCollection(threadKey), nil, func(docs []backend.Document) {
		cb(decodeMessages(docs))
	})
}

// SubscribeUnread 推送 viewer 所有会话的未读数
func (s *chatService) SubscribeUnread(viewer string, cb func(map[string]int64)) backend.Unsubscribe {
	return s.store.SubscribeQuery(constants.COLLECTION_CHATS, participatesIn(viewer), func(docs []backend.Document) {
		cb(UnreadFor(viewer, docs))
	})
}

// SubscribeTyping 推送正在输入的参与者（不含 viewer）
// 超过 typingStale 未刷新的输入标记视为已停止，到期时即使记录没有变化也会重新推送
func (s *chatService) SubscribeTyping(threadKey, viewer string, cb func([]string)) backend.Unsubscribe {
	w := &typingWatch{svc: s, viewer: viewer, cb: cb}
	unsub := s.store.SubscribeDocument(constants.COLLECTION_CHATS, threadKey, w.update)
	return func() {
		unsub()
		w.stop()
	}
}

// typingWatch 单个输入状态订阅，保留最近一次会话快照，在最早的输入标记过期时补推
type typingWatch struct {
	svc    *chatService
	viewer string
	cb     func([]string)

	mu      sync.Mutex
	thread  *model.ChatThread
	timer   *time.Timer
	stopped bool
}

func (w *typingWatch) update(doc *backend.Document) {
	var thread *model.ChatThread
	if doc != nil {
		t, err := decodeThread(doc)
		if err != nil {
			zap.L().Warn("skip malformed thread", zap.String("thread", doc.Key), zap.Error(err))
		} else {
			thread = t
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.thread = thread
	w.emitLocked()
}

func (w *typingWatch) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitLocked()
}

// emitLocked 推送仍有效的输入者，并为下一个到期的标记定时，调用方需持有 mu
func (w *typingWatch) emitLocked() {
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	now := w.svc.now()
	ids, next := liveTyping(w.thread, w.viewer, now, w.svc.typingStale)
	w.cb(ids)
	if !next.IsZero() {
		w.timer = time.AfterFunc(next.Sub(now), w.expire)
	}
}

func (w *typingWatch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// liveTyping 返回 now 时仍有效的输入者（不含 viewer）及其中最早的过期时刻
// 没有有效标记时 next 为零值
func liveTyping(thread *model.ChatThread, viewer string, now time.Time, stale time.Duration) (ids []string, next time.Time) {
	ids = []string{}
	if thread == nil {
		return ids, next
	}
	for id, typing := range thread.Typing {
		if !typing || id == viewer {
			continue
		}
		expiry := time.UnixMilli(thread.TypingAt[id]).Add(stale)
		if !expiry.After(now) {
			continue
		}
		ids = append(ids, id)
		if next.IsZero() || expiry.Before(next) {
			next = expiry
		}
	}
	sort.Strings(ids)
	return ids, next
}

// UnreadFor 从会话记录中取出 viewer 的未读数
func UnreadFor(viewer string, docs []backend.Document) map[string]int64 {
	field := model.ParticipantField(model.ChatFieldUnread, viewer)
	out := make(map[string]int64, len(docs))
	for i := range docs {
		out[docs[i].Key] = docs[i].Int(field)
	}
	return out
}

func participatesIn(viewer string) backend.Predicate {
	return func(doc *backend.Document) bool {
		return contains(doc.Strings(model.ChatFieldParticipants), viewer)
	}
}

func decodeThread(doc *backend.Document) (*model.ChatThread, error) {
	var thread model.ChatThread
	if err := doc.Decode(&thread); err != nil {
		return nil, errorx.Wrapf(err, errorx.CodeServerBusy, "解析会话 %s 失败", doc.Key)
	}
	thread.Key = doc.Key
	return &thread, nil
}

// decodeMessages 插入顺序即因果顺序，同序号时按时间升序
func decodeMessages(docs []backend.Document) []model.Message {
	out := make([]model.Message, 0, len(docs))
	for i := range docs {
		var m model.Message
		if err := docs[i].Decode(&m); err != nil {
			zap.L().Warn("skip malformed message", zap.String("id", docs[i].Key), zap.Error(err))
			continue
		}
		m.Seq = docs[i].Seq
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Timestamp < out[j].Timestamp
	})
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
