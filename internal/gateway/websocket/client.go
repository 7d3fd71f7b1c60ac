package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/dto/respond"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/chat"
	"fresh_chat_server/internal/service/feed"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 * 1024
	actionTimeout  = 5 * time.Second
	touchInterval  = 30 * time.Second
)

// FeedFrame feed 帧的内容，带上过滤条件以便客户端丢弃切换前的旧快照
type FeedFrame struct {
	Filter  feed.Filter  `json:"filter"`
	Entries []feed.Entry `json:"entries"`
}

// threadState 已打开会话的订阅与输入状态
type threadState struct {
	unsubs []backend.Unsubscribe
	typing *chat.TypingIndicator
}

func (t *threadState) release(ctx context.Context) {
	for _, u := range t.unsubs {
		u()
	}
	if err := t.typing.Stop(ctx); err != nil {
		zap.L().Warn("stop typing failed", zap.Error(err))
	}
}

// Client 单个 WebSocket 连接
// 只有 writeLoop 写连接，订阅回调通过 send 通道投递
type Client struct {
	manager *Manager
	conn    *websocket.Conn
	userID  string
	send    chan Outbound
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	closed    bool
	baseUnsub []backend.Unsubscribe
	feedUnsub backend.Unsubscribe
	threads   map[string]*threadState
	lastTouch time.Time
}

func newClient(m *Manager, conn *websocket.Conn, userID string) *Client {
	return &Client{
		manager: m,
		conn:    conn,
		userID:  userID,
		send:    make(chan Outbound, constants.CHANNEL_SIZE),
		done:    make(chan struct{}),
		threads: make(map[string]*threadState),
	}
}

// start 建立连接级订阅：关系、未读与默认列表
func (c *Client) start() {
	svc := c.manager.svc
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	c.touch(ctx)

	rel := svc.Relationship.Subscribe(c.userID, func(rels []model.Relationship) {
		c.push(Outbound{Type: FrameRelationships, Data: respond.NewRelationshipList(c.userID, rels)})
	})
	unread := svc.Chat.SubscribeUnread(c.userID, func(counts map[string]int64) {
		c.push(Outbound{Type: FrameUnread, Data: counts})
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		rel()
		unread()
		return
	}
	c.baseUnsub = append(c.baseUnsub, rel, unread)
	c.mu.Unlock()

	if err := c.setFeedFilter(feed.Filter{}); err != nil {
		zap.L().Warn("subscribe feed failed", zap.String("user_id", c.userID), zap.Error(err))
	}
}

// push 非阻塞投递，缓冲满说明客户端读得太慢，直接断开
func (c *Client) push(out Outbound) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- out:
	case <-c.done:
	default:
		zap.L().Warn("ws send buffer full, closing", zap.String("user_id", c.userID))
		// 回调运行在订阅协程中，不能在这里同步取消订阅
		go c.close()
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case out := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(out); err != nil {
				zap.L().Debug("ws write failed", zap.String("user_id", c.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Warn("ws read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.push(Outbound{Type: FrameError, Data: errorData(errorx.ErrInvalidParam)})
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	chatSvc := c.manager.svc.Chat

	if in.Action != ActionKeystroke {
		c.touch(ctx)
	}

	var err error
	switch in.Action {
	case ActionOpenThread:
		err = c.openThread(ctx, in.ThreadKey)
	case ActionCloseThread:
		c.closeThread(ctx, in.ThreadKey)
	case ActionKeystroke:
		err = c.withThread(in.ThreadKey, func(t *threadState) error { return t.typing.Keystroke(ctx) })
	case ActionStopTyping:
		err = c.withThread(in.ThreadKey, func(t *threadState) error { return t.typing.Stop(ctx) })
	case ActionMarkRead:
		err = chatSvc.MarkRead(ctx, in.ThreadKey, c.userID)
	case ActionSend:
		err = c.sendMessage(ctx, in)
	case ActionFeedFilter:
		var f feed.Filter
		if in.Filter != nil {
			f = in.Filter.Filter()
		}
		err = c.setFeedFilter(f)
	default:
		err = errorx.Newf(errorx.CodeInvalidParam, "未知的动作 %q", in.Action)
	}
	if err != nil {
		c.push(Outbound{Type: FrameError, ThreadKey: in.ThreadKey, Action: in.Action, Data: errorData(err)})
	}
}

// touch 刷新在线状态，同一连接 touchInterval 内最多一次
func (c *Client) touch(ctx context.Context) {
	c.mu.Lock()
	if time.Since(c.lastTouch) < touchInterval {
		c.mu.Unlock()
		return
	}
	c.lastTouch = time.Now()
	c.mu.Unlock()

	if err := c.manager.svc.Presence.Touch(ctx, c.userID); err != nil {
		zap.L().Debug("touch presence failed", zap.String("user_id", c.userID), zap.Error(err))
	}
}

// openThread 校验参与者后订阅消息与输入状态，重复打开无副作用
func (c *Client) openThread(ctx context.Context, key string) error {
	chatSvc := c.manager.svc.Chat
	if _, err := chatSvc.Thread(ctx, key, c.userID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.threads[key]; ok {
		c.mu.Unlock()
		return nil
	}
	st := &threadState{typing: chat.NewTypingIndicator(chatSvc, key, c.userID, constants.TYPING_TIMEOUT)}
	c.threads[key] = st
	c.mu.Unlock()

	msgs := chatSvc.Subscribe(key, func(list []model.Message) {
		c.push(Outbound{Type: FrameMessages, ThreadKey: key, Data: list})
	})
	typing := chatSvc.SubscribeTyping(key, c.userID, func(ids []string) {
		c.push(Outbound{Type: FrameTyping, ThreadKey: key, Data: ids})
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.threads[key] != st {
		msgs()
		typing()
		return nil
	}
	st.unsubs = []backend.Unsubscribe{msgs, typing}
	return nil
}

func (c *Client) closeThread(ctx context.Context, key string) {
	c.mu.Lock()
	st, ok := c.threads[key]
	delete(c.threads, key)
	c.mu.Unlock()
	if ok {
		st.release(ctx)
	}
}

func (c *Client) thread(key string) *threadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads[key]
}

func (c *Client) withThread(key string, fn func(t *threadState) error) error {
	st := c.thread(key)
	if st == nil {
		return errorx.Newf(errorx.CodeInvalidState, "会话 %s 未打开", key)
	}
	return fn(st)
}

func (c *Client) sendMessage(ctx context.Context, in Inbound) error {
	if in.Message == nil {
		return errorx.New(errorx.CodeInvalidParam, "缺少消息内容")
	}
	req := *in.Message
	if req.ThreadKey == "" {
		req.ThreadKey = in.ThreadKey
	}
	msg, err := c.manager.svc.Chat.Send(ctx, req.ThreadKey, req.ToMessage(c.userID))
	if err != nil {
		return err
	}
	if st := c.thread(req.ThreadKey); st != nil {
		if err := st.typing.Stop(ctx); err != nil {
			zap.L().Warn("stop typing after send failed", zap.Error(err))
		}
	}
	c.push(Outbound{Type: FrameAck, ThreadKey: req.ThreadKey, Action: ActionSend, Data: msg})
	return nil
}

// setFeedFilter 替换列表订阅
func (c *Client) setFeedFilter(f feed.Filter) error {
	f, err := f.Normalize()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	prev := c.feedUnsub
	c.feedUnsub = nil
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	unsub := c.manager.svc.Feed.Subscribe(c.userID, f, func(entries []feed.Entry) {
		c.push(Outbound{Type: FrameFeed, Data: FeedFrame{Filter: f, Entries: entries}})
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		unsub()
		return nil
	}
	c.feedUnsub = unsub
	return nil
}

// close 幂等：断开连接、取消全部订阅并清除输入状态
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.manager.unregister(c)

		c.mu.Lock()
		c.closed = true
		unsubs := c.baseUnsub
		if c.feedUnsub != nil {
			unsubs = append(unsubs, c.feedUnsub)
		}
		threads := c.threads
		c.baseUnsub, c.feedUnsub, c.threads = nil, nil, nil
		c.mu.Unlock()

		for _, u := range unsubs {
			u()
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		for _, st := range threads {
			st.release(ctx)
		}
		zap.L().Info("ws disconnected", zap.String("user_id", c.userID))
	})
}
