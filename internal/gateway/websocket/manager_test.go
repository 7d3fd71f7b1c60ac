package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/internal/infrastructure/mq"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"

	"github.com/gorilla/websocket"
)

// frame 测试端解析的下行帧
type frame struct {
	Type      string          `json:"type"`
	ThreadKey string          `json:"threadKey"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
}

type gatewayFixture struct {
	store   *backend.MemoryBackend
	svc     *service.Services
	manager *Manager
	server  *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{store: backend.NewMemoryBackend()}
	dispatcher := mq.NewChannelDispatcher(2, 16)
	f.svc = service.NewServices(service.Deps{Store: f.store, Notifier: dispatcher, Location: time.UTC})
	f.manager = NewManager(f.svc)
	dispatcher.SetSender(f.manager)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f.manager.Serve(w, r, r.URL.Query().Get("uid")); err != nil {
			t.Logf("serve: %v", err)
		}
	}))
	t.Cleanup(func() {
		f.manager.Close()
		f.server.Close()
		_ = dispatcher.Close()
		_ = f.store.Close()
	})

	ctx := context.Background()
	for _, id := range []string{"UA", "UB", "UC"} {
		fields := backend.Fields{model.UserFieldName: id, model.UserFieldLastActive: time.Now().UnixMilli()}
		if err := f.store.UpsertRecord(ctx, constants.COLLECTION_USERS, id, fields); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Relationship.RequestFriend(ctx, "UA", "UB"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Relationship.AcceptFriend(ctx, "UB", "UA"); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *gatewayFixture) dial(t *testing.T, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?uid=" + uid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, in Inbound) {
	t.Helper()
	if err := conn.WriteJSON(in); err != nil {
		t.Fatal(err)
	}
}

// readUntil 读取帧直到 match 返回 true，其余帧被丢弃
func readUntil(t *testing.T, conn *websocket.Conn, desc string, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			t.Fatalf("waiting for %s: %v", desc, err)
		}
		if match(fr) {
			return fr
		}
	}
}

func ofType(typ string) func(frame) bool {
	return func(fr frame) bool { return fr.Type == typ }
}

func TestConnectStreamsInitialSnapshots(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "UA")

	seen := map[string]bool{}
	readUntil(t, conn, "initial snapshots", func(fr frame) bool {
		seen[fr.Type] = true
		return seen[FrameRelationships] && seen[FrameUnread] && seen[FrameFeed]
	})

	if f.manager.Online("UA") != 1 {
		t.Fatalf("online = %d", f.manager.Online("UA"))
	}
}

func TestSendDeliversMessagesUnreadAndNotification(t *testing.T) {
	f := newGatewayFixture(t)
	key := model.PairKey("UA", "UB")
	a := f.dial(t, "UA")
	b := f.dial(t, "UB")

	send(t, a, Inbound{Action: ActionOpenThread, ThreadKey: key})
	readUntil(t, a, "empty thread", func(fr frame) bool {
		return fr.Type == FrameMessages && fr.ThreadKey == key && string(fr.Data) == "[]"
	})

	send(t, a, Inbound{Action: ActionSend, ThreadKey: key, Message: &request.SendMessageRequest{
		Type: model.MessageText,
		Text: "hi",
	}})
	ack := readUntil(t, a, "ack", ofType(FrameAck))
	var sent model.Message
	if err := json.Unmarshal(ack.Data, &sent); err != nil || sent.ID == "" || sent.SenderID != "UA" {
		t.Fatalf("ack %s err %v", ack.Data, err)
	}
	readUntil(t, a, "message list", func(fr frame) bool {
		var list []model.Message
		_ = json.Unmarshal(fr.Data, &list)
		return fr.Type == FrameMessages && len(list) == 1 && list[0].Text == "hi"
	})

	note := readUntil(t, b, "notification", ofType(FrameNotification))
	var n model.Notification
	if err := json.Unmarshal(note.Data, &n); err != nil {
		t.Fatal(err)
	}
	if n.Type != model.NotifyNewMessage || n.SourceID != "UA" || n.ThreadKey != key {
		t.Fatalf("notification %+v", n)
	}
	readUntil(t, b, "unread 1", func(fr frame) bool {
		var counts map[string]int64
		_ = json.Unmarshal(fr.Data, &counts)
		return fr.Type == FrameUnread && counts[key] == 1
	})

	send(t, b, Inbound{Action: ActionMarkRead, ThreadKey: key})
	readUntil(t, b, "unread 0", func(fr frame) bool {
		var counts map[string]int64
		_ = json.Unmarshal(fr.Data, &counts)
		v, ok := counts[key]
		return fr.Type == FrameUnread && ok && v == 0
	})
}

func TestTypingIsVisibleToOtherParticipant(t *testing.T) {
	f := newGatewayFixture(t)
	key := model.PairKey("UA", "UB")
	a := f.dial(t, "UA")
	b := f.dial(t, "UB")

	send(t, a, Inbound{Action: ActionOpenThread, ThreadKey: key})
	send(t, b, Inbound{Action: ActionOpenThread, ThreadKey: key})
	send(t, b, Inbound{Action: ActionKeystroke, ThreadKey: key})

	readUntil(t, a, "typing UB", func(fr frame) bool {
		var ids []string
		_ = json.Unmarshal(fr.Data, &ids)
		return fr.Type == FrameTyping && len(ids) == 1 && ids[0] == "UB"
	})

	// 断开连接会清除输入状态
	_ = b.Close()
	readUntil(t, a, "typing cleared", func(fr frame) bool {
		return fr.Type == FrameTyping && (string(fr.Data) == "[]" || len(fr.Data) == 0 || string(fr.Data) == "null")
	})
}

func TestErrorsAreReportedAsFrames(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t, "UA")

	send(t, a, Inbound{Action: ActionOpenThread, ThreadKey: model.PairKey("UB", "UC")})
	fr := readUntil(t, a, "forbidden", ofType(FrameError))
	var e ErrorData
	if err := json.Unmarshal(fr.Data, &e); err != nil || e.Code != errorx.CodeForbidden || fr.Action != ActionOpenThread {
		t.Fatalf("error frame %+v %s", fr, fr.Data)
	}

	send(t, a, Inbound{Action: ActionKeystroke, ThreadKey: model.PairKey("UA", "UB")})
	fr = readUntil(t, a, "thread not open", ofType(FrameError))
	_ = json.Unmarshal(fr.Data, &e)
	if e.Code != errorx.CodeInvalidState {
		t.Fatalf("code %d", e.Code)
	}

	send(t, a, Inbound{Action: "dance"})
	fr = readUntil(t, a, "unknown action", ofType(FrameError))
	_ = json.Unmarshal(fr.Data, &e)
	if e.Code != errorx.CodeInvalidParam {
		t.Fatalf("code %d", e.Code)
	}

	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, a, "bad json", ofType(FrameError))
}

func TestFeedFilterReplacesSubscription(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t, "UA")

	send(t, a, Inbound{Action: ActionFeedFilter, Filter: &request.FeedRequest{Tab: "friends"}})
	fr := readUntil(t, a, "friends feed", func(fr frame) bool {
		var ff FeedFrame
		_ = json.Unmarshal(fr.Data, &ff)
		return fr.Type == FrameFeed && ff.Filter.Tab == "friends"
	})
	var ff FeedFrame
	if err := json.Unmarshal(fr.Data, &ff); err != nil {
		t.Fatal(err)
	}
	if len(ff.Entries) != 1 || ff.Entries[0].User.ID != "UB" {
		t.Fatalf("entries %+v", ff.Entries)
	}

	send(t, a, Inbound{Action: ActionFeedFilter, Filter: &request.FeedRequest{Tab: "upside-down"}})
	readUntil(t, a, "invalid tab", ofType(FrameError))
}

func TestDisconnectUnregisters(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t, "UA")
	readUntil(t, a, "snapshot", ofType(FrameRelationships))
	_ = a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.manager.Online("UA") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// 离线用户的通知直接丢弃
	f.manager.SendNotification(model.Notification{Type: model.NotifyFriendRequest, TargetID: "UA"})
}
