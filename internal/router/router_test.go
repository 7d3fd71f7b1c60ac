package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/gateway/websocket"
	"fresh_chat_server/internal/handler"
	"fresh_chat_server/internal/service"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/util/jwt"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	jwt.Init("router-test-secret", 10, 1)
	if err := handler.InitTrans("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type envelope struct {
	Code int             `json:"code"`
	Msg  any             `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type apiFixture struct {
	store   *backend.MemoryBackend
	engine  *gin.Engine
	manager *websocket.Manager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := backend.NewMemoryBackend()
	svc := service.NewServices(service.Deps{Store: store, Location: time.UTC})
	manager := websocket.NewManager(svc)
	engine := gin.New()
	NewRouter(handler.NewHandlers(svc, manager)).RegisterRoutes(engine)
	t.Cleanup(func() {
		manager.Close()
		_ = store.Close()
	})
	return &apiFixture{store: store, engine: engine, manager: manager}
}

func (f *apiFixture) call(t *testing.T, method, path, token string, body any) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: status %d body %q", method, path, w.Code, w.Body.String())
	}
	return env
}

func (f *apiFixture) ok(t *testing.T, method, path, token string, body any, out any) {
	t.Helper()
	env := f.call(t, method, path, token, body)
	if env.Code != errorx.CodeSuccess {
		t.Fatalf("%s %s: code %d msg %v", method, path, env.Code, env.Msg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("%s %s: decode %s: %v", method, path, env.Data, err)
		}
	}
}

type loginData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IsNew        bool   `json:"isNew"`
	Profile      struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"profile"`
}

func (f *apiFixture) guest(t *testing.T, name string) loginData {
	t.Helper()
	var data loginData
	f.ok(t, http.MethodPost, "/auth/guest", "", gin.H{"name": name}, &data)
	if data.AccessToken == "" || data.Profile.ID == "" || !data.IsNew {
		t.Fatalf("login %+v", data)
	}
	return data
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/user/me", "/feed", "/chat/unread", "/friend/list"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", path, w.Code)
		}
	}

	alice := f.guest(t, "Alice")
	// Refresh Token 不能访问业务接口
	req := httptest.NewRequest(http.MethodGet, "/user/me", nil)
	req.Header.Set("Authorization", "Bearer "+alice.RefreshToken)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token accepted: %d", w.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.guest(t, "Alice")

	var pair loginData
	f.ok(t, http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": alice.RefreshToken}, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == alice.RefreshToken {
		t.Fatalf("pair %+v", pair)
	}

	// 旧的 Refresh Token 已失效
	env := f.call(t, http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": alice.RefreshToken})
	if env.Code != errorx.CodeUnauthorized {
		t.Fatalf("stale refresh: code %d", env.Code)
	}
}

func TestGoogleLoginDisabledWithoutVerifier(t *testing.T) {
	f := newAPIFixture(t)
	env := f.call(t, http.MethodPost, "/auth/google", "", gin.H{"idToken": "x"})
	if env.Code != errorx.CodeForbidden {
		t.Fatalf("code %d", env.Code)
	}
}

func TestAppleLoginDisabledWithoutVerifier(t *testing.T) {
	f := newAPIFixture(t)
	env := f.call(t, http.MethodPost, "/auth/apple", "", gin.H{"idToken": "x"})
	if env.Code != errorx.CodeForbidden {
		t.Fatalf("code %d", env.Code)
	}
	if env = f.call(t, http.MethodPost, "/auth/apple", "", gin.H{}); env.Code != errorx.CodeInvalidParam {
		t.Fatalf("missing token: code %d", env.Code)
	}
}

func TestFriendAndChatFlow(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.guest(t, "Alice")
	bob := f.guest(t, "Bob")
	a, b := alice.Profile.ID, bob.Profile.ID
	key := pairKey(a, b)

	var rel struct {
		ThreadKey string `json:"threadKey"`
		OtherID   string `json:"otherId"`
		Status    string `json:"status"`
		Direction string `json:"direction"`
	}
	f.ok(t, http.MethodPost, "/friend/request", alice.AccessToken, gin.H{"targetId": b}, &rel)
	if rel.Status != "PENDING" || rel.Direction != "outgoing" || rel.OtherID != b || rel.ThreadKey != key {
		t.Fatalf("request %+v", rel)
	}
	f.ok(t, http.MethodGet, "/friend/status?targetId="+a, bob.AccessToken, nil, &rel)
	if rel.Direction != "incoming" {
		t.Fatalf("status %+v", rel)
	}
	env := f.call(t, http.MethodPost, "/friend/request", alice.AccessToken, gin.H{"targetId": b})
	if env.Code != errorx.CodeInvalidState {
		t.Fatalf("duplicate request: code %d", env.Code)
	}
	f.ok(t, http.MethodPost, "/friend/accept", bob.AccessToken, gin.H{"targetId": a}, &rel)
	if rel.Status != "FRIEND" {
		t.Fatalf("accept %+v", rel)
	}

	f.ok(t, http.MethodPost, "/chat/send", alice.AccessToken, gin.H{"threadKey": key, "type": "text", "text": "hello"}, nil)
	f.ok(t, http.MethodPost, "/chat/send", alice.AccessToken, gin.H{
		"threadKey": key,
		"type":      "location",
		"location":  gin.H{"latitude": 40.7, "longitude": -74.0},
	}, nil)

	var unread map[string]int64
	f.ok(t, http.MethodGet, "/chat/unread", bob.AccessToken, nil, &unread)
	if unread[key] != 2 {
		t.Fatalf("unread %v", unread)
	}

	var msgs []struct {
		Text   string `json:"text"`
		Type   string `json:"type"`
		IsRead bool   `json:"isRead"`
	}
	f.ok(t, http.MethodGet, "/chat/messages?threadKey="+key, bob.AccessToken, nil, &msgs)
	if len(msgs) != 2 || msgs[0].Text != "hello" || msgs[1].Type != "location" {
		t.Fatalf("messages %+v", msgs)
	}

	f.ok(t, http.MethodPost, "/chat/markRead", bob.AccessToken, gin.H{"threadKey": key}, nil)
	f.ok(t, http.MethodGet, "/chat/unread", bob.AccessToken, nil, &unread)
	if unread[key] != 0 {
		t.Fatalf("unread after read %v", unread)
	}
	f.ok(t, http.MethodGet, "/chat/messages?threadKey="+key, alice.AccessToken, nil, &msgs)
	if !msgs[0].IsRead || !msgs[1].IsRead {
		t.Fatalf("messages %+v", msgs)
	}

	var entries []struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Relationship string `json:"relationship"`
	}
	f.ok(t, http.MethodGet, "/feed?tab=friends", alice.AccessToken, nil, &entries)
	if len(entries) != 1 || entries[0].User.ID != b || entries[0].Relationship != "FRIEND" {
		t.Fatalf("feed %+v", entries)
	}
}

func TestChatRejectsOutsider(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.guest(t, "Alice")
	bob := f.guest(t, "Bob")
	carol := f.guest(t, "Carol")
	key := pairKey(alice.Profile.ID, bob.Profile.ID)

	env := f.call(t, http.MethodPost, "/chat/send", carol.AccessToken, gin.H{"threadKey": key, "type": "text", "text": "hi"})
	if env.Code != errorx.CodeForbidden {
		t.Fatalf("code %d", env.Code)
	}
	env = f.call(t, http.MethodPost, "/chat/send", alice.AccessToken, gin.H{"threadKey": "nope", "type": "text", "text": "hi"})
	if env.Code != errorx.CodeInvalidParam {
		t.Fatalf("code %d", env.Code)
	}
}

func TestProfileInteractions(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.guest(t, "Alice")
	bob := f.guest(t, "Bob")
	b := bob.Profile.ID

	f.ok(t, http.MethodPost, "/user/update", alice.AccessToken, gin.H{
		"name":     "Alice L",
		"age":      30,
		"location": gin.H{"latitude": 40.7128, "longitude": -74.0060},
	}, nil)
	f.ok(t, http.MethodPost, "/user/update", bob.AccessToken, gin.H{
		"location": gin.H{"latitude": 40.7580, "longitude": -73.9855},
	}, nil)
	env := f.call(t, http.MethodPost, "/user/update", alice.AccessToken, gin.H{"age": 12})
	if env.Code != errorx.CodeInvalidParam {
		t.Fatalf("underage accepted: %d", env.Code)
	}

	var count struct {
		Count int64 `json:"count"`
	}
	f.ok(t, http.MethodPost, "/user/heart", alice.AccessToken, gin.H{"targetId": b}, &count)
	if count.Count != 1 {
		t.Fatalf("hearts %d", count.Count)
	}
	f.ok(t, http.MethodPost, "/user/view", alice.AccessToken, gin.H{"targetId": b}, &count)
	if count.Count != 1 {
		t.Fatalf("views %d", count.Count)
	}

	var profile struct {
		ID         string   `json:"id"`
		Hearts     int64    `json:"hearts"`
		XP         int64    `json:"xp"`
		Presence   string   `json:"presence"`
		DistanceKm *float64 `json:"distanceKm"`
	}
	f.ok(t, http.MethodGet, "/user/profile?targetId="+b, alice.AccessToken, nil, &profile)
	if profile.Hearts != 1 || profile.XP != 12 || profile.Presence != "ONLINE" {
		t.Fatalf("profile %+v", profile)
	}
	if profile.DistanceKm == nil || *profile.DistanceKm < 5 || *profile.DistanceKm > 7 {
		t.Fatalf("distance %v", profile.DistanceKm)
	}

	f.ok(t, http.MethodPost, "/user/block", bob.AccessToken, gin.H{"targetId": alice.Profile.ID}, nil)
	env = f.call(t, http.MethodPost, "/user/heart", alice.AccessToken, gin.H{"targetId": b})
	if env.Code != errorx.CodeInvalidState {
		t.Fatalf("heart after block: %d", env.Code)
	}

	var report struct {
		ID string `json:"id"`
	}
	f.ok(t, http.MethodPost, "/user/report", alice.AccessToken, gin.H{"targetId": b, "reason": "spam"}, &report)
	if report.ID == "" {
		t.Fatal("empty report id")
	}

	var status struct {
		Status string `json:"status"`
	}
	f.ok(t, http.MethodGet, "/presence/status?targetId="+b, alice.AccessToken, nil, &status)
	if status.Status != "ONLINE" {
		t.Fatalf("presence %+v", status)
	}

	f.ok(t, http.MethodPost, "/user/delete", bob.AccessToken, nil, nil)
	env = f.call(t, http.MethodGet, "/user/profile?targetId="+b, alice.AccessToken, nil)
	if env.Code != errorx.CodeUserNotExist {
		t.Fatalf("deleted profile: %d", env.Code)
	}
}

func TestWebSocketAcceptsQueryToken(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.guest(t, "Alice")
	server := httptest.NewServer(f.engine)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/wss?token=" + alice.AccessToken
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var fr websocket.Outbound
	if err := conn.ReadJSON(&fr); err != nil {
		t.Fatal(err)
	}
	if fr.Type == "" {
		t.Fatalf("frame %+v", fr)
	}

	if _, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/wss", nil); err == nil {
		t.Fatal("dial without token succeeded")
	}
}
