package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/pkg/errorx"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := InitTrans("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHandleErrorKeepsBusinessCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errorx.New(errorx.CodeInvalidState, "已经是好友"), errorx.CodeInvalidState},
		{errorx.Wrap(errors.New("dial tcp"), errorx.CodeBackendUnavailable, "存储不可用"), errorx.CodeBackendUnavailable},
		{errors.New("boom"), errorx.CodeServerBusy},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
		HandleError(c, tc.err)

		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		if got := int(decodeBody(t, w)["code"].(float64)); got != tc.want {
			t.Fatalf("%v: code %d, want %d", tc.err, got, tc.want)
		}
	}
}

func bindJSON(t *testing.T, body string, dst any) (*httptest.ResponseRecorder, error) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	err := c.ShouldBindJSON(dst)
	if err != nil {
		HandleParamError(c, err)
	}
	return w, err
}

func TestThreadKeyValidation(t *testing.T) {
	for _, key := range []string{"A_B", "U1_U2"} {
		var req request.ThreadRequest
		if _, err := bindJSON(t, `{"threadKey":"`+key+`"}`, &req); err != nil {
			t.Fatalf("%s rejected: %v", key, err)
		}
	}
	for _, key := range []string{"B_A", "A", "A_B_C", "_B", "A_A"} {
		var req request.ThreadRequest
		w, err := bindJSON(t, `{"threadKey":"`+key+`"}`, &req)
		if err == nil {
			t.Fatalf("%s accepted", key)
		}
		body := decodeBody(t, w)
		msg, _ := body["msg"].(map[string]any)
		if int(body["code"].(float64)) != errorx.CodeInvalidParam || !strings.Contains(msg["threadKey"].(string), "valid thread key") {
			t.Fatalf("%s: body %v", key, body)
		}
	}
}

func TestParamErrorUsesJSONFieldNames(t *testing.T) {
	var req request.ReportRequest
	w, err := bindJSON(t, `{"targetId":"U2"}`, &req)
	if err == nil {
		t.Fatal("missing reason accepted")
	}
	msg, ok := decodeBody(t, w)["msg"].(map[string]any)
	if !ok {
		t.Fatalf("msg %s", w.Body.String())
	}
	if _, ok := msg["reason"]; !ok {
		t.Fatalf("msg keys %v", msg)
	}
}

func TestMalformedJSONIsInvalidParam(t *testing.T) {
	var req request.FriendRequest
	w, err := bindJSON(t, `{"targetId":`, &req)
	if err == nil {
		t.Fatal("malformed body accepted")
	}
	body := decodeBody(t, w)
	if int(body["code"].(float64)) != errorx.CodeInvalidParam || body["msg"] != errorx.ErrInvalidParam.Msg {
		t.Fatalf("body %v", body)
	}
}

func TestSendMessageRequestRejectsUnknownType(t *testing.T) {
	var req request.SendMessageRequest
	if _, err := bindJSON(t, `{"threadKey":"A_B","type":"video","text":"x"}`, &req); err == nil {
		t.Fatal("video accepted")
	}
	req = request.SendMessageRequest{}
	if _, err := bindJSON(t, `{"threadKey":"A_B","type":"text","text":"hi"}`, &req); err != nil {
		t.Fatal(err)
	}
	msg := req.ToMessage("A")
	if msg.SenderID != "A" || msg.Text != "hi" || msg.ID != "" {
		t.Fatalf("message %+v", msg)
	}
}
