package presence

import (
	"context"
	"testing"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
)

func TestClassify(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want Status
	}{
		{0, Online},
		{14*time.Minute + 59*time.Second, Online},
		{15 * time.Minute, Away},
		{59 * time.Minute, Away},
		{60 * time.Minute, Offline},
		{48 * time.Hour, Offline},
	}
	for _, tc := range cases {
		if got := Classify(now.Add(-tc.ago), now); got != tc.want {
			t.Errorf("Classify(-%v) = %s, want %s", tc.ago, got, tc.want)
		}
	}
}

func TestTouch(t *testing.T) {
	store := backend.NewMemoryBackend()
	defer store.Close()
	ctx := context.Background()
	if err := store.UpsertRecord(ctx, constants.COLLECTION_USERS, "U1", backend.Fields{model.UserFieldName: "amy"}); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(store, func() time.Time { return now })
	if err := tr.Touch(ctx, "U1"); err != nil {
		t.Fatal(err)
	}
	doc, _ := store.Get(ctx, constants.COLLECTION_USERS, "U1")
	if doc.Int(model.UserFieldLastActive) != now.UnixMilli() || doc.String(model.UserFieldName) != "amy" {
		t.Fatalf("fields %v", doc.Fields)
	}

	// 回拨不会让活跃时间倒退
	later := now
	now = now.Add(-time.Hour)
	if err := tr.Touch(ctx, "U1"); err != nil {
		t.Fatal(err)
	}
	doc, _ = store.Get(ctx, constants.COLLECTION_USERS, "U1")
	if doc.Int(model.UserFieldLastActive) != later.UnixMilli() {
		t.Fatal("lastActive moved backwards")
	}

	now = later.Add(20 * time.Minute)
	if st, err := tr.StatusOf(ctx, "U1"); err != nil || st != Away {
		t.Fatalf("got %s %v", st, err)
	}

	if err := tr.Touch(ctx, "ghost"); errorx.GetCode(err) != errorx.CodeUserNotExist {
		t.Fatalf("got %v", err)
	}
	// 不存在的用户不会被心跳创建
	if doc, err := store.Get(ctx, constants.COLLECTION_USERS, "ghost"); err != nil || doc != nil {
		t.Fatalf("got %v %v", doc, err)
	}
}
