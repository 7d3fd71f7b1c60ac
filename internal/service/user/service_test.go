package user

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/gamification"
	"fresh_chat_server/pkg/constants"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/geo"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*userService, *backend.MemoryBackend) {
	t.Helper()
	store := backend.NewMemoryBackend()
	t.Cleanup(func() { store.Close() })
	svc := NewUserService(store, gamification.NewEngine(store), func() time.Time { return fixedNow })
	return svc, store
}

func login(t *testing.T, svc *userService, id string) *model.UserProfile {
	t.Helper()
	p, _, err := svc.EnsureProfile(context.Background(), model.Identity{ID: id, Name: id, AuthMethod: model.AuthGoogle})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEnsureProfileCreatesOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, created, err := svc.EnsureProfile(ctx, model.Identity{ID: "U1", Name: " amy ", AvatarURL: "a.png", AuthMethod: model.AuthGoogle})
	if err != nil || !created {
		t.Fatalf("got %v %v", created, err)
	}
	if p.Name != "amy" || p.Level != 1 || p.PhotoURL != "a.png" || p.CreatedAt != fixedNow.UnixMilli() {
		t.Fatalf("profile %+v", p)
	}

	if _, err := svc.UpdateProfile(ctx, "U1", ProfileUpdate{Bio: ptr("hello")}); err != nil {
		t.Fatal(err)
	}
	// 再次登录不覆盖已有资料
	p, created, err = svc.EnsureProfile(ctx, model.Identity{ID: "U1", Name: "other", AuthMethod: model.AuthGoogle})
	if err != nil || created {
		t.Fatalf("got %v %v", created, err)
	}
	if p.Name != "amy" || p.Bio != "hello" {
		t.Fatalf("profile %+v", p)
	}
}

func TestEnsureProfileGuest(t *testing.T) {
	svc, _ := newService(t)
	p, created, err := svc.EnsureProfile(context.Background(), model.Identity{AuthMethod: model.AuthGuest})
	if err != nil || !created {
		t.Fatal(err)
	}
	if !strings.HasPrefix(p.ID, "G") || p.Name != "Guest" || p.AuthMethod != model.AuthGuest {
		t.Fatalf("profile %+v", p)
	}
	if _, _, err := svc.EnsureProfile(context.Background(), model.Identity{ID: "a_b"}); !errorx.IsValidation(err) {
		t.Fatalf("got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestUpdateProfile(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	login(t, svc, "U1")
	if _, err := store.AtomicIncrement(ctx, constants.COLLECTION_USERS, "U1", model.UserFieldHearts, 7); err != nil {
		t.Fatal(err)
	}

	p, err := svc.UpdateProfile(ctx, "U1", ProfileUpdate{
		Name:      ptr("Amy"),
		Age:       ptr(29),
		Interests: []string{"hiking", " hiking", "jazz", ""},
		Location:  &geo.Point{Latitude: 40.7, Longitude: -74},
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Amy" || p.Age != 29 || len(p.Interests) != 2 || p.Location == nil {
		t.Fatalf("profile %+v", p)
	}
	if p.Hearts != 7 {
		t.Fatalf("counter touched: %d", p.Hearts)
	}

	bad := []ProfileUpdate{
		{Name: ptr(" ")},
		{Age: ptr(12)},
		{Bio: ptr(strings.Repeat("b", bioMaxLength+1))},
		{Album: make([]string, albumMaxSize+1)},
		{Location: &geo.Point{Latitude: 100}},
	}
	for i, req := range bad {
		if _, err := svc.UpdateProfile(ctx, "U1", req); !errorx.IsValidation(err) {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
	if _, err := svc.UpdateProfile(ctx, "ghost", ProfileUpdate{Bio: ptr("x")}); errorx.GetCode(err) != errorx.CodeUserNotExist {
		t.Fatalf("got %v", err)
	}
	if doc, _ := store.Get(ctx, constants.COLLECTION_USERS, "ghost"); doc != nil {
		t.Fatal("update created a ghost record")
	}
}

func TestSendHeartUnlocksPopular(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	login(t, svc, "A")
	login(t, svc, "B")

	var wg sync.WaitGroup
	for i := 0; i < constants.HEARTS_POPULAR; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SendHeart(ctx, "A", "B"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	p, err := svc.GetProfile(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	if p.Hearts != constants.HEARTS_POPULAR || p.XP != constants.HEARTS_POPULAR*constants.XP_HEART_RECEIVED {
		t.Fatalf("hearts=%d xp=%d", p.Hearts, p.XP)
	}
	if !p.HasBadge(constants.BADGE_POPULAR) {
		t.Fatalf("badges %v", p.Badges)
	}

	if _, err := svc.SendHeart(ctx, "A", "A"); !errorx.IsValidation(err) {
		t.Fatalf("got %v", err)
	}
	if _, err := svc.SendHeart(ctx, "A", "ghost"); errorx.GetCode(err) != errorx.CodeUserNotExist {
		t.Fatalf("got %v", err)
	}
}

func TestTrackProfileVisit(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	login(t, svc, "A")
	login(t, svc, "B")

	if n, err := svc.TrackProfileVisit(ctx, "A", "A"); err != nil || n != 0 {
		t.Fatalf("self visit %d %v", n, err)
	}
	if n, err := svc.TrackProfileVisit(ctx, "A", "B"); err != nil || n != 1 {
		t.Fatalf("visit %d %v", n, err)
	}
	p, _ := svc.GetProfile(ctx, "B")
	if p.Views != 1 || p.XP != constants.XP_PROFILE_VIEWED {
		t.Fatalf("views=%d xp=%d", p.Views, p.XP)
	}
}

func TestBlockUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	login(t, svc, "A")
	login(t, svc, "B")

	for i := 0; i < 2; i++ {
		if err := svc.BlockUser(ctx, "B", "A"); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := svc.GetProfile(ctx, "B")
	if len(p.BlockedUsers) != 1 || !p.HasBlocked("A") {
		t.Fatalf("blocked %v", p.BlockedUsers)
	}
	// 被拉黑后不能再送爱心
	if _, err := svc.SendHeart(ctx, "A", "B"); !errorx.IsInvalidState(err) {
		t.Fatalf("got %v", err)
	}
	if err := svc.BlockUser(ctx, "B", "B"); !errorx.IsValidation(err) {
		t.Fatalf("got %v", err)
	}
}

func TestReportAndDelete(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	login(t, svc, "A")

	r, err := svc.ReportUser(ctx, "A", "B", "  spam  ")
	if err != nil {
		t.Fatal(err)
	}
	if r.Reason != "spam" || !strings.HasPrefix(r.ID, "R") {
		t.Fatalf("report %+v", r)
	}
	docs, _ := store.List(ctx, constants.COLLECTION_REPORTS, nil)
	if len(docs) != 1 || docs[0].String("reportedId") != "B" {
		t.Fatalf("reports %v", docs)
	}
	if _, err := svc.ReportUser(ctx, "A", "B", ""); !errorx.IsValidation(err) {
		t.Fatalf("got %v", err)
	}

	if err := svc.DeleteAccount(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetProfile(ctx, "A"); errorx.GetCode(err) != errorx.CodeUserNotExist {
		t.Fatalf("got %v", err)
	}
	// 举报记录不随账号删除
	if docs, _ := store.List(ctx, constants.COLLECTION_REPORTS, nil); len(docs) != 1 {
		t.Fatal("delete cascaded")
	}
}
