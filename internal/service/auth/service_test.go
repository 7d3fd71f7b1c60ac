package auth

import (
	"context"
	"testing"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/infrastructure/oauth"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/gamification"
	"fresh_chat_server/internal/service/user"
	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/util/jwt"
)

type stubVerifier struct {
	identity *model.Identity
	err      error
}

func (s stubVerifier) Verify(context.Context, string) (*model.Identity, error) {
	return s.identity, s.err
}

func newService(t *testing.T, google stubVerifier) *Service {
	return newServiceWith(t, google, nil)
}

func newServiceWith(t *testing.T, google, apple oauth.Verifier) *Service {
	t.Helper()
	jwt.Init("auth-test-secret-auth-test-secret", 30, 24)
	store := backend.NewMemoryBackend()
	t.Cleanup(func() { store.Close() })
	users := user.NewUserService(store, gamification.NewEngine(store), nil)
	return NewAuthService(store, users, google, apple)
}

func TestGoogleLoginAndRefreshRotation(t *testing.T) {
	svc := newService(t, stubVerifier{identity: &model.Identity{ID: "1098765", Name: "amy", AuthMethod: model.AuthGoogle}})
	ctx := context.Background()

	res, err := svc.GoogleLogin(ctx, "id-token")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsNew || res.Profile.ID != "1098765" || res.Profile.RefreshTokenID != "" {
		t.Fatalf("result %+v", res)
	}
	claims, err := jwt.Parse(res.AccessToken, jwt.KindAccess)
	if err != nil || claims.UserID != "1098765" {
		t.Fatalf("access token %v %v", claims, err)
	}

	pair, err := svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	// 旧 Refresh Token 只能使用一次
	if _, err := svc.Refresh(ctx, res.RefreshToken); errorx.GetCode(err) != errorx.CodeUnauthorized {
		t.Fatalf("reuse: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("rotated token: %v", err)
	}
	// Access Token 不能用于刷新
	if _, err := svc.Refresh(ctx, pair.AccessToken); errorx.GetCode(err) != errorx.CodeUnauthorized {
		t.Fatalf("access as refresh: %v", err)
	}

	again, err := svc.GoogleLogin(ctx, "id-token")
	if err != nil || again.IsNew {
		t.Fatalf("second login %+v %v", again, err)
	}
}

func TestValidateTokenID(t *testing.T) {
	svc := newService(t, stubVerifier{})
	ctx := context.Background()
	res, err := svc.GuestLogin(ctx, "visitor")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := jwt.Parse(res.RefreshToken, jwt.KindRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := svc.ValidateTokenID(ctx, res.Profile.ID, claims.RotationID()); err != nil || !ok {
		t.Fatalf("got %v %v", ok, err)
	}
	if ok, _ := svc.ValidateTokenID(ctx, res.Profile.ID, "stale"); ok {
		t.Fatal("stale token accepted")
	}
	if ok, _ := svc.ValidateTokenID(ctx, "ghost", claims.RotationID()); ok {
		t.Fatal("unknown user accepted")
	}
}

func TestGoogleLoginDisabledOrRejected(t *testing.T) {
	store := backend.NewMemoryBackend()
	defer store.Close()
	disabled := NewAuthService(store, user.NewUserService(store, gamification.NewEngine(store), nil), nil, nil)
	if _, err := disabled.GoogleLogin(context.Background(), "x"); errorx.GetCode(err) != errorx.CodeForbidden {
		t.Fatalf("got %v", err)
	}

	svc := newService(t, stubVerifier{err: errorx.New(errorx.CodeUnauthorized, "bad token")})
	if _, err := svc.GoogleLogin(context.Background(), "x"); errorx.GetCode(err) != errorx.CodeUnauthorized {
		t.Fatalf("got %v", err)
	}
}

func TestAppleLogin(t *testing.T) {
	google := stubVerifier{identity: &model.Identity{ID: "1098765", Name: "amy", AuthMethod: model.AuthGoogle}}
	apple := stubVerifier{identity: &model.Identity{ID: "001234-abcdef", Name: "x7k2p9", AuthMethod: model.AuthApple}}
	ctx := context.Background()

	onlyGoogle := newServiceWith(t, google, nil)
	if _, err := onlyGoogle.AppleLogin(ctx, "x"); errorx.GetCode(err) != errorx.CodeForbidden {
		t.Fatalf("got %v", err)
	}

	svc := newServiceWith(t, google, apple)
	res, err := svc.AppleLogin(ctx, "apple-token")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsNew || res.Profile.ID != "001234-abcdef" || res.Profile.AuthMethod != model.AuthApple {
		t.Fatalf("result %+v", res)
	}
	claims, err := jwt.Parse(res.AccessToken, jwt.KindAccess)
	if err != nil || claims.UserID != "001234-abcdef" {
		t.Fatalf("access token %v %v", claims, err)
	}
	again, err := svc.AppleLogin(ctx, "apple-token")
	if err != nil || again.IsNew {
		t.Fatalf("second login %+v %v", again, err)
	}

	rejected := newServiceWith(t, nil, stubVerifier{err: errorx.New(errorx.CodeUnauthorized, "bad token")})
	if _, err := rejected.AppleLogin(ctx, "x"); errorx.GetCode(err) != errorx.CodeUnauthorized {
		t.Fatalf("got %v", err)
	}
}
