package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/errorx"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const appleClientID = "test.fresh.app"

func newAppleTestVerifier(t *testing.T) (*TokenVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := oidc.NewVerifier(AppleIssuer, keySet, &oidc.Config{ClientID: appleClientID})
	return newTokenVerifier(v, model.AuthApple), key
}

func appleClaims(iss string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":              iss,
		"aud":              appleClientID,
		"sub":              "001234.abcdef.0987",
		"email":            "x7k2p9@privaterelay.appleid.com",
		"is_private_email": "true",
		"iat":              time.Now().Add(-time.Minute).Unix(),
		"exp":              time.Now().Add(time.Hour).Unix(),
	}
}

func TestAppleVerifyUsesEmailPrefixAsName(t *testing.T) {
	v, key := newAppleTestVerifier(t)
	id, err := v.Verify(context.Background(), sign(t, key, appleClaims(AppleIssuer)))
	if err != nil {
		t.Fatal(err)
	}
	if id.ID != "001234-abcdef-0987" || id.Name != "x7k2p9" || id.AuthMethod != model.AuthApple || id.AvatarURL != "" {
		t.Fatalf("identity %+v", id)
	}
}

func TestAppleVerifyRejectsOtherIssuer(t *testing.T) {
	v, key := newAppleTestVerifier(t)
	if _, err := v.Verify(context.Background(), sign(t, key, appleClaims(testIssuer))); errorx.GetCode(err) != errorx.CodeUnauthorized {
		t.Fatalf("got %v", err)
	}
}

func TestNewAppleVerifierRequiresClientID(t *testing.T) {
	if _, err := NewAppleVerifier(context.Background(), config.OAuthConfig{}); !errorx.IsValidation(err) {
		t.Fatalf("got %v", err)
	}
}
