package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/errorx"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://accounts.example.test"
	testClientID = "fresh-client"
)

func newTestVerifier(t *testing.T) (*TokenVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	return newTokenVerifier(v, model.AuthGoogle), key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func claims(aud string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":     testIssuer,
		"aud":     aud,
		"sub":     "1098765",
		"email":   "amy@example.test",
		"picture": "https://img.example.test/amy.png",
		"iat":     time.Now().Add(-time.Minute).Unix(),
		"exp":     exp.Unix(),
	}
}

func TestVerifyValidToken(t *testing.T) {
	v, key := newTestVerifier(t)
	id, err := v.Verify(context.Background(), sign(t, key, claims(testClientID, time.Now().Add(time.Hour))))
	if err != nil {
		t.Fatal(err)
	}
	if id.ID != "1098765" || id.Name != "amy" || id.AuthMethod != model.AuthGoogle || id.AvatarURL == "" {
		t.Fatalf("identity %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, key := newTestVerifier(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"wrong audience": sign(t, key, claims("someone-else", time.Now().Add(time.Hour))),
		"expired":        sign(t, key, claims(testClientID, time.Now().Add(-time.Hour))),
		"foreign key":    sign(t, other, claims(testClientID, time.Now().Add(time.Hour))),
		"garbage":        "not-a-token",
	}
	for name, raw := range cases {
		if _, err := v.Verify(context.Background(), raw); errorx.GetCode(err) != errorx.CodeUnauthorized {
			t.Errorf("%s: got %v", name, err)
		}
	}
	if _, err := v.Verify(context.Background(), ""); !errorx.IsValidation(err) {
		t.Fatalf("got %v", err)
	}
}
