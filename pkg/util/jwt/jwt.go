// Package jwt 签发与校验服务端自己的 HS256 令牌
// Access Token 用于接口与 WebSocket 认证；Refresh Token 的 jti 即轮换 ID，
// 用户记录只保存当前有效的一个，刷新或重新登录后旧 Refresh Token 失效
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind 令牌用途，写在 sub 声明中
type Kind string

const (
	KindAccess  Kind = "access_token"
	KindRefresh Kind = "refresh_token"
)

const issuer = "fresh_chat"

var (
	// ErrWrongKind 令牌有效但用途不符，如用 Access Token 换取新令牌
	ErrWrongKind = errors.New("token kind mismatch")
	// ErrNoRotationID Refresh Token 缺少轮换 ID
	ErrNoRotationID = errors.New("refresh token without rotation id")
)

type settings struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

var (
	conf settings
	now  = time.Now
)

// Init 设置签名密钥与两种令牌的有效期
func Init(secret string, accessExpiryMinutes, refreshExpiryHours int) {
	conf = settings{
		secret:        []byte(secret),
		accessExpiry:  time.Duration(accessExpiryMinutes) * time.Minute,
		refreshExpiry: time.Duration(refreshExpiryHours) * time.Hour,
	}
}

// Claims 令牌声明，RotationID 对应标准的 jti，仅 Refresh Token 携带
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Kind 令牌用途
func (c *Claims) Kind() Kind { return Kind(c.Subject) }

// RotationID Refresh Token 的轮换 ID
func (c *Claims) RotationID() string { return c.ID }

// Pair 一次登录或刷新签发的双令牌
type Pair struct {
	Access     string
	Refresh    string
	RotationID string // 需写入用户记录
}

// IssuePair 为 userID 签发双令牌，每次生成新的轮换 ID
func IssuePair(userID string) (*Pair, error) {
	access, err := sign(userID, KindAccess, "", conf.accessExpiry)
	if err != nil {
		return nil, err
	}
	rotationID := uuid.NewString()
	refresh, err := sign(userID, KindRefresh, rotationID, conf.refreshExpiry)
	if err != nil {
		return nil, err
	}
	return &Pair{Access: access, Refresh: refresh, RotationID: rotationID}, nil
}

func sign(userID string, kind Kind, rotationID string, ttl time.Duration) (string, error) {
	issuedAt := now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rotationID,
			Issuer:    issuer,
			Subject:   string(kind),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(conf.secret)
}

// Parse 校验签名、签发方与有效期，并要求令牌用途为 want
// 用途不符返回 ErrWrongKind，便于调用方给出提示
func Parse(raw string, want Kind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return conf.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Kind() != want {
		return nil, ErrWrongKind
	}
	if want == KindRefresh && claims.RotationID() == "" {
		return nil, ErrNoRotationID
	}
	return claims, nil
}
