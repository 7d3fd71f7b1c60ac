// Package oauth 校验第三方身份提供方签发的 ID Token，只产出用户 ID 与展示信息
package oauth

import (
	"context"
	"strings"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/errorx"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier 身份校验接口，由 auth 服务依赖
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*model.Identity, error)
}

// TokenVerifier 校验某一提供方签发的 ID Token，产出的身份带有对应的登录方式
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	method   model.AuthMethod
}

// NewGoogleVerifier 通过 OIDC discovery 获取 Google 签名公钥
func NewGoogleVerifier(ctx context.Context, conf config.OAuthConfig) (*TokenVerifier, error) {
	if strings.TrimSpace(conf.GoogleClientID) == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "未配置 Google Client ID")
	}
	return discover(ctx, conf.IssuerURL, conf.GoogleClientID, model.AuthGoogle)
}

func discover(ctx context.Context, issuer, clientID string, method model.AuthMethod) (*TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errorx.Wrapf(err, errorx.CodeBackendUnavailable, "获取 OIDC 配置失败: %s", issuer)
	}
	return newTokenVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), method), nil
}

func newTokenVerifier(v *oidc.IDTokenVerifier, method model.AuthMethod) *TokenVerifier {
	return &TokenVerifier{verifier: v, method: method}
}

// Verify 校验签名、签发方、受众与有效期，返回身份信息
// 没有 name 声明时（Apple 只在首次授权时把姓名交给客户端）用邮箱前缀作为展示名
func (g *TokenVerifier) Verify(ctx context.Context, rawIDToken string) (*model.Identity, error) {
	if rawIDToken == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "ID Token 不能为空")
	}
	token, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeUnauthorized, "ID Token 校验失败")
	}

	var claims struct {
		Subject string `json:"sub"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Email   string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeUnauthorized, "解析 ID Token 失败")
	}
	name := claims.Name
	if name == "" {
		name, _, _ = strings.Cut(claims.Email, "@")
	}
	id := claims.Subject
	if g.method == model.AuthApple {
		id = appleUserID(id)
	}
	return &model.Identity{
		ID:         id,
		Name:       name,
		AvatarURL:  claims.Picture,
		AuthMethod: g.method,
	}, nil
}
