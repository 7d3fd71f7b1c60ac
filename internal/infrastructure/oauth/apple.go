package oauth

import (
	"context"
	"strings"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/model"
	"fresh_chat_server/pkg/errorx"
)

// AppleIssuer Sign in with Apple 的签发方，公钥同样通过 OIDC discovery 获取
const AppleIssuer = "https://appleid.apple.com"

// NewAppleVerifier 校验 Sign in with Apple 的 ID Token，受众为 App 的 Bundle ID / Services ID
func NewAppleVerifier(ctx context.Context, conf config.OAuthConfig) (*TokenVerifier, error) {
	if strings.TrimSpace(conf.AppleClientID) == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "未配置 Apple Client ID")
	}
	return discover(ctx, AppleIssuer, conf.AppleClientID, model.AuthApple)
}

// appleUserID Apple 的 sub 形如 000123.<hex>.0456，"." 在字段路径中表示嵌套，替换为 "-"
func appleUserID(sub string) string {
	return strings.ReplaceAll(sub, ".", "-")
}
