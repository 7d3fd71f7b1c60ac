package middleware

import (
	"errors"
	"net/http"
	"strings"

	"fresh_chat_server/pkg/errorx"
	"fresh_chat_server/pkg/util/jwt"

	"github.com/gin-gonic/gin"
)

// ContextUserID gin.Context 中保存当前用户 ID 的键
const ContextUserID = "user_id"

// CurrentUser 读取 JWTAuth 写入的用户 ID
func CurrentUser(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// JWTAuth JWT 认证中间件
// 验证 Access Token 并将用户 ID 存入上下文
// 浏览器的 WebSocket 握手无法设置 Header，此时从 ?token= 读取
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "请先登录")
			return
		}

		claims, err := jwt.Parse(token, jwt.KindAccess)
		if errors.Is(err, jwt.ErrWrongKind) {
			abortUnauthorized(c, "请使用 Access Token 访问此接口")
			return
		}
		if err != nil {
			abortUnauthorized(c, "Token 已过期或无效，请重新登录")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": errorx.CodeUnauthorized,
		"msg":  msg,
	})
}
