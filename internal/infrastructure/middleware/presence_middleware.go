package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PresenceToucher 刷新最近活跃时间，由 presence.Tracker 实现
type PresenceToucher interface {
	Touch(ctx context.Context, userID string) error
}

// TouchPresence 已认证请求处理完成后刷新调用者的在线状态
// 失败只记录日志，不影响响应
func TouchPresence(p PresenceToucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		userID := CurrentUser(c)
		if userID == "" {
			return
		}
		if err := p.Touch(c.Request.Context(), userID); err != nil {
			zap.L().Debug("touch presence failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
