package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterUserRoutes 注册用户资料与互动路由（需要认证）
func (rt *Router) RegisterUserRoutes(rg *gin.RouterGroup) {
	userGroup := rg.Group("/user")
	{
		// ===== 资料 =====
		userGroup.GET("/me", rt.handlers.User.GetMe)
		userGroup.GET("/profile", rt.handlers.User.GetProfile)
		userGroup.POST("/update", rt.handlers.User.UpdateProfile)
		userGroup.POST("/delete", rt.handlers.User.DeleteAccount)

		// ===== 互动 =====
		userGroup.POST("/heart", rt.handlers.User.SendHeart)
		userGroup.POST("/view", rt.handlers.User.TrackVisit)

		// ===== 安全 =====
		userGroup.POST("/block", rt.handlers.User.BlockUser)
		userGroup.POST("/report", rt.handlers.User.ReportUser)
	}
}
