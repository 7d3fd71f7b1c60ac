package handler

import (
	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/internal/dto/respond"
	"fresh_chat_server/internal/infrastructure/middleware"
	"fresh_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// FeedHandler 附近 / 好友 / 聊天列表与在线状态
type FeedHandler struct {
	feedSvc     service.FeedService
	presenceSvc service.PresenceService
}

// NewFeedHandler 创建列表处理器实例
func NewFeedHandler(feedSvc service.FeedService, presenceSvc service.PresenceService) *FeedHandler {
	return &FeedHandler{feedSvc: feedSvc, presenceSvc: presenceSvc}
}

// GetFeed 合成列表
// GET /feed?tab=nearby|friends|live&gender=
// 响应: []feed.Entry
func (h *FeedHandler) GetFeed(c *gin.Context) {
	var req request.FeedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	entries, err := h.feedSvc.Compose(c.Request.Context(), middleware.CurrentUser(c), req.Filter())
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, entries)
}

// Touch 心跳，刷新最近活跃时间
// POST /presence/touch
func (h *FeedHandler) Touch(c *gin.Context) {
	if err := h.presenceSvc.Touch(c.Request.Context(), middleware.CurrentUser(c)); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// GetPresence 查询对方在线状态
// GET /presence/status?targetId=
func (h *FeedHandler) GetPresence(c *gin.Context) {
	var req request.TargetRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	status, err := h.presenceSvc.StatusOf(c.Request.Context(), req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.PresenceRespond{UserID: req.TargetID, Status: status})
}
