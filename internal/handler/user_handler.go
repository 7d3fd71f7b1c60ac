package handler

import (
	"time"

	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/internal/dto/respond"
	"fresh_chat_server/internal/infrastructure/middleware"
	"fresh_chat_server/internal/service"
	"fresh_chat_server/internal/service/presence"
	"fresh_chat_server/pkg/geo"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户资料与互动请求处理器
type UserHandler struct {
	userSvc service.UserService
	now     func() time.Time
}

// NewUserHandler 创建用户处理器实例
func NewUserHandler(userSvc service.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc, now: time.Now}
}

// GetMe 当前用户的完整资料
// GET /user/me
func (h *UserHandler) GetMe(c *gin.Context) {
	profile, err := h.userSvc.GetProfile(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	profile.RefreshTokenID = ""
	HandleSuccess(c, profile)
}

// GetProfile 查看他人资料，附带在线状态与距离
// GET /user/profile?targetId=
// 响应: respond.ProfileRespond
func (h *UserHandler) GetProfile(c *gin.Context) {
	var req request.TargetRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	ctx := c.Request.Context()
	target, err := h.userSvc.GetProfile(ctx, req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	me, err := h.userSvc.GetProfile(ctx, middleware.CurrentUser(c))
	if err != nil {
		HandleError(c, err)
		return
	}

	data := respond.ProfileRespond{
		PublicProfile: target.Public(),
		Presence:      presence.Classify(target.LastActiveAt(), h.now()),
	}
	if me.Location != nil && target.Location != nil {
		d := geo.DistanceKm(*me.Location, *target.Location)
		data.DistanceKm = &d
	}
	HandleSuccess(c, data)
}

// UpdateProfile 编辑资料
// POST /user/update
// 请求体: request.UpdateProfileRequest
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req request.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	profile, err := h.userSvc.UpdateProfile(c.Request.Context(), middleware.CurrentUser(c), req.ToUpdate())
	if err != nil {
		HandleError(c, err)
		return
	}
	profile.RefreshTokenID = ""
	HandleSuccess(c, profile)
}

// SendHeart 给对方送一颗爱心
// POST /user/heart
// 请求体: request.TargetRequest
// 响应: respond.CountRespond (对方的爱心总数)
func (h *UserHandler) SendHeart(c *gin.Context) {
	var req request.TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	n, err := h.userSvc.SendHeart(c.Request.Context(), middleware.CurrentUser(c), req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.CountRespond{Count: n})
}

// TrackVisit 记录一次资料访问
// POST /user/view
// 请求体: request.TargetRequest
// 响应: respond.CountRespond (对方的访问总数)
func (h *UserHandler) TrackVisit(c *gin.Context) {
	var req request.TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	n, err := h.userSvc.TrackProfileVisit(c.Request.Context(), middleware.CurrentUser(c), req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.CountRespond{Count: n})
}

// BlockUser 拉黑
// POST /user/block
// 请求体: request.TargetRequest
func (h *UserHandler) BlockUser(c *gin.Context) {
	var req request.TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.userSvc.BlockUser(c.Request.Context(), middleware.CurrentUser(c), req.TargetID); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// ReportUser 举报
// POST /user/report
// 请求体: request.ReportRequest
func (h *UserHandler) ReportUser(c *gin.Context) {
	var req request.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	report, err := h.userSvc.ReportUser(c.Request.Context(), middleware.CurrentUser(c), req.TargetID, req.Reason)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, report)
}

// DeleteAccount 注销账号
// POST /user/delete
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	if err := h.userSvc.DeleteAccount(c.Request.Context(), middleware.CurrentUser(c)); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}
