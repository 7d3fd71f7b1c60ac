package handler

import (
	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/internal/dto/respond"
	"fresh_chat_server/internal/infrastructure/middleware"
	"fresh_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// FriendHandler 好友关系请求处理器
type FriendHandler struct {
	relSvc service.RelationshipService
}

// NewFriendHandler 创建好友处理器实例
func NewFriendHandler(relSvc service.RelationshipService) *FriendHandler {
	return &FriendHandler{relSvc: relSvc}
}

// Request 发起好友申请
// POST /friend/request
// 请求体: request.FriendRequest
// 响应: respond.RelationshipRespond
func (h *FriendHandler) Request(c *gin.Context) {
	var req request.FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	me := middleware.CurrentUser(c)
	rel, err := h.relSvc.RequestFriend(c.Request.Context(), me, req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.NewRelationshipRespond(me, rel))
}

// Accept 接受对方的好友申请
// POST /friend/accept
// 请求体: request.FriendRequest
func (h *FriendHandler) Accept(c *gin.Context) {
	var req request.FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	me := middleware.CurrentUser(c)
	rel, err := h.relSvc.AcceptFriend(c.Request.Context(), me, req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.NewRelationshipRespond(me, rel))
}

// Status 查询与对方的关系，没有记录时为 NONE
// GET /friend/status?targetId=
func (h *FriendHandler) Status(c *gin.Context) {
	var req request.FriendRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	me := middleware.CurrentUser(c)
	rel, err := h.relSvc.GetStatus(c.Request.Context(), me, req.TargetID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.NewRelationshipRespond(me, rel))
}

// List 当前用户的全部关系
// GET /friend/list
func (h *FriendHandler) List(c *gin.Context) {
	me := middleware.CurrentUser(c)
	rels, err := h.relSvc.List(c.Request.Context(), me)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, respond.NewRelationshipList(me, rels))
}
