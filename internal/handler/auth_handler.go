// Package handler 提供 HTTP 请求处理器
// 本文件处理登录与令牌刷新
package handler

import (
	"fresh_chat_server/internal/dto/request"
	"fresh_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证请求处理器
type AuthHandler struct {
	authSvc service.AuthService
}

// NewAuthHandler 创建认证处理器实例
func NewAuthHandler(authSvc service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// GoogleLogin Google 登录，首次登录时自动建档
// POST /auth/google
// 请求体: request.GoogleLoginRequest
// 响应: auth.LoginResult
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var req request.GoogleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.authSvc.GoogleLogin(c.Request.Context(), req.IDToken)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// AppleLogin Apple 登录，首次登录时自动建档
// POST /auth/apple
// 请求体: request.AppleLoginRequest
// 响应: auth.LoginResult
func (h *AuthHandler) AppleLogin(c *gin.Context) {
	var req request.AppleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.authSvc.AppleLogin(c.Request.Context(), req.IDToken)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// GuestLogin 访客登录
// POST /auth/guest
// 请求体: request.GuestLoginRequest
func (h *AuthHandler) GuestLogin(c *gin.Context) {
	var req request.GuestLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.authSvc.GuestLogin(c.Request.Context(), req.Name)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}

// RefreshToken 使用 Refresh Token 换取新的双令牌，旧 Refresh Token 随即失效
// POST /auth/refresh
// 请求体: request.RefreshTokenRequest
// 响应: auth.TokenPair
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req request.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	data, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, data)
}
