package request

// GoogleLoginRequest Google 登录请求，ID Token 由移动端 SDK 获取
// 使用位置:
//   - internal/handler/auth_handler.go: GoogleLogin
type GoogleLoginRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

// AppleLoginRequest Sign in with Apple 登录请求
// 使用位置:
//   - internal/handler/auth_handler.go: AppleLogin
type AppleLoginRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

// GuestLoginRequest 访客登录请求
// 使用位置:
//   - internal/handler/auth_handler.go: GuestLogin
type GuestLoginRequest struct {
	Name string `json:"name" binding:"omitempty,max=32"`
}

// RefreshTokenRequest 刷新令牌请求
// 使用位置:
//   - internal/handler/auth_handler.go: RefreshToken
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}
