package request

// FriendRequest 好友申请 / 接受 / 查询，目标为对方用户 ID
// 使用位置:
//   - internal/handler/friend_handler.go
type FriendRequest struct {
	TargetID string `json:"targetId" form:"targetId" binding:"required"`
}
