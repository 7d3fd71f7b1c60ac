package request

import (
	"fresh_chat_server/internal/service/user"
	"fresh_chat_server/pkg/geo"
)

// UpdateProfileRequest 编辑资料，未提交的字段保持不变
// 使用位置:
//   - internal/handler/user_handler.go: UpdateProfile
type UpdateProfileRequest struct {
	Name      *string    `json:"name" binding:"omitempty,min=1,max=32"`
	Gender    *string    `json:"gender" binding:"omitempty,oneof=male female other"`
	Age       *int       `json:"age" binding:"omitempty,min=18,max=120"`
	Bio       *string    `json:"bio" binding:"omitempty,max=300"`
	Interests []string   `json:"interests" binding:"omitempty,max=20"`
	Album     []string   `json:"album" binding:"omitempty,max=9,dive,url"`
	PhotoURL  *string    `json:"photoUrl" binding:"omitempty,url"`
	Location  *geo.Point `json:"location"`
}

// ToUpdate 转为服务层的更新参数
func (r *UpdateProfileRequest) ToUpdate() user.ProfileUpdate {
	return user.ProfileUpdate{
		Name:      r.Name,
		Gender:    r.Gender,
		Age:       r.Age,
		Bio:       r.Bio,
		Interests: r.Interests,
		Album:     r.Album,
		PhotoURL:  r.PhotoURL,
		Location:  r.Location,
	}
}

// TargetRequest 针对另一位用户的操作：爱心、访问、拉黑、查看资料
// 使用位置:
//   - internal/handler/user_handler.go
type TargetRequest struct {
	TargetID string `json:"targetId" form:"targetId" binding:"required"`
}

// ReportRequest 举报用户
// 使用位置:
//   - internal/handler/user_handler.go: ReportUser
type ReportRequest struct {
	TargetID string `json:"targetId" binding:"required"`
	Reason   string `json:"reason" binding:"required,max=500"`
}
