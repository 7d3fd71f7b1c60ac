package respond

import (
	"fresh_chat_server/internal/model"
	"fresh_chat_server/internal/service/presence"
)

// CountRespond 爱心数 / 访问数等计数结果
type CountRespond struct {
	Count int64 `json:"count"`
}

// ProfileRespond 查看他人资料
// 使用位置:
//   - internal/handler/user_handler.go: GetProfile
type ProfileRespond struct {
	model.PublicProfile
	Presence   presence.Status `json:"presence"`
	DistanceKm *float64        `json:"distanceKm,omitempty"`
}

// PresenceRespond 在线状态
type PresenceRespond struct {
	UserID string          `json:"userId"`
	Status presence.Status `json:"status"`
}
