package model

// NotificationType 推送事件类型
type NotificationType string

const (
	NotifyNewMessage     NotificationType = "new_message"
	NotifyFriendRequest  NotificationType = "friend_request"
	NotifyFriendAccepted NotificationType = "friend_accepted"
)

// Notification 交给外部推送系统的事件
type Notification struct {
	Type      NotificationType `json:"type"`
	TargetID  string           `json:"targetId"`
	SourceID  string           `json:"sourceId"`
	ThreadKey string           `json:"threadKey,omitempty"`
	Preview   string           `json:"preview,omitempty"`
	CreatedAt int64            `json:"createdAt"`
}
