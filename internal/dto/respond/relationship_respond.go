package respond

import "fresh_chat_server/internal/model"

// RelationshipRespond 从查看者角度展示的好友关系
// 使用位置:
//   - internal/handler/friend_handler.go
//   - internal/gateway/websocket/client.go: relationships 推送
type RelationshipRespond struct {
	ThreadKey string                   `json:"threadKey"`
	OtherID   string                   `json:"otherId"`
	Status    model.RelationshipStatus `json:"status"`
	Direction model.RequestDirection   `json:"direction,omitempty"`
	Streak    int64                    `json:"streak"`
	UpdatedAt int64                    `json:"updatedAt,omitempty"`
}

// NewRelationshipRespond 按查看者推导对方 ID 与申请方向
func NewRelationshipRespond(viewer string, rel *model.Relationship) RelationshipRespond {
	return RelationshipRespond{
		ThreadKey: rel.Key,
		OtherID:   rel.Other(viewer),
		Status:    rel.Status,
		Direction: rel.Direction(viewer),
		Streak:    rel.Streak,
		UpdatedAt: rel.UpdatedAt,
	}
}

// NewRelationshipList 批量转换
func NewRelationshipList(viewer string, rels []model.Relationship) []RelationshipRespond {
	out := make([]RelationshipRespond, 0, len(rels))
	for i := range rels {
		out = append(out, NewRelationshipRespond(viewer, &rels[i]))
	}
	return out
}
