package request

import "fresh_chat_server/internal/service/feed"

// FeedRequest 列表查询，tab 为空时默认附近
// 使用位置:
//   - internal/handler/feed_handler.go: GetFeed
//   - internal/gateway/websocket/client.go: feed_filter
type FeedRequest struct {
	Tab    string `json:"tab" form:"tab" binding:"omitempty,oneof=nearby friends live"`
	Gender string `json:"gender" form:"gender"`
}

// Filter 转为列表过滤条件
func (r *FeedRequest) Filter() feed.Filter {
	return feed.Filter{Tab: feed.Tab(r.Tab), Gender: r.Gender}
}
