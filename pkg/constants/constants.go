package constants

import "time"

const (
	CHANNEL_SIZE               = 100  // 通道大小
	REFRESH_TOKEN_EXPIRY_HOURS = 168  // Refresh Token 有效期（小时），168小时 = 7天
	TX_MAX_RETRIES             = 5    // 乐观事务最大重试次数
	MESSAGE_MAX_LENGTH         = 2000 // 单条文本消息最大长度
	REPORT_REASON_MAX_LENGTH   = 500
)

// 经验值与等级
const (
	XP_PER_LEVEL      = 100 // 每升一级所需经验
	XP_FRIENDSHIP     = 50  // 成为好友，双方各得
	XP_MESSAGE_SENT   = 5   // 发送一条消息
	XP_PROFILE_VIEWED = 2   // 主页被访问
	XP_HEART_RECEIVED = 10  // 收到爱心
	HEARTS_POPULAR    = 10  // popular 徽章阈值
	HEARTS_SUPERSTAR  = 50  // superstar 徽章阈值
	LEVEL_VETERAN     = 5   // veteran 徽章阈值
	BADGE_POPULAR     = "popular"
	BADGE_SUPERSTAR   = "superstar"
	BADGE_VETERAN     = "veteran"
)

// 在线状态与动态流窗口
const (
	ONLINE_WINDOW    = 15 * time.Minute
	AWAY_WINDOW      = 60 * time.Minute
	LIVE_WINDOW      = 24 * time.Hour
	RETENTION_WINDOW = 7 * 24 * time.Hour
	TYPING_TIMEOUT   = 2 * time.Second  // 输入停止后自动清除“正在输入”
	TYPING_STALE     = 10 * time.Second // 读端忽略长时间未刷新的输入标记
)

// 同步存储集合名
const (
	COLLECTION_USERS         = "users"
	COLLECTION_RELATIONSHIPS = "relationships"
	COLLECTION_CHATS         = "chats"
	COLLECTION_REPORTS       = "reports"
)

// MessagesCollection 会话消息子集合
func MessagesCollection(threadKey string) string {
	return COLLECTION_CHATS + "/" + threadKey + "/messages"
}
