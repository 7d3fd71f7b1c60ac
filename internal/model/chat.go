package model

import "fresh_chat_server/pkg/geo"

// MessageType 消息类型
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageLocation MessageType = "location"
	MessageImage    MessageType = "image"
)

// 会话记录字段名，按参与者区分的字段为 "<prefix>.<userId>"
const (
	ChatFieldParticipants = "participants"
	ChatFieldLastUpdated  = "lastUpdated"
	ChatFieldLastMessage  = "lastMessage"
	ChatFieldUnread       = "unread"
	ChatFieldTyping       = "typing"
	ChatFieldTypingAt     = "typingAt"
	ChatFieldLastRead     = "lastRead"
)

// 消息记录字段名
const (
	MsgFieldIsRead = "isRead"
)

// ParticipantField 生成按参与者区分的字段名，如 unread.U123
func ParticipantField(prefix, userID string) string {
	return prefix + "." + userID
}

// ChatThread 会话元数据，主键与双方的 Relationship 相同
type ChatThread struct {
	Key          string           `json:"-"`
	Participants []string         `json:"participants"`
	LastUpdated  int64            `json:"lastUpdated"`
	LastMessage  string           `json:"lastMessage,omitempty"`
	Unread       map[string]int64 `json:"unread,omitempty"`
	Typing       map[string]bool  `json:"typing,omitempty"`
	TypingAt     map[string]int64 `json:"typingAt,omitempty"`
	LastRead     map[string]int64 `json:"lastRead,omitempty"`
}

// Message 会话中的一条消息，创建后仅 IsRead 可由 false 变为 true
type Message struct {
	ID        string      `json:"id"`
	SenderID  string      `json:"senderId"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	Location  *geo.Point  `json:"location,omitempty"`
	ImageURL  string      `json:"imageUrl,omitempty"`
	Timestamp int64       `json:"timestamp"`
	IsRead    bool        `json:"isRead"`
	Seq       int64       `json:"-"`
}

// Preview 会话列表中展示的摘要
func (m *Message) Preview() string {
	switch m.Type {
	case MessageLocation:
		return "[location]"
	case MessageImage:
		return "[image]"
	default:
		r := []rune(m.Text)
		if len(r) > 64 {
			return string(r[:64])
		}
		return m.Text
	}
}
