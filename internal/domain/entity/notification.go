package entity

import "time"

// Envelope is the canonical form of an inbound provider notification
type Envelope struct {
	InstanceID string         `json:"instance_id"`
	MessageID  string         `json:"message_id"`
	ChatID     string         `json:"chat_id"`
	RawChatID  string         `json:"raw_chat_id"`
	IsGroup    bool           `json:"is_group"`
	SenderID   string         `json:"sender_id,omitempty"`
	SenderName string         `json:"sender_name,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	FromMe     bool           `json:"from_me"`
	Event      string         `json:"event,omitempty"`
	Content    map[string]any `json:"content,omitempty"`
}
