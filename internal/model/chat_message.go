// Package model holds the gorm entities.
package model

import (
	"database/sql"

	"gorm.io/gorm"
)

// Chat message types accepted by the relay.
const (
	ChatTypeText  = "text"
	ChatTypeImage = "image"
	ChatTypeAudio = "audio"
	ChatTypeEmoji = "emoji"
)

// ChatMessage is one message of a consultation chat.
// Rows are created on send and only mutated by delivery and read receipts.
type ChatMessage struct {
	gorm.Model

	// Uuid snowflake id, the id clients see (as a string)
	Uuid int64 `gorm:"column:uuid;uniqueIndex;type:bigint;not null;comment:snowflake id"`

	SessionId  string `gorm:"column:session_id;index;type:varchar(64);comment:consultation session id"`
	RoomId     string `gorm:"column:room_id;type:varchar(64);comment:room id"`
	SenderId   string `gorm:"column:sender_id;index;type:varchar(64);not null;comment:sender participant id"`
	ReceiverId string `gorm:"column:receiver_id;index:idx_receiver_delivered;type:varchar(64);not null;comment:receiver participant id"`

	// Type one of text, image, audio, emoji
	Type     string `gorm:"column:type;type:varchar(16);not null;comment:message type"`
	Text     string `gorm:"column:text;type:TEXT;comment:message body"`
	MediaUrl string `gorm:"column:media_url;type:varchar(255);comment:uploaded media url"`

	Delivered   bool         `gorm:"column:is_delivered;index:idx_receiver_delivered;not null;default:false"`
	DeliveredAt sql.NullTime `gorm:"column:delivered_at"`
	Read        bool         `gorm:"column:is_read;not null;default:false"`
	ReadAt      sql.NullTime `gorm:"column:read_at"`
}

func (ChatMessage) TableName() string {
	return "chat_message"
}

// ValidChatType reports whether t is a known message type.
func ValidChatType(t string) bool {
	switch t {
	case ChatTypeText, ChatTypeImage, ChatTypeAudio, ChatTypeEmoji:
		return true
	}
	return false
}
