package chat

import (
	"time"

	"github.com/suPer8Hu/ola-suite/internal/chatclient"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusDone      MessageStatus = "done"
	StatusAborted   MessageStatus = "aborted"
	StatusFailed    MessageStatus = "failed"
)

// Message is one transcript entry kept on the client side.
type Message struct {
	ID        uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string        `gorm:"type:varchar(64);not null;index:idx_chat_msg_session_id" json:"session_id"`
	Role      Role          `gorm:"type:varchar(16);index;not null" json:"role"`
	Content   string        `gorm:"type:text;not null" json:"content"`
	Status    MessageStatus `gorm:"type:varchar(16);not null" json:"status"`

	// assistant only
	Progress    string                  `gorm:"type:varchar(128)" json:"progress,omitempty"`
	Disclosures []chatclient.Disclosure `gorm:"serializer:json;type:text" json:"disclosures,omitempty"`
	Error       *string                 `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }
