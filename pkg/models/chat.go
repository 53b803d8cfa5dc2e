package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat types
const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

// Chat member roles
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Message content types
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
)

// Message delivery statuses
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Chat represents a private or group conversation
type Chat struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedBy   uuid.UUID `json:"created_by"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatMember represents a user's membership in a chat
type ChatMember struct {
	ChatID   uuid.UUID  `json:"chat_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Message represents a single chat message
type Message struct {
	ID          uuid.UUID  `json:"id"`
	ChatID      uuid.UUID  `json:"chat_id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	MediaURL    *string    `json:"media_url,omitempty"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty"`
	IsEdited    bool       `json:"is_edited"`
	IsDeleted   bool       `json:"is_deleted"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MessageRead records that a user has read a message
type MessageRead struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ChatSummary is a chat with the context a chat list needs
type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
	Members     []User   `json:"members,omitempty"`
}

// CreateChatRequest creates a private or group chat
type CreateChatRequest struct {
	Type        string      `json:"type" binding:"required,oneof=private group"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	MemberIDs   []uuid.UUID `json:"member_ids" binding:"required,min=1"`
}

// UpdateChatRequest updates group chat metadata; nil means unchanged
type UpdateChatRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// AddMemberRequest adds a user to a group chat
type AddMemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// SendMessageRequest posts a message over the REST surface
type SendMessageRequest struct {
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	MediaURL    *string    `json:"media_url,omitempty"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty"`
}

// EditMessageRequest replaces a message's content
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}
