package websocket

import (
	"encoding/json"
	"time"

	"chatworks/pkg/models"

	"github.com/google/uuid"
)

// Client to server frame types.
const (
	TypeSendMessage     = "send_message"
	TypeReadMessage     = "read_message"
	TypeReadChat        = "read_chat"
	TypeTypingStart     = "typing_start"
	TypeTypingStop      = "typing_stop"
	TypeSubscribeChat   = "subscribe_chat"
	TypeUnsubscribeChat = "unsubscribe_chat"
	TypePing            = "ping"
)

// Server to client frame types.
const (
	TypeMessage       = "message"
	TypeMessageStatus = "message_status"
	TypeMessageRead   = "message_read"
	TypeTyping        = "typing"
	TypeUserOnline    = "user_online"
	TypeUserOffline   = "user_offline"
	TypeChatUpdated   = "chat_updated"
	TypeNewChat       = "new_chat"
	TypeError         = "error"
	TypeAuthError     = "auth_error"
)

// Machine-readable error codes carried in error envelopes.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeInvalidPayload   = "invalid_payload"
	CodeInvalidChatID    = "invalid_chat_id"
	CodeInvalidMessageID = "invalid_message_id"
	CodeUnknownType      = "unknown_type"
	CodeSubscribeFailed  = "subscribe_failed"
	CodeNotMember        = "not_member"
	CodeSendFailed       = "send_failed"
	CodeMessageNotFound  = "message_not_found"
)

// Envelope is the wire frame. Payload stays raw on decode so each handler can
// re-parse it against the schema its type implies.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds a server envelope with the current timestamp.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}

// DecodeEnvelope parses the outer envelope only.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload parses the raw payload into a handler-specific shape.
func (e *Envelope) DecodePayload(dst interface{}) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(e.Payload, dst)
}

// SendMessagePayload is the client request to post a message to a chat.
type SendMessagePayload struct {
	ChatID      string `json:"chat_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
}

// ReadMessagePayload marks a single message as read.
type ReadMessagePayload struct {
	MessageID string `json:"message_id"`
}

// ChatRefPayload covers every client intent that names just a chat:
// read_chat, typing_start, typing_stop, subscribe_chat, unsubscribe_chat.
type ChatRefPayload struct {
	ChatID string `json:"chat_id"`
}

// MessagePayload is the server-side message frame, including denormalized
// sender fields so clients render without a second lookup.
type MessagePayload struct {
	ID           uuid.UUID  `json:"id"`
	ChatID       uuid.UUID  `json:"chat_id"`
	SenderID     uuid.UUID  `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	SenderAvatar *string    `json:"sender_avatar,omitempty"`
	Content      string     `json:"content"`
	MessageType  string     `json:"message_type"`
	MediaURL     *string    `json:"media_url,omitempty"`
	ReplyToID    *uuid.UUID `json:"reply_to_id,omitempty"`
	IsEdited     bool       `json:"is_edited"`
	IsDeleted    bool       `json:"is_deleted"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewMessagePayload denormalizes a persisted message with its sender.
// sender may be nil when the sender account no longer resolves.
func NewMessagePayload(msg *models.Message, sender *models.User) MessagePayload {
	p := MessagePayload{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		MediaURL:    msg.MediaURL,
		ReplyToID:   msg.ReplyToID,
		IsEdited:    msg.IsEdited,
		IsDeleted:   msg.IsDeleted,
		Status:      msg.Status,
		CreatedAt:   msg.CreatedAt,
	}
	if sender != nil {
		p.SenderName = sender.DisplayName()
		p.SenderAvatar = sender.AvatarURL
	}
	return p
}

// MessageStatusPayload reports a delivery-status or lifecycle change for a
// message (edited, deleted, delivered, read).
type MessageStatusPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageReadPayload is broadcast to a chat when a member reads a message.
type MessageReadPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// TypingPayload signals a typing state change in a chat.
type TypingPayload struct {
	ChatID   uuid.UUID `json:"chat_id"`
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	IsTyping bool      `json:"is_typing"`
}

// PresencePayload is broadcast on user online/offline transitions.
type PresencePayload struct {
	UserID   uuid.UUID  `json:"user_id"`
	Username string     `json:"username"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ChatEventPayload wraps a chat object for new_chat and chat_updated frames.
type ChatEventPayload struct {
	Chat interface{} `json:"chat"`
}

// ErrorPayload carries a machine-readable code plus a human message. Used by
// both error and auth_error envelopes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
