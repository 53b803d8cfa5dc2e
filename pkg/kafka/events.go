package kafka

import (
	"time"

	"github.com/google/uuid"
)

// EventsTopic is the topic all chat events are published to.
const EventsTopic = "chat_events"

// Event types published by the chat service.
const (
	EventMessageSent    = "message_sent"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventMessageRead    = "message_read"
	EventChatRead       = "chat_read"
	EventChatCreated    = "chat_created"
	EventChatUpdated    = "chat_updated"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
)

// Event represents a single chat event on the wire
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	ChatID    string                 `json:"chat_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an Event with a fresh ID and timestamp
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// EventHandler interface for handling Kafka events
type EventHandler interface {
	HandleEvent(event Event) error
}

// ProducerInterface defines the interface for Kafka producers
type ProducerInterface interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
	PublishEvent(event *Event) error
	Close() error
	HealthCheck() error
}
