// Package events publishes chat activity to Kafka for downstream consumers
// (notification fan-out, archival, analytics). Publishing is fire-and-forget:
// a broker outage never blocks or fails the delivery path, it only logs.
package events

import (
	"time"

	"chatworks/internal/metrics"
	"chatworks/pkg/kafka"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/google/uuid"
)

type Publisher struct {
	producer kafka.ProducerInterface
	logger   logging.Logger
	metrics  *metrics.Metrics
	source   string
}

// NewPublisher wraps a Kafka producer. producer may be nil, which disables
// publishing entirely; serviceMetrics may be nil in tests.
func NewPublisher(producer kafka.ProducerInterface, logger logging.Logger, serviceMetrics *metrics.Metrics) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger,
		metrics:  serviceMetrics,
		source:   "telegraph",
	}
}

// Enabled reports whether events will actually be produced.
func (p *Publisher) Enabled() bool {
	return p != nil && p.producer != nil
}

func (p *Publisher) publish(event *kafka.Event) {
	if !p.Enabled() {
		return
	}
	go func() {
		start := time.Now()
		err := p.producer.PublishEvent(event)
		if p.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			p.metrics.KafkaMessages.WithLabelValues(kafka.EventsTopic, "produce", status).Inc()
			p.metrics.KafkaDuration.WithLabelValues("produce").Observe(time.Since(start).Seconds())
			if err == nil {
				p.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
			}
		}
		if err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"event_type": event.Type,
				"chat_id":    event.ChatID,
			}).Warn("Failed to publish event, dropping")
		}
	}()
}

func (p *Publisher) MessageSent(msg *models.Message) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventMessageSent, p.source, map[string]interface{}{
		"message_id":   msg.ID.String(),
		"message_type": msg.MessageType,
		"content":      msg.Content,
		"created_at":   msg.CreatedAt.Format(time.RFC3339),
	})
	event.ChatID = msg.ChatID.String()
	event.UserID = msg.SenderID.String()
	p.publish(event)
}

func (p *Publisher) MessageUpdated(msg *models.Message) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventMessageUpdated, p.source, map[string]interface{}{
		"message_id": msg.ID.String(),
		"content":    msg.Content,
	})
	event.ChatID = msg.ChatID.String()
	event.UserID = msg.SenderID.String()
	p.publish(event)
}

func (p *Publisher) MessageDeleted(messageID, chatID, senderID uuid.UUID) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventMessageDeleted, p.source, map[string]interface{}{
		"message_id": messageID.String(),
	})
	event.ChatID = chatID.String()
	event.UserID = senderID.String()
	p.publish(event)
}

func (p *Publisher) MessageRead(messageID, chatID, readerID uuid.UUID, readAt time.Time) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventMessageRead, p.source, map[string]interface{}{
		"message_id": messageID.String(),
		"read_at":    readAt.Format(time.RFC3339),
	})
	event.ChatID = chatID.String()
	event.UserID = readerID.String()
	p.publish(event)
}

func (p *Publisher) ChatRead(chatID, userID uuid.UUID) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventChatRead, p.source, nil)
	event.ChatID = chatID.String()
	event.UserID = userID.String()
	p.publish(event)
}

func (p *Publisher) ChatCreated(chat *models.Chat, memberIDs []uuid.UUID) {
	if !p.Enabled() {
		return
	}
	members := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, id.String())
	}
	event := kafka.NewEvent(kafka.EventChatCreated, p.source, map[string]interface{}{
		"chat_type":  chat.Type,
		"member_ids": members,
	})
	event.ChatID = chat.ID.String()
	event.UserID = chat.CreatedBy.String()
	p.publish(event)
}

func (p *Publisher) ChatUpdated(chat *models.Chat, actorID uuid.UUID) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventChatUpdated, p.source, nil)
	event.ChatID = chat.ID.String()
	event.UserID = actorID.String()
	p.publish(event)
}

func (p *Publisher) UserOnline(userID uuid.UUID) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventUserOnline, p.source, nil)
	event.UserID = userID.String()
	p.publish(event)
}

func (p *Publisher) UserOffline(userID uuid.UUID, lastSeen time.Time) {
	if !p.Enabled() {
		return
	}
	event := kafka.NewEvent(kafka.EventUserOffline, p.source, map[string]interface{}{
		"last_seen": lastSeen.Format(time.RFC3339),
	})
	event.UserID = userID.String()
	p.publish(event)
}
