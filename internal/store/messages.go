package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatworks/pkg/models"

	"github.com/google/uuid"
)

const messageColumns = `id, chat_id, sender_id, content, message_type, media_url, reply_to_id, is_edited, is_deleted, status, created_at, updated_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var replyTo uuid.NullUUID
	err := row.Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType, &m.MediaURL,
		&replyTo, &m.IsEdited, &m.IsDeleted, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		id := replyTo.UUID
		m.ReplyToID = &id
	}
	return &m, nil
}

// CreateMessage persists a message and fills in the generated fields. An empty
// message type defaults to text.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) (err error) {
	defer s.observe("create_message", time.Now(), &err)
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}
	var replyTo interface{}
	if msg.ReplyToID != nil {
		replyTo = *msg.ReplyToID
	}
	query := `
		INSERT INTO telegraph.messages (chat_id, sender_id, content, message_type, media_url, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_edited, is_deleted, status, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		msg.ChatID, msg.SenderID, msg.Content, msg.MessageType, msg.MediaURL, replyTo,
	).Scan(&msg.ID, &msg.IsEdited, &msg.IsDeleted, &msg.Status, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (msg *models.Message, err error) {
	defer s.observe("get_message", time.Now(), &err)
	query := `SELECT ` + messageColumns + ` FROM telegraph.messages WHERE id = $1`
	return scanMessage(s.db.QueryRowContext(ctx, query, id))
}

// RecentMessages returns the newest non-deleted messages of a chat, ordered
// oldest-first within the window. This feeds history replay on subscribe.
func (s *Store) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	return s.ChatMessages(ctx, chatID, limit, 0)
}

// ChatMessages pages backwards through a chat's history: offset 0 is the
// newest window. Each window is returned in chronological order.
func (s *Store) ChatMessages(ctx context.Context, chatID uuid.UUID, limit, offset int) (messages []models.Message, err error) {
	defer s.observe("chat_messages", time.Now(), &err)
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM telegraph.messages
			WHERE chat_id = $1 AND is_deleted = FALSE
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		) recent
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// EditMessage replaces a message's content. Only the sender may edit; editing
// someone else's message returns ErrNotFound.
func (s *Store) EditMessage(ctx context.Context, id, senderID uuid.UUID, content string) (msg *models.Message, err error) {
	defer s.observe("edit_message", time.Now(), &err)
	query := `
		UPDATE telegraph.messages
		SET content = $3, is_edited = TRUE, updated_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND is_deleted = FALSE
		RETURNING ` + messageColumns + `
	`
	return scanMessage(s.db.QueryRowContext(ctx, query, id, senderID, content))
}

// SoftDeleteMessage tombstones a message. Only the sender may delete.
func (s *Store) SoftDeleteMessage(ctx context.Context, id, senderID uuid.UUID) (msg *models.Message, err error) {
	defer s.observe("delete_message", time.Now(), &err)
	query := `
		UPDATE telegraph.messages
		SET is_deleted = TRUE, content = '', updated_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND is_deleted = FALSE
		RETURNING ` + messageColumns + `
	`
	return scanMessage(s.db.QueryRowContext(ctx, query, id, senderID))
}

// UpdateMessageStatus moves a message along sent -> delivered -> read.
func (s *Store) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string) (err error) {
	defer s.observe("update_message_status", time.Now(), &err)
	res, err := s.db.ExecContext(ctx, `
		UPDATE telegraph.messages
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessageRead records a read mark and returns when the user first read the
// message. Marking twice is a no-op that returns the original time.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (readAt time.Time, err error) {
	defer s.observe("mark_message_read", time.Now(), &err)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO telegraph.message_reads (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = telegraph.message_reads.read_at
		RETURNING read_at
	`, messageID, userID).Scan(&readAt)
	if err != nil {
		return time.Time{}, err
	}

	// Status is best-effort; a reader never bumps their own message.
	_, err = s.db.ExecContext(ctx, `
		UPDATE telegraph.messages
		SET status = 'read', updated_at = NOW()
		WHERE id = $1 AND sender_id <> $2 AND status <> 'read'
	`, messageID, userID)
	return readAt, err
}

// MarkChatRead marks every message in the chat not sent by the user as read.
func (s *Store) MarkChatRead(ctx context.Context, chatID, userID uuid.UUID) (err error) {
	defer s.observe("mark_chat_read", time.Now(), &err)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO telegraph.message_reads (message_id, user_id)
		SELECT m.id, $2
		FROM telegraph.messages m
		WHERE m.chat_id = $1 AND m.sender_id <> $2 AND m.is_deleted = FALSE
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, chatID, userID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE telegraph.messages
		SET status = 'read', updated_at = NOW()
		WHERE chat_id = $1 AND sender_id <> $2 AND status <> 'read'
	`, chatID, userID)
	return err
}

// UnreadCount counts messages in the chat the user has not read and did not
// send.
func (s *Store) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (count int, err error) {
	defer s.observe("unread_count", time.Now(), &err)
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM telegraph.messages m
		WHERE m.chat_id = $1 AND m.sender_id <> $2 AND m.is_deleted = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM telegraph.message_reads r
			WHERE r.message_id = m.id AND r.user_id = $2
		  )
	`, chatID, userID).Scan(&count)
	return count, err
}
