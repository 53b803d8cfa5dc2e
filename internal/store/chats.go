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

const chatColumns = `id, type, name, description, avatar_url, created_by, is_deleted, created_at, updated_at`

func scanChat(row rowScanner) (*models.Chat, error) {
	var c models.Chat
	err := row.Scan(
		&c.ID, &c.Type, &c.Name, &c.Description, &c.AvatarURL,
		&c.CreatedBy, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreatePrivateChat creates a one-to-one chat between creator and other, or
// returns the existing one. The second return value reports whether a new chat
// was created.
func (s *Store) CreatePrivateChat(ctx context.Context, creator, other uuid.UUID) (chat *models.Chat, created bool, err error) {
	defer s.observe("create_private_chat", time.Now(), &err)
	dedupe := `
		SELECT c.id
		FROM telegraph.chats c
		JOIN telegraph.chat_members m1 ON m1.chat_id = c.id AND m1.user_id = $1 AND m1.left_at IS NULL
		JOIN telegraph.chat_members m2 ON m2.chat_id = c.id AND m2.user_id = $2 AND m2.left_at IS NULL
		WHERE c.type = 'private' AND c.is_deleted = FALSE
		LIMIT 1
	`
	var existingID uuid.UUID
	err = s.db.QueryRowContext(ctx, dedupe, creator, other).Scan(&existingID)
	if err == nil {
		chat, err = s.GetChat(ctx, existingID)
		return chat, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback() //nolint:errcheck

	chat = &models.Chat{Type: models.ChatTypePrivate, CreatedBy: creator}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO telegraph.chats (type, created_by)
		VALUES ('private', $1)
		RETURNING `+chatColumns+`
	`, creator).Scan(
		&chat.ID, &chat.Type, &chat.Name, &chat.Description, &chat.AvatarURL,
		&chat.CreatedBy, &chat.IsDeleted, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert private chat: %w", err)
	}

	for _, userID := range []uuid.UUID{creator, other} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO telegraph.chat_members (chat_id, user_id, role)
			VALUES ($1, $2, 'member')
		`, chat.ID, userID); err != nil {
			return nil, false, fmt.Errorf("insert private chat member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

// CreateGroupChat creates a group chat with the creator as owner and the given
// users as members.
func (s *Store) CreateGroupChat(ctx context.Context, creator uuid.UUID, name, description string, memberIDs []uuid.UUID) (chat *models.Chat, err error) {
	defer s.observe("create_group_chat", time.Now(), &err)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	chat = &models.Chat{Type: models.ChatTypeGroup, CreatedBy: creator}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO telegraph.chats (type, name, description, created_by)
		VALUES ('group', $1, NULLIF($2, ''), $3)
		RETURNING `+chatColumns+`
	`, name, description, creator).Scan(
		&chat.ID, &chat.Type, &chat.Name, &chat.Description, &chat.AvatarURL,
		&chat.CreatedBy, &chat.IsDeleted, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO telegraph.chat_members (chat_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, chat.ID, creator); err != nil {
		return nil, fmt.Errorf("insert group owner: %w", err)
	}

	for _, userID := range memberIDs {
		if userID == creator {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO telegraph.chat_members (chat_id, user_id, role)
			VALUES ($1, $2, 'member')
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`, chat.ID, userID); err != nil {
			return nil, fmt.Errorf("insert group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (chat *models.Chat, err error) {
	defer s.observe("get_chat", time.Now(), &err)
	query := `SELECT ` + chatColumns + ` FROM telegraph.chats WHERE id = $1 AND is_deleted = FALSE`
	return scanChat(s.db.QueryRowContext(ctx, query, id))
}

// UpdateChat applies the non-nil fields of the request and returns the updated
// chat.
func (s *Store) UpdateChat(ctx context.Context, id uuid.UUID, req *models.UpdateChatRequest) (chat *models.Chat, err error) {
	defer s.observe("update_chat", time.Now(), &err)
	query := `
		UPDATE telegraph.chats
		SET name = COALESCE($2, name),
		    description = COALESCE($3, description),
		    avatar_url = COALESCE($4, avatar_url),
		    updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING ` + chatColumns + `
	`
	return scanChat(s.db.QueryRowContext(ctx, query, id, req.Name, req.Description, req.AvatarURL))
}

// SoftDeleteChat tombstones a chat. History stays queryable for members.
func (s *Store) SoftDeleteChat(ctx context.Context, id uuid.UUID) (err error) {
	defer s.observe("delete_chat", time.Now(), &err)
	res, err := s.db.ExecContext(ctx, `
		UPDATE telegraph.chats
		SET is_deleted = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember adds a user to a chat, reviving the row if they left before.
func (s *Store) AddMember(ctx context.Context, chatID, userID uuid.UUID, role string) (err error) {
	defer s.observe("add_member", time.Now(), &err)
	if role == "" {
		role = models.MemberRoleMember
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telegraph.chat_members (chat_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET left_at = NULL, role = EXCLUDED.role, joined_at = NOW()
	`, chatID, userID, role)
	if err != nil {
		return err
	}
	s.invalidateMember(chatID, userID)
	return nil
}

// RemoveMember marks a membership as left.
func (s *Store) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) (err error) {
	defer s.observe("remove_member", time.Now(), &err)
	res, err := s.db.ExecContext(ctx, `
		UPDATE telegraph.chat_members
		SET left_at = NOW()
		WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
	`, chatID, userID)
	if err != nil {
		return err
	}
	s.invalidateMember(chatID, userID)
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns the active memberships of a chat.
func (s *Store) ListMembers(ctx context.Context, chatID uuid.UUID) (members []models.ChatMember, err error) {
	defer s.observe("list_members", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id, role, joined_at, left_at
		FROM telegraph.chat_members
		WHERE chat_id = $1 AND left_at IS NULL
		ORDER BY joined_at
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m models.ChatMember
		var leftAt sql.NullTime
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Role, &m.JoinedAt, &leftAt); err != nil {
			return nil, err
		}
		if leftAt.Valid {
			m.LeftAt = &leftAt.Time
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListMemberUsers returns the user records of a chat's active members.
func (s *Store) ListMemberUsers(ctx context.Context, chatID uuid.UUID) (users []models.User, err error) {
	defer s.observe("list_member_users", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.phone, u.username, u.password_hash, u.first_name, u.last_name,
		       u.avatar_url, u.bio, u.is_online, u.last_seen, u.created_at, u.updated_at
		FROM telegraph.chat_members m
		JOIN telegraph.users u ON u.id = m.user_id
		WHERE m.chat_id = $1 AND m.left_at IS NULL
		ORDER BY m.joined_at
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetMemberRole returns the caller's active role in a chat, or ErrNotFound.
func (s *Store) GetMemberRole(ctx context.Context, chatID, userID uuid.UUID) (role string, err error) {
	defer s.observe("get_member_role", time.Now(), &err)
	err = s.db.QueryRowContext(ctx, `
		SELECT role FROM telegraph.chat_members
		WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
	`, chatID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

// IsMember reports whether the user is an active member of the chat. Results
// are cached briefly; membership mutations through this store invalidate the
// cached entry. Only cache misses hit the database and the query metrics.
func (s *Store) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	key := memberCacheKey(chatID, userID)
	_, found, err := s.members.Get(ctx, key, func(ctx context.Context, _ string) (_ interface{}, _ bool, err error) {
		defer s.observe("is_member", time.Now(), &err)
		var exists bool
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM telegraph.chat_members
				WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
			)
		`, chatID, userID).Scan(&exists)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, nil
		}
		return true, true, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ListChatsForUser returns the user's chats newest-activity-first, each with
// its last message and the caller's unread count. Private chats carry their
// member users so clients can label them.
func (s *Store) ListChatsForUser(ctx context.Context, userID uuid.UUID) (summaries []models.ChatSummary, err error) {
	defer s.observe("list_chats", time.Now(), &err)
	query := `
		SELECT c.id, c.type, c.name, c.description, c.avatar_url, c.created_by, c.is_deleted, c.created_at, c.updated_at,
		       m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.media_url, m.reply_to_id,
		       m.is_edited, m.is_deleted, m.status, m.created_at, m.updated_at,
		       COALESCE(u.unread, 0)
		FROM telegraph.chats c
		JOIN telegraph.chat_members cm ON cm.chat_id = c.id AND cm.user_id = $1 AND cm.left_at IS NULL
		LEFT JOIN LATERAL (
			SELECT id, chat_id, sender_id, content, message_type, media_url, reply_to_id,
			       is_edited, is_deleted, status, created_at, updated_at
			FROM telegraph.messages
			WHERE chat_id = c.id AND is_deleted = FALSE
			ORDER BY created_at DESC
			LIMIT 1
		) m ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread
			FROM telegraph.messages msg
			WHERE msg.chat_id = c.id
			  AND msg.sender_id <> $1
			  AND msg.is_deleted = FALSE
			  AND NOT EXISTS (
				SELECT 1 FROM telegraph.message_reads r
				WHERE r.message_id = msg.id AND r.user_id = $1
			  )
		) u ON TRUE
		WHERE c.is_deleted = FALSE
		ORDER BY COALESCE(m.created_at, c.created_at) DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sum models.ChatSummary
		var msgID, msgChatID, msgSenderID uuid.NullUUID
		var msgReplyTo uuid.NullUUID
		var msgContent, msgType, msgStatus sql.NullString
		var msgMedia sql.NullString
		var msgEdited, msgDeleted sql.NullBool
		var msgCreated, msgUpdated sql.NullTime

		if err := rows.Scan(
			&sum.Chat.ID, &sum.Chat.Type, &sum.Chat.Name, &sum.Chat.Description, &sum.Chat.AvatarURL,
			&sum.Chat.CreatedBy, &sum.Chat.IsDeleted, &sum.Chat.CreatedAt, &sum.Chat.UpdatedAt,
			&msgID, &msgChatID, &msgSenderID, &msgContent, &msgType, &msgMedia, &msgReplyTo,
			&msgEdited, &msgDeleted, &msgStatus, &msgCreated, &msgUpdated,
			&sum.UnreadCount,
		); err != nil {
			return nil, err
		}

		if msgID.Valid {
			msg := &models.Message{
				ID:          msgID.UUID,
				ChatID:      msgChatID.UUID,
				SenderID:    msgSenderID.UUID,
				Content:     msgContent.String,
				MessageType: msgType.String,
				IsEdited:    msgEdited.Bool,
				IsDeleted:   msgDeleted.Bool,
				Status:      msgStatus.String,
				CreatedAt:   msgCreated.Time,
				UpdatedAt:   msgUpdated.Time,
			}
			if msgMedia.Valid {
				msg.MediaURL = &msgMedia.String
			}
			if msgReplyTo.Valid {
				replyTo := msgReplyTo.UUID
				msg.ReplyToID = &replyTo
			}
			sum.LastMessage = msg
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Private chats are unnamed; attach members so clients can label them.
	for i := range summaries {
		if summaries[i].Chat.Type != models.ChatTypePrivate {
			continue
		}
		users, err := s.ListMemberUsers(ctx, summaries[i].Chat.ID)
		if err != nil {
			return nil, err
		}
		summaries[i].Members = users
	}
	return summaries, nil
}

// TouchChat bumps updated_at, used when activity should resort chat lists.
func (s *Store) TouchChat(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer s.observe("touch_chat", time.Now(), &err)
	_, err = s.db.ExecContext(ctx, `
		UPDATE telegraph.chats SET updated_at = $2 WHERE id = $1
	`, id, at)
	return err
}
