package testutil

import (
	"database/sql/driver"
	"time"

	"chatworks/pkg/models"

	"github.com/google/uuid"
)

// DatabaseFixtures provides test data fixtures for database testing
type DatabaseFixtures struct{}

// NewDatabaseFixtures creates a new database fixtures helper
func NewDatabaseFixtures() *DatabaseFixtures {
	return &DatabaseFixtures{}
}

// UserValid creates a fully populated user
func (f *DatabaseFixtures) UserValid() *models.User {
	avatar := "https://cdn.example.com/a/alice.png"
	bio := "hello there"
	lastSeen := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	return &models.User{
		ID:           uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Phone:        "+15550101",
		Username:     "alice",
		PasswordHash: "$2a$10$fixturefixturefixturefixturefixture",
		FirstName:    "Alice",
		LastName:     "Anderson",
		AvatarURL:    &avatar,
		Bio:          &bio,
		IsOnline:     true,
		LastSeen:     &lastSeen,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// UserWithNulls creates a user with every nullable field NULL
func (f *DatabaseFixtures) UserWithNulls() *models.User {
	return &models.User{
		ID:           uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Phone:        "+15550102",
		Username:     "bob",
		PasswordHash: "$2a$10$fixturefixturefixturefixturefixture",
		FirstName:    "",
		LastName:     "",
		AvatarURL:    nil,
		Bio:          nil,
		IsOnline:     false,
		LastSeen:     nil,
		CreatedAt:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

// GetUserColumns returns the column names user queries select
func (f *DatabaseFixtures) GetUserColumns() []string {
	return []string{
		"id", "phone", "username", "password_hash", "first_name", "last_name",
		"avatar_url", "bio", "is_online", "last_seen", "created_at", "updated_at",
	}
}

// GetUserRowData returns row data for a given User model
func (f *DatabaseFixtures) GetUserRowData(u *models.User) []driver.Value {
	return []driver.Value{
		u.ID.String(), u.Phone, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		nullableString(u.AvatarURL), nullableString(u.Bio), u.IsOnline,
		nullableTime(u.LastSeen), u.CreatedAt, u.UpdatedAt,
	}
}

// ChatPrivate creates a private chat between the two fixture users
func (f *DatabaseFixtures) ChatPrivate() *models.Chat {
	return &models.Chat{
		ID:        uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Type:      models.ChatTypePrivate,
		CreatedBy: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		CreatedAt: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

// ChatGroup creates a named group chat
func (f *DatabaseFixtures) ChatGroup() *models.Chat {
	name := "ops"
	description := "ship it"

	return &models.Chat{
		ID:          uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		Type:        models.ChatTypeGroup,
		Name:        &name,
		Description: &description,
		CreatedBy:   uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		CreatedAt:   time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC),
	}
}

// GetChatColumns returns the column names chat queries select
func (f *DatabaseFixtures) GetChatColumns() []string {
	return []string{
		"id", "type", "name", "description", "avatar_url", "created_by",
		"is_deleted", "created_at", "updated_at",
	}
}

// GetChatRowData returns row data for a given Chat model
func (f *DatabaseFixtures) GetChatRowData(c *models.Chat) []driver.Value {
	return []driver.Value{
		c.ID.String(), c.Type, nullableString(c.Name), nullableString(c.Description),
		nullableString(c.AvatarURL), c.CreatedBy.String(), c.IsDeleted,
		c.CreatedAt, c.UpdatedAt,
	}
}

// MessageValid creates a fully populated text message
func (f *DatabaseFixtures) MessageValid() *models.Message {
	return &models.Message{
		ID:          uuid.MustParse("55555555-5555-5555-5555-555555555555"),
		ChatID:      uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		SenderID:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Content:     "hi",
		MessageType: models.MessageTypeText,
		Status:      models.MessageStatusSent,
		CreatedAt:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// MessageWithMedia creates an image message with a reply reference
func (f *DatabaseFixtures) MessageWithMedia() *models.Message {
	media := "https://cdn.example.com/m/pic.jpg"
	replyTo := uuid.MustParse("55555555-5555-5555-5555-555555555555")

	return &models.Message{
		ID:          uuid.MustParse("66666666-6666-6666-6666-666666666666"),
		ChatID:      uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		SenderID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Content:     "look",
		MessageType: models.MessageTypeImage,
		MediaURL:    &media,
		ReplyToID:   &replyTo,
		Status:      models.MessageStatusSent,
		CreatedAt:   time.Date(2024, 1, 15, 10, 1, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 15, 10, 1, 0, 0, time.UTC),
	}
}

// GetMessageColumns returns the column names message queries select
func (f *DatabaseFixtures) GetMessageColumns() []string {
	return []string{
		"id", "chat_id", "sender_id", "content", "message_type", "media_url",
		"reply_to_id", "is_edited", "is_deleted", "status", "created_at", "updated_at",
	}
}

// GetMessageRowData returns row data for a given Message model
func (f *DatabaseFixtures) GetMessageRowData(m *models.Message) []driver.Value {
	var replyTo driver.Value
	if m.ReplyToID != nil {
		replyTo = m.ReplyToID.String()
	}
	return []driver.Value{
		m.ID.String(), m.ChatID.String(), m.SenderID.String(), m.Content,
		m.MessageType, nullableString(m.MediaURL), replyTo,
		m.IsEdited, m.IsDeleted, m.Status, m.CreatedAt, m.UpdatedAt,
	}
}

func nullableString(s *string) driver.Value {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return *t
}

// NullTimeValue represents a nullable time value for SQL mocking
type NullTimeValue struct {
	Time  time.Time
	Valid bool
}

// Match implements sqlmock.Argument interface
func (n NullTimeValue) Match(v driver.Value) bool {
	switch val := v.(type) {
	case time.Time:
		return n.Valid && val.Equal(n.Time)
	case nil:
		return !n.Valid
	default:
		return false
	}
}

// NullStringValue represents a nullable string value for SQL mocking
type NullStringValue struct {
	String string
	Valid  bool
}

// Match implements sqlmock.Argument interface
func (n NullStringValue) Match(v driver.Value) bool {
	switch val := v.(type) {
	case string:
		return n.Valid && val == n.String
	case nil:
		return !n.Valid
	default:
		return false
	}
}
