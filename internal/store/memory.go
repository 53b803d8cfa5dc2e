package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatworks/pkg/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory stand-in for Store used by hub and end-to-end
// tests. It honors the same error sentinels and ordering contracts.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*models.User
	chats    map[uuid.UUID]*models.Chat
	members  map[uuid.UUID]map[uuid.UUID]string
	messages map[uuid.UUID]*models.Message
	byChat   map[uuid.UUID][]uuid.UUID
	reads    map[uuid.UUID]map[uuid.UUID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]*models.User),
		chats:    make(map[uuid.UUID]*models.Chat),
		members:  make(map[uuid.UUID]map[uuid.UUID]string),
		messages: make(map[uuid.UUID]*models.Message),
		byChat:   make(map[uuid.UUID][]uuid.UUID),
		reads:    make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

// SeedUser inserts a user directly, assigning an ID if missing.
func (s *MemoryStore) SeedUser(user *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
		user.UpdatedAt = user.CreatedAt
	}
	cp := *user
	s.users[user.ID] = &cp
	return user
}

// SeedChat inserts a chat with the given members, assigning an ID if missing.
// When CreatedBy names one of the members, that member is seeded as owner.
func (s *MemoryStore) SeedChat(chat *models.Chat, memberIDs ...uuid.UUID) *models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if chat.Type == "" {
		chat.Type = models.ChatTypeGroup
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
		chat.UpdatedAt = chat.CreatedAt
	}
	cp := *chat
	s.chats[chat.ID] = &cp
	set := make(map[uuid.UUID]string, len(memberIDs))
	for _, id := range memberIDs {
		role := models.MemberRoleMember
		if chat.Type == models.ChatTypeGroup && id == chat.CreatedBy {
			role = models.MemberRoleOwner
		}
		set[id] = role
	}
	s.members[chat.ID] = set
	return chat
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Phone == user.Phone || existing.Username == user.Username {
			return ErrConflict
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SearchUsers(_ context.Context, q string, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	q = strings.ToLower(q)
	var out []models.User
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.FirstName), q) ||
			strings.Contains(strings.ToLower(u.LastName), q) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id uuid.UUID, req *models.UpdateProfileRequest) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.Bio != nil {
		bio := *req.Bio
		u.Bio = &bio
	}
	if req.AvatarURL != nil {
		avatar := *req.AvatarURL
		u.AvatarURL = &avatar
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetOnline(_ context.Context, id uuid.UUID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	u.IsOnline = online
	u.LastSeen = &now
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id uuid.UUID) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok || c.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CreatePrivateChat(_ context.Context, creator, other uuid.UUID) (*models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chatID, set := range s.members {
		c := s.chats[chatID]
		if c == nil || c.Type != models.ChatTypePrivate || c.IsDeleted {
			continue
		}
		_, hasCreator := set[creator]
		_, hasOther := set[other]
		if hasCreator && hasOther {
			cp := *c
			return &cp, false, nil
		}
	}

	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.New(),
		Type:      models.ChatTypePrivate,
		CreatedBy: creator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[chat.ID] = chat
	s.members[chat.ID] = map[uuid.UUID]string{
		creator: models.MemberRoleMember,
		other:   models.MemberRoleMember,
	}
	cp := *chat
	return &cp, true, nil
}

func (s *MemoryStore) CreateGroupChat(_ context.Context, creator uuid.UUID, name, description string, memberIDs []uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.New(),
		Type:      models.ChatTypeGroup,
		Name:      &name,
		CreatedBy: creator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if description != "" {
		chat.Description = &description
	}
	s.chats[chat.ID] = chat
	set := map[uuid.UUID]string{creator: models.MemberRoleOwner}
	for _, id := range memberIDs {
		if id == creator {
			continue
		}
		set[id] = models.MemberRoleMember
	}
	s.members[chat.ID] = set
	cp := *chat
	return &cp, nil
}

func (s *MemoryStore) UpdateChat(_ context.Context, id uuid.UUID, req *models.UpdateChatRequest) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.IsDeleted {
		return nil, ErrNotFound
	}
	if req.Name != nil {
		name := *req.Name
		c.Name = &name
	}
	if req.Description != nil {
		desc := *req.Description
		c.Description = &desc
	}
	if req.AvatarURL != nil {
		avatar := *req.AvatarURL
		c.AvatarURL = &avatar
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SoftDeleteChat(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || c.IsDeleted {
		return ErrNotFound
	}
	c.IsDeleted = true
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[chatID][userID]
	return ok, nil
}

func (s *MemoryStore) ListMembers(_ context.Context, chatID uuid.UUID) ([]models.ChatMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMember
	for userID, role := range s.members[chatID] {
		out = append(out, models.ChatMember{ChatID: chatID, UserID: userID, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (s *MemoryStore) ListMemberUsers(_ context.Context, chatID uuid.UUID) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.User
	for userID := range s.members[chatID] {
		if u, ok := s.users[userID]; ok {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *MemoryStore) GetMemberRole(_ context.Context, chatID, userID uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.members[chatID][userID]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

func (s *MemoryStore) AddMember(_ context.Context, chatID, userID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == "" {
		role = models.MemberRoleMember
	}
	set, ok := s.members[chatID]
	if !ok {
		return ErrNotFound
	}
	set[userID] = role
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, chatID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[chatID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := set[userID]; !ok {
		return ErrNotFound
	}
	delete(set, userID)
	return nil
}

func (s *MemoryStore) ListChatsForUser(_ context.Context, userID uuid.UUID) ([]models.ChatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatSummary
	activity := make(map[uuid.UUID]time.Time)
	for chatID, set := range s.members {
		if _, ok := set[userID]; !ok {
			continue
		}
		c, ok := s.chats[chatID]
		if !ok || c.IsDeleted {
			continue
		}
		sum := models.ChatSummary{Chat: *c}
		activity[chatID] = c.CreatedAt

		ids := s.byChat[chatID]
		for i := len(ids) - 1; i >= 0; i-- {
			if m := s.messages[ids[i]]; !m.IsDeleted {
				cp := *m
				sum.LastMessage = &cp
				activity[chatID] = m.CreatedAt
				break
			}
		}

		for _, id := range ids {
			m := s.messages[id]
			if m.IsDeleted || m.SenderID == userID {
				continue
			}
			if _, ok := s.reads[id][userID]; !ok {
				sum.UnreadCount++
			}
		}

		if c.Type == models.ChatTypePrivate {
			for memberID := range set {
				if u, ok := s.users[memberID]; ok {
					sum.Members = append(sum.Members, *u)
				}
			}
			sort.Slice(sum.Members, func(i, j int) bool {
				return sum.Members[i].ID.String() < sum.Members[j].ID.String()
			})
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return activity[out[i].Chat.ID].After(activity[out[j].Chat.ID])
	})
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}
	msg.ID = uuid.New()
	msg.Status = models.MessageStatusSent
	msg.CreatedAt = time.Now().UTC()
	msg.UpdatedAt = msg.CreatedAt
	cp := *msg
	s.messages[msg.ID] = &cp
	s.byChat[msg.ChatID] = append(s.byChat[msg.ChatID], msg.ID)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	return s.ChatMessages(ctx, chatID, limit, 0)
}

func (s *MemoryStore) ChatMessages(_ context.Context, chatID uuid.UUID, limit, offset int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var live []models.Message
	for _, id := range s.byChat[chatID] {
		if m := s.messages[id]; !m.IsDeleted {
			live = append(live, *m)
		}
	}
	// Offset counts back from the newest message; each window comes back in
	// chronological order.
	end := len(live) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return live[start:end], nil
}

func (s *MemoryStore) EditMessage(_ context.Context, id, senderID uuid.UUID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted || m.SenderID != senderID {
		return nil, ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) SoftDeleteMessage(_ context.Context, id, senderID uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted || m.SenderID != senderID {
		return nil, ErrNotFound
	}
	m.IsDeleted = true
	m.Content = ""
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) MarkMessageRead(_ context.Context, messageID, userID uuid.UUID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	byUser, ok := s.reads[messageID]
	if !ok {
		byUser = make(map[uuid.UUID]time.Time)
		s.reads[messageID] = byUser
	}
	if at, ok := byUser[userID]; ok {
		return at, nil
	}
	at := time.Now().UTC()
	byUser[userID] = at
	if m.SenderID != userID {
		m.Status = models.MessageStatusRead
	}
	return at, nil
}

func (s *MemoryStore) MarkChatRead(_ context.Context, chatID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byChat[chatID] {
		m := s.messages[id]
		if m.IsDeleted || m.SenderID == userID {
			continue
		}
		byUser, ok := s.reads[id]
		if !ok {
			byUser = make(map[uuid.UUID]time.Time)
			s.reads[id] = byUser
		}
		if _, ok := byUser[userID]; !ok {
			byUser[userID] = time.Now().UTC()
		}
		m.Status = models.MessageStatusRead
	}
	return nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, chatID, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byChat[chatID] {
		m := s.messages[id]
		if m.IsDeleted || m.SenderID == userID {
			continue
		}
		if _, ok := s.reads[id][userID]; !ok {
			count++
		}
	}
	return count, nil
}
