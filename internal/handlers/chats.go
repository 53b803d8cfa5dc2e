package handlers

import (
	"errors"
	"net/http"

	"chatworks/internal/store"
	"chatworks/internal/websocket"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// notifyNewChat pushes a new_chat frame to each member's live session and
// publishes the chat_created event.
func notifyNewChat(chat *models.Chat, memberIDs []uuid.UUID) {
	env, err := websocket.NewEnvelope(websocket.TypeNewChat, websocket.ChatEventPayload{Chat: chat})
	if err != nil {
		logger.WithError(err).Error("Failed to encode new_chat frame")
		return
	}
	if err := hub.BroadcastToUsers(memberIDs, env); err != nil {
		logger.WithError(err).WithField("chat_id", chat.ID).Warn("new_chat notification dropped")
	}
	publisher.ChatCreated(chat, memberIDs)
}

// notifyChatUpdated pushes a chat_updated frame to the chat's subscribers and
// publishes the chat_updated event. Used for metadata edits, membership
// changes and soft deletes alike; clients reconcile from the chat object.
func notifyChatUpdated(chat *models.Chat, actorID uuid.UUID) {
	env, err := websocket.NewEnvelope(websocket.TypeChatUpdated, websocket.ChatEventPayload{Chat: chat})
	if err != nil {
		logger.WithError(err).Error("Failed to encode chat_updated frame")
		return
	}
	if err := hub.BroadcastToChat(chat.ID, env, uuid.Nil); err != nil {
		logger.WithError(err).WithField("chat_id", chat.ID).Warn("chat_updated notification dropped")
	}
	publisher.ChatUpdated(chat, actorID)
}

// CreateChat opens a private chat or creates a group. Reposting an existing
// private pair returns the existing chat instead of a duplicate.
func CreateChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	if req.Type == models.ChatTypePrivate {
		if len(req.MemberIDs) != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Private chat requires exactly one other member"})
			return
		}
		other := req.MemberIDs[0]
		if other == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot open a private chat with yourself"})
			return
		}
		if _, err := st.GetUser(ctx, other); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			logger.WithError(err).Error("Failed to resolve private chat member")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
			return
		}

		chat, created, err := st.CreatePrivateChat(ctx, userID, other)
		if err != nil {
			logger.WithError(err).WithFields(logging.Fields{
				"user_id": userID,
				"other":   other,
			}).Error("Failed to create private chat")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
			return
		}
		if !created {
			c.JSON(http.StatusOK, gin.H{"chat": chat})
			return
		}

		notifyNewChat(chat, []uuid.UUID{userID, other})
		c.JSON(http.StatusCreated, gin.H{"chat": chat})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Group chat requires a name"})
		return
	}

	chat, err := st.CreateGroupChat(ctx, userID, req.Name, req.Description, req.MemberIDs)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to create group chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
		return
	}

	members := make([]uuid.UUID, 0, len(req.MemberIDs)+1)
	members = append(members, userID)
	for _, id := range req.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	notifyNewChat(chat, members)
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

// GetChats lists the caller's chats newest-activity-first, each with its last
// message and unread count.
func GetChats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	chats, err := st.ListChatsForUser(ctx, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to list chats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat returns a single chat the caller belongs to.
func GetChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	chat, err := st.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load chat"})
		return
	}

	member, err := st.IsMember(ctx, chatID, userID)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load chat"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// UpdateChat edits chat metadata. Owners and admins only.
func UpdateChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	role, err := st.GetMemberRole(ctx, chatID, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Role check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update chat"})
		return
	}
	if role != models.MemberRoleOwner && role != models.MemberRoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	chat, err := st.UpdateChat(ctx, chatID, &req)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to update chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update chat"})
		return
	}

	notifyChatUpdated(chat, userID)
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// DeleteChat soft-deletes a chat. Owner only; history stays queryable.
func DeleteChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	chat, err := st.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat"})
		return
	}

	role, err := st.GetMemberRole(ctx, chatID, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && role != models.MemberRoleOwner) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Role check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat"})
		return
	}

	if err := st.SoftDeleteChat(ctx, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to delete chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat"})
		return
	}

	logger.WithFields(logging.Fields{
		"chat_id": chatID,
		"user_id": userID,
	}).Info("Chat deleted")

	// Subscribers learn about the delete from the tombstoned chat object.
	chat.IsDeleted = true
	notifyChatUpdated(chat, userID)

	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted"})
}

// AddMember adds a user to a chat. Owners and admins only; the added user's
// live session is handed the chat via a new_chat frame.
func AddMember(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot add yourself"})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	chat, err := st.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	role, err := st.GetMemberRole(ctx, chatID, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && role != models.MemberRoleOwner && role != models.MemberRoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Role check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	if _, err := st.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		logger.WithError(err).Error("Failed to resolve new member")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	if _, err := st.GetMemberRole(ctx, chatID, req.UserID); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Already a member"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).WithField("chat_id", chatID).Error("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	if err := st.AddMember(ctx, chatID, req.UserID, models.MemberRoleMember); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"chat_id": chatID,
			"user_id": req.UserID,
		}).Error("Failed to add member")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	notifyChatUpdated(chat, userID)
	notifyNewChat(chat, []uuid.UUID{req.UserID})

	c.JSON(http.StatusOK, gin.H{"message": "Member added"})
}

// RemoveMember removes a user from a chat. Owners and admins may remove
// anyone but the owner; everyone may remove themselves.
func RemoveMember(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathUUID(c, "userId")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	chat, err := st.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}

	targetRole, err := st.GetMemberRole(ctx, chatID, memberID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not a member"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}
	if targetRole == models.MemberRoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot remove the chat owner"})
		return
	}

	actorRole, err := st.GetMemberRole(ctx, chatID, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Role check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}
	allowed := actorRole == models.MemberRoleOwner || actorRole == models.MemberRoleAdmin || userID == memberID
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := st.RemoveMember(ctx, chatID, memberID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not a member"})
			return
		}
		logger.WithError(err).WithFields(logging.Fields{
			"chat_id": chatID,
			"user_id": memberID,
		}).Error("Failed to remove member")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}

	notifyChatUpdated(chat, userID)
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// GetMembers returns the chat's active members with their roles.
func GetMembers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	member, err := st.IsMember(ctx, chatID, userID)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	memberships, err := st.ListMembers(ctx, chatID)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to list members")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
		return
	}
	users, err := st.ListMemberUsers(ctx, chatID)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to list members")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
		return
	}
	byID := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]gin.H, 0, len(memberships))
	for _, m := range memberships {
		entry := gin.H{
			"user_id":   m.UserID,
			"role":      m.Role,
			"joined_at": m.JoinedAt,
		}
		if u, found := byID[m.UserID]; found {
			entry["user"] = u
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{"members": out})
}

// LeaveChat removes the caller from a chat. The owner cannot leave; they
// delete the chat or hand it off first.
func LeaveChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	chat, err := st.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave chat"})
		return
	}

	role, err := st.GetMemberRole(ctx, chatID, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not a member"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Role check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave chat"})
		return
	}
	if role == models.MemberRoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "Owner cannot leave the chat"})
		return
	}

	if err := st.RemoveMember(ctx, chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not a member"})
			return
		}
		logger.WithError(err).WithFields(logging.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Error("Failed to leave chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave chat"})
		return
	}

	notifyChatUpdated(chat, userID)
	c.JSON(http.StatusOK, gin.H{"message": "Left chat"})
}
