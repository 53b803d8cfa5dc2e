package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chatworks/internal/store"
	"chatworks/internal/websocket"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// broadcastMessage fans a message frame out to the chat's subscribers. The
// author is excluded; their REST response already carries the message.
func broadcastMessage(chatID uuid.UUID, payload websocket.MessagePayload, exclude uuid.UUID) {
	env, err := websocket.NewEnvelope(websocket.TypeMessage, payload)
	if err != nil {
		logger.WithError(err).Error("Failed to encode message frame")
		return
	}
	if err := hub.BroadcastToChat(chatID, env, exclude); err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Warn("Message broadcast dropped")
	}
}

// GetMessages pages backwards through a chat's history. Offset 0 is the
// newest window; each window comes back in chronological order.
func GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	member, err := st.IsMember(ctx, chatID, userID)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	messages, err := st.ChatMessages(ctx, chatID, limit, offset)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendMessage posts a message over REST. It persists and fans out exactly
// like the socket's send_message intent, so subscribers cannot tell the two
// apart.
func SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgType := req.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	switch msgType {
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile, models.MessageTypeVoice:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported message_type: " + msgType})
		return
	}
	if req.Content == "" && msgType == models.MessageTypeText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required"})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	member, err := st.IsMember(ctx, chatID, userID)
	if err != nil {
		logger.WithError(err).WithField("chat_id", chatID).Error("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	sender, err := st.GetUser(ctx, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to resolve sender")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}

	msg := &models.Message{
		ChatID:      chatID,
		SenderID:    userID,
		Content:     req.Content,
		MessageType: msgType,
		MediaURL:    req.MediaURL,
		ReplyToID:   req.ReplyToID,
	}
	if err := st.CreateMessage(ctx, msg); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"user_id": userID,
			"chat_id": chatID,
		}).Error("Failed to persist message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	publisher.MessageSent(msg)

	payload := websocket.NewMessagePayload(msg, sender)
	broadcastMessage(chatID, payload, userID)

	c.JSON(http.StatusCreated, gin.H{"message": payload})
}

// EditMessage replaces a message's content. Sender only; subscribers get the
// edited message as a fresh message frame with is_edited set.
func EditMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	existing, err := st.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("message_id", messageID).Error("Failed to load message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to edit message"})
		return
	}
	if existing.SenderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the sender can edit a message"})
		return
	}

	msg, err := st.EditMessage(ctx, messageID, userID, req.Content)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("message_id", messageID).Error("Failed to edit message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to edit message"})
		return
	}
	publisher.MessageUpdated(msg)

	sender, err := st.GetUser(ctx, userID)
	if err != nil {
		sender = nil
	}
	payload := websocket.NewMessagePayload(msg, sender)
	broadcastMessage(msg.ChatID, payload, userID)

	c.JSON(http.StatusOK, gin.H{"message": payload})
}

// DeleteMessage tombstones a message. Sender only; subscribers get the
// tombstoned message plus a deleted status frame.
func DeleteMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	existing, err := st.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("message_id", messageID).Error("Failed to load message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
		return
	}
	if existing.SenderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the sender can delete a message"})
		return
	}

	msg, err := st.SoftDeleteMessage(ctx, messageID, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("message_id", messageID).Error("Failed to delete message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
		return
	}
	publisher.MessageDeleted(messageID, msg.ChatID, userID)

	sender, err := st.GetUser(ctx, userID)
	if err != nil {
		sender = nil
	}
	broadcastMessage(msg.ChatID, websocket.NewMessagePayload(msg, sender), userID)

	status, err := websocket.NewEnvelope(websocket.TypeMessageStatus, websocket.MessageStatusPayload{
		MessageID: messageID,
		Status:    "deleted",
		UpdatedAt: msg.UpdatedAt,
	})
	if err == nil {
		if err := hub.BroadcastToChat(msg.ChatID, status, userID); err != nil {
			logger.WithError(err).WithField("chat_id", msg.ChatID).Warn("Status broadcast dropped")
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// MarkChatRead marks every message in the chat as read for the caller. No
// broadcast goes out; unread counts converge through the chat list.
func MarkChatRead(c *gin.Context) {
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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark chat read"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if err := st.MarkChatRead(ctx, chatID, userID); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Error("Failed to mark chat read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark chat read"})
		return
	}
	publisher.ChatRead(chatID, userID)

	c.JSON(http.StatusOK, gin.H{"message": "Chat marked as read"})
}
