package websocket

import (
	"context"
	"errors"
	"runtime/debug"

	"chatworks/internal/store"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/google/uuid"
)

func isClientType(msgType string) bool {
	switch msgType {
	case TypeSendMessage, TypeReadMessage, TypeReadChat,
		TypeTypingStart, TypeTypingStop,
		TypeSubscribeChat, TypeUnsubscribeChat, TypePing:
		return true
	}
	return false
}

// dispatch decodes one inbound envelope and routes it to its intent handler.
// Runs on the session's reader goroutine; persistence calls block only this
// session. A handler panic is contained here and never reaches the hub loop.
func (h *Hub) dispatch(s *Session, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(logging.Fields{
				"user_id": s.userID,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("Intent handler panicked")
		}
	}()

	env, err := DecodeEnvelope(data)
	if err != nil {
		h.sendError(s, "", CodeInvalidJSON, "malformed envelope")
		return
	}
	s.touch()

	if !isClientType(env.Type) {
		h.observeInbound("unknown")
		h.sendError(s, env.RequestID, CodeUnknownType, "unsupported frame type: "+env.Type)
		return
	}
	h.observeInbound(env.Type)

	switch env.Type {
	case TypePing:
		// Liveness only; the read deadline was already reset. No pong frame.
		if h.presence != nil {
			go h.presence.Refresh(context.Background(), s.userID)
		}
	case TypeSendMessage:
		h.handleSendMessage(s, env)
	case TypeReadMessage:
		h.handleReadMessage(s, env)
	case TypeReadChat:
		h.handleReadChat(s, env)
	case TypeTypingStart:
		h.handleTyping(s, env, true)
	case TypeTypingStop:
		h.handleTyping(s, env, false)
	case TypeSubscribeChat:
		h.handleSubscribeChat(s, env)
	case TypeUnsubscribeChat:
		h.handleUnsubscribeChat(s, env)
	}
}

// sendError delivers an error envelope to the originator only.
func (h *Hub) sendError(s *Session, requestID, code, message string) {
	env, err := NewEnvelope(TypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	env.RequestID = requestID
	s.Send(env)
}

func (h *Hub) handleSendMessage(s *Session, env *Envelope) {
	var p SendMessagePayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "malformed send_message payload")
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeInvalidChatID, "chat_id must be a UUID")
		return
	}

	msgType := p.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	switch msgType {
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile, models.MessageTypeVoice:
	default:
		h.sendError(s, env.RequestID, CodeInvalidPayload, "unsupported message_type: "+msgType)
		return
	}
	if p.Content == "" && msgType == models.MessageTypeText {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "content is required")
		return
	}

	var replyTo *uuid.UUID
	if p.ReplyToID != "" {
		id, err := uuid.Parse(p.ReplyToID)
		if err != nil {
			h.sendError(s, env.RequestID, CodeInvalidPayload, "reply_to_id must be a UUID")
			return
		}
		replyTo = &id
	}
	var mediaURL *string
	if p.MediaURL != "" {
		mediaURL = &p.MediaURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	member, err := h.store.IsMember(ctx, chatID, s.userID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeSendFailed, "membership check failed")
		return
	}
	if !member {
		h.sendError(s, env.RequestID, CodeNotMember, "not a member of this chat")
		return
	}

	msg := &models.Message{
		ChatID:      chatID,
		SenderID:    s.userID,
		Content:     p.Content,
		MessageType: msgType,
		MediaURL:    mediaURL,
		ReplyToID:   replyTo,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{
			"user_id": s.userID,
			"chat_id": chatID,
		}).Error("Failed to persist message")
		h.sendError(s, env.RequestID, CodeSendFailed, "failed to send message")
		return
	}
	h.events.MessageSent(msg)

	payload := NewMessagePayload(msg, s.user)

	echo, err := NewEnvelope(TypeMessage, payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode message frame")
		return
	}
	echo.RequestID = env.RequestID
	s.Send(echo)

	out, err := NewEnvelope(TypeMessage, payload)
	if err != nil {
		return
	}
	h.BroadcastToChat(chatID, out, s.userID)
}

func (h *Hub) handleReadMessage(s *Session, env *Envelope) {
	var p ReadMessagePayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "malformed read_message payload")
		return
	}
	messageID, err := uuid.Parse(p.MessageID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeInvalidMessageID, "message_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg, err := h.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(s, env.RequestID, CodeMessageNotFound, "message not found")
		return
	}
	if err != nil {
		h.sendError(s, env.RequestID, CodeSendFailed, "failed to load message")
		return
	}

	member, err := h.store.IsMember(ctx, msg.ChatID, s.userID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeSendFailed, "membership check failed")
		return
	}
	if !member {
		h.sendError(s, env.RequestID, CodeNotMember, "not a member of this chat")
		return
	}

	readAt, err := h.store.MarkMessageRead(ctx, messageID, s.userID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeSendFailed, "failed to mark message read")
		return
	}
	h.events.MessageRead(messageID, msg.ChatID, s.userID, readAt)

	out, err := NewEnvelope(TypeMessageRead, MessageReadPayload{
		MessageID: messageID,
		UserID:    s.userID,
		ReadAt:    readAt,
	})
	if err != nil {
		return
	}
	// Read receipts go to every subscriber, the reader included, so all of
	// the reader's devices converge.
	h.BroadcastToChat(msg.ChatID, out, uuid.Nil)
}

func (h *Hub) handleReadChat(s *Session, env *Envelope) {
	var p ChatRefPayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "malformed read_chat payload")
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeInvalidChatID, "chat_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	member, err := h.store.IsMember(ctx, chatID, s.userID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeSendFailed, "membership check failed")
		return
	}
	if !member {
		h.sendError(s, env.RequestID, CodeNotMember, "not a member of this chat")
		return
	}

	if err := h.store.MarkChatRead(ctx, chatID, s.userID); err != nil {
		h.sendError(s, env.RequestID, CodeSendFailed, "failed to mark chat read")
		return
	}
	h.events.ChatRead(chatID, s.userID)
	// No broadcast; unread counts converge through the chat list endpoint.
}

func (h *Hub) handleTyping(s *Session, env *Envelope, typing bool) {
	var p ChatRefPayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "malformed typing payload")
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeInvalidChatID, "chat_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	member, err := h.store.IsMember(ctx, chatID, s.userID)
	if err != nil || !member {
		if !member && err == nil {
			h.sendError(s, env.RequestID, CodeNotMember, "not a member of this chat")
		}
		return
	}

	s.SetTyping(chatID, typing)

	out, err := NewEnvelope(TypeTyping, TypingPayload{
		ChatID:   chatID,
		UserID:   s.userID,
		UserName: s.user.DisplayName(),
		IsTyping: typing,
	})
	if err != nil {
		return
	}
	// Typing is best-effort; under backpressure the frame is dropped.
	h.TryBroadcastToChat(chatID, out, s.userID)
}

func (h *Hub) handleSubscribeChat(s *Session, env *Envelope) {
	var p ChatRefPayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "malformed subscribe_chat payload")
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeInvalidChatID, "chat_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	member, err := h.store.IsMember(ctx, chatID, s.userID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeSubscribeFailed, "authorization failed")
		return
	}
	if !member {
		h.sendError(s, env.RequestID, CodeNotMember, "not a member of this chat")
		return
	}

	// Re-subscribing is a no-op; skip the history fetch but still let the
	// hub heal its subscriber set.
	var replay [][]byte
	if !s.IsSubscribed(chatID) {
		history, err := h.store.RecentMessages(ctx, chatID, h.replayLimit)
		if err != nil {
			h.sendError(s, env.RequestID, CodeSubscribeFailed, "failed to load chat history")
			return
		}
		replay, err = h.buildReplay(ctx, history)
		if err != nil {
			h.sendError(s, env.RequestID, CodeSubscribeFailed, "failed to load chat history")
			return
		}
	}

	select {
	case h.subscribe <- subscribeRequest{session: s, chatID: chatID, replay: replay}:
	case <-h.done:
	}
}

// buildReplay renders persisted messages as message frames, oldest first,
// resolving each distinct sender once.
func (h *Hub) buildReplay(ctx context.Context, history []models.Message) ([][]byte, error) {
	senders := make(map[uuid.UUID]*models.User)
	frames := make([][]byte, 0, len(history))
	for i := range history {
		msg := &history[i]
		sender, ok := senders[msg.SenderID]
		if !ok {
			u, err := h.store.GetUser(ctx, msg.SenderID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			sender = u
			senders[msg.SenderID] = sender
		}
		env, err := NewEnvelope(TypeMessage, NewMessagePayload(msg, sender))
		if err != nil {
			return nil, err
		}
		data, err := env.Encode()
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func (h *Hub) handleUnsubscribeChat(s *Session, env *Envelope) {
	var p ChatRefPayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(s, env.RequestID, CodeInvalidPayload, "malformed unsubscribe_chat payload")
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.sendError(s, env.RequestID, CodeInvalidChatID, "chat_id must be a UUID")
		return
	}

	select {
	case h.unsubscribe <- unsubscribeRequest{session: s, chatID: chatID}:
	case <-h.done:
	}
}
