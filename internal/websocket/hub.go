package websocket

import (
	"context"
	"sync"
	"time"

	"chatworks/internal/events"
	"chatworks/internal/metrics"
	"chatworks/internal/presence"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	broadcastQueueSize   = 256
	defaultReplayLimit   = 50
	defaultTypingTimeout = 3 * time.Second

	// Budget for store calls made from intent handlers
	storeTimeout = 5 * time.Second
)

// Store is the persistence capability set the hub and its intent handlers
// depend on. Both the SQL store and the in-memory fake satisfy it.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (time.Time, error)
	MarkChatRead(ctx context.Context, chatID, userID uuid.UUID) error
}

type broadcastRequest struct {
	data    []byte
	msgType string
	exclude uuid.UUID
}

type chatBroadcastRequest struct {
	chatID  uuid.UUID
	data    []byte
	msgType string
	exclude uuid.UUID
	sentAt  time.Time
}

type userBroadcastRequest struct {
	userIDs []uuid.UUID
	data    []byte
	msgType string
}

type subscribeRequest struct {
	session *Session
	chatID  uuid.UUID
	replay  [][]byte
}

type unsubscribeRequest struct {
	session *Session
	chatID  uuid.UUID
}

// Hub routes envelopes between live sessions. Both routing maps are owned by
// the single goroutine running Run; every mutation and read of them happens
// there, so they need no lock. Everything else talks to the loop through the
// channels below.
type Hub struct {
	store    Store
	presence *presence.Tracker
	events   *events.Publisher
	logger   logging.Logger
	metrics  *metrics.Metrics

	sessionsByUser    map[uuid.UUID]*Session
	subscribersByChat map[uuid.UUID]map[uuid.UUID]*Session

	register      chan *Session
	unregister    chan *Session
	broadcast     chan broadcastRequest
	chatBroadcast chan chatBroadcastRequest
	userBroadcast chan userBroadcastRequest
	subscribe     chan subscribeRequest
	unsubscribe   chan unsubscribeRequest
	queries       chan func()

	replayLimit   int
	typingTimeout time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. tracker, publisher and serviceMetrics may be nil in
// tests; store must not be.
func NewHub(st Store, tracker *presence.Tracker, publisher *events.Publisher, logger logging.Logger, serviceMetrics *metrics.Metrics) *Hub {
	return &Hub{
		store:             st,
		presence:          tracker,
		events:            publisher,
		logger:            logger,
		metrics:           serviceMetrics,
		sessionsByUser:    make(map[uuid.UUID]*Session),
		subscribersByChat: make(map[uuid.UUID]map[uuid.UUID]*Session),
		register:          make(chan *Session),
		unregister:        make(chan *Session),
		broadcast:         make(chan broadcastRequest, broadcastQueueSize),
		chatBroadcast:     make(chan chatBroadcastRequest, broadcastQueueSize),
		userBroadcast:     make(chan userBroadcastRequest, broadcastQueueSize),
		subscribe:         make(chan subscribeRequest),
		unsubscribe:       make(chan unsubscribeRequest),
		queries:           make(chan func()),
		replayLimit:       defaultReplayLimit,
		typingTimeout:     defaultTypingTimeout,
		done:              make(chan struct{}),
	}
}

// SetReplayLimit overrides the history window replayed on subscribe. Call
// before Run.
func (h *Hub) SetReplayLimit(n int) {
	if n > 0 {
		h.replayLimit = n
	}
}

// SetTypingTimeout overrides the typing auto-stop delay. Call before Run.
func (h *Hub) SetTypingTimeout(d time.Duration) {
	if d > 0 {
		h.typingTimeout = d
	}
}

// Run executes the hub loop until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.addSession(s)
		case s := <-h.unregister:
			h.removeSession(s)
		case req := <-h.subscribe:
			h.addSubscription(req)
		case req := <-h.unsubscribe:
			h.removeSubscription(req)
		case req := <-h.broadcast:
			evicted := h.fanOut(h.sessionsByUser, req.data, req.exclude)
			h.observeOutbound(req.msgType, h.targetCount(h.sessionsByUser, req.exclude))
			h.reapEvicted(evicted)
		case req := <-h.chatBroadcast:
			h.fanOutChat(req)
		case req := <-h.userBroadcast:
			h.fanOutUsers(req)
		case fn := <-h.queries:
			fn()
		case <-h.done:
			h.drain()
			return
		}
	}
}

// Shutdown stops the hub loop and closes every live session.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register hands a new session to the hub loop. Returns false when the hub
// has shut down.
func (h *Hub) Register(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

// Deregister removes a session. Safe to call more than once; only the
// currently registered session for the user is acted upon.
func (h *Hub) Deregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// BroadcastToChat fans an envelope out to the chat's subscribers. Blocks if
// the hub loop is saturated; message-class events must not be dropped.
// exclude uuid.Nil sends to every subscriber.
func (h *Hub) BroadcastToChat(chatID uuid.UUID, env *Envelope, exclude uuid.UUID) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	req := chatBroadcastRequest{
		chatID:  chatID,
		data:    data,
		msgType: env.Type,
		exclude: exclude,
		sentAt:  time.Now(),
	}
	select {
	case h.chatBroadcast <- req:
		return nil
	case <-h.done:
		return nil
	}
}

// TryBroadcastToChat is the droppable variant used for typing and other
// non-essential events. Returns false when the broadcast queue is full.
func (h *Hub) TryBroadcastToChat(chatID uuid.UUID, env *Envelope, exclude uuid.UUID) bool {
	data, err := env.Encode()
	if err != nil {
		return false
	}
	req := chatBroadcastRequest{
		chatID:  chatID,
		data:    data,
		msgType: env.Type,
		exclude: exclude,
		sentAt:  time.Now(),
	}
	select {
	case h.chatBroadcast <- req:
		return true
	default:
		h.logger.WithField("type", env.Type).Debug("Broadcast queue full, dropping frame")
		return false
	}
}

// BroadcastToUsers delivers an envelope to specific users' live sessions,
// whether or not they subscribed to any chat. Used for chat lifecycle frames.
func (h *Hub) BroadcastToUsers(userIDs []uuid.UUID, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case h.userBroadcast <- userBroadcastRequest{userIDs: userIDs, data: data, msgType: env.Type}:
		return nil
	case <-h.done:
		return nil
	}
}

// SendToUser delivers an envelope to one user's live session, if any.
func (h *Hub) SendToUser(userID uuid.UUID, env *Envelope) error {
	return h.BroadcastToUsers([]uuid.UUID{userID}, env)
}

// inspect runs fn on the hub loop and waits for it. Returns false when the
// hub is shut down, leaving fn's outputs at their zero values.
func (h *Hub) inspect(fn func()) bool {
	ran := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(ran) }:
	case <-h.done:
		return false
	}
	select {
	case <-ran:
		return true
	case <-h.done:
		return false
	}
}

// IsUserOnline reports whether the user has a live session.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	var online bool
	h.inspect(func() {
		_, online = h.sessionsByUser[userID]
	})
	return online
}

// OnlineUsers returns the ids of every user with a live session.
func (h *Hub) OnlineUsers() []uuid.UUID {
	var ids []uuid.UUID
	h.inspect(func() {
		ids = make([]uuid.UUID, 0, len(h.sessionsByUser))
		for id := range h.sessionsByUser {
			ids = append(ids, id)
		}
	})
	return ids
}

// Client returns the live session for a user, or nil.
func (h *Hub) Client(userID uuid.UUID) *Session {
	var s *Session
	h.inspect(func() {
		s = h.sessionsByUser[userID]
	})
	return s
}

// GetStats returns hub statistics for the health endpoint.
func (h *Hub) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"connections":  0,
		"active_chats": 0,
	}
	h.inspect(func() {
		stats["connections"] = len(h.sessionsByUser)
		stats["active_chats"] = len(h.subscribersByChat)
	})
	return stats
}

func (h *Hub) addSession(s *Session) {
	if old, ok := h.sessionsByUser[s.userID]; ok && old != s {
		h.logger.WithFields(logging.Fields{
			"user_id":  s.userID,
			"username": s.username,
		}).Info("Duplicate login, evicting previous session")
		h.observeEviction("duplicate_login")
		h.detach(old)
	}
	h.sessionsByUser[s.userID] = s
	h.setConnectionsGauge()

	if h.presence != nil {
		go h.presence.SetOnline(context.Background(), s.userID)
	}
	h.events.UserOnline(s.userID)

	h.announcePresence(s, true, nil)

	h.logger.WithFields(logging.Fields{
		"user_id":  s.userID,
		"username": s.username,
		"sessions": len(h.sessionsByUser),
	}).Info("Session connected")
}

func (h *Hub) removeSession(s *Session) {
	if cur, ok := h.sessionsByUser[s.userID]; !ok || cur != s {
		// Already evicted or replaced by a newer session.
		return
	}
	h.detach(s)

	lastSeen := time.Now().UTC()
	if h.presence != nil {
		go h.presence.SetOffline(context.Background(), s.userID)
	}
	h.events.UserOffline(s.userID, lastSeen)

	h.announcePresence(s, false, &lastSeen)

	h.logger.WithFields(logging.Fields{
		"user_id":  s.userID,
		"username": s.username,
		"sessions": len(h.sessionsByUser),
	}).Info("Session disconnected")
}

// detach removes the session from both maps, closes its queue and stops its
// timers. The closed queue terminates the writer, which closes the transport.
func (h *Hub) detach(s *Session) {
	if cur, ok := h.sessionsByUser[s.userID]; ok && cur == s {
		delete(h.sessionsByUser, s.userID)
	}
	for _, chatID := range s.SubscribedChats() {
		h.dropSubscriber(chatID, s)
	}
	close(s.send)
	s.clearTyping()
	h.setConnectionsGauge()
}

func (h *Hub) dropSubscriber(chatID uuid.UUID, s *Session) {
	subs, ok := h.subscribersByChat[chatID]
	if !ok {
		return
	}
	if subs[s.userID] == s {
		delete(subs, s.userID)
		if len(subs) == 0 {
			delete(h.subscribersByChat, chatID)
		}
	}
}

// announcePresence fans a user_online/user_offline frame out to everyone but
// the transitioning user.
func (h *Hub) announcePresence(s *Session, online bool, lastSeen *time.Time) {
	msgType := TypeUserOnline
	if !online {
		msgType = TypeUserOffline
	}
	env, err := NewEnvelope(msgType, PresencePayload{
		UserID:   s.userID,
		Username: s.username,
		IsOnline: online,
		LastSeen: lastSeen,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode presence frame")
		return
	}
	data, err := env.Encode()
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode presence frame")
		return
	}
	evicted := h.fanOut(h.sessionsByUser, data, s.userID)
	h.observeOutbound(msgType, h.targetCount(h.sessionsByUser, s.userID))
	h.reapEvicted(evicted)
}

func (h *Hub) addSubscription(req subscribeRequest) {
	s := req.session
	if cur, ok := h.sessionsByUser[s.userID]; !ok || cur != s {
		// Session left between authorization and installation.
		return
	}
	subs, ok := h.subscribersByChat[req.chatID]
	if !ok {
		subs = make(map[uuid.UUID]*Session)
		h.subscribersByChat[req.chatID] = subs
	}
	already := subs[s.userID] == s
	subs[s.userID] = s
	s.Subscribe(req.chatID)

	if already {
		return
	}
	for _, frame := range req.replay {
		if !h.enqueue(s, frame) {
			h.reapEvicted([]*Session{s})
			return
		}
	}
	if len(req.replay) > 0 {
		h.observeOutbound(TypeMessage, len(req.replay))
	}
	h.logger.WithFields(logging.Fields{
		"user_id": s.userID,
		"chat_id": req.chatID,
		"replay":  len(req.replay),
	}).Debug("Session subscribed to chat")
}

func (h *Hub) removeSubscription(req unsubscribeRequest) {
	h.dropSubscriber(req.chatID, req.session)
	req.session.Unsubscribe(req.chatID)
}

func (h *Hub) fanOutChat(req chatBroadcastRequest) {
	subs, ok := h.subscribersByChat[req.chatID]
	if !ok {
		return
	}
	evicted := h.fanOut(subs, req.data, req.exclude)
	h.observeOutbound(req.msgType, h.targetCount(subs, req.exclude))
	if req.msgType == TypeMessage {
		h.observeDeliveryLag(req.msgType, time.Since(req.sentAt))
	}
	h.reapEvicted(evicted)
}

func (h *Hub) fanOutUsers(req userBroadcastRequest) {
	var evicted []*Session
	delivered := 0
	for _, id := range req.userIDs {
		s, ok := h.sessionsByUser[id]
		if !ok {
			continue
		}
		if h.enqueue(s, req.data) {
			delivered++
		} else {
			evicted = append(evicted, s)
		}
	}
	h.observeOutbound(req.msgType, delivered)
	h.reapEvicted(evicted)
}

// fanOut enqueues data onto every target but exclude. Sessions whose queue
// is full are returned for eviction; they are not closed here because the
// caller may still be iterating a map they appear in.
func (h *Hub) fanOut(targets map[uuid.UUID]*Session, data []byte, exclude uuid.UUID) []*Session {
	var evicted []*Session
	for id, s := range targets {
		if exclude != uuid.Nil && id == exclude {
			continue
		}
		if !h.enqueue(s, data) {
			evicted = append(evicted, s)
		}
	}
	return evicted
}

func (h *Hub) enqueue(s *Session, data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// reapEvicted detaches slow consumers and announces them offline. Evictions
// cascade: the offline fan-out may overflow further sessions, which join the
// work list.
func (h *Hub) reapEvicted(evicted []*Session) {
	for len(evicted) > 0 {
		s := evicted[0]
		evicted = evicted[1:]
		if cur, ok := h.sessionsByUser[s.userID]; !ok || cur != s {
			continue
		}
		h.logger.WithFields(logging.Fields{
			"user_id":  s.userID,
			"username": s.username,
		}).Warn("Evicting slow consumer")
		h.observeEviction("slow_consumer")
		h.detach(s)

		lastSeen := time.Now().UTC()
		if h.presence != nil {
			go h.presence.SetOffline(context.Background(), s.userID)
		}
		h.events.UserOffline(s.userID, lastSeen)

		env, err := NewEnvelope(TypeUserOffline, PresencePayload{
			UserID:   s.userID,
			Username: s.username,
			IsOnline: false,
			LastSeen: &lastSeen,
		})
		if err != nil {
			continue
		}
		data, err := env.Encode()
		if err != nil {
			continue
		}
		evicted = append(evicted, h.fanOut(h.sessionsByUser, data, s.userID)...)
	}
}

// broadcastTypingStop is fired by the session's typing timer when the client
// goes silent without sending typing_stop.
func (h *Hub) broadcastTypingStop(s *Session, chatID uuid.UUID) {
	env, err := NewEnvelope(TypeTyping, TypingPayload{
		ChatID:   chatID,
		UserID:   s.userID,
		UserName: s.user.DisplayName(),
		IsTyping: false,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode typing frame")
		return
	}
	h.TryBroadcastToChat(chatID, env, s.userID)
}

func (h *Hub) drain() {
	for _, s := range h.sessionsByUser {
		if s.conn != nil {
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Server shutdown"),
				time.Now().Add(writeWait),
			)
		}
		close(s.send)
		s.clearTyping()
	}
	h.sessionsByUser = make(map[uuid.UUID]*Session)
	h.subscribersByChat = make(map[uuid.UUID]map[uuid.UUID]*Session)
	h.setConnectionsGauge()
	h.logger.Info("Hub shut down")
}

func (h *Hub) targetCount(targets map[uuid.UUID]*Session, exclude uuid.UUID) int {
	n := len(targets)
	if exclude != uuid.Nil {
		if _, ok := targets[exclude]; ok {
			n--
		}
	}
	return n
}

func (h *Hub) setConnectionsGauge() {
	if h.metrics == nil {
		return
	}
	h.metrics.HubConnections.WithLabelValues().Set(float64(len(h.sessionsByUser)))
}

func (h *Hub) observeOutbound(msgType string, n int) {
	if h.metrics == nil || n <= 0 {
		return
	}
	h.metrics.HubMessages.WithLabelValues(msgType, "outbound").Add(float64(n))
}

func (h *Hub) observeInbound(msgType string) {
	if h.metrics == nil {
		return
	}
	h.metrics.HubMessages.WithLabelValues(msgType, "inbound").Inc()
}

func (h *Hub) observeEviction(reason string) {
	if h.metrics == nil {
		return
	}
	h.metrics.HubEvictions.WithLabelValues(reason).Inc()
}

func (h *Hub) observeDeliveryLag(msgType string, lag time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.MessageDeliveryLag.WithLabelValues(msgType).Observe(lag.Seconds())
}
