package websocket

import (
	"bytes"
	"sync"
	"time"

	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next frame from the peer; any frame resets it
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size (512 KiB)
	maxMessageSize = 512 * 1024

	// Outbound queue capacity per session; overflow evicts the session
	sendQueueSize = 256
)

// Session is one authenticated WebSocket connection. The hub owns its
// membership in the routing maps and is the only closer of send; the session
// owns its local subscription and typing state behind mu.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	user     *models.User
	userID   uuid.UUID
	username string
	send     chan []byte
	logger   logging.Logger

	mu         sync.Mutex
	subscribed map[uuid.UUID]bool
	typing     map[uuid.UUID]*time.Timer
	lastSeen   time.Time
}

func newSession(hub *Hub, conn *websocket.Conn, user *models.User, logger logging.Logger) *Session {
	return &Session{
		hub:        hub,
		conn:       conn,
		user:       user,
		userID:     user.ID,
		username:   user.Username,
		send:       make(chan []byte, sendQueueSize),
		logger:     logger,
		subscribed: make(map[uuid.UUID]bool),
		typing:     make(map[uuid.UUID]*time.Timer),
		lastSeen:   time.Now(),
	}
}

// UserID returns the authenticated user this session belongs to.
func (s *Session) UserID() uuid.UUID {
	return s.userID
}

// Send serializes the envelope and enqueues it without blocking. A full queue
// means the consumer stalled; the session is evicted so others stay live.
func (s *Session) Send(env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode envelope")
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.WithFields(logging.Fields{
			"user_id": s.userID,
			"type":    env.Type,
		}).Warn("Send queue full, evicting session")
		s.hub.Deregister(s)
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

// Subscribe records the chat in the local set. Called from the hub loop.
func (s *Session) Subscribe(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[chatID] = true
}

// Unsubscribe removes the chat from the local set and cancels any typing
// timer armed for it.
func (s *Session) Unsubscribe(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribed, chatID)
	if t, ok := s.typing[chatID]; ok {
		t.Stop()
		delete(s.typing, chatID)
	}
}

// IsSubscribed reports whether the session subscribed to the chat.
func (s *Session) IsSubscribed(chatID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[chatID]
}

// SubscribedChats returns a snapshot of the subscription set.
func (s *Session) SubscribedChats() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make([]uuid.UUID, 0, len(s.subscribed))
	for id := range s.subscribed {
		chats = append(chats, id)
	}
	return chats
}

// SetTyping toggles the per-chat typing flag. Starting (or re-starting)
// typing arms the auto-stop timer so peers are not left with a stale
// indicator when the client goes silent.
func (s *Session) SetTyping(chatID uuid.UUID, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if typing {
		if t, ok := s.typing[chatID]; ok {
			t.Reset(s.hub.typingTimeout)
			return
		}
		s.typing[chatID] = time.AfterFunc(s.hub.typingTimeout, func() {
			s.typingExpired(chatID)
		})
		return
	}
	if t, ok := s.typing[chatID]; ok {
		t.Stop()
		delete(s.typing, chatID)
	}
}

// IsTyping reports whether the session currently types in the chat.
func (s *Session) IsTyping(chatID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[chatID]
	return ok
}

func (s *Session) typingExpired(chatID uuid.UUID) {
	s.mu.Lock()
	if _, ok := s.typing[chatID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.typing, chatID)
	s.mu.Unlock()
	s.hub.broadcastTypingStop(s, chatID)
}

// clearTyping stops all armed typing timers. Called when the session leaves
// the hub.
func (s *Session) clearTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chatID, t := range s.typing {
		t.Stop()
		delete(s.typing, chatID)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last frame from this session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// readPump pumps frames from the connection into the intent dispatcher. One
// per session; intent handlers run inline here so a slow persistence call
// only stalls this session's inbound side.
func (s *Session) readPump() {
	defer func() {
		s.hub.Deregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.WithError(err).WithField("user_id", s.userID).Warn("WebSocket read error")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		// A transport frame may carry several newline-separated envelopes.
		for _, frame := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			s.hub.dispatch(s, frame)
		}
	}
}

// writePump pumps queued envelopes to the connection and keeps the link
// alive with pings. Additional queued envelopes are coalesced into the same
// transport frame separated by newlines.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue: eviction or shutdown.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			n := len(s.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-s.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
