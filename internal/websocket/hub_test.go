package websocket

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"chatworks/internal/metrics"
	"chatworks/internal/store"
	"chatworks/pkg/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func newHubForTest(t *testing.T, st Store, opts ...func(*Hub)) *Hub {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	h := NewHub(st, nil, nil, logger, nil)
	for _, opt := range opts {
		opt(h)
	}
	go h.Run()
	t.Cleanup(h.Shutdown)
	return h
}

// newTestSession builds a connection-less session. The pumps are never
// started; tests read s.send directly.
func newTestSession(h *Hub, username string) *Session {
	logger, _ := logrustest.NewNullLogger()
	user := &models.User{ID: uuid.New(), Username: username, FirstName: username}
	return newSession(h, nil, user, logger)
}

func seedTestUser(st *store.MemoryStore, s *Session) {
	st.SeedUser(s.user)
}

// readFrame pops the next queued envelope off the session, failing the test
// after two seconds.
func readFrame(t *testing.T, s *Session) *Envelope {
	t.Helper()
	select {
	case data, ok := <-s.send:
		if !ok {
			t.Fatal("send queue closed while expecting a frame")
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("undecodable frame %q: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return nil
}

func expectNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data, ok := <-s.send:
		if ok {
			t.Fatalf("unexpected frame: %s", data)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// closedWithin drains the session queue until it closes, failing the test if
// it stays open.
func closedWithin(t *testing.T, s *Session, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case _, ok := <-s.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("send queue still open")
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// clientFrame marshals a client intent the way a real client would.
func clientFrame(t *testing.T, msgType string, payload interface{}, requestID string) []byte {
	t.Helper()
	frame := map[string]interface{}{"type": msgType}
	if payload != nil {
		frame["payload"] = payload
	}
	if requestID != "" {
		frame["request_id"] = requestID
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal client frame: %v", err)
	}
	return data
}

func subscribeSession(t *testing.T, h *Hub, s *Session, chatID uuid.UUID) {
	t.Helper()
	h.dispatch(s, clientFrame(t, TypeSubscribeChat, ChatRefPayload{ChatID: chatID.String()}, ""))
	eventually(t, func() bool { return s.IsSubscribed(chatID) }, "subscription never installed")
}

func TestRegisterAnnouncesPresence(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	h.Register(alice)
	eventually(t, func() bool { return h.IsUserOnline(alice.UserID()) }, "alice never registered")

	h.Register(bob)

	// The existing session hears about the newcomer; the newcomer hears
	// nothing about itself.
	env := readFrame(t, alice)
	if env.Type != TypeUserOnline {
		t.Fatalf("expected user_online, got %q", env.Type)
	}
	var p PresencePayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode presence payload: %v", err)
	}
	if p.UserID != bob.UserID() || !p.IsOnline || p.Username != "bob" {
		t.Fatalf("unexpected presence payload %+v", p)
	}
	expectNoFrame(t, bob)

	if !h.IsUserOnline(bob.UserID()) {
		t.Fatal("expected bob online")
	}
	if n := len(h.OnlineUsers()); n != 2 {
		t.Fatalf("expected 2 online users, got %d", n)
	}
}

func TestDeregisterAnnouncesOffline(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob's user_online

	h.Deregister(bob)

	env := readFrame(t, alice)
	if env.Type != TypeUserOffline {
		t.Fatalf("expected user_offline, got %q", env.Type)
	}
	var p PresencePayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode presence payload: %v", err)
	}
	if p.UserID != bob.UserID() || p.IsOnline {
		t.Fatalf("unexpected presence payload %+v", p)
	}
	if p.LastSeen == nil {
		t.Fatal("expected last_seen on offline frame")
	}

	closedWithin(t, bob, time.Second)
	eventually(t, func() bool { return !h.IsUserOnline(bob.UserID()) }, "bob still online")
}

func TestDeregisterStaleSessionIsIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	logger, _ := logrustest.NewNullLogger()
	user := &models.User{ID: uuid.New(), Username: "alice"}
	first := newSession(h, nil, user, logger)
	second := newSession(h, nil, user, logger)

	h.Register(first)
	eventually(t, func() bool { return h.IsUserOnline(user.ID) }, "first never registered")
	h.Register(second)
	closedWithin(t, first, time.Second)

	// The reader of the evicted connection deregisters on its way out. That
	// must not tear down the replacement.
	h.Deregister(first)
	time.Sleep(50 * time.Millisecond)
	if !h.IsUserOnline(user.ID) {
		t.Fatal("stale deregister removed the live session")
	}
	if h.Client(user.ID) != second {
		t.Fatal("expected the second session to stay installed")
	}
}

func TestDuplicateLoginEvictsPrevious(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	logger, _ := logrustest.NewNullLogger()
	user := &models.User{ID: uuid.New(), Username: "alice"}
	first := newSession(h, nil, user, logger)
	second := newSession(h, nil, user, logger)
	watcher := newTestSession(h, "watcher")

	h.Register(watcher)
	h.Register(first)
	readFrame(t, watcher) // alice online

	h.Register(second)
	closedWithin(t, first, time.Second)
	if h.Client(user.ID) != second {
		t.Fatal("expected the new session to replace the old")
	}

	// The user never left; watchers see a fresh online frame for the
	// replacement session and no offline frame for the evicted one.
	env := readFrame(t, watcher)
	if env.Type != TypeUserOnline {
		t.Fatalf("expected user_online for the new session, got %q", env.Type)
	}
	expectNoFrame(t, watcher)
}

func TestSubscribeReplayOrderedOldestFirst(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	seedTestUser(st, alice)
	chat := st.SeedChat(&models.Chat{}, alice.UserID())
	for i := 0; i < 3; i++ {
		msg := &models.Message{ChatID: chat.ID, SenderID: alice.UserID(), Content: fmt.Sprintf("m%d", i)}
		if err := st.CreateMessage(nil, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	h.Register(alice)
	subscribeSession(t, h, alice, chat.ID)

	for i := 0; i < 3; i++ {
		env := readFrame(t, alice)
		if env.Type != TypeMessage {
			t.Fatalf("expected message frame, got %q", env.Type)
		}
		var p MessagePayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("decode message payload: %v", err)
		}
		if want := fmt.Sprintf("m%d", i); p.Content != want {
			t.Fatalf("replay out of order: expected %q, got %q", want, p.Content)
		}
		if p.SenderName == "" {
			t.Fatal("expected denormalized sender name in replay")
		}
	}
	expectNoFrame(t, alice)
}

func TestSubscribeReplayHonorsLimit(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st, func(h *Hub) { h.SetReplayLimit(2) })

	alice := newTestSession(h, "alice")
	seedTestUser(st, alice)
	chat := st.SeedChat(&models.Chat{}, alice.UserID())
	for i := 0; i < 5; i++ {
		msg := &models.Message{ChatID: chat.ID, SenderID: alice.UserID(), Content: fmt.Sprintf("m%d", i)}
		if err := st.CreateMessage(nil, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	h.Register(alice)
	subscribeSession(t, h, alice, chat.ID)

	// Only the newest two, still oldest first.
	for _, want := range []string{"m3", "m4"} {
		env := readFrame(t, alice)
		var p MessagePayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("decode message payload: %v", err)
		}
		if p.Content != want {
			t.Fatalf("expected %q, got %q", want, p.Content)
		}
	}
	expectNoFrame(t, alice)
}

func TestResubscribeSkipsReplay(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	seedTestUser(st, alice)
	chat := st.SeedChat(&models.Chat{}, alice.UserID())
	if err := st.CreateMessage(nil, &models.Message{ChatID: chat.ID, SenderID: alice.UserID(), Content: "hi"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	h.Register(alice)
	subscribeSession(t, h, alice, chat.ID)
	readFrame(t, alice) // replayed message

	h.dispatch(alice, clientFrame(t, TypeSubscribeChat, ChatRefPayload{ChatID: chat.ID.String()}, ""))
	expectNoFrame(t, alice)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	seedTestUser(st, alice)
	seedTestUser(st, bob)
	chat := st.SeedChat(&models.Chat{}, alice.UserID(), bob.UserID())

	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online
	subscribeSession(t, h, alice, chat.ID)
	subscribeSession(t, h, bob, chat.ID)

	h.dispatch(bob, clientFrame(t, TypeUnsubscribeChat, ChatRefPayload{ChatID: chat.ID.String()}, ""))
	eventually(t, func() bool { return !bob.IsSubscribed(chat.ID) }, "unsubscribe never applied")

	env, err := NewEnvelope(TypeMessage, MessagePayload{ID: uuid.New(), ChatID: chat.ID})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := h.BroadcastToChat(chat.ID, env, uuid.Nil); err != nil {
		t.Fatalf("BroadcastToChat: %v", err)
	}

	readFrame(t, alice)
	expectNoFrame(t, bob)
}

func TestChatBroadcastExcludesOriginator(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	seedTestUser(st, alice)
	seedTestUser(st, bob)
	chat := st.SeedChat(&models.Chat{}, alice.UserID(), bob.UserID())

	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online
	subscribeSession(t, h, alice, chat.ID)
	subscribeSession(t, h, bob, chat.ID)

	env, err := NewEnvelope(TypeMessage, MessagePayload{ID: uuid.New(), ChatID: chat.ID, SenderID: alice.UserID()})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := h.BroadcastToChat(chat.ID, env, alice.UserID()); err != nil {
		t.Fatalf("BroadcastToChat: %v", err)
	}

	if got := readFrame(t, bob); got.Type != TypeMessage {
		t.Fatalf("expected message, got %q", got.Type)
	}
	expectNoFrame(t, alice)
}

func TestBroadcastToUsersIgnoresOffline(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	h.Register(alice)
	eventually(t, func() bool { return h.IsUserOnline(alice.UserID()) }, "alice never registered")

	env, err := NewEnvelope(TypeNewChat, ChatEventPayload{Chat: map[string]string{"id": uuid.NewString()}})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := h.BroadcastToUsers([]uuid.UUID{alice.UserID(), uuid.New()}, env); err != nil {
		t.Fatalf("BroadcastToUsers: %v", err)
	}

	if got := readFrame(t, alice); got.Type != TypeNewChat {
		t.Fatalf("expected new_chat, got %q", got.Type)
	}
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	seedTestUser(st, alice)
	seedTestUser(st, bob)
	chat := st.SeedChat(&models.Chat{}, alice.UserID(), bob.UserID())

	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online
	subscribeSession(t, h, alice, chat.ID)
	subscribeSession(t, h, bob, chat.ID)

	// Fill bob's queue to the brim without reading; the next frame tips it.
	filler, err := NewEnvelope(TypeMessage, MessagePayload{ID: uuid.New(), ChatID: chat.ID})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	for i := 0; i < sendQueueSize; i++ {
		if err := h.BroadcastToChat(chat.ID, filler, alice.UserID()); err != nil {
			t.Fatalf("BroadcastToChat: %v", err)
		}
	}
	eventually(t, func() bool { return len(bob.send) == sendQueueSize }, "queue never filled")
	if !h.IsUserOnline(bob.UserID()) {
		t.Fatal("bob evicted before overflowing")
	}

	if err := h.BroadcastToChat(chat.ID, filler, alice.UserID()); err != nil {
		t.Fatalf("BroadcastToChat: %v", err)
	}

	eventually(t, func() bool { return !h.IsUserOnline(bob.UserID()) }, "slow consumer never evicted")
	closedWithin(t, bob, time.Second)

	// Everyone else is told the evicted user went offline.
	for {
		env := readFrame(t, alice)
		if env.Type != TypeUserOffline {
			continue
		}
		var p PresencePayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("decode presence payload: %v", err)
		}
		if p.UserID != bob.UserID() {
			t.Fatalf("offline frame for wrong user: %+v", p)
		}
		break
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	st := store.NewMemoryStore()
	logger, _ := logrustest.NewNullLogger()
	h := NewHub(st, nil, nil, logger, nil)
	go h.Run()

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online

	h.Shutdown()
	closedWithin(t, alice, time.Second)
	closedWithin(t, bob, time.Second)

	if h.Register(newTestSession(h, "carol")) {
		t.Fatal("register succeeded after shutdown")
	}
	if h.IsUserOnline(alice.UserID()) {
		t.Fatal("expected queries to report offline after shutdown")
	}
	stats := h.GetStats()
	if stats["connections"] != 0 {
		t.Fatalf("expected zero connections after shutdown, got %v", stats["connections"])
	}

	// Idempotent.
	h.Shutdown()
}

func TestGetStats(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st)

	alice := newTestSession(h, "alice")
	seedTestUser(st, alice)
	chat := st.SeedChat(&models.Chat{}, alice.UserID())

	h.Register(alice)
	subscribeSession(t, h, alice, chat.ID)

	stats := h.GetStats()
	if stats["connections"] != 1 || stats["active_chats"] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestTypingAutoStops(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st, func(h *Hub) { h.SetTypingTimeout(60 * time.Millisecond) })

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	seedTestUser(st, alice)
	seedTestUser(st, bob)
	chat := st.SeedChat(&models.Chat{}, alice.UserID(), bob.UserID())

	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online
	subscribeSession(t, h, alice, chat.ID)
	subscribeSession(t, h, bob, chat.ID)

	h.dispatch(alice, clientFrame(t, TypeTypingStart, ChatRefPayload{ChatID: chat.ID.String()}, ""))

	env := readFrame(t, bob)
	if env.Type != TypeTyping {
		t.Fatalf("expected typing, got %q", env.Type)
	}
	var p TypingPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode typing payload: %v", err)
	}
	if !p.IsTyping || p.UserID != alice.UserID() {
		t.Fatalf("unexpected typing payload %+v", p)
	}
	if !alice.IsTyping(chat.ID) {
		t.Fatal("typing flag not set")
	}
	expectNoFrame(t, alice)

	// No typing_stop from the client; the timer fires one for them.
	env = readFrame(t, bob)
	if env.Type != TypeTyping {
		t.Fatalf("expected typing auto-stop, got %q", env.Type)
	}
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode typing payload: %v", err)
	}
	if p.IsTyping {
		t.Fatal("expected auto-stop to clear is_typing")
	}
	eventually(t, func() bool { return !alice.IsTyping(chat.ID) }, "typing flag never cleared")
}

func TestTypingStopCancelsTimer(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHubForTest(t, st, func(h *Hub) { h.SetTypingTimeout(60 * time.Millisecond) })

	alice := newTestSession(h, "alice")
	bob := newTestSession(h, "bob")
	seedTestUser(st, alice)
	seedTestUser(st, bob)
	chat := st.SeedChat(&models.Chat{}, alice.UserID(), bob.UserID())

	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online
	subscribeSession(t, h, alice, chat.ID)
	subscribeSession(t, h, bob, chat.ID)

	h.dispatch(alice, clientFrame(t, TypeTypingStart, ChatRefPayload{ChatID: chat.ID.String()}, ""))
	readFrame(t, bob) // typing start
	h.dispatch(alice, clientFrame(t, TypeTypingStop, ChatRefPayload{ChatID: chat.ID.String()}, ""))

	env := readFrame(t, bob)
	var p TypingPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode typing payload: %v", err)
	}
	if p.IsTyping {
		t.Fatal("expected explicit stop frame")
	}

	// The timer was cancelled; no second stop arrives.
	time.Sleep(120 * time.Millisecond)
	expectNoFrame(t, bob)
}

func newTestMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		HubConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "hub_connections", Help: "hub connections"},
			nil,
		),
		HubMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hub_messages_total", Help: "hub messages"},
			[]string{"type", "direction"},
		),
		HubEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hub_evictions_total", Help: "session evictions"},
			[]string{"reason"},
		),
		MessageDeliveryLag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "message_delivery_lag_seconds", Help: "delivery lag"},
			[]string{"type"},
		),
	}
}

func TestHubRecordsMetrics(t *testing.T) {
	st := store.NewMemoryStore()
	m := newTestMetrics()
	h := newHubForTest(t, st, func(h *Hub) { h.metrics = m })

	logger, _ := logrustest.NewNullLogger()
	aliceUser := &models.User{ID: uuid.New(), Username: "alice", FirstName: "Alice"}
	alice := newSession(h, nil, aliceUser, logger)
	bob := newTestSession(h, "bob")
	st.SeedUser(aliceUser)
	seedTestUser(st, bob)
	chat := st.SeedChat(&models.Chat{}, alice.UserID(), bob.UserID())

	h.Register(alice)
	h.Register(bob)
	readFrame(t, alice) // bob online
	eventually(t, func() bool {
		return testutil.ToFloat64(m.HubConnections.WithLabelValues()) == 2
	}, "connections gauge never reached 2")

	subscribeSession(t, h, alice, chat.ID)
	subscribeSession(t, h, bob, chat.ID)

	h.dispatch(alice, clientFrame(t, TypePing, nil, ""))
	if got := testutil.ToFloat64(m.HubMessages.WithLabelValues(TypePing, "inbound")); got != 1 {
		t.Fatalf("expected 1 inbound ping, got %v", got)
	}

	msg := &models.Message{ChatID: chat.ID, SenderID: alice.UserID(), Content: "hello"}
	if err := st.CreateMessage(nil, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	env, err := NewEnvelope(TypeMessage, NewMessagePayload(msg, aliceUser))
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if err := h.BroadcastToChat(chat.ID, env, alice.UserID()); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if frame := readFrame(t, bob); frame.Type != TypeMessage {
		t.Fatalf("expected message frame, got %q", frame.Type)
	}
	eventually(t, func() bool {
		return testutil.ToFloat64(m.HubMessages.WithLabelValues(TypeMessage, "outbound")) == 1
	}, "outbound message never counted")
	if got := testutil.CollectAndCount(m.MessageDeliveryLag); got != 1 {
		t.Fatalf("expected one delivery lag series, got %d", got)
	}

	replacement := newSession(h, nil, aliceUser, logger)
	h.Register(replacement)
	closedWithin(t, alice, time.Second)
	eventually(t, func() bool {
		return testutil.ToFloat64(m.HubEvictions.WithLabelValues("duplicate_login")) == 1
	}, "duplicate login eviction never counted")
}
