// Package handlers implements Telegraph's HTTP surface: registration and
// login, profiles, chat and message CRUD, and the WebSocket upgrade. Writes
// go through the same store and hub fan-out as the socket intents, so a
// message posted over REST reaches live subscribers exactly like one sent
// over the socket.
package handlers

import (
	"context"
	"net/http"
	"time"

	"chatworks/internal/events"
	"chatworks/internal/verify"
	"chatworks/internal/websocket"
	"chatworks/pkg/ctxkeys"
	"chatworks/pkg/logging"
	"chatworks/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Budget for store calls made from request handlers
const storeTimeout = 5 * time.Second

// Store is the persistence capability set the HTTP surface depends on. Both
// the SQL store and the in-memory fake satisfy it.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	SearchUsers(ctx context.Context, q string, limit int) ([]models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, req *models.UpdateProfileRequest) (*models.User, error)

	CreatePrivateChat(ctx context.Context, creator, other uuid.UUID) (*models.Chat, bool, error)
	CreateGroupChat(ctx context.Context, creator uuid.UUID, name, description string, memberIDs []uuid.UUID) (*models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	UpdateChat(ctx context.Context, id uuid.UUID, req *models.UpdateChatRequest) (*models.Chat, error)
	SoftDeleteChat(ctx context.Context, id uuid.UUID) error
	AddMember(ctx context.Context, chatID, userID uuid.UUID, role string) error
	RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error
	ListMembers(ctx context.Context, chatID uuid.UUID) ([]models.ChatMember, error)
	ListMemberUsers(ctx context.Context, chatID uuid.UUID) ([]models.User, error)
	GetMemberRole(ctx context.Context, chatID, userID uuid.UUID) (string, error)
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	ChatMessages(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]models.Message, error)
	EditMessage(ctx context.Context, id, senderID uuid.UUID, content string) (*models.Message, error)
	SoftDeleteMessage(ctx context.Context, id, senderID uuid.UUID) (*models.Message, error)
	MarkChatRead(ctx context.Context, chatID, userID uuid.UUID) error
}

var (
	st        Store
	hub       *websocket.Hub
	publisher *events.Publisher
	codes     verify.CodeStore
	jwtSecret []byte
	logger    logging.Logger
)

// Init initializes the handlers with their dependencies. publisher may be nil
// when Kafka is not configured.
func Init(store Store, h *websocket.Hub, p *events.Publisher, codeStore verify.CodeStore, secret []byte, log logging.Logger) {
	st = store
	hub = h
	publisher = p
	codes = codeStore
	jwtSecret = secret
	logger = log
}

// reqContext bounds a store call by the request lifetime.
func reqContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), storeTimeout)
}

// currentUserID reads the authenticated user from the Gin context. The JWT
// middleware sets it on every protected route; a miss means the route was
// wired without the middleware.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(string(ctxkeys.KeyUserID)))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return uuid.Nil, false
	}
	return id, true
}

// pathUUID parses a path parameter as a UUID, answering 400 on garbage.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// HandleNotFound answers unmatched routes with a JSON 404.
func HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
}
