package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"chatworks/pkg/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// bearerToken pulls the token from the query string, falling back to the
// Authorization header for non-browser clients.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ServeWS authenticates an upgrade request, resolves the connecting user and
// hands the connection to the hub. Authentication failures answer with a
// plain HTTP 401; no hub state is created for them.
func (h *Hub) ServeWS(jwtSecret []byte, w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeAuthError(w, "authentication required")
		return
	}
	claims, err := auth.ValidateJWT(token, jwtSecret)
	if err != nil {
		writeAuthError(w, "invalid token")
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeAuthError(w, "invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		writeAuthError(w, "unknown user")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	s := newSession(h, conn, user, h.logger)
	if !h.Register(s) {
		conn.Close()
		return
	}
	go s.writePump()
	go s.readPump()
}
