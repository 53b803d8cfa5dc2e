package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chatworks/internal/store"

	"github.com/gin-gonic/gin"
)

// GetUser returns a user's public record. Presence lands here through the
// store's is_online and last_seen columns, which the hub keeps current.
func GetUser(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	user, err := st.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// SearchUsers matches the q parameter against usernames and names.
func SearchUsers(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' required"})
		return
	}

	limit := 20
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	ctx, cancel := reqContext(c)
	defer cancel()
	users, err := st.SearchUsers(ctx, query, limit)
	if err != nil {
		logger.WithError(err).WithField("query", query).Error("Failed to search users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
