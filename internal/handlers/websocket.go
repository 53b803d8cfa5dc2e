package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandleWebSocket upgrades the connection and hands it to the hub. The JWT
// middleware passes upgrade requests through untouched; ServeWS authenticates
// from the query token or Authorization header before any hub state is
// created.
func HandleWebSocket(c *gin.Context) {
	hub.ServeWS(jwtSecret, c.Writer, c.Request)
}
