package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/artemmail/scriptor-sub002/internal/realtime"
)

type RealtimeHandler struct {
	hub *realtime.SSEHub
}

func NewRealtimeHandler(hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// GET /api/events
//
// Streams job and billing events for the authenticated user. The user's own
// id is the only channel a client may subscribe to.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, userID.String())
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
