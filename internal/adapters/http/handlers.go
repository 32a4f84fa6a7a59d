package http

import (
	"net/http"

	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	orch *orch.Orchestrator
}

type OnlineResponse struct {
	Users []domain.User `json:"users"`
	Count int           `json:"count"`
}

type CollaborationsResponse struct {
	Collaborations []domain.MeetingRequest `json:"collaborations"`
}

func handleHealth(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": o.Registry.Len(),
		})
	}
}

func (h *handlers) online(c *gin.Context) {
	users := h.orch.OnlineUsers()
	c.JSON(http.StatusOK, OnlineResponse{Users: users, Count: len(users)})
}

func (h *handlers) collaborations(c *gin.Context) {
	uid := c.Query("user_id")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	c.JSON(http.StatusOK, CollaborationsResponse{
		Collaborations: h.orch.History(domain.UserID(uid)),
	})
}
