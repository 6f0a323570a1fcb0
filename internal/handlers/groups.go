package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jinfei29/mychat-realtime/internal/group"
	"github.com/jinfei29/mychat-realtime/internal/models"
)

// CreateGroup handles POST /api/groups. This is the minimal group
// surface the call core needs; full group-chat management lives in the
// excluded chat service.
func (a *API) CreateGroup(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	members := req.MemberIDs
	creatorIncluded := false
	for _, m := range members {
		if m == userID {
			creatorIncluded = true
			break
		}
	}
	if !creatorIncluded {
		members = append(members, userID)
	}

	g := &group.Group{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatorID: userID,
		Members:   members,
		CreatedAt: time.Now(),
	}

	if err := a.groups.Create(c.Request.Context(), g); err != nil {
		log.Printf("Failed to create group: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create group"})
		return
	}

	log.Printf("Group %s created by %s with %d members", g.ID, userID, len(g.Members))
	c.JSON(http.StatusCreated, g)
}

// GetGroup handles GET /api/groups/:groupId
func (a *API) GetGroup(c *gin.Context) {
	g, err := a.groups.Get(c.Request.Context(), c.Param("groupId"))
	if errors.Is(err, group.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to load group: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load group"})
		return
	}
	c.JSON(http.StatusOK, g)
}
