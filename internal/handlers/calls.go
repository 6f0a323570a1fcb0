package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinfei29/mychat-realtime/internal/call"
	"github.com/jinfei29/mychat-realtime/internal/models"
)

// InitiateCall handles POST /api/calls/initiate. A private call to an
// offline receiver is rejected before any session is persisted.
func (a *API) InitiateCall(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IsGroupCall && req.GroupID == "" || !req.IsGroupCall && req.ReceiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either receiverId or groupId is required"})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Call type must be audio or video"})
		return
	}

	sess, err := a.registry.Initiate(c.Request.Context(), userID, req)
	if err != nil {
		a.fail(c, err)
		return
	}

	log.Printf("Call %s initiated by %s (%s, group=%v)", sess.ID, userID, sess.Type, sess.IsGroupCall)
	c.JSON(http.StatusOK, sess)
}

// AcceptCall handles POST /api/calls/:callId/accept
func (a *API) AcceptCall(c *gin.Context) {
	userID := c.GetString("user_id")

	sess, err := a.registry.Accept(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		a.fail(c, err)
		return
	}

	log.Printf("Call %s accepted by %s", sess.ID, userID)
	c.JSON(http.StatusOK, sess)
}

// RejectCall handles POST /api/calls/:callId/reject
func (a *API) RejectCall(c *gin.Context) {
	userID := c.GetString("user_id")

	sess, err := a.registry.Reject(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		a.fail(c, err)
		return
	}

	log.Printf("Call %s rejected by %s", sess.ID, userID)
	c.JSON(http.StatusOK, sess)
}

// EndCall handles POST /api/calls/:callId/end
func (a *API) EndCall(c *gin.Context) {
	userID := c.GetString("user_id")

	sess, err := a.registry.End(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		a.fail(c, err)
		return
	}

	log.Printf("Call %s ended by %s", sess.ID, userID)
	c.JSON(http.StatusOK, sess)
}

// Signal handles POST /api/calls/signal: the server-side half of the
// signaling relay. The blob is routed, never interpreted.
func (a *API) Signal(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.registry.RelaySignal(userID, req); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signal delivered"})
}

// CallHistory handles GET /api/calls/history
func (a *API) CallHistory(c *gin.Context) {
	userID := c.GetString("user_id")

	calls, err := a.registry.History(c.Request.Context(), userID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, calls)
}

// fail maps registry errors onto the REST taxonomy: missing call,
// wrong actor, offline peer and wrong-state are distinct outcomes.
func (a *API) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, call.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, call.ErrPeerUnreachable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, call.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
