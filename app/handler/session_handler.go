package handler

import (
	"errors"
	"net/http"

	"starbench/internal/model"
	"starbench/internal/service"
	"starbench/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionHandler handles the client-facing session API
type SessionHandler struct {
	manager *service.SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *service.SessionManager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// Create opens a session bound to a dedicated worker
// @Summary Create session
// @Description Allocates a worker slot and binds a new session to it
// @Tags session
// @Accept json
// @Produce json
// @Param request body model.CreateSessionRequest true "Session owner"
// @Success 201 {object} model.CreateSessionResponse
// @Failure 503 {object} map[string]string "pool exhausted"
// @Router /v1/sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.manager.CreateSession(c.Request.Context(), req.Owner)
	if err != nil {
		if errors.Is(err, service.ErrNoCapacity) {
			// Retryable: the client should back off and try again.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker capacity available"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, model.CreateSessionResponse{
		SessionID: session.ID,
		WorkerID:  session.WorkerID,
	})
}

// Dispatch forwards one command to the session's worker and returns the reply
// @Summary Dispatch command
// @Description Routes a command to the session's bound worker
// @Tags session
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body model.DispatchRequest true "Command and arguments"
// @Success 200 {object} model.DispatchResult
// @Router /v1/sessions/{session_id}/commands [post]
func (h *SessionHandler) Dispatch(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req model.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command required"})
		return
	}

	result, err := h.manager.Dispatch(c.Request.Context(), sessionID, req.Command, req.Args)
	if err != nil {
		h.writeDispatchError(c, sessionID, req.Command, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// writeDispatchError maps manager errors onto HTTP statuses. Worker
// domain errors keep their payload so clients can act on the code.
func (h *SessionHandler) writeDispatchError(c *gin.Context, sessionID, command string, err error) {
	if derr, ok := service.AsDomainError(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": derr.Payload})
		return
	}

	switch {
	case errors.Is(err, service.ErrUnknownSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
	case errors.Is(err, service.ErrUnknownCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSessionBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "session queue full, retry later"})
	case errors.Is(err, service.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "worker did not answer in time"})
	case errors.Is(err, service.ErrSessionUnrecoverable):
		c.JSON(http.StatusGone, gin.H{"error": "session lost its worker and could not be reassigned"})
	default:
		logger.ErrorCtx(c.Request.Context(), "dispatch failed, session_id: %s, command: %s, err: %v", sessionID, command, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// End closes a session and frees its worker slot
// @Summary End session
// @Description Ends a session; ending an unknown session is a no-op
// @Tags session
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} map[string]string
// @Router /v1/sessions/{session_id} [delete]
func (h *SessionHandler) End(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.manager.EndSession(c.Request.Context(), sessionID); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to end session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Get returns one session record
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID := c.Param("session_id")
	session, err := h.manager.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, toSessionInfo(session))
}

// List returns all live sessions
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.manager.ListSessions()
	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, toSessionInfo(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos, "count": len(infos)})
}

// Commands returns the dispatchable command registry
func (h *SessionHandler) Commands(c *gin.Context) {
	specs := h.manager.Registry().List()
	c.JSON(http.StatusOK, gin.H{"commands": specs})
}

func toSessionInfo(s *model.Session) model.SessionInfo {
	return model.SessionInfo{
		ID:             s.ID,
		Owner:          s.Owner,
		WorkerID:       s.WorkerID,
		State:          s.State,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}
