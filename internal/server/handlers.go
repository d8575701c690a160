package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tOgg1/bishma/internal/conversation"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/session"
)

type createSessionRequest struct {
	ID string `json:"id"`
}

type turnRequest struct {
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTaskIncomplete):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidParameter),
		errors.Is(err, models.ErrInvalidAction),
		errors.Is(err, models.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrCollaboratorUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *Server) orchestrator(c *gin.Context) (*conversation.Orchestrator, bool) {
	orch, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return orch, true
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.gatewayTimeout)
	defer cancel()
	ok(c, http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"backend":  s.gateway.Name(),
		"gateway":  s.gateway.TestConnection(ctx),
	})
}

func (s *Server) handleListRecords(c *gin.Context) {
	filter := models.RecordFilter{
		Status:    c.Query("status"),
		SessionID: c.Query("session"),
		SortBy:    models.SortField(c.Query("sort")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	if err := filter.Validate(); err != nil {
		fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.gatewayTimeout)
	defer cancel()
	records, err := s.gateway.ListRecords(ctx, filter.Normalize())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	orch, created, err := s.sessions.Open(c.Request.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, orch.State())
}

func (s *Server) handleCloseSession(c *gin.Context) {
	purge := c.Query("purge") == "true"
	if err := s.sessions.Close(c.Param("id"), purge); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session_id": c.Param("id"), "purged": purge})
}

func (s *Server) handleTurn(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Message) > maxUtteranceSize {
		badRequest(c, "message exceeds maximum size of 16KB")
		return
	}

	result, err := orch.HandleTurn(c.Request.Context(), req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	// An extractor failure still produces a fallback reply for the user.
	c.JSON(http.StatusOK, gin.H{
		"success": result.Err == nil,
		"data":    result,
		"error":   result.Error,
	})
}

func (s *Server) handleState(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, orch.State())
}

func (s *Server) handleHistory(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}
	history := orch.History()
	ok(c, http.StatusOK, gin.H{
		"turns": history,
		"count": len(history),
	})
}

func (s *Server) handleListTasks(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}

	store := orch.Session().Store()
	var tasks []models.Task
	switch c.DefaultQuery("status", "all") {
	case "all":
		tasks = store.ListAll()
	case "complete":
		tasks = store.ListComplete()
	case "incomplete":
		tasks = store.ListIncomplete()
	case "priority":
		tasks = store.PriorityQueue()
	default:
		badRequest(c, "status must be one of all, complete, incomplete, priority")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}
	progress, err := orch.Progress(c.Param("taskID"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, progress)
}

func (s *Server) handleSyncTask(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}
	taskID := c.Param("taskID")

	if c.Query("resync") == "true" {
		if err := orch.Resync(c.Request.Context(), taskID); err != nil {
			fail(c, err)
			return
		}
		progress, err := orch.Progress(taskID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, progress)
		return
	}

	outcome, err := orch.ForceSync(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"success": false,
			"data":    outcome,
			"error":   err.Error(),
		})
		return
	}
	ok(c, http.StatusOK, outcome)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	orch, found := s.orchestrator(c)
	if !found {
		return
	}
	taskID := c.Param("taskID")
	remote := c.Query("remote") == "true"
	if err := orch.DeleteTask(c.Request.Context(), taskID, remote); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"task_id": taskID, "remote": remote})
}
