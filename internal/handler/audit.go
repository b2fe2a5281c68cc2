package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mikoto/overseer/internal/domain"
)

// AuditLister reads the dispatch audit trail.
type AuditLister interface {
	ListByTask(ctx context.Context, taskID int64) ([]domain.AuditEvent, error)
}

// TaskAuthorizer checks that an actor can see a task.
type TaskAuthorizer interface {
	AuthorizeTask(ctx context.Context, actorID, taskID int64) error
}

// AuditHandler handles audit trail endpoints.
type AuditHandler struct {
	audit  AuditLister
	access TaskAuthorizer
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit AuditLister, access TaskAuthorizer) *AuditHandler {
	return &AuditHandler{audit: audit, access: access}
}

// ListForTask returns who dispatched, continued or cancelled runs for a
// task, newest first.
func (h *AuditHandler) ListForTask(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	taskID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.access.AuthorizeTask(c.Request().Context(), actorID, taskID); err != nil {
		return err
	}
	events, err := h.audit.ListByTask(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, events)
}
