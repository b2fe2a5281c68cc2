package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/repository"
)

// NotificationHandler handles in-app notification endpoints.
type NotificationHandler struct {
	notifications *repository.NotificationRepository
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List returns the actor's notifications, newest first. Pass ?unread=true to
// restrict to unread ones.
func (h *NotificationHandler) List(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	unreadOnly := c.QueryParam("unread") == "true"
	notifications, err := h.notifications.ListForUser(c.Request().Context(), actorID, unreadOnly)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, notifications)
}

// MarkRead marks one of the actor's notifications as read.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	notificationID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.notifications.MarkRead(c.Request().Context(), actorID, notificationID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
