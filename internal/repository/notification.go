package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mikoto/overseer/internal/domain"
)

// NotificationRepository handles in-app notification data access.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert persists a notification.
func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, deployment_id, type, title, message)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.UserID, n.DeploymentID, n.Type, n.Title, n.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id, user_id, deployment_id, type, title, message, read, created_at
	          FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY id DESC LIMIT 100`

	var notifications []domain.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, fmt.Errorf("list notifications for user %d: %w", userID, err)
	}
	return notifications, nil
}

// MarkRead marks a user's notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification %d read: %w", notificationID, err)
	}
	return nil
}
