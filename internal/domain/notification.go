package domain

import "time"

// NotificationType represents the kind of notification.
type NotificationType string

const (
	NotificationPlanReady        NotificationType = "plan_ready"
	NotificationPRCreated        NotificationType = "pr_created"
	NotificationDeploymentFailed NotificationType = "deployment_failed"
	NotificationDeploymentDone   NotificationType = "deployment_done"
)

// Notification represents an in-app notification for a user.
type Notification struct {
	ID           int64            `json:"id" db:"id"`
	UserID       int64            `json:"user_id" db:"user_id"`
	DeploymentID *int64           `json:"deployment_id,omitempty" db:"deployment_id"`
	Type         NotificationType `json:"type" db:"type"`
	Title        string           `json:"title" db:"title"`
	Message      string           `json:"message" db:"message"`
	Read         bool             `json:"read" db:"read"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}
