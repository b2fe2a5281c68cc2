package domain

import "time"

// AuditAction identifies a dispatch operation recorded in the audit trail.
type AuditAction string

const (
	AuditDeployStart    AuditAction = "deploy_start"
	AuditDeployContinue AuditAction = "deploy_continue"
	AuditDeployCancel   AuditAction = "deploy_cancel"
)

// AuditEvent records who did what to which deployment. Every dispatch call
// writes one; it is not best-effort.
type AuditEvent struct {
	ID           int64       `json:"id" db:"id"`
	ActorID      int64       `json:"actor_id" db:"actor_id"`
	Action       AuditAction `json:"action" db:"action"`
	TaskID       int64       `json:"task_id" db:"task_id"`
	DeploymentID int64       `json:"deployment_id" db:"deployment_id"`
	Model        string      `json:"model" db:"model"`
	Repository   string      `json:"repository" db:"repository"`
	IssueNumber  int         `json:"issue_number" db:"issue_number"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
