package domain

import "time"

// Task represents a unit of project work that can be delegated to an agent.
//
// AgentStatus, IssueNumber, IssueURL and PRURL mirror the task's
// most-recently-created deployment so list views can show the current worker
// state without joining every deployment row. The deployments table remains
// the source of truth; the mirror is refreshed by the status resolver and
// only ever written on behalf of the latest deployment.
type Task struct {
	ID          int64   `json:"id" db:"id"`
	ProjectID   int64   `json:"project_id" db:"project_id"`
	Title       string  `json:"title" db:"title"`
	Description *string `json:"description,omitempty" db:"description"`
	CreatedBy   int64   `json:"created_by" db:"created_by"`

	AgentStatus *DeploymentStatus `json:"agent_status,omitempty" db:"agent_status"`
	IssueNumber *int              `json:"issue_number,omitempty" db:"issue_number"`
	IssueURL    *string           `json:"issue_url,omitempty" db:"issue_url"`
	PRURL       *string           `json:"pr_url,omitempty" db:"pr_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
