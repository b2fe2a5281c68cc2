package domain

import "time"

// DeploymentStatus represents the observed state of one agent run.
type DeploymentStatus string

const (
	StatusWorking       DeploymentStatus = "working"
	StatusImplementing  DeploymentStatus = "implementing"
	StatusPlanReady     DeploymentStatus = "plan_ready"
	StatusPRCreated     DeploymentStatus = "pr_created"
	StatusDoneNoChanges DeploymentStatus = "done_no_changes"
	StatusError         DeploymentStatus = "error"
	StatusCancelled     DeploymentStatus = "cancelled"
	StatusUnknown       DeploymentStatus = "unknown"
)

// Terminal reports whether the status may never change again on the
// deployment row. plan_ready is deliberately not terminal here: accepting a
// plan posts a continue comment and moves the run back to implementing.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusPRCreated, StatusDoneNoChanges, StatusError, StatusCancelled:
		return true
	}
	return false
}

// PollTerminal reports whether polling should stop for a deployment in this
// status. Unlike Terminal it includes plan_ready: once a plan is up the agent
// is idle until a human acts, so there is nothing to poll for.
func (s DeploymentStatus) PollTerminal() bool {
	return s == StatusPlanReady || s.Terminal()
}

// DeploymentMode selects what the initial dispatch asks the agent for.
type DeploymentMode string

const (
	ModePlan    DeploymentMode = "plan"
	ModeExecute DeploymentMode = "execute"
)

// InitialStatus returns the optimistic status a fresh deployment starts in.
func (m DeploymentMode) InitialStatus() DeploymentStatus {
	if m == ModeExecute {
		return StatusImplementing
	}
	return StatusWorking
}

// Deployment represents one agent run against one tracker issue.
// Rows are never deleted; they form the audit trail of every run.
type Deployment struct {
	ID               int64            `json:"id" db:"id"`
	TaskID           int64            `json:"task_id" db:"task_id"`
	RepositoryLinkID int64            `json:"repository_link_id" db:"repository_link_id"`
	CreatedBy        int64            `json:"created_by" db:"created_by"`
	IssueNumber      int              `json:"issue_number" db:"issue_number"`
	IssueURL         string           `json:"issue_url" db:"issue_url"`
	Status           DeploymentStatus `json:"status" db:"status"`
	PRURL            *string          `json:"pr_url,omitempty" db:"pr_url"`
	Model            string           `json:"model" db:"model"`
	Mode             DeploymentMode   `json:"mode" db:"mode"`

	// Deploy linkage: the exact plan revision this run was dispatched
	// against, when it came out of a planning thread.
	ThreadID        *int64 `json:"thread_id,omitempty" db:"thread_id"`
	RevisionVersion *int   `json:"revision_version,omitempty" db:"revision_version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FeedComment is one classified comment in a deployment's feed.
type FeedComment struct {
	ID        int64            `json:"id"`
	Body      string           `json:"body"`
	Author    string           `json:"author"`
	AvatarURL string           `json:"avatar_url,omitempty"`
	HTMLURL   string           `json:"html_url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Status    DeploymentStatus `json:"status"`
	FromBot   bool             `json:"from_bot"`
}

// DeploymentFeed is the result of resolving a deployment against the tracker.
type DeploymentFeed struct {
	Deployment   *Deployment       `json:"deployment"`
	Comments     []FeedComment     `json:"comments"`
	LatestStatus *DeploymentStatus `json:"latest_status,omitempty"`
	PRURL        *string           `json:"pr_url,omitempty"`
}
