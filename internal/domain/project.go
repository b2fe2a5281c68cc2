package domain

import "time"

// Project represents a project that groups tasks and repository links.
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	OwnerID     int64     `json:"owner_id" db:"owner_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MemberRole represents a user's role within a project.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleEditor MemberRole = "editor"
	MemberRoleViewer MemberRole = "viewer"
)

// CanDispatch reports whether the role is allowed to start, continue or
// cancel agent deployments.
func (r MemberRole) CanDispatch() bool {
	return r == MemberRoleOwner || r == MemberRoleEditor
}

// ProjectMember grants a user project-scoped access.
type ProjectMember struct {
	ProjectID int64      `json:"project_id" db:"project_id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	Role      MemberRole `json:"role" db:"role"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// RepositoryLink connects a project to a GitHub repository that agent
// deployments may target.
type RepositoryLink struct {
	ID        int64     `json:"id" db:"id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	Owner     string    `json:"owner" db:"owner"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FullName returns the "owner/name" form used by the tracker API.
func (l RepositoryLink) FullName() string {
	return l.Owner + "/" + l.Name
}
