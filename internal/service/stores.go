package service

import (
	"context"

	"github.com/mikoto/overseer/internal/domain"
)

// Store interfaces consumed by the services in this package. The repository
// package provides the postgres implementations; tests substitute fakes.

// TaskStore defines task data access.
type TaskStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Task, error)
	UpdateAgentMirror(ctx context.Context, taskID, deploymentID int64, status domain.DeploymentStatus, prURL *string) error
	SetIssueRef(ctx context.Context, taskID int64, issueNumber int, issueURL string, status domain.DeploymentStatus) error
}

// DeploymentStore defines deployment data access.
type DeploymentStore interface {
	Insert(ctx context.Context, d domain.Deployment) (*domain.Deployment, error)
	FindByID(ctx context.Context, id int64) (*domain.Deployment, error)
	ListByTask(ctx context.Context, taskID int64) ([]domain.Deployment, error)
	LatestIDForTask(ctx context.Context, taskID int64) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status domain.DeploymentStatus, prURL *string) (*domain.Deployment, error)
	DeployStatusByVersion(ctx context.Context, threadID int64) (map[int]domain.RevisionDeployStatus, error)
}

// ProjectStore defines project, membership and repository link access.
type ProjectStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Project, error)
	MemberRole(ctx context.Context, projectID, userID int64) (domain.MemberRole, error)
	FindRepositoryLink(ctx context.Context, id int64) (*domain.RepositoryLink, error)
}

// PlanningStore defines planning session, thread and revision access.
type PlanningStore interface {
	FindSession(ctx context.Context, id int64) (*domain.PlanningSession, error)
	FindSessionByTask(ctx context.Context, taskID int64) (*domain.PlanningSession, error)
	CreateSession(ctx context.Context, taskID, repositoryLinkID int64) (*domain.PlanningSession, error)
	FindThread(ctx context.Context, id int64) (*domain.Thread, error)
	ListThreads(ctx context.Context, sessionID int64) ([]domain.Thread, error)
	CreateThread(ctx context.Context, sessionID int64, model, modelLabel string) (*domain.Thread, error)
	ListRevisions(ctx context.Context, threadID int64) ([]domain.Revision, error)
	InsertRevision(ctx context.Context, threadID int64, expectedVersion int, content string, feedback *string) (*domain.Revision, error)
}

// AuditStore records dispatch audit events.
type AuditStore interface {
	Insert(ctx context.Context, event domain.AuditEvent) error
}

// NotificationStore records in-app notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n domain.Notification) error
}
