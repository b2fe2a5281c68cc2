package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikoto/overseer/internal/classify"
	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/tracker"
)

// StatusService derives a deployment's current status from its issue comment
// feed. It is the only writer of status and pr_url after creation; its
// writes are authoritative and overwrite the dispatch service's optimistic
// local transitions (terminal statuses excepted, the store guards those).
type StatusService struct {
	tasks         TaskStore
	deployments   DeploymentStore
	projects      ProjectStore
	notifications NotificationStore
	client        tracker.Client
	botLogin      string
}

// NewStatusService creates a new StatusService.
func NewStatusService(tasks TaskStore, deployments DeploymentStore, projects ProjectStore, notifications NotificationStore, client tracker.Client, botLogin string) *StatusService {
	return &StatusService{
		tasks:         tasks,
		deployments:   deployments,
		projects:      projects,
		notifications: notifications,
		client:        client,
		botLogin:      botLogin,
	}
}

// Authorize checks that the actor can see a deployment's project.
func (s *StatusService) Authorize(ctx context.Context, actorID int64, d *domain.Deployment) error {
	link, err := s.projects.FindRepositoryLink(ctx, d.RepositoryLinkID)
	if err != nil {
		return err
	}
	_, err = requireMember(ctx, s.projects, link.ProjectID, actorID)
	return err
}

// AuthorizeTask checks that the actor can see a task's project.
func (s *StatusService) AuthorizeTask(ctx context.Context, actorID, taskID int64) error {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = requireMember(ctx, s.projects, task.ProjectID, actorID)
	return err
}

// Resolve refreshes one deployment from the tracker on behalf of an actor.
func (s *StatusService) Resolve(ctx context.Context, actorID, deploymentID int64) (*domain.DeploymentFeed, error) {
	deployment, err := s.deployments.FindByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	link, err := s.projects.FindRepositoryLink(ctx, deployment.RepositoryLinkID)
	if err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.projects, link.ProjectID, actorID); err != nil {
		return nil, err
	}
	return s.resolve(ctx, deployment, link)
}

// ResolveSystem refreshes one deployment without an actor. Used by the
// poller, which acts on the system's own behalf.
func (s *StatusService) ResolveSystem(ctx context.Context, deploymentID int64) (*domain.DeploymentFeed, error) {
	deployment, err := s.deployments.FindByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	link, err := s.projects.FindRepositoryLink(ctx, deployment.RepositoryLinkID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, deployment, link)
}

func (s *StatusService) resolve(ctx context.Context, deployment *domain.Deployment, link *domain.RepositoryLink) (*domain.DeploymentFeed, error) {
	comments, err := s.client.ListComments(ctx, link.Owner, link.Name, deployment.IssueNumber)
	if err != nil {
		// Upstream failure: state unchanged, safe to retry next cycle.
		return nil, err
	}

	feed := classify.Refine(comments, s.botLogin)

	var latest *domain.DeploymentStatus
	for i := len(feed) - 1; i >= 0; i-- {
		if feed[i].FromBot {
			status := feed[i].Status
			latest = &status
			break
		}
	}

	var prURL *string
	if url := classify.LatestPRURL(comments); url != "" {
		prURL = &url
	}

	result := &domain.DeploymentFeed{
		Deployment:   deployment,
		Comments:     feed,
		LatestStatus: latest,
		PRURL:        prURL,
	}

	if latest == nil || *latest == domain.StatusUnknown {
		return result, nil
	}

	previous := deployment.Status
	updated, err := s.deployments.UpdateStatus(ctx, deployment.ID, *latest, prURL)
	if err != nil {
		return nil, fmt.Errorf("persist resolved status: %w", err)
	}
	result.Deployment = updated

	// Mirror onto the task only while this deployment is still the task's
	// most recent; a superseded run must never overwrite the cache.
	latestID, err := s.deployments.LatestIDForTask(ctx, deployment.TaskID)
	if err == nil && latestID == deployment.ID {
		if err := s.tasks.UpdateAgentMirror(ctx, deployment.TaskID, deployment.ID, updated.Status, updated.PRURL); err != nil {
			slog.Warn("task mirror update failed", "task_id", deployment.TaskID, "deployment_id", deployment.ID, "error", err)
		}
	}

	if updated.Status != previous {
		s.notifyTransition(ctx, updated)
	}
	return result, nil
}

// notifyTransition records an in-app notification for the deployment's
// creator when a run reaches a state worth telling a human about.
func (s *StatusService) notifyTransition(ctx context.Context, d *domain.Deployment) {
	var (
		kind  domain.NotificationType
		title string
	)
	switch d.Status {
	case domain.StatusPlanReady:
		kind, title = domain.NotificationPlanReady, "Plan ready for review"
	case domain.StatusPRCreated:
		kind, title = domain.NotificationPRCreated, "Pull request created"
	case domain.StatusError:
		kind, title = domain.NotificationDeploymentFailed, "Agent run failed"
	case domain.StatusDoneNoChanges:
		kind, title = domain.NotificationDeploymentDone, "Agent run finished without changes"
	default:
		return
	}

	message := fmt.Sprintf("Deployment #%d on issue #%d", d.ID, d.IssueNumber)
	if d.PRURL != nil {
		message += ": " + *d.PRURL
	}
	err := s.notifications.Insert(ctx, domain.Notification{
		UserID:       d.CreatedBy,
		DeploymentID: &d.ID,
		Type:         kind,
		Title:        title,
		Message:      message,
	})
	if err != nil {
		slog.Warn("notification write failed", "deployment_id", d.ID, "error", err)
	}
}
