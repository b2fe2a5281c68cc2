package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/tracker"
)

// DispatchService owns every side effect against the issue tracker: starting
// a run, asking it to continue, and posting the cancellation marker.
type DispatchService struct {
	tasks       TaskStore
	deployments DeploymentStore
	projects    ProjectStore
	audit       AuditStore
	client      tracker.Client
	botLogin    string
	appBaseURL  string
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(tasks TaskStore, deployments DeploymentStore, projects ProjectStore, audit AuditStore, client tracker.Client, botLogin, appBaseURL string) *DispatchService {
	return &DispatchService{
		tasks:       tasks,
		deployments: deployments,
		projects:    projects,
		audit:       audit,
		client:      client,
		botLogin:    botLogin,
		appBaseURL:  appBaseURL,
	}
}

// StartParams describes a fresh dispatch.
type StartParams struct {
	TaskID           int64
	RepositoryLinkID int64
	Mode             domain.DeploymentMode
	Model            string

	// Optional deploy linkage: the plan revision this run implements.
	ThreadID        *int64
	RevisionVersion *int
}

// ContinueParams describes a continue/accept-plan dispatch.
type ContinueParams struct {
	Model        string
	CustomPrompt *string
}

// PartialDispatchError reports that the issue was created and the deployment
// row persisted, but the command comment failed to post. The run exists with
// its status stuck at the initial value; retry by continuing the deployment,
// which re-posts only the comment.
type PartialDispatchError struct {
	Deployment *domain.Deployment
	Err        error
}

func (e *PartialDispatchError) Error() string {
	return fmt.Sprintf("deployment %d started but command comment failed: %v", e.Deployment.ID, e.Err)
}

func (e *PartialDispatchError) Unwrap() error { return e.Err }

// Start creates a tracker issue for the task, persists a new deployment and
// posts the command comment addressed to the bot. Validation and
// authorization happen before any external side effect.
func (s *DispatchService) Start(ctx context.Context, actorID int64, params StartParams) (*domain.Deployment, error) {
	task, err := s.tasks.FindByID(ctx, params.TaskID)
	if err != nil {
		return nil, err
	}
	link, err := s.projects.FindRepositoryLink(ctx, params.RepositoryLinkID)
	if err != nil {
		return nil, err
	}
	if link.ProjectID != task.ProjectID {
		return nil, fmt.Errorf("%w: repository link %d does not belong to task's project", domain.ErrInvalidInput, link.ID)
	}
	if err := requireDispatcher(ctx, s.projects, task.ProjectID, actorID); err != nil {
		return nil, err
	}
	project, err := s.projects.FindByID(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	issue, err := s.client.CreateIssue(ctx, link.Owner, link.Name, composeIssueTitle(task), composeIssueBody(task, project, s.appBaseURL))
	if err != nil {
		return nil, err
	}

	initial := params.Mode.InitialStatus()
	deployment, err := s.deployments.Insert(ctx, domain.Deployment{
		TaskID:           task.ID,
		RepositoryLinkID: link.ID,
		CreatedBy:        actorID,
		IssueNumber:      issue.Number,
		IssueURL:         issue.HTMLURL,
		Status:           initial,
		Model:            params.Model,
		Mode:             params.Mode,
		ThreadID:         params.ThreadID,
		RevisionVersion:  params.RevisionVersion,
	})
	if err != nil {
		return nil, err
	}

	if err := s.tasks.SetIssueRef(ctx, task.ID, issue.Number, issue.HTMLURL, initial); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, domain.AuditDeployStart, deployment, link)

	if _, err := s.client.CreateComment(ctx, link.Owner, link.Name, issue.Number, composeStartComment(s.botLogin, params.Mode, params.Model)); err != nil {
		return deployment, &PartialDispatchError{Deployment: deployment, Err: err}
	}

	slog.Info("deployment started",
		"deployment_id", deployment.ID,
		"task_id", task.ID,
		"repository", link.FullName(),
		"issue", issue.Number,
		"mode", params.Mode,
		"model", params.Model,
	)
	return deployment, nil
}

// Continue posts an implement/continue comment on the deployment's existing
// issue and optimistically moves its status to implementing. The next poll
// confirms or corrects the transition.
func (s *DispatchService) Continue(ctx context.Context, actorID, deploymentID int64, params ContinueParams) (*domain.Deployment, error) {
	deployment, link, err := s.loadForMutation(ctx, actorID, deploymentID)
	if err != nil {
		return nil, err
	}

	if _, err := s.client.CreateComment(ctx, link.Owner, link.Name, deployment.IssueNumber, composeContinueComment(s.botLogin, params.Model, params.CustomPrompt)); err != nil {
		return nil, err
	}

	updated, err := s.deployments.UpdateStatus(ctx, deployment.ID, domain.StatusImplementing, nil)
	if err != nil {
		return nil, err
	}
	s.mirrorIfLatest(ctx, updated)
	s.recordAudit(ctx, actorID, domain.AuditDeployContinue, updated, link)

	slog.Info("deployment continued", "deployment_id", deployment.ID, "issue", deployment.IssueNumber, "model", params.Model)
	return updated, nil
}

// Cancel posts the cancellation marker on the deployment's issue.
// Cancellation is cooperative: the comment asks the agent to stop, it is not
// a hard kill. The local transition to cancelled is optimistic and, being
// terminal, final.
func (s *DispatchService) Cancel(ctx context.Context, actorID, deploymentID int64) (*domain.Deployment, error) {
	deployment, link, err := s.loadForMutation(ctx, actorID, deploymentID)
	if err != nil {
		return nil, err
	}

	if _, err := s.client.CreateComment(ctx, link.Owner, link.Name, deployment.IssueNumber, composeCancelComment(s.botLogin)); err != nil {
		return nil, err
	}

	updated, err := s.deployments.UpdateStatus(ctx, deployment.ID, domain.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	s.mirrorIfLatest(ctx, updated)
	s.recordAudit(ctx, actorID, domain.AuditDeployCancel, updated, link)

	slog.Info("deployment cancelled", "deployment_id", deployment.ID, "issue", deployment.IssueNumber)
	return updated, nil
}

func (s *DispatchService) loadForMutation(ctx context.Context, actorID, deploymentID int64) (*domain.Deployment, *domain.RepositoryLink, error) {
	deployment, err := s.deployments.FindByID(ctx, deploymentID)
	if err != nil {
		return nil, nil, err
	}
	link, err := s.projects.FindRepositoryLink(ctx, deployment.RepositoryLinkID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireDispatcher(ctx, s.projects, link.ProjectID, actorID); err != nil {
		return nil, nil, err
	}
	return deployment, link, nil
}

// mirrorIfLatest copies an optimistic status onto the task's cached worker
// fields, but only when the deployment is still the task's newest.
func (s *DispatchService) mirrorIfLatest(ctx context.Context, d *domain.Deployment) {
	latestID, err := s.deployments.LatestIDForTask(ctx, d.TaskID)
	if err != nil || latestID != d.ID {
		return
	}
	if err := s.tasks.UpdateAgentMirror(ctx, d.TaskID, d.ID, d.Status, d.PRURL); err != nil {
		slog.Warn("task mirror update failed", "task_id", d.TaskID, "deployment_id", d.ID, "error", err)
	}
}

// recordAudit writes the mandatory audit event for a dispatch call. A write
// failure is logged loudly but does not fail the dispatch that already
// happened against the tracker.
func (s *DispatchService) recordAudit(ctx context.Context, actorID int64, action domain.AuditAction, d *domain.Deployment, link *domain.RepositoryLink) {
	err := s.audit.Insert(ctx, domain.AuditEvent{
		ActorID:      actorID,
		Action:       action,
		TaskID:       d.TaskID,
		DeploymentID: d.ID,
		Model:        d.Model,
		Repository:   link.FullName(),
		IssueNumber:  d.IssueNumber,
	})
	if err != nil {
		slog.Error("audit event write failed", "action", action, "deployment_id", d.ID, "error", err)
	}
}
