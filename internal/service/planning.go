package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikoto/overseer/internal/domain"
)

// PlanningService manages planning sessions, threads and revisions.
type PlanningService struct {
	tasks       TaskStore
	projects    ProjectStore
	planning    PlanningStore
	deployments DeploymentStore
}

// NewPlanningService creates a new PlanningService.
func NewPlanningService(tasks TaskStore, projects ProjectStore, planning PlanningStore, deployments DeploymentStore) *PlanningService {
	return &PlanningService{
		tasks:       tasks,
		projects:    projects,
		planning:    planning,
		deployments: deployments,
	}
}

// SessionView is a planning session with its threads.
type SessionView struct {
	Session *domain.PlanningSession `json:"session"`
	Threads []domain.Thread         `json:"threads"`
}

// GetOrCreateSession returns the task's active planning session, creating it
// on first use along with one default thread for the given model. Idempotent:
// a task never gets a second concurrent session.
func (s *PlanningService) GetOrCreateSession(ctx context.Context, actorID, taskID, repositoryLinkID int64, model, modelLabel string) (*SessionView, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	link, err := s.projects.FindRepositoryLink(ctx, repositoryLinkID)
	if err != nil {
		return nil, err
	}
	if link.ProjectID != task.ProjectID {
		return nil, fmt.Errorf("%w: repository link %d does not belong to task's project", domain.ErrInvalidInput, link.ID)
	}
	if _, err := requireMember(ctx, s.projects, task.ProjectID, actorID); err != nil {
		return nil, err
	}

	session, err := s.planning.FindSessionByTask(ctx, taskID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		session, err = s.planning.CreateSession(ctx, taskID, repositoryLinkID)
		switch {
		case err == nil:
			// Only the call that created the session seeds the default
			// thread; the loser of a creation race must not add a second.
			if _, err := s.planning.CreateThread(ctx, session.ID, model, modelLabel); err != nil {
				return nil, err
			}
		case errors.Is(err, domain.ErrConflict):
			// Lost the creation race; the winner's session, default
			// thread included, is ours too.
			session, err = s.planning.FindSessionByTask(ctx, taskID)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	default:
		return nil, err
	}

	threads, err := s.planning.ListThreads(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session, Threads: threads}, nil
}

// AddThread appends a thread for another model to an existing session.
func (s *PlanningService) AddThread(ctx context.Context, actorID, sessionID int64, model, modelLabel string) (*domain.Thread, error) {
	session, err := s.sessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSession(ctx, actorID, session); err != nil {
		return nil, err
	}
	return s.planning.CreateThread(ctx, session.ID, model, modelLabel)
}

// Revisions returns a thread's revisions in version order, labeled for the
// navigator and annotated with their derived deploy state.
func (s *PlanningService) Revisions(ctx context.Context, actorID, threadID int64) ([]domain.LabeledRevision, error) {
	thread, err := s.planning.FindThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	session, err := s.sessionByID(ctx, thread.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSession(ctx, actorID, session); err != nil {
		return nil, err
	}

	revisions, err := s.planning.ListRevisions(ctx, threadID)
	if err != nil {
		return nil, err
	}
	labeled := domain.LabelRevisions(revisions)

	deployed, err := s.deployments.DeployStatusByVersion(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for i := range labeled {
		status, ok := deployed[labeled[i].Version]
		if !ok {
			status = domain.DeployNone
		}
		labeled[i].DeployStatus = status
	}
	return labeled, nil
}

// SaveRevision persists a finished generation as the thread's next revision.
// expectedVersion is the version the generation was started from; a
// concurrent generation that already advanced the thread makes this fail
// with domain.ErrConflict instead of silently renumbering.
func (s *PlanningService) SaveRevision(ctx context.Context, actorID, threadID int64, expectedVersion int, content string, feedback *string) (*domain.Revision, error) {
	thread, err := s.planning.FindThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	session, err := s.sessionByID(ctx, thread.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSession(ctx, actorID, session); err != nil {
		return nil, err
	}
	return s.planning.InsertRevision(ctx, threadID, expectedVersion, content, feedback)
}

// GenerationInput loads everything a generation request for a thread needs,
// with the access check applied: the thread, its session and the owning task.
func (s *PlanningService) GenerationInput(ctx context.Context, actorID, threadID int64) (*domain.Thread, *domain.PlanningSession, *domain.Task, error) {
	thread, err := s.planning.FindThread(ctx, threadID)
	if err != nil {
		return nil, nil, nil, err
	}
	session, err := s.sessionByID(ctx, thread.SessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.authorizeSession(ctx, actorID, session); err != nil {
		return nil, nil, nil, err
	}
	task, err := s.tasks.FindByID(ctx, session.TaskID)
	if err != nil {
		return nil, nil, nil, err
	}
	return thread, session, task, nil
}

func (s *PlanningService) sessionByID(ctx context.Context, sessionID int64) (*domain.PlanningSession, error) {
	return s.planning.FindSession(ctx, sessionID)
}

func (s *PlanningService) authorizeSession(ctx context.Context, actorID int64, session *domain.PlanningSession) error {
	link, err := s.projects.FindRepositoryLink(ctx, session.RepositoryLinkID)
	if err != nil {
		return err
	}
	_, err = requireMember(ctx, s.projects, link.ProjectID, actorID)
	return err
}
