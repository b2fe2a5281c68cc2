package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mikoto/overseer/internal/domain"
)

// TaskRepository handles task data access operations.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindByID retrieves a task by its ID.
func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*domain.Task, error) {
	var task domain.Task
	err := r.db.GetContext(ctx, &task,
		`SELECT id, project_id, title, description, created_by,
		        agent_status, issue_number, issue_url, pr_url,
		        created_at, updated_at
		 FROM tasks WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find task by id %d: %w", id, err)
	}
	return &task, nil
}

// UpdateAgentMirror writes the cached worker fields shown in task list
// views. The guard subquery restricts the write to the task's
// most-recently-created deployment: a resolve racing in on behalf of a
// superseded deployment must not clobber the cache.
func (r *TaskRepository) UpdateAgentMirror(ctx context.Context, taskID, deploymentID int64, status domain.DeploymentStatus, prURL *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET agent_status = $3,
		     pr_url = COALESCE($4, pr_url),
		     updated_at = NOW()
		 WHERE id = $1
		   AND $2 = (SELECT MAX(id) FROM deployments WHERE task_id = $1)`,
		taskID, deploymentID, status, prURL)
	if err != nil {
		return fmt.Errorf("update task %d agent mirror: %w", taskID, err)
	}
	// Zero rows means the deployment was superseded; the cache stays as-is.
	_, _ = res.RowsAffected()
	return nil
}

// SetIssueRef records the issue reference a fresh dispatch created, along
// with the deployment's initial status.
func (r *TaskRepository) SetIssueRef(ctx context.Context, taskID int64, issueNumber int, issueURL string, status domain.DeploymentStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET agent_status = $4, issue_number = $2, issue_url = $3, pr_url = NULL, updated_at = NOW()
		 WHERE id = $1`,
		taskID, issueNumber, issueURL, status)
	if err != nil {
		return fmt.Errorf("set task %d issue ref: %w", taskID, err)
	}
	return nil
}
