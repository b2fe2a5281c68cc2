package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mikoto/overseer/internal/domain"
)

// DeploymentRepository handles deployment data access operations.
// Deployment rows are append-only apart from status/pr_url updates; they are
// never deleted.
type DeploymentRepository struct {
	db *sqlx.DB
}

// NewDeploymentRepository creates a new DeploymentRepository.
func NewDeploymentRepository(db *sqlx.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

const deploymentColumns = `id, task_id, repository_link_id, created_by, issue_number, issue_url,
	status, pr_url, model, mode, thread_id, revision_version, created_at, updated_at`

// Insert persists a new deployment and returns it with its assigned ID.
func (r *DeploymentRepository) Insert(ctx context.Context, d domain.Deployment) (*domain.Deployment, error) {
	var result domain.Deployment
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO deployments
		   (task_id, repository_link_id, created_by, issue_number, issue_url, status, model, mode, thread_id, revision_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+deploymentColumns,
		d.TaskID, d.RepositoryLinkID, d.CreatedBy, d.IssueNumber, d.IssueURL,
		d.Status, d.Model, d.Mode, d.ThreadID, d.RevisionVersion,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("insert deployment: %w", err)
	}
	return &result, nil
}

// FindByID retrieves a deployment by its ID.
func (r *DeploymentRepository) FindByID(ctx context.Context, id int64) (*domain.Deployment, error) {
	var d domain.Deployment
	err := r.db.GetContext(ctx, &d,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find deployment by id %d: %w", id, err)
	}
	return &d, nil
}

// ListByTask returns all deployments for a task, newest first.
func (r *DeploymentRepository) ListByTask(ctx context.Context, taskID int64) ([]domain.Deployment, error) {
	var deployments []domain.Deployment
	err := r.db.SelectContext(ctx, &deployments,
		`SELECT `+deploymentColumns+` FROM deployments WHERE task_id = $1 ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list deployments for task %d: %w", taskID, err)
	}
	return deployments, nil
}

// LatestIDForTask returns the ID of the task's most-recently-created
// deployment, or domain.ErrNotFound if the task has none.
func (r *DeploymentRepository) LatestIDForTask(ctx context.Context, taskID int64) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id,
		`SELECT MAX(id) FROM deployments WHERE task_id = $1 HAVING MAX(id) IS NOT NULL`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("latest deployment for task %d: %w", taskID, err)
	}
	return id, nil
}

// UpdateStatus writes a polled status and PR URL onto a deployment. The
// WHERE clause refuses to change a status that is already terminal, so a
// late resolve can never resurrect a finished run. Returns the updated row,
// or the unchanged row when the guard blocked the write.
func (r *DeploymentRepository) UpdateStatus(ctx context.Context, id int64, status domain.DeploymentStatus, prURL *string) (*domain.Deployment, error) {
	var d domain.Deployment
	err := r.db.QueryRowxContext(ctx,
		`UPDATE deployments
		 SET status = $2, pr_url = COALESCE($3, pr_url), updated_at = NOW()
		 WHERE id = $1
		   AND status NOT IN ('pr_created', 'done_no_changes', 'error', 'cancelled')
		 RETURNING `+deploymentColumns,
		id, status, prURL,
	).StructScan(&d)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.FindByID(ctx, id)
		}
		return nil, fmt.Errorf("update deployment %d status: %w", id, err)
	}
	return &d, nil
}

// ListActive returns every deployment still worth polling, used to restore
// the poller's tracking set at startup. At most one deployment per task is
// returned: the most recent non-poll-terminal one.
func (r *DeploymentRepository) ListActive(ctx context.Context) ([]domain.Deployment, error) {
	var deployments []domain.Deployment
	err := r.db.SelectContext(ctx, &deployments,
		`SELECT DISTINCT ON (task_id) `+deploymentColumns+`
		 FROM deployments
		 WHERE status IN ('working', 'implementing', 'unknown')
		 ORDER BY task_id, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}
	return deployments, nil
}

// DeployStatusByVersion derives, for every revision version of a thread, the
// deploy state shown in the revision navigator: pr_created beats dispatched,
// versions never dispatched are absent from the map.
func (r *DeploymentRepository) DeployStatusByVersion(ctx context.Context, threadID int64) (map[int]domain.RevisionDeployStatus, error) {
	var rows []struct {
		Version int                     `db:"revision_version"`
		Status  domain.DeploymentStatus `db:"status"`
		HasPR   bool                    `db:"has_pr"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT revision_version, status, pr_url IS NOT NULL AS has_pr
		 FROM deployments
		 WHERE thread_id = $1 AND revision_version IS NOT NULL`, threadID)
	if err != nil {
		return nil, fmt.Errorf("deploy status for thread %d: %w", threadID, err)
	}

	result := make(map[int]domain.RevisionDeployStatus, len(rows))
	for _, row := range rows {
		if row.HasPR || row.Status == domain.StatusPRCreated {
			result[row.Version] = domain.DeployPRCreated
			continue
		}
		if result[row.Version] != domain.DeployPRCreated {
			result[row.Version] = domain.DeployDispatched
		}
	}
	return result, nil
}
