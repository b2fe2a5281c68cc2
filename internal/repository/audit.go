package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mikoto/overseer/internal/domain"
)

// AuditRepository persists the dispatch audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert records an audit event.
func (r *AuditRepository) Insert(ctx context.Context, event domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (actor_id, action, task_id, deployment_id, model, repository, issue_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ActorID, event.Action, event.TaskID, event.DeploymentID,
		event.Model, event.Repository, event.IssueNumber)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByTask returns a task's audit events, newest first.
func (r *AuditRepository) ListByTask(ctx context.Context, taskID int64) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	err := r.db.SelectContext(ctx, &events,
		`SELECT id, actor_id, action, task_id, deployment_id, model, repository, issue_number, created_at
		 FROM audit_events WHERE task_id = $1 ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit events for task %d: %w", taskID, err)
	}
	return events, nil
}
