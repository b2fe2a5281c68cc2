package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/mikoto/overseer/internal/domain"
)

// PlanningRepository handles planning sessions, threads and revisions.
type PlanningRepository struct {
	db *sqlx.DB
}

// NewPlanningRepository creates a new PlanningRepository.
func NewPlanningRepository(db *sqlx.DB) *PlanningRepository {
	return &PlanningRepository{db: db}
}

// FindSession retrieves a planning session by its ID.
func (r *PlanningRepository) FindSession(ctx context.Context, id int64) (*domain.PlanningSession, error) {
	var session domain.PlanningSession
	err := r.db.GetContext(ctx, &session,
		`SELECT id, task_id, repository_link_id, created_at
		 FROM planning_sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find session by id %d: %w", id, err)
	}
	return &session, nil
}

// FindSessionByTask retrieves the active planning session for a task.
func (r *PlanningRepository) FindSessionByTask(ctx context.Context, taskID int64) (*domain.PlanningSession, error) {
	var session domain.PlanningSession
	err := r.db.GetContext(ctx, &session,
		`SELECT id, task_id, repository_link_id, created_at
		 FROM planning_sessions WHERE task_id = $1`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find session for task %d: %w", taskID, err)
	}
	return &session, nil
}

// CreateSession inserts the planning session for a task. The unique index on
// task_id makes concurrent creates collapse to a conflict rather than a
// second session; callers retry the find on domain.ErrConflict.
func (r *PlanningRepository) CreateSession(ctx context.Context, taskID, repositoryLinkID int64) (*domain.PlanningSession, error) {
	var session domain.PlanningSession
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO planning_sessions (task_id, repository_link_id)
		 VALUES ($1, $2)
		 RETURNING id, task_id, repository_link_id, created_at`,
		taskID, repositoryLinkID,
	).StructScan(&session)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("create session for task %d: %w", taskID, err)
	}
	return &session, nil
}

// FindThread retrieves a thread by its ID.
func (r *PlanningRepository) FindThread(ctx context.Context, id int64) (*domain.Thread, error) {
	var thread domain.Thread
	err := r.db.GetContext(ctx, &thread,
		`SELECT id, session_id, model, model_label, current_version, created_at
		 FROM threads WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find thread by id %d: %w", id, err)
	}
	return &thread, nil
}

// ListThreads returns a session's threads in creation order.
func (r *PlanningRepository) ListThreads(ctx context.Context, sessionID int64) ([]domain.Thread, error) {
	var threads []domain.Thread
	err := r.db.SelectContext(ctx, &threads,
		`SELECT id, session_id, model, model_label, current_version, created_at
		 FROM threads WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list threads for session %d: %w", sessionID, err)
	}
	return threads, nil
}

// CreateThread appends a thread with current_version = 0. No content is
// generated here.
func (r *PlanningRepository) CreateThread(ctx context.Context, sessionID int64, model, modelLabel string) (*domain.Thread, error) {
	var thread domain.Thread
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO threads (session_id, model, model_label, current_version)
		 VALUES ($1, $2, $3, 0)
		 RETURNING id, session_id, model, model_label, current_version, created_at`,
		sessionID, model, modelLabel,
	).StructScan(&thread)
	if err != nil {
		return nil, fmt.Errorf("create thread for session %d: %w", sessionID, err)
	}
	return &thread, nil
}

// ListRevisions returns all revisions of a thread ordered by version
// ascending. No pagination: the count is bounded by human iteration.
func (r *PlanningRepository) ListRevisions(ctx context.Context, threadID int64) ([]domain.Revision, error) {
	var revisions []domain.Revision
	err := r.db.SelectContext(ctx, &revisions,
		`SELECT id, thread_id, version, content, feedback, created_at
		 FROM revisions WHERE thread_id = $1 ORDER BY version`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list revisions for thread %d: %w", threadID, err)
	}
	return revisions, nil
}

// InsertRevision persists a finished generation as version expectedVersion+1
// and advances the thread's current_version, both under optimistic guards.
// Two generations racing for the same thread collapse to one winner; the
// loser gets domain.ErrConflict and nothing is written for it.
func (r *PlanningRepository) InsertRevision(ctx context.Context, threadID int64, expectedVersion int, content string, feedback *string) (*domain.Revision, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin revision tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE threads SET current_version = $2 WHERE id = $1 AND current_version = $3`,
		threadID, expectedVersion+1, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("advance thread %d version: %w", threadID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("advance thread %d version: %w", threadID, err)
	} else if n == 0 {
		return nil, domain.ErrConflict
	}

	var revision domain.Revision
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO revisions (thread_id, version, content, feedback)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, thread_id, version, content, feedback, created_at`,
		threadID, expectedVersion+1, content, feedback,
	).StructScan(&revision)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert revision for thread %d: %w", threadID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit revision tx: %w", err)
	}
	return &revision, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
