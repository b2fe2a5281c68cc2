package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mikoto/overseer/internal/domain"
)

// ProjectRepository handles project and membership data access.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// FindByID retrieves a project by its ID.
func (r *ProjectRepository) FindByID(ctx context.Context, id int64) (*domain.Project, error) {
	var project domain.Project
	err := r.db.GetContext(ctx, &project,
		`SELECT id, name, description, owner_id, created_at, updated_at
		 FROM projects WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find project by id %d: %w", id, err)
	}
	return &project, nil
}

// MemberRole returns the role a user holds in a project, or
// domain.ErrForbidden if the user is not a member.
func (r *ProjectRepository) MemberRole(ctx context.Context, projectID, userID int64) (domain.MemberRole, error) {
	var role domain.MemberRole
	err := r.db.GetContext(ctx, &role,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrForbidden
		}
		return "", fmt.Errorf("find member role project=%d user=%d: %w", projectID, userID, err)
	}
	return role, nil
}

// FindRepositoryLink retrieves a repository link by its ID.
func (r *ProjectRepository) FindRepositoryLink(ctx context.Context, id int64) (*domain.RepositoryLink, error) {
	var link domain.RepositoryLink
	err := r.db.GetContext(ctx, &link,
		`SELECT id, project_id, owner, name, created_at
		 FROM repository_links WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find repository link by id %d: %w", id, err)
	}
	return &link, nil
}
