package service

import (
	"context"

	"github.com/mikoto/overseer/internal/domain"
)

// requireMember checks that the actor belongs to the task's project and
// returns their role. Non-members get domain.ErrForbidden.
func requireMember(ctx context.Context, projects ProjectStore, projectID, actorID int64) (domain.MemberRole, error) {
	return projects.MemberRole(ctx, projectID, actorID)
}

// requireDispatcher checks that the actor may start, continue or cancel
// deployments in the project.
func requireDispatcher(ctx context.Context, projects ProjectStore, projectID, actorID int64) error {
	role, err := projects.MemberRole(ctx, projectID, actorID)
	if err != nil {
		return err
	}
	if !role.CanDispatch() {
		return domain.ErrForbidden
	}
	return nil
}
