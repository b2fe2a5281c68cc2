package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikoto/overseer/internal/domain"
)

const planDoc = "## Implementation Plan\n\n1. Add token bucket\n2. Tests"

func TestPlanningGetOrCreateSession(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	view, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)
	require.NotNil(t, view.Session)
	assert.Equal(t, int64(1), view.Session.TaskID)

	// First use creates one default thread for the requested model.
	require.Len(t, view.Threads, 1)
	assert.Equal(t, "gpt-5", view.Threads[0].Model)
	assert.Equal(t, 0, view.Threads[0].CurrentVersion)

	// Idempotent: a second call with another model returns the same
	// session and does not sprout a second default thread.
	again, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "o4", "o4")
	require.NoError(t, err)
	assert.Equal(t, view.Session.ID, again.Session.ID)
	assert.Len(t, again.Threads, 1)
	assert.Equal(t, "gpt-5", again.Threads[0].Model)
}

// racingPlanningStore simulates losing the session-creation race: a
// concurrent call commits the session with its default thread just before
// CreateSession runs, which then reports the conflict.
type racingPlanningStore struct {
	*fakePlanningStore
	model      string
	modelLabel string
}

func (r *racingPlanningStore) CreateSession(ctx context.Context, taskID, repositoryLinkID int64) (*domain.PlanningSession, error) {
	winner, err := r.fakePlanningStore.CreateSession(ctx, taskID, repositoryLinkID)
	if err != nil {
		return nil, err
	}
	if _, err := r.fakePlanningStore.CreateThread(ctx, winner.ID, r.model, r.modelLabel); err != nil {
		return nil, err
	}
	return nil, domain.ErrConflict
}

// The loser of a concurrent first use adopts the winner's session and must
// not seed a second default thread.
func TestPlanningGetOrCreateSessionRace(t *testing.T) {
	e := newEnv()
	racing := &racingPlanningStore{fakePlanningStore: e.planning, model: "gpt-5", modelLabel: "GPT-5"}
	e.plans = NewPlanningService(e.tasks, e.projects, racing, e.deployments)

	view, err := e.plans.GetOrCreateSession(context.Background(), ownerID, 1, 1, "o4", "o4")
	require.NoError(t, err)
	require.Len(t, view.Threads, 1)
	assert.Equal(t, "gpt-5", view.Threads[0].Model, "the winner's default thread stands")
}

func TestPlanningGetOrCreateSessionLinkOutsideProject(t *testing.T) {
	e := newEnv()
	e.projects.links[2] = &domain.RepositoryLink{ID: 2, ProjectID: 99, Owner: "other", Name: "repo"}

	_, err := e.plans.GetOrCreateSession(context.Background(), ownerID, 1, 2, "gpt-5", "GPT-5")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPlanningAddThread(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	view, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)

	thread, err := e.plans.AddThread(ctx, ownerID, view.Session.ID, "o4", "o4")
	require.NoError(t, err)
	assert.Equal(t, "o4", thread.Model)

	again, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)
	assert.Len(t, again.Threads, 2)
}

func TestPlanningSaveRevision(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	view, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)
	threadID := view.Threads[0].ID

	rev, err := e.plans.SaveRevision(ctx, ownerID, threadID, 0, planDoc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rev.Version)

	feedback := "Split step 2 into unit and integration tests"
	rev2, err := e.plans.SaveRevision(ctx, ownerID, threadID, 1, planDoc+"\n3. Integration tests", &feedback)
	require.NoError(t, err)
	assert.Equal(t, 2, rev2.Version)
	require.NotNil(t, rev2.Feedback)
}

// A generation started from a stale version must fail loudly, not renumber.
func TestPlanningSaveRevisionConflict(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	view, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)
	threadID := view.Threads[0].ID

	_, err = e.plans.SaveRevision(ctx, ownerID, threadID, 0, planDoc, nil)
	require.NoError(t, err)

	_, err = e.plans.SaveRevision(ctx, ownerID, threadID, 0, "concurrent document", nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	revisions, err := e.plans.Revisions(ctx, ownerID, threadID)
	require.NoError(t, err)
	require.Len(t, revisions, 1)
}

func TestPlanningRevisionsLabelsAndDeployState(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	view, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)
	threadID := view.Threads[0].ID

	docs := []string{
		planDoc,
		"## Clarifying Questions\n\n1. Shared cache or per-node?",
		planDoc + "\n3. Per-node cache",
	}
	for i, doc := range docs {
		_, err := e.plans.SaveRevision(ctx, ownerID, threadID, i, doc, nil)
		require.NoError(t, err)
	}

	// Dispatch v2 (version 3) and let it reach pr_created.
	version := 3
	d, err := e.dispatch.Start(ctx, ownerID, StartParams{
		TaskID: 1, RepositoryLinkID: 1, Mode: domain.ModeExecute, Model: "gpt-5",
		ThreadID: &threadID, RevisionVersion: &version,
	})
	require.NoError(t, err)

	labeled, err := e.plans.Revisions(ctx, ownerID, threadID)
	require.NoError(t, err)
	require.Len(t, labeled, 3)

	assert.Equal(t, "v1", labeled[0].Label)
	assert.Equal(t, "Q", labeled[1].Label)
	assert.Equal(t, "v2", labeled[2].Label)

	assert.Equal(t, domain.DeployNone, labeled[0].DeployStatus)
	assert.Equal(t, domain.DeployNone, labeled[1].DeployStatus)
	assert.Equal(t, domain.DeployDispatched, labeled[2].DeployStatus)

	e.github.botComment(d.IssueNumber, testBotLogin, "**Pull request:** https://github.com/acme/widgets/pull/3")
	_, err = e.status.ResolveSystem(ctx, d.ID)
	require.NoError(t, err)

	labeled, err = e.plans.Revisions(ctx, ownerID, threadID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeployPRCreated, labeled[2].DeployStatus)
}

func TestPlanningGenerationInput(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	view, err := e.plans.GetOrCreateSession(ctx, ownerID, 1, 1, "gpt-5", "GPT-5")
	require.NoError(t, err)
	threadID := view.Threads[0].ID

	thread, session, task, err := e.plans.GenerationInput(ctx, ownerID, threadID)
	require.NoError(t, err)
	assert.Equal(t, threadID, thread.ID)
	assert.Equal(t, view.Session.ID, session.ID)
	assert.Equal(t, int64(1), task.ID)

	_, _, _, err = e.plans.GenerationInput(ctx, 99, threadID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
