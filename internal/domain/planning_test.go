package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    ContentKind
	}{
		{"empty is undecided", "", ContentUnknown},
		{"short prefix is undecided", "## Clarif", ContentUnknown},
		{"questions heading", "## Clarifying Questions\n\n1. Which DB?", ContentQuestions},
		{"questions heading with leading whitespace", "\n\n  ## Clarifying Questions\nQ1", ContentQuestions},
		{"anything long enough else is a plan", "## Implementation Plan\n\n1. step", ContentPlan},
		{"plain prose is a plan", "We should refactor the store layer first because...", ContentPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyContent(tt.content))
		})
	}
}

// Once a streamed document has enough text to classify, appending more text
// never flips the kind.
func TestClassifyContentStable(t *testing.T) {
	doc := "## Clarifying Questions\n\n1. Should the cache be shared?\n2. Which regions?"
	for i := range doc {
		kind := ClassifyContent(doc[:i+1])
		if kind != ContentUnknown {
			assert.Equal(t, ContentQuestions, kind, "prefix of %d bytes", i+1)
		}
	}
	assert.Equal(t, ContentQuestions, ClassifyContent(doc))
}

func TestLabelRevisions(t *testing.T) {
	plan := "## Implementation Plan\n\nsteps"
	questions := "## Clarifying Questions\n\n1. Which?"

	revisions := []Revision{
		{Version: 1, Content: plan},
		{Version: 2, Content: questions},
		{Version: 3, Content: plan},
		{Version: 4, Content: questions},
		{Version: 5, Content: plan},
	}

	labeled := LabelRevisions(revisions)
	require.Len(t, labeled, 5)

	// Plans and question documents number independently.
	assert.Equal(t, "v1", labeled[0].Label)
	assert.Equal(t, "Q", labeled[1].Label)
	assert.Equal(t, "v2", labeled[2].Label)
	assert.Equal(t, "Q2", labeled[3].Label)
	assert.Equal(t, "v3", labeled[4].Label)

	assert.Equal(t, ContentPlan, labeled[0].Kind)
	assert.Equal(t, ContentQuestions, labeled[1].Kind)
}

func TestLabelRevisionsEmpty(t *testing.T) {
	assert.Empty(t, LabelRevisions(nil))
}

func TestDeploymentStatusTerminal(t *testing.T) {
	terminal := []DeploymentStatus{StatusPRCreated, StatusDoneNoChanges, StatusError, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s", s)
		assert.True(t, s.PollTerminal(), "%s", s)
	}

	for _, s := range []DeploymentStatus{StatusWorking, StatusImplementing, StatusUnknown} {
		assert.False(t, s.Terminal(), "%s", s)
		assert.False(t, s.PollTerminal(), "%s", s)
	}

	// plan_ready stops polling but the row can still move to implementing.
	assert.False(t, StatusPlanReady.Terminal())
	assert.True(t, StatusPlanReady.PollTerminal())
}

func TestDeploymentModeInitialStatus(t *testing.T) {
	assert.Equal(t, StatusWorking, ModePlan.InitialStatus())
	assert.Equal(t, StatusImplementing, ModeExecute.InitialStatus())
}
