package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlanningSession groups the plan revisions generated for one task.
// A task has at most one active session; it is created lazily on first use.
type PlanningSession struct {
	ID               int64     `json:"id" db:"id"`
	TaskID           int64     `json:"task_id" db:"task_id"`
	RepositoryLinkID int64     `json:"repository_link_id" db:"repository_link_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Thread is a named sequence of revisions for one (session, model) pairing.
type Thread struct {
	ID             int64     `json:"id" db:"id"`
	SessionID      int64     `json:"session_id" db:"session_id"`
	Model          string    `json:"model" db:"model"`
	ModelLabel     string    `json:"model_label" db:"model_label"`
	CurrentVersion int       `json:"current_version" db:"current_version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Revision is one immutable generated document version within a thread.
// Versions are 1-based, strictly increasing, never renumbered or deleted.
type Revision struct {
	ID        int64     `json:"id" db:"id"`
	ThreadID  int64     `json:"thread_id" db:"thread_id"`
	Version   int       `json:"version" db:"version"`
	Content   string    `json:"content" db:"content"`
	Feedback  *string   `json:"feedback,omitempty" db:"feedback"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ContentKind classifies a revision's content.
type ContentKind string

const (
	ContentUnknown   ContentKind = "unknown"
	ContentPlan      ContentKind = "plan"
	ContentQuestions ContentKind = "questions"
)

// QuestionsHeading is the marker a questions document opens with. Anything
// else, once enough text has arrived, is a plan.
const QuestionsHeading = "## Clarifying Questions"

// contentDecidableLen is the minimum buffered length before a document
// without the questions heading is committed to being a plan. The heading can
// only appear at the very start, so the classification never flips between
// the two kinds once decided.
const contentDecidableLen = len(QuestionsHeading)

// ClassifyContent returns the content kind for a (possibly partial) revision
// body.
func ClassifyContent(content string) ContentKind {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if strings.HasPrefix(trimmed, QuestionsHeading) {
		return ContentQuestions
	}
	if len(trimmed) < contentDecidableLen {
		return ContentUnknown
	}
	return ContentPlan
}

// RevisionDeployStatus is the derived deploy state shown for a revision.
type RevisionDeployStatus string

const (
	DeployNone       RevisionDeployStatus = "none"
	DeployDispatched RevisionDeployStatus = "dispatched"
	DeployPRCreated  RevisionDeployStatus = "pr_created"
)

// LabeledRevision decorates a revision with its display label and deploy
// state for the revision navigator.
type LabeledRevision struct {
	Revision
	Kind         ContentKind          `json:"kind"`
	Label        string               `json:"label"`
	DeployStatus RevisionDeployStatus `json:"deploy_status"`
}

// LabelRevisions assigns display labels to a thread's revisions in version
// order. Plans count v1, v2, ... and question documents Q, Q2, ...; the two
// series are numbered independently.
func LabelRevisions(revisions []Revision) []LabeledRevision {
	labeled := make([]LabeledRevision, 0, len(revisions))
	plans, questions := 0, 0
	for _, rev := range revisions {
		kind := ClassifyContent(rev.Content)
		var label string
		if kind == ContentQuestions {
			questions++
			if questions == 1 {
				label = "Q"
			} else {
				label = fmt.Sprintf("Q%d", questions)
			}
		} else {
			plans++
			label = fmt.Sprintf("v%d", plans)
		}
		labeled = append(labeled, LabeledRevision{Revision: rev, Kind: kind, Label: label})
	}
	return labeled
}
