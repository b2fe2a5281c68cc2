// Package tracker defines the issue-tracker boundary the orchestration core
// talks to: create an issue, post a comment, list comments. The external API
// is rate-limited and network-fallible; every failure is surfaced as
// domain.ErrUpstream so callers can treat it as "no update this cycle".
package tracker

import (
	"context"
	"time"
)

// Issue is the tracker-assigned identity of a created issue.
type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// Author identifies who wrote a comment.
type Author struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Comment is one issue comment, read-only to this core.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Author    Author    `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is the minimal surface the core consumes.
type Client interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error)
	CreateComment(ctx context.Context, owner, repo string, issueNumber int, body string) (*Comment, error)
	ListComments(ctx context.Context, owner, repo string, issueNumber int) ([]Comment, error)
}
