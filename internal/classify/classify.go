// Package classify derives deployment status from unstructured issue
// comments. The agent speaks no typed protocol; its state is inferred from
// marker substrings in the comments it posts. Those markers are a versioned
// contract shared with the comment composer in the dispatch service — change
// them in lockstep or not at all.
package classify

import (
	"regexp"
	"strings"

	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/tracker"
)

// Marker strings recognized in bot comments.
const (
	PlanHeading = "## Implementation Plan"

	// PlanDirective is the command token a human uses to request a
	// plan-only pass. Its absence in the triggering comment means the
	// agent was asked to implement.
	PlanDirective = "/plan"
)

var (
	// ErrorMarkers end a run unsuccessfully.
	ErrorMarkers = []string{
		"Agent failed",
		"Budget limit",
	}

	// NoChangeMarkers mean the agent finished without opening a PR.
	NoChangeMarkers = []string{
		"No changes needed",
		"Changes committed directly",
	}

	// WorkingMarkers mean the agent has picked up the request. The same
	// text is reused for planning and execution; see Refine.
	WorkingMarkers = []string{
		"Agent started working",
		"I'm working on it",
	}
)

// prURLPattern matches the "**Pull request:** <url>" convention the agent
// uses to announce a PR.
var prURLPattern = regexp.MustCompile(`\*\*Pull request:\*\*\s*(https://\S+)`)

// Classify maps a raw comment body to a status tag. Pure and total: it
// always returns exactly one tag, defaulting to unknown. First match wins,
// in this priority order: error, pr_created, done_no_changes, plan_ready,
// working.
func Classify(body string) domain.DeploymentStatus {
	for _, marker := range ErrorMarkers {
		if strings.Contains(body, marker) {
			return domain.StatusError
		}
	}
	if prURLPattern.MatchString(body) {
		return domain.StatusPRCreated
	}
	for _, marker := range NoChangeMarkers {
		if strings.Contains(body, marker) {
			return domain.StatusDoneNoChanges
		}
	}
	if strings.Contains(body, PlanHeading) {
		return domain.StatusPlanReady
	}
	for _, marker := range WorkingMarkers {
		if strings.Contains(body, marker) {
			return domain.StatusWorking
		}
	}
	return domain.StatusUnknown
}

// ExtractPRURL returns the pull-request URL announced in a comment body, or
// "" if the body contains none.
func ExtractPRURL(body string) string {
	m := prURLPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// LatestPRURL scans a chronological comment feed backward and returns the
// most recent announced PR URL, independent of how those comments classify.
func LatestPRURL(comments []tracker.Comment) string {
	for i := len(comments) - 1; i >= 0; i-- {
		if url := ExtractPRURL(comments[i].Body); url != "" {
			return url
		}
	}
	return ""
}

// Refine classifies a chronological comment feed for one deployment. Only
// comments authored by botLogin are eligible for a non-unknown tag; human
// comments stay in the feed tagged unknown.
//
// Bot comments initially tagged working are re-tagged implementing when the
// nearest preceding human comment addressing the bot carries no /plan
// directive: the agent reuses the same "working" marker for both planning
// and execution, so the request it answered decides which one it means.
func Refine(comments []tracker.Comment, botLogin string) []domain.FeedComment {
	mention := "@" + botLogin
	feed := make([]domain.FeedComment, 0, len(comments))

	for i, c := range comments {
		fromBot := c.Author.Login == botLogin
		status := domain.StatusUnknown
		if fromBot {
			status = Classify(c.Body)
			if status == domain.StatusWorking && isImplementRequest(comments[:i], botLogin, mention) {
				status = domain.StatusImplementing
			}
		}
		feed = append(feed, domain.FeedComment{
			ID:        c.ID,
			Body:      c.Body,
			Author:    c.Author.Login,
			AvatarURL: c.Author.AvatarURL,
			HTMLURL:   c.HTMLURL,
			CreatedAt: c.CreatedAt,
			Status:    status,
			FromBot:   fromBot,
		})
	}
	return feed
}

// isImplementRequest reports whether the nearest preceding human comment
// mentioning the bot asked for implementation rather than a plan. With no
// such comment the working tag is left alone.
func isImplementRequest(preceding []tracker.Comment, botLogin, mention string) bool {
	for i := len(preceding) - 1; i >= 0; i-- {
		c := preceding[i]
		if c.Author.Login == botLogin || !strings.Contains(c.Body, mention) {
			continue
		}
		return !strings.Contains(c.Body, PlanDirective)
	}
	return false
}
