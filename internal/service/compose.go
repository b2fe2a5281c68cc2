package service

import (
	"fmt"
	"strings"

	"github.com/mikoto/overseer/internal/classify"
	"github.com/mikoto/overseer/internal/domain"
)

// Comment and issue bodies posted by the dispatch service. The agent reads
// these; the classifier reads the agent's replies. Directive tokens here and
// marker strings in the classify package form one protocol.

const cancelDirective = "/cancel"

func composeIssueTitle(task *domain.Task) string {
	return task.Title
}

func composeIssueBody(task *domain.Task, project *domain.Project, appBaseURL string) string {
	var b strings.Builder
	if task.Description != nil && *task.Description != "" {
		b.WriteString(*task.Description)
		b.WriteString("\n\n")
	}
	b.WriteString("---\n")
	fmt.Fprintf(&b, "Delegated from [task #%d](%s/tasks/%d) in project **%s**.\n",
		task.ID, strings.TrimRight(appBaseURL, "/"), task.ID, project.Name)
	return b.String()
}

// composeStartComment addresses the bot with either a plan request or a
// direct implementation request.
func composeStartComment(botLogin string, mode domain.DeploymentMode, model string) string {
	if mode == domain.ModePlan {
		return fmt.Sprintf("@%s %s\n\nModel: `%s`", botLogin, classify.PlanDirective, model)
	}
	return fmt.Sprintf("@%s Please implement this issue.\n\nModel: `%s`", botLogin, model)
}

// composeContinueComment asks the bot to implement, optionally with an extra
// operator prompt. Deliberately free of the /plan token so the classifier's
// refinement pass reads the agent's next working marker as implementing.
func composeContinueComment(botLogin, model string, customPrompt *string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s Please implement the plan above.", botLogin)
	if customPrompt != nil && strings.TrimSpace(*customPrompt) != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(*customPrompt))
	}
	fmt.Fprintf(&b, "\n\nModel: `%s`", model)
	return b.String()
}

func composeCancelComment(botLogin string) string {
	return fmt.Sprintf("@%s %s", botLogin, cancelDirective)
}
