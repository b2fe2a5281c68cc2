package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mikoto/overseer/internal/domain"
)

const defaultBaseURL = "https://api.github.com"

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	baseURL string
	http    *http.Client
}

// NewGitHubClient creates a client authenticated with a personal access or
// installation token.
func NewGitHubClient(token string) *GitHubClient {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = 30 * time.Second
	return &GitHubClient{baseURL: defaultBaseURL, http: httpClient}
}

// NewGitHubClientForURL is like NewGitHubClient but targets a different API
// base URL. Used against httptest servers and GitHub Enterprise.
func NewGitHubClientForURL(baseURL, token string) *GitHubClient {
	c := NewGitHubClient(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// CreateIssue opens a new issue and returns its tracker-assigned identity.
func (c *GitHubClient) CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error) {
	payload := map[string]string{"title": title, "body": body}
	var issue Issue
	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, repo)
	if err := c.do(ctx, http.MethodPost, url, payload, &issue); err != nil {
		return nil, fmt.Errorf("create issue in %s/%s: %w", owner, repo, err)
	}
	return &issue, nil
}

// CreateComment posts a comment on an existing issue.
func (c *GitHubClient) CreateComment(ctx context.Context, owner, repo string, issueNumber int, body string) (*Comment, error) {
	payload := map[string]string{"body": body}
	var comment Comment
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, repo, issueNumber)
	if err := c.do(ctx, http.MethodPost, url, payload, &comment); err != nil {
		return nil, fmt.Errorf("create comment on %s/%s#%d: %w", owner, repo, issueNumber, err)
	}
	return &comment, nil
}

// ListComments fetches all comments for an issue, sorted chronologically.
// The API does not guarantee delivery order; classification depends on it.
func (c *GitHubClient) ListComments(ctx context.Context, owner, repo string, issueNumber int) ([]Comment, error) {
	var all []Comment
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments?per_page=100&page=%d",
			c.baseURL, owner, repo, issueNumber, page)
		var comments []Comment
		if err := c.do(ctx, http.MethodGet, url, nil, &comments); err != nil {
			return nil, fmt.Errorf("list comments on %s/%s#%d: %w", owner, repo, issueNumber, err)
		}
		all = append(all, comments...)
		if len(comments) < 100 {
			break
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

func (c *GitHubClient) do(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: github returned %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
		}
	}
	return nil
}
