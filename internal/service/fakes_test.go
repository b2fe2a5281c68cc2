package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/tracker"
)

// In-memory fakes for the store interfaces and the tracker client.

type fakeTaskStore struct {
	mu          sync.Mutex
	tasks       map[int64]*domain.Task
	mirrorCalls []int64 // deployment IDs that mirrored onto a task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[int64]*domain.Task)}
}

func (f *fakeTaskStore) FindByID(_ context.Context, id int64) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskStore) UpdateAgentMirror(_ context.Context, taskID, deploymentID int64, status domain.DeploymentStatus, prURL *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil
	}
	task.AgentStatus = &status
	if prURL != nil {
		task.PRURL = prURL
	}
	f.mirrorCalls = append(f.mirrorCalls, deploymentID)
	return nil
}

func (f *fakeTaskStore) SetIssueRef(_ context.Context, taskID int64, issueNumber int, issueURL string, status domain.DeploymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	task.IssueNumber = &issueNumber
	task.IssueURL = &issueURL
	task.AgentStatus = &status
	task.PRURL = nil
	return nil
}

type fakeDeploymentStore struct {
	mu          sync.Mutex
	deployments map[int64]*domain.Deployment
	nextID      int64
}

func newFakeDeploymentStore() *fakeDeploymentStore {
	return &fakeDeploymentStore{deployments: make(map[int64]*domain.Deployment)}
}

func (f *fakeDeploymentStore) Insert(_ context.Context, d domain.Deployment) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d.ID = f.nextID
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	f.deployments[d.ID] = &d
	copied := d
	return &copied, nil
}

func (f *fakeDeploymentStore) FindByID(_ context.Context, id int64) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeploymentStore) ListByTask(_ context.Context, taskID int64) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Deployment
	for id := f.nextID; id >= 1; id-- {
		if d, ok := f.deployments[id]; ok && d.TaskID == taskID {
			result = append(result, *d)
		}
	}
	return result, nil
}

func (f *fakeDeploymentStore) LatestIDForTask(_ context.Context, taskID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest int64
	for id, d := range f.deployments {
		if d.TaskID == taskID && id > latest {
			latest = id
		}
	}
	if latest == 0 {
		return 0, domain.ErrNotFound
	}
	return latest, nil
}

// UpdateStatus mirrors the repository's terminal guard: a write-terminal
// status is never overwritten, the unchanged row is returned instead.
func (f *fakeDeploymentStore) UpdateStatus(_ context.Context, id int64, status domain.DeploymentStatus, prURL *string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !d.Status.Terminal() {
		d.Status = status
		if prURL != nil {
			d.PRURL = prURL
		}
		d.UpdatedAt = time.Now()
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeploymentStore) DeployStatusByVersion(_ context.Context, threadID int64) (map[int]domain.RevisionDeployStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[int]domain.RevisionDeployStatus)
	for _, d := range f.deployments {
		if d.ThreadID == nil || *d.ThreadID != threadID || d.RevisionVersion == nil {
			continue
		}
		v := *d.RevisionVersion
		if d.PRURL != nil || d.Status == domain.StatusPRCreated {
			result[v] = domain.DeployPRCreated
		} else if result[v] != domain.DeployPRCreated {
			result[v] = domain.DeployDispatched
		}
	}
	return result, nil
}

type roleKey struct {
	projectID int64
	userID    int64
}

type fakeProjectStore struct {
	mu       sync.Mutex
	projects map[int64]*domain.Project
	links    map[int64]*domain.RepositoryLink
	roles    map[roleKey]domain.MemberRole
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		projects: make(map[int64]*domain.Project),
		links:    make(map[int64]*domain.RepositoryLink),
		roles:    make(map[roleKey]domain.MemberRole),
	}
}

func (f *fakeProjectStore) FindByID(_ context.Context, id int64) (*domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *project
	return &copied, nil
}

func (f *fakeProjectStore) MemberRole(_ context.Context, projectID, userID int64) (domain.MemberRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[roleKey{projectID, userID}]
	if !ok {
		return "", domain.ErrForbidden
	}
	return role, nil
}

func (f *fakeProjectStore) FindRepositoryLink(_ context.Context, id int64) (*domain.RepositoryLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *link
	return &copied, nil
}

type fakePlanningStore struct {
	mu            sync.Mutex
	sessions      map[int64]*domain.PlanningSession
	sessionByTask map[int64]int64
	threads       map[int64]*domain.Thread
	revisions     map[int64][]domain.Revision
	nextSessionID int64
	nextThreadID  int64
	nextRevID     int64
}

func newFakePlanningStore() *fakePlanningStore {
	return &fakePlanningStore{
		sessions:      make(map[int64]*domain.PlanningSession),
		sessionByTask: make(map[int64]int64),
		threads:       make(map[int64]*domain.Thread),
		revisions:     make(map[int64][]domain.Revision),
	}
}

func (f *fakePlanningStore) FindSession(_ context.Context, id int64) (*domain.PlanningSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakePlanningStore) FindSessionByTask(_ context.Context, taskID int64) (*domain.PlanningSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.sessionByTask[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *f.sessions[id]
	return &copied, nil
}

func (f *fakePlanningStore) CreateSession(_ context.Context, taskID, repositoryLinkID int64) (*domain.PlanningSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessionByTask[taskID]; ok {
		return nil, domain.ErrConflict
	}
	f.nextSessionID++
	session := &domain.PlanningSession{
		ID:               f.nextSessionID,
		TaskID:           taskID,
		RepositoryLinkID: repositoryLinkID,
		CreatedAt:        time.Now(),
	}
	f.sessions[session.ID] = session
	f.sessionByTask[taskID] = session.ID
	copied := *session
	return &copied, nil
}

func (f *fakePlanningStore) FindThread(_ context.Context, id int64) (*domain.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *thread
	return &copied, nil
}

func (f *fakePlanningStore) ListThreads(_ context.Context, sessionID int64) ([]domain.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Thread
	for id := int64(1); id <= f.nextThreadID; id++ {
		if t, ok := f.threads[id]; ok && t.SessionID == sessionID {
			result = append(result, *t)
		}
	}
	return result, nil
}

func (f *fakePlanningStore) CreateThread(_ context.Context, sessionID int64, model, modelLabel string) (*domain.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextThreadID++
	thread := &domain.Thread{
		ID:         f.nextThreadID,
		SessionID:  sessionID,
		Model:      model,
		ModelLabel: modelLabel,
		CreatedAt:  time.Now(),
	}
	f.threads[thread.ID] = thread
	copied := *thread
	return &copied, nil
}

func (f *fakePlanningStore) ListRevisions(_ context.Context, threadID int64) ([]domain.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Revision(nil), f.revisions[threadID]...), nil
}

func (f *fakePlanningStore) InsertRevision(_ context.Context, threadID int64, expectedVersion int, content string, feedback *string) (*domain.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if thread.CurrentVersion != expectedVersion {
		return nil, domain.ErrConflict
	}
	thread.CurrentVersion = expectedVersion + 1
	f.nextRevID++
	revision := domain.Revision{
		ID:        f.nextRevID,
		ThreadID:  threadID,
		Version:   expectedVersion + 1,
		Content:   content,
		Feedback:  feedback,
		CreatedAt: time.Now(),
	}
	f.revisions[threadID] = append(f.revisions[threadID], revision)
	copied := revision
	return &copied, nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (f *fakeAuditStore) Insert(_ context.Context, event domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (f *fakeNotificationStore) Insert(_ context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

// fakeTracker is an in-memory issue tracker.
type fakeTracker struct {
	mu            sync.Mutex
	nextIssue     int
	nextCommentID int64
	issueBodies   map[int]string
	comments      map[int][]tracker.Comment

	failCreateIssue   bool
	failCreateComment bool
	failListComments  bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issueBodies: make(map[int]string),
		comments:    make(map[int][]tracker.Comment),
	}
}

func (f *fakeTracker) CreateIssue(_ context.Context, owner, repo, title, body string) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateIssue {
		return nil, fmt.Errorf("%w: github returned 502", domain.ErrUpstream)
	}
	f.nextIssue++
	f.issueBodies[f.nextIssue] = body
	return &tracker.Issue{
		Number:  f.nextIssue,
		HTMLURL: fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, f.nextIssue),
	}, nil
}

func (f *fakeTracker) CreateComment(_ context.Context, owner, repo string, issueNumber int, body string) (*tracker.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateComment {
		return nil, fmt.Errorf("%w: github returned 502", domain.ErrUpstream)
	}
	return f.addComment(issueNumber, "operator", body), nil
}

func (f *fakeTracker) ListComments(_ context.Context, owner, repo string, issueNumber int) ([]tracker.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListComments {
		return nil, fmt.Errorf("%w: github returned 500", domain.ErrUpstream)
	}
	return append([]tracker.Comment(nil), f.comments[issueNumber]...), nil
}

// botComment appends a comment authored by the given login, for driving
// scenarios from tests.
func (f *fakeTracker) botComment(issueNumber int, login, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addComment(issueNumber, login, body)
}

func (f *fakeTracker) addComment(issueNumber int, login, body string) *tracker.Comment {
	f.nextCommentID++
	comment := tracker.Comment{
		ID:        f.nextCommentID,
		Body:      body,
		Author:    tracker.Author{Login: login},
		CreatedAt: time.Now().Add(time.Duration(f.nextCommentID) * time.Millisecond),
	}
	f.comments[issueNumber] = append(f.comments[issueNumber], comment)
	copied := comment
	return &copied
}
