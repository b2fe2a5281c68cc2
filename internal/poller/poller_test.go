package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikoto/overseer/internal/domain"
)

// fakeResolver serves a scripted status sequence per deployment and records
// every resolve call.
type fakeResolver struct {
	mu      sync.Mutex
	scripts map[int64][]domain.DeploymentStatus
	fail    map[int64]int // remaining failures before scripts apply
	calls   map[int64]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		scripts: make(map[int64][]domain.DeploymentStatus),
		fail:    make(map[int64]int),
		calls:   make(map[int64]int),
	}
}

// script sets the statuses returned by successive resolves; the last one
// repeats forever.
func (r *fakeResolver) script(deploymentID int64, statuses ...domain.DeploymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[deploymentID] = statuses
}

func (r *fakeResolver) failures(deploymentID int64, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[deploymentID] = n
}

func (r *fakeResolver) callCount(deploymentID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[deploymentID]
}

func (r *fakeResolver) ResolveSystem(_ context.Context, deploymentID int64) (*domain.DeploymentFeed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail[deploymentID] > 0 {
		r.fail[deploymentID]--
		return nil, fmt.Errorf("%w: tracker unreachable", domain.ErrUpstream)
	}

	script := r.scripts[deploymentID]
	if len(script) == 0 {
		return nil, domain.ErrNotFound
	}
	idx := r.calls[deploymentID]
	r.calls[deploymentID]++
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return &domain.DeploymentFeed{
		Deployment: &domain.Deployment{ID: deploymentID, Status: script[idx]},
	}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPollerStopsOnTerminal(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing, domain.StatusImplementing, domain.StatusPRCreated)

	p := New(r, 10*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)

	waitFor(t, func() bool { return r.callCount(1) >= 3 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, r.callCount(1), "loop must stop at the terminal resolve")
}

// plan_ready stops the loop even though the row is not write-terminal.
func TestPollerStopsOnPlanReady(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusWorking, domain.StatusPlanReady)

	p := New(r, 10*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)

	waitFor(t, func() bool { return r.callCount(1) >= 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, r.callCount(1))

	// Accepting the plan re-tracks the same deployment; the loop restarts.
	p.Track(100, 1)
	waitFor(t, func() bool { return r.callCount(1) >= 3 })
}

// A failed resolve is no update this cycle, not the end of the loop.
func TestPollerSurvivesResolveFailures(t *testing.T) {
	r := newFakeResolver()
	r.failures(1, 3)
	r.script(1, domain.StatusPRCreated)

	p := New(r, 5*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)

	waitFor(t, func() bool { return r.callCount(1) >= 1 })
}

// Tracking a newer deployment of the same task replaces the older watch and
// gives the superseded one a final resolve.
func TestPollerReplacesSameTaskWatch(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)
	r.script(2, domain.StatusImplementing)

	p := New(r, 10*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)
	waitFor(t, func() bool { return r.callCount(1) >= 1 })
	before := r.callCount(1)

	p.Track(100, 2)

	// Deployment 1 gets exactly one detached final resolve, then stays quiet.
	waitFor(t, func() bool { return r.callCount(1) >= before+1 })
	waitFor(t, func() bool { return r.callCount(2) >= 2 })
	settled := r.callCount(1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, r.callCount(1))
}

func TestPollerTrackSameDeploymentIsNoop(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)

	p := New(r, 10*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)
	waitFor(t, func() bool { return r.callCount(1) >= 1 })
	p.Track(100, 1)

	p.mu.Lock()
	w := p.byTask[100]
	p.mu.Unlock()
	require.NotNil(t, w)
	assert.Equal(t, int64(1), w.deploymentID)
}

func TestPollerUntrack(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)

	p := New(r, 5*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)
	waitFor(t, func() bool { return r.callCount(1) >= 1 })

	p.Untrack(100, 1)
	time.Sleep(20 * time.Millisecond)
	settled := r.callCount(1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, r.callCount(1))
}

// Untracking a superseded deployment must not stop the watch the task's
// current deployment owns.
func TestPollerUntrackStaleDeployment(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)
	r.script(2, domain.StatusImplementing)

	p := New(r, 5*time.Millisecond)
	defer p.Close()

	p.Track(100, 1)
	waitFor(t, func() bool { return r.callCount(1) >= 1 })
	p.Track(100, 2)
	waitFor(t, func() bool { return r.callCount(2) >= 1 })

	// Deployment 1 was replaced; cancelling it now is a no-op for the watch.
	p.Untrack(100, 1)

	p.mu.Lock()
	w := p.byTask[100]
	p.mu.Unlock()
	require.NotNil(t, w)
	assert.Equal(t, int64(2), w.deploymentID)

	before := r.callCount(2)
	waitFor(t, func() bool { return r.callCount(2) > before })
}

func TestPollerTrackAfterClose(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)

	p := New(r, 5*time.Millisecond)
	p.Close()

	p.Track(100, 1)

	p.mu.Lock()
	_, tracked := p.byTask[100]
	p.mu.Unlock()
	assert.False(t, tracked)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, r.callCount(1))
}

func TestPollerRestore(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)
	r.script(2, domain.StatusWorking)

	p := New(r, 10*time.Millisecond)
	defer p.Close()

	p.Restore([]domain.Deployment{
		{ID: 1, TaskID: 100, Status: domain.StatusImplementing},
		{ID: 2, TaskID: 200, Status: domain.StatusWorking},
	})

	waitFor(t, func() bool { return r.callCount(1) >= 1 && r.callCount(2) >= 1 })
}

func TestPollerCloseStopsLoops(t *testing.T) {
	r := newFakeResolver()
	r.script(1, domain.StatusImplementing)

	p := New(r, 5*time.Millisecond)
	p.Track(100, 1)
	waitFor(t, func() bool { return r.callCount(1) >= 1 })

	p.Close()
	settled := r.callCount(1)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, r.callCount(1))
}
