// Package poller keeps non-terminal deployments in sync with the issue
// tracker. Each tracked deployment gets its own polling loop on a fixed
// interval; loops stop permanently the moment a poll-terminal status is
// observed and are never restarted for that deployment. To bound request
// volume, only the most recent non-terminal deployment per task is polled
// continuously; a superseded one is resolved once more for its last-known
// state and then dropped.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mikoto/overseer/internal/domain"
)

// Resolver refreshes one deployment from the tracker.
type Resolver interface {
	ResolveSystem(ctx context.Context, deploymentID int64) (*domain.DeploymentFeed, error)
}

// Poller schedules per-deployment polling loops.
type Poller struct {
	resolver Resolver
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	byTask map[int64]*watch
}

type watch struct {
	deploymentID int64
	cancel       context.CancelFunc
}

// New creates a poller resolving through r every interval.
func New(r Resolver, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		resolver: r,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		byTask:   make(map[int64]*watch),
	}
}

// Track starts polling a deployment. A previously tracked deployment of the
// same task is replaced: its loop stops and it gets one final resolve so its
// last-known state is fresh. Tracking the same deployment again is a no-op.
func (p *Poller) Track(taskID, deploymentID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		// Shutting down; Close may already be waiting on the group.
		return
	}

	if old, ok := p.byTask[taskID]; ok {
		if old.deploymentID == deploymentID {
			return
		}
		old.cancel()
		p.finalResolve(old.deploymentID)
	}

	loopCtx, cancel := context.WithCancel(p.ctx)
	p.byTask[taskID] = &watch{deploymentID: deploymentID, cancel: cancel}

	p.wg.Add(1)
	go p.loop(loopCtx, taskID, deploymentID)
}

// Untrack stops polling a deployment. Keyed on the pair: untracking a
// superseded deployment must not kill the watch that now belongs to the
// task's newer one.
func (p *Poller) Untrack(taskID, deploymentID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.byTask[taskID]; ok && w.deploymentID == deploymentID {
		w.cancel()
		delete(p.byTask, taskID)
	}
}

// Restore begins tracking a set of deployments, typically the store's active
// set at startup.
func (p *Poller) Restore(deployments []domain.Deployment) {
	for _, d := range deployments {
		p.Track(d.TaskID, d.ID)
	}
}

// Close stops every loop and waits for them to finish.
func (p *Poller) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, taskID, deploymentID int64) {
	defer p.wg.Done()
	defer p.drop(taskID, deploymentID)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if done := p.resolveOnce(ctx, deploymentID); done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolveOnce refreshes the deployment and reports whether polling should
// stop. A failed resolve is "no update this cycle": logged and retried on
// the next tick, never fatal to the loop.
func (p *Poller) resolveOnce(ctx context.Context, deploymentID int64) bool {
	feed, err := p.resolver.ResolveSystem(ctx, deploymentID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		slog.Warn("poll resolve failed", "deployment_id", deploymentID, "error", err)
		return false
	}

	status := feed.Deployment.Status
	if status.PollTerminal() {
		slog.Info("polling stopped", "deployment_id", deploymentID, "status", status)
		return true
	}
	return false
}

// finalResolve fetches a superseded deployment once so its row reflects the
// last observable state. Runs detached from the replaced loop's context.
func (p *Poller) finalResolve(deploymentID int64) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
		defer cancel()
		if _, err := p.resolver.ResolveSystem(ctx, deploymentID); err != nil {
			slog.Warn("final resolve failed", "deployment_id", deploymentID, "error", err)
		}
	}()
}

func (p *Poller) drop(taskID, deploymentID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.byTask[taskID]; ok && w.deploymentID == deploymentID {
		w.cancel()
		delete(p.byTask, taskID)
	}
}
