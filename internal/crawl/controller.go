// Package crawl owns crawl job lifecycle and the engine control
// surface.
package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/fetch"
	"github.com/news-crawler/newscrawl/internal/pacer"
	"github.com/news-crawler/newscrawl/internal/planner"
	"github.com/news-crawler/newscrawl/internal/queue"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
	"github.com/news-crawler/newscrawl/internal/urlstore"
)

// Controller runs one crawl job: it owns the job's queue, pacer,
// workers, and optional plan execution. Never shared across jobs.
type Controller struct {
	jobID int64
	cfg   *config.Config

	queue    *queue.Queue
	pacer    *pacer.Pacer
	pipeline *fetch.Pipeline
	db       *storage.Database
	urls     *urlstore.Store
	bus      *telemetry.Bus
	log      *zap.Logger

	counters fetch.Counters

	// Plan execution, when the job came from a confirmed session
	plan    *planner.Plan
	exec    *planner.Execution
	pl      *planner.Planner
	learner *planner.Learner
	planState *planner.State

	running  atomic.Bool
	paused   atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	doneOnce sync.Once
	stopOnce sync.Once
}

// NewController assembles a controller for one job.
func NewController(jobID int64, cfg *config.Config, q *queue.Queue, p *pacer.Pacer,
	pipeline *fetch.Pipeline, db *storage.Database, urls *urlstore.Store,
	bus *telemetry.Bus, log *zap.Logger) *Controller {
	return &Controller{
		jobID:    jobID,
		cfg:      cfg,
		queue:    q,
		pacer:    p,
		pipeline: pipeline,
		db:       db,
		urls:     urls,
		bus:      bus,
		log:      log.With(zap.Int64("job_id", jobID)),
		stopCh:   make(chan struct{}),
	}
}

// AttachPlan installs a confirmed plan for operational execution.
func (c *Controller) AttachPlan(plan *planner.Plan, pl *planner.Planner, learner *planner.Learner, st *planner.State) error {
	exec, err := planner.NewExecution(plan, c.cfg.Planning.MaxBacktracks)
	if err != nil {
		return err
	}
	c.plan = plan
	c.exec = exec
	c.pl = pl
	c.learner = learner
	c.planState = st
	return nil
}

// SeedPlan enqueues the plan's steps into the plan-directed bucket.
func (c *Controller) SeedPlan() int {
	if c.plan == nil {
		return 0
	}
	return c.enqueueSteps(c.plan.Steps)
}

func (c *Controller) enqueueSteps(steps []planner.Step) int {
	seeded := 0
	for i := range steps {
		step := &steps[i]
		id, err := c.urls.Intern(step.TargetURL)
		if err != nil {
			continue
		}
		step.TargetURLID = id
		host, err := c.urls.HostOf(id)
		if err != nil {
			continue
		}
		if c.queue.Enqueue(&queue.Request{
			URLID:         id,
			Host:          host,
			Priority:      fetch.ComputePriority(queue.SourcePlan, 0, false, false, 0),
			Depth:         0,
			Source:        queue.SourcePlan,
			JobID:         c.jobID,
			ExpectedValue: step.ExpectedValue,
		}) {
			c.db.LogQueueEvent(c.jobID, storage.ActionEnqueued, id, 0)
			seeded++
		}
	}
	return seeded
}

// Seed enqueues a seed URL at depth 0.
func (c *Controller) Seed(rawURL string, source queue.Source) error {
	id, err := c.urls.Intern(rawURL)
	if err != nil {
		return err
	}
	host, err := c.urls.HostOf(id)
	if err != nil {
		return err
	}
	if c.queue.Enqueue(&queue.Request{
		URLID:    id,
		Host:     host,
		Priority: fetch.ComputePriority(source, 0, false, false, 0),
		Depth:    0,
		Source:   source,
		JobID:    c.jobID,
	}) {
		c.db.LogQueueEvent(c.jobID, storage.ActionEnqueued, id, 0)
	}
	return nil
}

// Rehydrate rebuilds the queue of a previously paused job.
func (c *Controller) Rehydrate() (int, error) {
	return c.queue.Rehydrate(c.db, c.urls, c.jobID)
}

// Start launches the worker pool. Concurrency is clamped to at least
// one worker.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.db.SetJobStatus(c.jobID, storage.JobRunning); err != nil {
		return err
	}
	c.running.Store(true)
	c.paused.Store(false)

	workers := c.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.bus.Milestone(c.jobID, "pipeline-configured", map[string]any{
		"workers": workers,
		"queued":  c.queue.Size(),
	})
	return nil
}

// worker pulls ready requests, gates them through the pacer, and runs
// the fetch pipeline.
func (c *Controller) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	idleSince := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		// Pause: stop pulling work, leave the queue intact
		if c.paused.Load() {
			return
		}

		if c.budgetExhausted() {
			c.finish(storage.JobCompleted, "budget reached")
			return
		}

		req := c.queue.DequeueReady(time.Now(), c.pacer)
		if req == nil {
			if c.queue.Size() == 0 {
				if idleSince.IsZero() {
					idleSince = time.Now()
				} else if time.Since(idleSince) > 2*time.Second {
					c.finish(storage.JobCompleted, "queue drained")
					return
				}
			}
			select {
			case <-time.After(100 * time.Millisecond):
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		idleSince = time.Time{}

		lease, err := c.pacer.Acquire(ctx, req.Host)
		if err != nil {
			// Context cancelled while waiting; put the request back
			c.queue.Enqueue(req)
			return
		}

		result := c.pipeline.Process(ctx, req, lease, c.queue, &c.counters)
		lease.Release()
		c.queue.MarkVisited(req.URLID, req.Depth)

		if req.Source == queue.SourcePlan && c.exec != nil {
			c.trackPlanStep(req, result)
		}
	}
}

// trackPlanStep feeds an executed plan-directed request into the plan
// executor and handles backtracking.
func (c *Controller) trackPlanStep(req *queue.Request, result *fetch.Result) {
	step := c.exec.CurrentStep()
	if step == nil {
		return
	}
	actual := result.Value
	if c.learner != nil {
		c.learner.RecordStepResult(c.plan, c.exec.StepIndex(), *step, actual)
	}

	switch c.exec.RecordStep(actual) {
	case planner.DecisionBacktrack:
		c.bus.Milestone(c.jobID, "plan-backtrack", map[string]any{
			"backtracks": c.exec.Backtracks() + 1,
			"step_url":   step.TargetURL,
		})
		alternative := c.pl.AlternativeBranch(c.planState, c.plan.Steps)
		if err := c.exec.ApplyBacktrack(alternative); err != nil {
			c.log.Warn("backtrack failed", zap.Error(err))
			return
		}
		c.enqueueSteps(alternative)

	case planner.DecisionAbort:
		c.bus.Problem(c.jobID, "warning", "plan-aborted", "backtrack budget exhausted", 0)
		c.recordPlanOutcome()

	case planner.DecisionComplete:
		c.bus.Milestone(c.jobID, "plan-complete", nil)
		c.recordPlanOutcome()
	}
}

func (c *Controller) recordPlanOutcome() {
	if c.learner != nil && c.plan != nil && c.exec != nil {
		if err := c.learner.RecordOutcome(c.plan, c.jobID, c.exec); err != nil {
			c.log.Warn("plan outcome persist failed", zap.Error(err))
		}
	}
}

// budgetExhausted checks the page and download ceilings.
func (c *Controller) budgetExhausted() bool {
	if c.cfg.MaxPages > 0 && c.counters.Visited.Load() >= int64(c.cfg.MaxPages) {
		return true
	}
	if c.cfg.MaxDownloads > 0 && c.counters.Downloads.Load() >= int64(c.cfg.MaxDownloads) {
		return true
	}
	return false
}

// finish completes the job exactly once.
func (c *Controller) finish(status storage.JobStatus, reason string) {
	c.doneOnce.Do(func() {
		c.running.Store(false)
		if c.exec != nil && !c.exec.Done() {
			c.recordPlanOutcome()
		}
		if err := c.db.SetJobStatus(c.jobID, status); err != nil {
			c.log.Error("job status update failed", zap.Error(err))
		}
		c.bus.Milestone(c.jobID, "crawl-finished", map[string]any{
			"status":  string(status),
			"reason":  reason,
			"visited": c.counters.Visited.Load(),
			"saved":   c.counters.Saved.Load(),
			"failed":  c.counters.Failed.Load(),
		})
	})
}

// Pause stops workers after their current request; the queue state
// stays persisted for resumption.
func (c *Controller) Pause() error {
	c.paused.Store(true)
	c.wg.Wait()
	c.running.Store(false)
	return c.db.SetJobStatus(c.jobID, storage.JobPaused)
}

// Stop cancels the job; workers exit after their current request. The
// terminal status goes through finish, so a job that completed on its
// own concurrently keeps its completed status.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.finish(storage.JobCancelled, "stopped")
	return nil
}

// Wait blocks until all workers exit.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Running reports whether workers are active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Counters exposes the job's progress counters.
func (c *Controller) Counters() *fetch.Counters {
	return &c.counters
}

// Queue exposes queue statistics.
func (c *Controller) Queue() *queue.Queue {
	return c.queue
}

// JobID returns the controller's job.
func (c *Controller) JobID() int64 {
	return c.jobID
}
