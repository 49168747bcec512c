// Package tasks runs long-lived background work over existing data
// with the same pause/resume and telemetry contract as crawls.
package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

// Status is the background task lifecycle.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Progress carries resumable task progress. Cursor is the task's
// idempotent resumption point.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Cursor  int64   `json:"cursor"`
	Details string  `json:"details,omitempty"`
}

// Context is handed to a task execution. Cancellation is cooperative:
// the task observes Ctx and persists enough progress to resume.
type Context struct {
	Ctx          context.Context
	Params       json.RawMessage
	Resume       Progress
	EmitProgress func(Progress)
}

// Task is a unit of background work. Implementations must be
// idempotent with respect to their persisted cursor.
type Task interface {
	Kind() string
	Execute(tc *Context) error
}

// Factory builds a task of one kind from its persisted params. New
// kinds register at process init.
type Factory func(params json.RawMessage) (Task, error)

// persistInterval rate-limits progress persistence.
const persistInterval = time.Second

type runningTask struct {
	id      string
	kind    string
	cancel  context.CancelFunc
	pausing bool
	done    chan struct{}
}

// Manager owns the in-process task pool. Its worker pool is disjoint
// from crawl workers.
type Manager struct {
	db  *storage.Database
	bus *telemetry.Bus
	log *zap.Logger

	sem chan struct{}

	mu       sync.Mutex
	registry map[string]Factory
	running  map[string]*runningTask
}

// NewManager creates a task manager with the given parallelism.
func NewManager(db *storage.Database, bus *telemetry.Bus, workers int, log *zap.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		db:       db,
		bus:      bus,
		log:      log,
		sem:      make(chan struct{}, workers),
		registry: make(map[string]Factory),
		running:  make(map[string]*runningTask),
	}
}

// Register adds a task kind.
func (m *Manager) Register(kind string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[kind] = factory
}

// Create persists a new task in the created state and returns its ID.
func (m *Manager) Create(kind string, params any) (string, error) {
	m.mu.Lock()
	_, known := m.registry[kind]
	m.mu.Unlock()
	if !known {
		return "", crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown task kind %q", kind)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", crawlerr.Wrap(crawlerr.KindInvalidInput, err)
	}

	id := uuid.NewString()
	if err := m.db.UpsertTask(&storage.TaskRow{
		ID:         id,
		Kind:       kind,
		Status:     string(StatusCreated),
		ParamsJSON: string(paramsJSON),
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Start launches a created or paused task.
func (m *Manager) Start(ctx context.Context, id string) error {
	row, err := m.db.GetTask(id)
	if err != nil {
		return err
	}
	if row == nil {
		return crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown task %s", id)
	}
	switch Status(row.Status) {
	case StatusCreated, StatusPaused:
	default:
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "task %s is %s", id, row.Status)
	}

	m.mu.Lock()
	if _, active := m.running[id]; active {
		m.mu.Unlock()
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "task %s is already active", id)
	}
	factory, known := m.registry[row.Kind]
	if !known {
		m.mu.Unlock()
		return crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown task kind %q", row.Kind)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	rt := &runningTask{id: id, kind: row.Kind, cancel: cancel, done: make(chan struct{})}
	m.running[id] = rt
	m.mu.Unlock()

	task, err := factory(json.RawMessage(row.ParamsJSON))
	if err != nil {
		cancel()
		m.remove(id)
		return crawlerr.Wrap(crawlerr.KindInvalidInput, err)
	}

	var resume Progress
	if row.ProgressJSON != "" {
		json.Unmarshal([]byte(row.ProgressJSON), &resume)
	}

	row.Status = string(StatusRunning)
	row.StartedAt = time.Now()
	row.PausedAt = time.Time{}
	if err := m.db.UpsertTask(row); err != nil {
		cancel()
		m.remove(id)
		return err
	}

	go m.run(taskCtx, rt, task, row, resume)
	return nil
}

func (m *Manager) run(ctx context.Context, rt *runningTask, task Task, row *storage.TaskRow, resume Progress) {
	defer close(rt.done)

	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	var lastPersist time.Time
	var lastProgress Progress
	emit := func(p Progress) {
		if p.Total > 0 {
			p.Percent = float64(p.Current) / float64(p.Total) * 100
		}
		lastProgress = p
		m.bus.Progress(0, telemetry.Progress{
			Current: p.Current,
			Total:   p.Total,
			Phase:   "task:" + rt.kind,
			Details: p.Details,
		})
		if time.Since(lastPersist) >= persistInterval {
			lastPersist = time.Now()
			m.persistProgress(row, p, StatusRunning)
		}
	}

	err := task.Execute(&Context{
		Ctx:          ctx,
		Params:       json.RawMessage(row.ParamsJSON),
		Resume:       resume,
		EmitProgress: emit,
	})

	m.mu.Lock()
	pausing := rt.pausing
	delete(m.running, rt.id)
	m.mu.Unlock()

	switch {
	case pausing:
		row.PausedAt = time.Now()
		m.persistProgress(row, lastProgress, StatusPaused)
	case err != nil && ctx.Err() != nil:
		m.persistProgress(row, lastProgress, StatusStopped)
	case err != nil:
		m.persistProgress(row, lastProgress, StatusFailed)
		m.bus.Problem(0, "error", "task-failed", err.Error(), 0)
	default:
		m.persistProgress(row, lastProgress, StatusCompleted)
		m.bus.Milestone(0, "task-complete", map[string]any{"task_id": rt.id, "kind": rt.kind})
	}
}

func (m *Manager) persistProgress(row *storage.TaskRow, p Progress, status Status) {
	progressJSON, _ := json.Marshal(p)
	row.ProgressJSON = string(progressJSON)
	row.Status = string(status)
	if err := m.db.UpsertTask(row); err != nil {
		m.log.Warn("task persist failed", zap.String("task", row.ID), zap.Error(err))
	}
}

// Pause cooperatively stops a running task, preserving its cursor.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	rt, active := m.running[id]
	if active {
		rt.pausing = true
		rt.cancel()
	}
	m.mu.Unlock()

	if !active {
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "task %s is not running", id)
	}
	<-rt.done
	return nil
}

// Resume restarts a paused task from its persisted cursor.
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.Start(ctx, id)
}

// Stop cancels a task; it keeps its persisted progress but is not
// restarted automatically.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	rt, active := m.running[id]
	if active {
		rt.cancel()
	}
	m.mu.Unlock()

	if !active {
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "task %s is not running", id)
	}
	<-rt.done
	return nil
}

// Get returns the persisted task row.
func (m *Manager) Get(id string) (*storage.TaskRow, error) {
	return m.db.GetTask(id)
}

// RehydrateOnStartup moves tasks left in running (a previous process
// died) to paused. They are never silently resumed.
func (m *Manager) RehydrateOnStartup() (int, error) {
	rows, err := m.db.TasksByStatus(string(StatusRunning))
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		row.Status = string(StatusPaused)
		row.PausedAt = time.Now()
		if err := m.db.UpsertTask(row); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()
}
