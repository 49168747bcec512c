package tasks

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

func newTestManager(t *testing.T) (*Manager, *storage.Database) {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewManager(db, telemetry.NewBus(zap.NewNop()), 2, zap.NewNop()), db
}

// countingTask counts to total, one tick per interval, resuming from
// the persisted cursor.
type countingTask struct {
	total    int
	interval time.Duration
}

func (ct *countingTask) Kind() string { return "counting" }

func (ct *countingTask) Execute(tc *Context) error {
	for i := int(tc.Resume.Cursor); i < ct.total; i++ {
		select {
		case <-tc.Ctx.Done():
			return tc.Ctx.Err()
		case <-time.After(ct.interval):
		}
		tc.EmitProgress(Progress{Current: i + 1, Total: ct.total, Cursor: int64(i + 1)})
	}
	return nil
}

func registerCounting(m *Manager, total int, interval time.Duration) {
	m.Register("counting", func(json.RawMessage) (Task, error) {
		return &countingTask{total: total, interval: interval}, nil
	})
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *storage.TaskRow {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		row, err := m.Get(id)
		require.NoError(t, err)
		if row != nil && Status(row.Status) == want {
			return row
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", id, want)
	return nil
}

func TestTaskRunsToCompletion(t *testing.T) {
	m, _ := newTestManager(t)
	registerCounting(m, 3, time.Millisecond)

	id, err := m.Create("counting", nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), id))

	row := waitForStatus(t, m, id, StatusCompleted)
	var p Progress
	require.NoError(t, json.Unmarshal([]byte(row.ProgressJSON), &p))
	assert.Equal(t, 3, p.Current)
	assert.Equal(t, 100.0, p.Percent)
}

func TestCreateUnknownKind(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create("nonsense", nil)
	assert.ErrorIs(t, err, crawlerr.ErrInvalidInput)
}

func TestPauseAndResumeKeepsCursor(t *testing.T) {
	m, _ := newTestManager(t)
	registerCounting(m, 50, 20*time.Millisecond)

	id, err := m.Create("counting", nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), id))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Pause(id))

	row := waitForStatus(t, m, id, StatusPaused)
	var p Progress
	require.NoError(t, json.Unmarshal([]byte(row.ProgressJSON), &p))
	assert.Greater(t, p.Cursor, int64(0))
	assert.Less(t, p.Cursor, int64(50))

	// Pausing a non-running task fails
	assert.ErrorIs(t, m.Pause(id), crawlerr.ErrPreconditionFailed)

	require.NoError(t, m.Resume(context.Background(), id))
	final := waitForStatus(t, m, id, StatusCompleted)
	require.NoError(t, json.Unmarshal([]byte(final.ProgressJSON), &p))
	assert.Equal(t, 50, p.Current)
}

func TestDoubleStartFails(t *testing.T) {
	m, _ := newTestManager(t)
	registerCounting(m, 100, 10*time.Millisecond)

	id, err := m.Create("counting", nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), id))

	err = m.Start(context.Background(), id)
	assert.ErrorIs(t, err, crawlerr.ErrPreconditionFailed)

	m.Stop(id)
}

func TestRehydrateOnStartup(t *testing.T) {
	m, db := newTestManager(t)

	// Simulate a task left running by a dead process
	require.NoError(t, db.UpsertTask(&storage.TaskRow{
		ID:     "ghost",
		Kind:   "counting",
		Status: string(StatusRunning),
	}))

	n, err := m.RehydrateOnStartup()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := m.Get("ghost")
	require.NoError(t, err)
	assert.Equal(t, string(StatusPaused), row.Status)
	assert.False(t, row.PausedAt.IsZero())
}
