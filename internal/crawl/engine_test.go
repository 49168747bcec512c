package crawl

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/fetch"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/plansession"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
	"github.com/news-crawler/newscrawl/internal/urlstore"
	"github.com/news-crawler/newscrawl/internal/urlutil"
)

type engineFixture struct {
	cfg    *config.Config
	db     *storage.Database
	urls   *urlstore.Store
	cache  *cache.Cache
	engine *Engine
	bus    *telemetry.Bus
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	// Offline crawls: everything is served from the pre-seeded cache
	cfg.CachePolicy = config.CacheOnly
	cfg.MaxCacheAgeMS = 0
	cfg.Pacing.MinInterval = time.Millisecond

	bus := telemetry.NewBus(zap.NewNop())
	urls := urlstore.New(db, urlutil.NewNormalizer(cfg.TrackingParams, cfg.FoldIndexPages))
	httpCache := cache.New(db, codec, cfg, zap.NewNop())
	fetcher := fetch.NewFetcher(cfg)
	t.Cleanup(fetcher.Close)

	sessions := plansession.NewManager(bus, zap.NewNop())
	engine := NewEngine(cfg, db, urls, httpCache, bus, sessions, fetcher,
		gazetteer.NewIndex(), analyzer.NewDefaultTopicIndex(), zap.NewNop())

	return &engineFixture{cfg: cfg, db: db, urls: urls, cache: httpCache, engine: engine, bus: bus}
}

func (f *engineFixture) seedCache(t *testing.T, rawURL string, body string) {
	t.Helper()
	fp := cache.Fingerprint(http.MethodGet, rawURL, nil)
	require.NoError(t, f.cache.Store(fp, rawURL, "html",
		map[string][]string{"Content-Type": {"text/html"}}, []byte(body)))
}

func (f *engineFixture) waitJobStatus(t *testing.T, jobID int64, want storage.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.db.GetJob(jobID)
		require.NoError(t, err)
		if job.Status == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	job, _ := f.db.GetJob(jobID)
	t.Fatalf("job %d is %s, wanted %s", jobID, job.Status, want)
}

func TestStartCrawlRejectsInvalidInput(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.StartCrawl(context.Background(), Options{SeedURL: "not a url", CrawlType: config.CrawlBasic})
	assert.ErrorIs(t, err, crawlerr.ErrInvalidInput)

	_, err = f.engine.StartCrawl(context.Background(), Options{SeedURL: "https://x.example/", CrawlType: "teleport"})
	assert.ErrorIs(t, err, crawlerr.ErrInvalidInput)
}

func TestCrawlCompletesFromCache(t *testing.T) {
	f := newEngineFixture(t)

	f.seedCache(t, "https://site.test/", `<html><body>
		<a href="/a">page a</a>
	</body></html>`)
	f.seedCache(t, "https://site.test/a", `<html><body>no links here</body></html>`)

	jobID, err := f.engine.StartCrawl(context.Background(), Options{
		SeedURL: "https://site.test/", CrawlType: config.CrawlBasic,
	})
	require.NoError(t, err)

	f.waitJobStatus(t, jobID, storage.JobCompleted)
	f.engine.WaitForJob(jobID)

	visited, err := f.db.CountQueueEvents(jobID, storage.ActionVisited)
	require.NoError(t, err)
	assert.Equal(t, 2, visited)

	// Nothing was fetched over the network
	seedID, _ := f.urls.Intern("https://site.test/")
	n, err := f.db.CountResponses(seedID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSingleJobModeBlocksSecondCrawl(t *testing.T) {
	f := newEngineFixture(t)

	// A larger cached site keeps the first job busy
	f.seedCache(t, "https://busy.test/", `<html><body><a href="/a">a</a><a href="/b">b</a></body></html>`)
	f.seedCache(t, "https://busy.test/a", `<html><body>x</body></html>`)
	f.seedCache(t, "https://busy.test/b", `<html><body>x</body></html>`)

	jobID, err := f.engine.StartCrawl(context.Background(), Options{
		SeedURL: "https://busy.test/", CrawlType: config.CrawlBasic,
	})
	require.NoError(t, err)

	_, err = f.engine.StartCrawl(context.Background(), Options{
		SeedURL: "https://other.test/", CrawlType: config.CrawlBasic,
	})
	assert.ErrorIs(t, err, crawlerr.ErrPreconditionFailed)

	f.waitJobStatus(t, jobID, storage.JobCompleted)
}

func TestResumeRequiresPausedJob(t *testing.T) {
	f := newEngineFixture(t)

	seedID, err := f.urls.Intern("https://site.test/")
	require.NoError(t, err)
	jobID, err := f.db.CreateJob(seedID, `{"seed_url":"https://site.test/","crawl_type":"basic"}`)
	require.NoError(t, err)

	err = f.engine.ResumeCrawl(context.Background(), jobID)
	assert.ErrorIs(t, err, crawlerr.ErrPreconditionFailed)
}

func TestResumeRehydratesAndCompletes(t *testing.T) {
	f := newEngineFixture(t)

	f.seedCache(t, "https://site.test/pending", `<html><body>done</body></html>`)

	seedID, err := f.urls.Intern("https://site.test/")
	require.NoError(t, err)
	jobID, err := f.db.CreateJob(seedID, `{"seed_url":"https://site.test/","crawl_type":"basic"}`)
	require.NoError(t, err)

	// Simulate an interrupted run: the seed was visited, one URL is
	// still pending
	pendingID, err := f.urls.Intern("https://site.test/pending")
	require.NoError(t, err)
	require.NoError(t, f.db.LogQueueEvent(jobID, storage.ActionVisited, seedID, 0))
	require.NoError(t, f.db.LogQueueEvent(jobID, storage.ActionEnqueued, pendingID, 1))
	require.NoError(t, f.db.SetJobStatus(jobID, storage.JobPaused))

	require.NoError(t, f.engine.ResumeCrawl(context.Background(), jobID))
	f.waitJobStatus(t, jobID, storage.JobCompleted)
	f.engine.WaitForJob(jobID)

	// The pending URL was processed; the visited seed was not re-done
	visited, err := f.db.VisitedURLIDs(jobID)
	require.NoError(t, err)
	assert.Contains(t, visited, pendingID)

	events, err := f.db.CountQueueEvents(jobID, storage.ActionVisited)
	require.NoError(t, err)
	assert.Equal(t, 2, events)
}

func TestPlanPreviewConfirmFlow(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.AllowMultipleJobs(true)

	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	f.seedCache(t, "https://planned.test/", `<html><body>root</body></html>`)

	sessionID, err := f.engine.Plan(context.Background(), Options{
		SeedURL: "https://planned.test/", CrawlType: config.CrawlIntelligent, MaxPages: 50,
	})
	require.NoError(t, err)

	// Wait for the preview to land
	deadline := time.Now().Add(15 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "preview never became ready")
		snap, err := f.engine.Session(sessionID)
		require.NoError(t, err)
		if snap.Status == plansession.StatusReady {
			require.NotNil(t, snap.Blueprint)
			assert.NotEmpty(t, snap.Blueprint.SeedURLs)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Telemetry carried planning status and exactly one preview
	var sawPlanning, sawPreview bool
	drain := time.After(time.Second)
loop:
	for {
		select {
		case e := <-events:
			switch {
			case e.Kind == telemetry.KindPlanStatus && e.Details["status"] == string(plansession.StatusPlanning):
				sawPlanning = true
			case e.Kind == telemetry.KindPlanPreview:
				require.False(t, sawPreview, "duplicate plan-preview")
				sawPreview = true
			}
		case <-drain:
			break loop
		}
	}
	assert.True(t, sawPlanning)
	assert.True(t, sawPreview)

	jobID, err := f.engine.ConfirmPlan(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Greater(t, jobID, int64(0))

	// A second confirmation fails
	_, err = f.engine.ConfirmPlan(context.Background(), sessionID)
	assert.ErrorIs(t, err, crawlerr.ErrPreconditionFailed)

	f.engine.StopCrawl(jobID)
	f.engine.WaitForJob(jobID)
}
