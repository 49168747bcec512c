package crawl

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/fetch"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/pacer"
	"github.com/news-crawler/newscrawl/internal/plansession"
	"github.com/news-crawler/newscrawl/internal/planner"
	"github.com/news-crawler/newscrawl/internal/queue"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
	"github.com/news-crawler/newscrawl/internal/urlstore"
	"github.com/news-crawler/newscrawl/internal/urlutil"
)

// Options parameterise one crawl request.
type Options struct {
	SeedURL   string           `json:"seed_url"`
	CrawlType config.CrawlType `json:"crawl_type"`
	MaxPages  int              `json:"max_pages,omitempty"`
	MaxDepth  int              `json:"max_depth,omitempty"`
}

// Engine is the process-wide control surface for crawls: preview,
// confirm, start, pause, resume, stop.
type Engine struct {
	cfg      *config.Config
	db       *storage.Database
	urls     *urlstore.Store
	cache    *cache.Cache
	bus      *telemetry.Bus
	sessions *plansession.Manager
	fetcher  *fetch.Fetcher
	robots   *pacer.RobotsCache
	gaz      *gazetteer.Index
	topics   *analyzer.TopicIndex
	learner  *planner.Learner
	log      *zap.Logger

	mu          sync.Mutex
	controllers map[int64]*Controller
	multiJob    bool
}

// NewEngine wires the engine over the process-wide singletons.
func NewEngine(cfg *config.Config, db *storage.Database, urls *urlstore.Store, httpCache *cache.Cache,
	bus *telemetry.Bus, sessions *plansession.Manager, fetcher *fetch.Fetcher,
	gaz *gazetteer.Index, topics *analyzer.TopicIndex, log *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		db:          db,
		urls:        urls,
		cache:       httpCache,
		bus:         bus,
		sessions:    sessions,
		fetcher:     fetcher,
		robots:      pacer.NewRobotsCache(fetcher.Client(), cfg.UserAgent, log),
		gaz:         gaz,
		topics:      topics,
		learner:     planner.NewLearner(db, cfg.Planning.LearningEnabled, log),
		log:         log,
		controllers: make(map[int64]*Controller),
	}
}

// AllowMultipleJobs relaxes the single-running-job rule.
func (e *Engine) AllowMultipleJobs(allow bool) { e.multiJob = allow }

func (e *Engine) validateOptions(opts Options) (domain string, err error) {
	if !config.ValidCrawlType(opts.CrawlType) {
		return "", crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown crawl type %q", opts.CrawlType)
	}
	canonical, err := e.normalizeSeed(opts.SeedURL)
	if err != nil {
		return "", err
	}
	host, err := urlutil.Host(canonical)
	if err != nil {
		return "", crawlerr.Wrap(crawlerr.KindInvalidInput, err)
	}
	return host, nil
}

func (e *Engine) normalizeSeed(seed string) (string, error) {
	n := urlutil.NewNormalizer(e.cfg.TrackingParams, e.cfg.FoldIndexPages)
	canonical, err := n.Normalize(seed)
	if err != nil {
		return "", crawlerr.Wrapf(crawlerr.KindInvalidInput, "invalid seed url %q: %v", seed, err)
	}
	return canonical, nil
}

// Plan opens a planning session for the options and runs the strategic
// planner asynchronously. Preview, stage, and status events stream on
// the telemetry bus.
func (e *Engine) Plan(ctx context.Context, opts Options) (string, error) {
	domain, err := e.validateOptions(opts)
	if err != nil {
		return "", err
	}

	session, err := e.sessions.Create(domain, plansession.Options{
		SeedURL:   opts.SeedURL,
		CrawlType: string(opts.CrawlType),
		MaxPages:  opts.MaxPages,
		MaxDepth:  opts.MaxDepth,
	})
	if err != nil {
		return "", err
	}

	go e.runPlanning(ctx, session.ID, domain, opts)
	return session.ID, nil
}

// runPlanning executes the strategic search on its own task,
// independent of any worker, bounded by the planner budget.
func (e *Engine) runPlanning(ctx context.Context, sessionID, domain string, opts Options) {
	st := &planner.State{
		Domain:    domain,
		SeedURL:   opts.SeedURL,
		Goal:      "maximise article acquisition",
		Targeted:  make(map[string]struct{}),
		Gazetteer: e.gaz,
		Topics:    e.topics,
	}
	if e.cfg.Features.PlannerKnowledgeReuse {
		st.Weights = e.learner.Weights(domain)
	}

	bp := &plansession.Blueprint{
		Domain:   domain,
		SeedURLs: []string{opts.SeedURL},
	}

	if opts.CrawlType == config.CrawlIntelligent {
		pl := planner.New(e.cfg.Planning, nil, e.log)
		plan, err := pl.GeneratePlan(ctx, st, func(stage string, details map[string]any) {
			e.sessions.AppendStageEvent(sessionID, stage, details)
		})
		if err != nil {
			e.sessions.Fail(sessionID, err.Error())
			return
		}

		// Plan validity: drop steps whose host fails robots at preview
		valid := plan.Steps[:0]
		for _, step := range plan.Steps {
			allowed, err := e.robots.Allowed(ctx, step.TargetURL)
			if err != nil || allowed {
				valid = append(valid, step)
			}
		}
		plan.Steps = valid

		planID, err := e.db.PutPlan(&storage.PlanRecord{
			Domain:           plan.Domain,
			Goal:             plan.Goal,
			StepsJSON:        plan.StepsJSON(),
			EstimatedValue:   plan.EstimatedValue,
			EstimatedCost:    plan.EstimatedCost,
			Probability:      plan.Probability,
			Lookahead:        plan.Lookahead,
			BranchesExplored: plan.BranchesExplored,
			Truncated:        plan.Truncated,
		})
		if err != nil {
			e.sessions.Fail(sessionID, err.Error())
			return
		}
		plan.ID = planID
		bp.Plan = plan
		bp.Estimated = plan.EstimatedValue
		for _, step := range plan.Steps {
			bp.SeedURLs = append(bp.SeedURLs, step.TargetURL)
		}
	}

	if err := e.sessions.CompleteWithBlueprint(sessionID, bp); err != nil {
		e.log.Warn("blueprint completion failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// ConfirmPlan turns a ready session into a running crawl job.
func (e *Engine) ConfirmPlan(ctx context.Context, sessionID string) (int64, error) {
	fingerprint, err := e.sessions.Fingerprint(sessionID)
	if err != nil {
		return 0, err
	}
	session, err := e.sessions.Confirm(sessionID, fingerprint)
	if err != nil {
		return 0, err
	}

	opts := Options{
		SeedURL:   session.Options.SeedURL,
		CrawlType: config.CrawlType(session.Options.CrawlType),
		MaxPages:  session.Options.MaxPages,
		MaxDepth:  session.Options.MaxDepth,
	}
	return e.startJob(ctx, opts, session.Blueprint)
}

// Session exposes a read-only view of a planning session.
func (e *Engine) Session(sessionID string) (*plansession.Snapshot, error) {
	return e.sessions.GetReadOnly(sessionID)
}

// CancelPlan aborts a planning session.
func (e *Engine) CancelPlan(sessionID string) error {
	return e.sessions.Cancel(sessionID)
}

// StartCrawl is the legacy bypass: start a job without a preview.
func (e *Engine) StartCrawl(ctx context.Context, opts Options) (int64, error) {
	if _, err := e.validateOptions(opts); err != nil {
		return 0, err
	}
	return e.startJob(ctx, opts, nil)
}

// startJob creates the job row, builds its controller, seeds its
// queue, and launches workers.
func (e *Engine) startJob(ctx context.Context, opts Options, bp *plansession.Blueprint) (int64, error) {
	e.mu.Lock()
	if !e.multiJob {
		for id, c := range e.controllers {
			if c.Running() {
				e.mu.Unlock()
				return 0, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "job %d is already running", id)
			}
		}
	}
	e.mu.Unlock()

	canonical, err := e.normalizeSeed(opts.SeedURL)
	if err != nil {
		return 0, err
	}
	seedID, err := e.urls.Intern(canonical)
	if err != nil {
		return 0, err
	}

	jobCfg := e.jobConfig(opts)
	argsJSON, _ := json.Marshal(opts)
	jobID, err := e.db.CreateJob(seedID, string(argsJSON))
	if err != nil {
		return 0, err
	}

	ctrl, err := e.buildController(jobID, jobCfg)
	if err != nil {
		return 0, err
	}

	// Seed: plan steps first (highest bucket), then the crawl seed,
	// then sitemap URLs for sitemap-aware crawl types
	if bp != nil && bp.Plan != nil {
		st := &planner.State{
			Domain:    bp.Domain,
			SeedURL:   opts.SeedURL,
			Targeted:  make(map[string]struct{}),
			Gazetteer: e.gaz,
			Topics:    e.topics,
			Weights:   e.learner.Weights(bp.Domain),
		}
		pl := planner.New(jobCfg.Planning, nil, e.log)
		if err := bp.Plan.Transition(planner.StatusConfirmed); err == nil {
			if err := ctrl.AttachPlan(bp.Plan, pl, e.learner, st); err != nil {
				return 0, err
			}
			ctrl.SeedPlan()
			e.db.SetJobPlan(jobID, bp.Plan.ID)
		}
	}

	if opts.CrawlType != config.CrawlSitemapOnly {
		if err := ctrl.Seed(canonical, queue.SourceSeed); err != nil {
			return 0, err
		}
	}
	if opts.CrawlType == config.CrawlBasicWithSitemap || opts.CrawlType == config.CrawlSitemapOnly {
		e.seedFromSitemaps(ctx, ctrl, canonical)
	}

	e.mu.Lock()
	e.controllers[jobID] = ctrl
	e.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		return 0, err
	}
	return jobID, nil
}

// jobConfig derives the job's effective config from engine defaults
// plus per-crawl overrides.
func (e *Engine) jobConfig(opts Options) *config.Config {
	jobCfg := *e.cfg
	if opts.MaxPages > 0 {
		jobCfg.MaxPages = opts.MaxPages
	}
	if opts.MaxDepth > 0 {
		jobCfg.MaxDepth = opts.MaxDepth
	}
	return &jobCfg
}

// buildController assembles the per-job queue, pacer, and pipeline.
func (e *Engine) buildController(jobID int64, jobCfg *config.Config) (*Controller, error) {
	q := queue.New()
	p := pacer.New(jobCfg.Pacing, e.robots, e.log)

	pl := planner.New(jobCfg.Planning, nil, e.log)
	seeder := fetch.NewSeeder(e.urls, e.gaz, e.topics, pl, jobCfg.Planning.SimulationCandidates, e.log)

	pipeline, err := fetch.NewPipeline(jobCfg, e.urls, e.db, e.cache, e.fetcher, p, e.bus,
		e.gaz, e.topics, seeder, e.log)
	if err != nil {
		return nil, err
	}
	return NewController(jobID, jobCfg, q, p, pipeline, e.db, e.urls, e.bus, e.log), nil
}

// seedFromSitemaps loads robots.txt sitemap directives into the
// discovery bucket.
func (e *Engine) seedFromSitemaps(ctx context.Context, ctrl *Controller, canonical string) {
	host, err := urlutil.Host(canonical)
	if err != nil {
		return
	}
	for _, sitemapURL := range e.robots.Sitemaps(ctx, "https", host) {
		for _, u := range e.fetcher.LoadSitemap(ctx, sitemapURL, e.log) {
			ctrl.Seed(u, queue.SourceSitemap)
		}
	}
}

// PauseCrawl pauses a running job.
func (e *Engine) PauseCrawl(jobID int64) error {
	ctrl, err := e.controller(jobID)
	if err != nil {
		return err
	}
	return ctrl.Pause()
}

// ResumeCrawl rebuilds a paused job's queue from persisted events and
// restarts workers without re-visiting completed URLs.
func (e *Engine) ResumeCrawl(ctx context.Context, jobID int64) error {
	job, err := e.db.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != storage.JobPaused {
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "job %d is %s, not paused", jobID, job.Status)
	}

	var opts Options
	json.Unmarshal([]byte(job.ArgsJSON), &opts)

	ctrl, err := e.buildController(jobID, e.jobConfig(opts))
	if err != nil {
		return err
	}
	restored, err := ctrl.Rehydrate()
	if err != nil {
		return err
	}
	e.bus.Milestone(jobID, "queue-rehydrated", map[string]any{"restored": restored})

	e.mu.Lock()
	e.controllers[jobID] = ctrl
	e.mu.Unlock()

	return ctrl.Start(ctx)
}

// StopCrawl cancels a job; its queue events remain for inspection.
func (e *Engine) StopCrawl(jobID int64) error {
	ctrl, err := e.controller(jobID)
	if err != nil {
		return err
	}
	return ctrl.Stop()
}

// WaitForJob blocks until a job's workers exit (tests and batch mode).
func (e *Engine) WaitForJob(jobID int64) {
	if ctrl, err := e.controller(jobID); err == nil {
		ctrl.Wait()
	}
}

// ListIncompleteCrawls summarises resumable jobs.
func (e *Engine) ListIncompleteCrawls() ([]*storage.IncompleteJob, error) {
	return e.db.IncompleteJobs()
}

func (e *Engine) controller(jobID int64) (*Controller, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctrl, ok := e.controllers[jobID]
	if !ok {
		return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown or inactive job %d", jobID)
	}
	return ctrl, nil
}
