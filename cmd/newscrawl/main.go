// Package main is the batch entry point for the newscrawl engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/crawl"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/fetch"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/ingest"
	"github.com/news-crawler/newscrawl/internal/plansession"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/tasks"
	"github.com/news-crawler/newscrawl/internal/telemetry"
	"github.com/news-crawler/newscrawl/internal/urlstore"
	"github.com/news-crawler/newscrawl/internal/urlutil"
)

// Exit codes by failure category.
const (
	exitOK            = 0
	exitInvalidInput  = 1
	exitPrecondition  = 2
	exitStorage       = 3
	exitInternal      = 4
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		mode       = flag.String("mode", "crawl", "crawl | plan | ingest | resume | list")
		seed       = flag.String("seed", "", "seed URL for crawl modes")
		crawlType  = flag.String("type", "basic", "crawl type")
		jobID      = flag.Int64("job", 0, "job ID for resume mode")
		force      = flag.Bool("force", false, "force re-ingestion of completed sources")
	)
	flag.Parse()

	os.Exit(run(*configPath, *mode, *seed, *crawlType, *jobID, *force))
}

func run(configPath, mode, seed, crawlType string, jobID int64, force bool) int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInternal
	}
	defer logger.Sync()

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			logger.Error("config load failed", zap.Error(err))
			return exitInvalidInput
		}
	}
	cfg.ApplyEnv()
	if force {
		cfg.IngestionForce = true
	}

	codec, err := compression.NewCodec()
	if err != nil {
		logger.Error("codec init failed", zap.Error(err))
		return exitInternal
	}
	db, err := storage.Open(cfg.DatabasePath, cfg.ContentDir, codec, logger)
	if err != nil {
		logger.Error("storage open failed", zap.Error(err))
		return exitStorage
	}
	defer db.Close()

	bus := telemetry.NewBus(logger)
	bus.AddSink(persistenceSink(db, logger))

	normalizer := urlutil.NewNormalizer(cfg.TrackingParams, cfg.FoldIndexPages)
	urls := urlstore.New(db, normalizer)
	httpCache := cache.New(db, codec, cfg, logger)
	fetcher := fetch.NewFetcher(cfg)
	defer fetcher.Close()

	gaz, err := gazetteer.LoadIndex(db)
	if err != nil {
		logger.Error("gazetteer load failed", zap.Error(err))
		return exitStorage
	}
	topics := analyzer.NewDefaultTopicIndex()

	sessions := plansession.NewManager(bus, logger)
	engine := crawl.NewEngine(cfg, db, urls, httpCache, bus, sessions, fetcher, gaz, topics, logger)

	taskManager := tasks.NewManager(db, bus, cfg.TaskWorkers, logger)
	tasks.RegisterBuiltins(taskManager, db, codec, httpCache, gaz, topics, logger)
	if rehydrated, err := taskManager.RehydrateOnStartup(); err != nil {
		logger.Warn("task rehydration failed", zap.Error(err))
	} else if rehydrated > 0 {
		logger.Info("tasks rehydrated to paused", zap.Int("count", rehydrated))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("interrupt received, stopping")
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				logger.Debug("event",
					zap.String("kind", string(e.Kind)),
					zap.Int64("job_id", e.JobID),
					zap.Any("details", e.Details))
			}
		}
	})

	var runErr error
	switch mode {
	case "crawl":
		runErr = runCrawl(ctx, engine, seed, crawlType, false)
	case "plan":
		runErr = runCrawl(ctx, engine, seed, crawlType, true)
	case "ingest":
		resolver := gazetteer.NewResolver(db, logger)
		stages := ingest.GeographyStages(fetcher.Client(), httpCache, resolver, db, cfg.UserAgent, logger)
		coordinator := ingest.NewCoordinator(cfg, db, bus, logger, stages)
		runErr = coordinator.Run(ctx)
	case "resume":
		if jobID == 0 {
			runErr = crawlerr.Wrapf(crawlerr.KindInvalidInput, "resume mode requires -job")
			break
		}
		if runErr = engine.ResumeCrawl(ctx, jobID); runErr == nil {
			engine.WaitForJob(jobID)
		}
	case "list":
		jobs, err := engine.ListIncompleteCrawls()
		if err != nil {
			runErr = err
			break
		}
		for _, j := range jobs {
			fmt.Printf("%d\t%s\t%s\tqueue=%d visited=%d\n", j.JobID, j.Status, j.SeedURL, j.QueueDepth, j.VisitedCount)
		}
	default:
		runErr = crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown mode %q", mode)
	}

	cancel()
	g.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		bus.Problem(0, "error", string(crawlerr.KindOf(runErr)), runErr.Error(), 0)
		logger.Error("run failed", zap.Error(runErr))
		switch crawlerr.KindOf(runErr) {
		case crawlerr.KindInvalidInput:
			return exitInvalidInput
		case crawlerr.KindPreconditionFailed:
			return exitPrecondition
		case crawlerr.KindStorageFailure:
			return exitStorage
		default:
			return exitInternal
		}
	}
	return exitOK
}

// runCrawl starts a job (optionally via a plan preview) and waits for
// it to drain.
func runCrawl(ctx context.Context, engine *crawl.Engine, seed, crawlType string, preview bool) error {
	if seed == "" {
		return crawlerr.Wrapf(crawlerr.KindInvalidInput, "crawl mode requires -seed")
	}
	opts := crawl.Options{SeedURL: seed, CrawlType: config.CrawlType(crawlType)}

	var jobID int64
	var err error
	if preview {
		sessionID, err := engine.Plan(ctx, opts)
		if err != nil {
			return err
		}
		// Batch mode auto-confirms once the preview is ready
		if err := waitForReady(ctx, engine, sessionID); err != nil {
			return err
		}
		jobID, err = engine.ConfirmPlan(ctx, sessionID)
		if err != nil {
			return err
		}
	} else {
		jobID, err = engine.StartCrawl(ctx, opts)
		if err != nil {
			return err
		}
	}

	engine.WaitForJob(jobID)
	return nil
}

// waitForReady polls the session until the blueprint lands.
func waitForReady(ctx context.Context, engine *crawl.Engine, sessionID string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		snapshot, err := engine.Session(sessionID)
		if err != nil {
			return err
		}
		switch snapshot.Status {
		case plansession.StatusReady:
			return nil
		case plansession.StatusFailed, plansession.StatusExpired, plansession.StatusCancelled:
			return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s is %s", sessionID, snapshot.Status)
		}
	}
}

// persistenceSink writes milestone and problem events into storage.
func persistenceSink(db *storage.Database, logger *zap.Logger) telemetry.Sink {
	return telemetry.SinkFunc(func(e telemetry.Event) {
		switch e.Kind {
		case telemetry.KindMilestone:
			kind, _ := e.Details["milestone"].(string)
			if err := db.PutMilestone(e.JobID, kind, e.Details); err != nil {
				logger.Warn("milestone persist failed", zap.Error(err))
			}
		case telemetry.KindProblem:
			severity, _ := e.Details["severity"].(string)
			code, _ := e.Details["code"].(string)
			message, _ := e.Details["message"].(string)
			var urlID int64
			if v, ok := e.Details["url_id"].(int64); ok {
				urlID = v
			}
			if err := db.PutProblem(e.JobID, severity, code, message, urlID); err != nil {
				logger.Warn("problem persist failed", zap.Error(err))
			}
		}
	})
}
