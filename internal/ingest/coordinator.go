// Package ingest runs staged gazetteer ingestion: ordered stages of
// ingestors executed sequentially, sharing the crawl telemetry bus.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

// Summary reports what one ingestor did.
type Summary struct {
	Written int
	Updated int
	Skipped int
}

func (s *Summary) add(other *Summary) {
	s.Written += other.Written
	s.Updated += other.Updated
	s.Skipped += other.Skipped
}

// Context is handed to each ingestor execution.
type Context struct {
	Ctx          context.Context
	Force        bool
	EmitProgress func(p telemetry.Progress)
}

// Ingestor loads structured data from one external source. Shared
// behaviour lives in helper utilities, not in a base type.
type Ingestor interface {
	Name() string
	// Source identifies the (source, version) idempotence key
	Source() (source, version string)
	Execute(ictx *Context) (*Summary, error)
}

// Stage groups ingestors that run together at one crawl depth.
type Stage struct {
	Name       string
	Kind       string // country, region, city, boundary
	CrawlDepth int
	Priority   int
	Ingestors  []Ingestor
}

// Coordinator executes stages in declared order. Concurrency from the
// config is an upper bound; stages run sequentially by design.
type Coordinator struct {
	cfg    *config.Config
	db     *storage.Database
	bus    *telemetry.Bus
	log    *zap.Logger
	stages []Stage
}

// NewCoordinator creates a staged ingestion coordinator.
func NewCoordinator(cfg *config.Config, db *storage.Database, bus *telemetry.Bus, log *zap.Logger, stages []Stage) *Coordinator {
	return &Coordinator{cfg: cfg, db: db, bus: bus, log: log, stages: stages}
}

// Run executes every stage whose crawl depth fits the configured
// budget. Within a stage, ingestors execute in declared order; an
// ingestor whose (source, version) already completed is skipped unless
// forced.
func (c *Coordinator) Run(ctx context.Context) error {
	for _, stage := range c.stages {
		if stage.CrawlDepth > c.cfg.MaxDepth {
			c.log.Info("skipping stage beyond depth budget",
				zap.String("stage", stage.Name),
				zap.Int("crawl_depth", stage.CrawlDepth))
			continue
		}
		if err := c.runStage(ctx, stage); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}
	return nil
}

func (c *Coordinator) runStage(ctx context.Context, stage Stage) error {
	c.log.Info("stage starting", zap.String("stage", stage.Name), zap.String("kind", stage.Kind))
	total := &Summary{}

	for _, ing := range stage.Ingestors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		source, version := ing.Source()
		runID, err := c.db.StartIngestionRun(source, version, c.cfg.IngestionForce)
		if err != nil {
			// Completed runs suppress re-ingestion; that is a skip,
			// not a stage failure
			c.log.Info("ingestor skipped", zap.String("ingestor", ing.Name()), zap.Error(err))
			c.bus.Problem(0, "info", "ingestion-skipped", err.Error(), 0)
			total.Skipped++
			continue
		}

		summary, err := ing.Execute(&Context{
			Ctx:   ctx,
			Force: c.cfg.IngestionForce,
			EmitProgress: func(p telemetry.Progress) {
				p.Phase = stage.Name
				c.bus.Progress(0, p)
			},
		})
		if err != nil {
			c.db.CompleteIngestionRun(runID, "failed", nil)
			c.bus.Problem(0, "error", "ingestion-failed", err.Error(), 0)
			return err
		}

		c.db.CompleteIngestionRun(runID, "completed", map[string]int{
			"written": summary.Written,
			"updated": summary.Updated,
			"skipped": summary.Skipped,
		})
		total.add(summary)
	}

	c.bus.Milestone(0, "stage-complete", map[string]any{
		"stage":   stage.Name,
		"kind":    stage.Kind,
		"written": total.Written,
		"updated": total.Updated,
		"skipped": total.Skipped,
	})
	c.log.Info("stage complete",
		zap.String("stage", stage.Name),
		zap.Int("written", total.Written),
		zap.Int("updated", total.Updated),
		zap.Int("skipped", total.Skipped))
	return nil
}
