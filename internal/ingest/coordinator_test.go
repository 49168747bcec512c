package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeIngestor writes a fixed set of places through the resolver.
type fakeIngestor struct {
	name       string
	version    string
	executions int
	resolver   *gazetteer.Resolver
	places     []gazetteer.Candidate
}

func (f *fakeIngestor) Name() string { return f.name }

func (f *fakeIngestor) Source() (string, string) { return f.name, f.version }

func (f *fakeIngestor) Execute(ictx *Context) (*Summary, error) {
	f.executions++
	summary := &Summary{}
	for i := range f.places {
		_, created, err := f.resolver.Upsert(&f.places[i])
		if err != nil {
			return nil, err
		}
		if created {
			summary.Written++
		} else {
			summary.Updated++
		}
	}
	ictx.EmitProgress(telemetry.Progress{Current: len(f.places), Total: len(f.places)})
	return summary, nil
}

func testCandidates() []gazetteer.Candidate {
	return []gazetteer.Candidate{
		{Kind: storage.PlaceCountry, Name: "Testland", CountryCode: "TL", ExternalIDs: map[string]string{"wikidata": "Q1001"}},
		{Kind: storage.PlaceCountry, Name: "Otherland", CountryCode: "OL", ExternalIDs: map[string]string{"wikidata": "Q1002"}},
	}
}

func TestCoordinatorRunsStagesInOrder(t *testing.T) {
	db := newTestDB(t)
	resolver := gazetteer.NewResolver(db, zap.NewNop())
	bus := telemetry.NewBus(zap.NewNop())

	var milestones []string
	bus.AddSink(telemetry.SinkFunc(func(e telemetry.Event) {
		if e.Kind == telemetry.KindMilestone {
			if stage, ok := e.Details["stage"].(string); ok {
				milestones = append(milestones, stage)
			}
		}
	}))

	first := &fakeIngestor{name: "src-a", version: "1", resolver: resolver, places: testCandidates()}
	second := &fakeIngestor{name: "src-b", version: "1", resolver: resolver, places: nil}

	cfg := config.Default()
	coordinator := NewCoordinator(cfg, db, bus, zap.NewNop(), []Stage{
		{Name: "countries", Kind: "country", CrawlDepth: 0, Ingestors: []Ingestor{first}},
		{Name: "regions", Kind: "region", CrawlDepth: 1, Ingestors: []Ingestor{second}},
	})

	require.NoError(t, coordinator.Run(context.Background()))
	assert.Equal(t, 1, first.executions)
	assert.Equal(t, 1, second.executions)
	assert.Equal(t, []string{"countries", "regions"}, milestones)

	count, err := db.CountPlaces(storage.PlaceCountry)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// Re-running a completed source is suppressed; forcing re-runs it but
// dedup keeps the place count unchanged.
func TestCoordinatorIdempotence(t *testing.T) {
	db := newTestDB(t)
	resolver := gazetteer.NewResolver(db, zap.NewNop())
	bus := telemetry.NewBus(zap.NewNop())

	ing := &fakeIngestor{name: "restcountries", version: "v3.1", resolver: resolver, places: testCandidates()}
	cfg := config.Default()
	stages := []Stage{{Name: "countries", Kind: "country", CrawlDepth: 0, Ingestors: []Ingestor{ing}}}

	require.NoError(t, NewCoordinator(cfg, db, bus, zap.NewNop(), stages).Run(context.Background()))
	require.Equal(t, 1, ing.executions)
	countAfterFirst, _ := db.CountPlaces("")

	// Second run without force: ingestor never executes
	require.NoError(t, NewCoordinator(cfg, db, bus, zap.NewNop(), stages).Run(context.Background()))
	assert.Equal(t, 1, ing.executions)
	countAfterSecond, _ := db.CountPlaces("")
	assert.Equal(t, countAfterFirst, countAfterSecond)

	// Forced run executes again, and dedup yields no new places
	forced := *cfg
	forced.IngestionForce = true
	require.NoError(t, NewCoordinator(&forced, db, bus, zap.NewNop(), stages).Run(context.Background()))
	assert.Equal(t, 2, ing.executions)
	countAfterForce, _ := db.CountPlaces("")
	assert.Equal(t, countAfterFirst, countAfterForce)
}

func TestCoordinatorDepthGating(t *testing.T) {
	db := newTestDB(t)
	resolver := gazetteer.NewResolver(db, zap.NewNop())

	shallow := &fakeIngestor{name: "shallow", version: "1", resolver: resolver}
	deep := &fakeIngestor{name: "deep", version: "1", resolver: resolver}

	cfg := config.Default()
	cfg.MaxDepth = 1
	coordinator := NewCoordinator(cfg, db, telemetry.NewBus(zap.NewNop()), zap.NewNop(), []Stage{
		{Name: "shallow", Kind: "country", CrawlDepth: 0, Ingestors: []Ingestor{shallow}},
		{Name: "deep", Kind: "boundary", CrawlDepth: 3, Ingestors: []Ingestor{deep}},
	})

	require.NoError(t, coordinator.Run(context.Background()))
	assert.Equal(t, 1, shallow.executions)
	assert.Zero(t, deep.executions)
}
