package storage

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInternURLStableID(t *testing.T) {
	db := openTestDB(t)

	id1, err := db.InternURL("https://example.com/a", "example.com")
	require.NoError(t, err)
	id2, err := db.InternURL("https://example.com/a", "example.com")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := db.InternURL("https://example.com/b", "example.com")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	canonical, host, err := db.ResolveURL(id1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", canonical)
	assert.Equal(t, "example.com", host)
}

func TestContentTiersRoundTrip(t *testing.T) {
	db := openTestDB(t)

	cases := []struct {
		name string
		data []byte
		tier StorageType
	}{
		{"inline", []byte("small payload"), StorageInline},
		// Random-enough bytes stay large after compression
		{"bucket", bytes.Repeat([]byte("abcdefghij1234567890-!@#"), 4096), StorageBucket},
	}
	for _, c := range cases {
		ref, err := db.PutContent(c.data, "none")
		require.NoError(t, err, c.name)
		assert.Equal(t, c.tier, ref.StorageType, c.name)
		assert.Equal(t, int64(len(c.data)), ref.UncompressedSize, c.name)

		restored, gotRef, err := db.GetContent(ref.ID)
		require.NoError(t, err, c.name)
		assert.True(t, bytes.Equal(c.data, restored), c.name)
		assert.Equal(t, ref.SHA256, gotRef.SHA256, c.name)
	}
}

func TestContentFileSpill(t *testing.T) {
	db := openTestDB(t)

	data := bytes.Repeat([]byte("0123456789abcdef-!@#$%^&*()_+[]"), 64*1024)
	ref, err := db.PutContent(data, "none")
	require.NoError(t, err)
	assert.Equal(t, StorageFile, ref.StorageType)

	restored, _, err := db.GetContent(ref.ID)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestContentCompressedRoundTrip(t *testing.T) {
	db := openTestDB(t)

	data := []byte(strings.Repeat("compressible text ", 500))
	ref, err := db.PutContent(data, "zstd-3")
	require.NoError(t, err)
	assert.Less(t, ref.CompressedSize, ref.UncompressedSize)

	restored, _, err := db.GetContent(ref.ID)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestQueueEventPendingLogic(t *testing.T) {
	db := openTestDB(t)

	seedID, _ := db.InternURL("https://n.example/", "n.example")
	jobID, err := db.CreateJob(seedID, "{}")
	require.NoError(t, err)

	a, _ := db.InternURL("https://n.example/a", "n.example")
	b, _ := db.InternURL("https://n.example/b", "n.example")
	c, _ := db.InternURL("https://n.example/c", "n.example")

	require.NoError(t, db.LogQueueEvent(jobID, ActionDiscovered, a, 1))
	require.NoError(t, db.LogQueueEvent(jobID, ActionEnqueued, b, 1))
	require.NoError(t, db.LogQueueEvent(jobID, ActionDiscovered, c, 2))
	require.NoError(t, db.LogQueueEvent(jobID, ActionVisited, a, 1))
	require.NoError(t, db.LogQueueEvent(jobID, ActionSaved, a, 1))

	pending, err := db.PendingQueueEvents(jobID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := []int64{pending[0].URLID, pending[1].URLID}
	assert.ElementsMatch(t, []int64{b, c}, ids)

	visited, err := db.VisitedURLIDs(jobID)
	require.NoError(t, err)
	assert.Contains(t, visited, a)
	assert.NotContains(t, visited, b)
}

func TestIncompleteJobs(t *testing.T) {
	db := openTestDB(t)

	seedID, _ := db.InternURL("https://n.example/", "n.example")
	jobID, err := db.CreateJob(seedID, "{}")
	require.NoError(t, err)
	require.NoError(t, db.SetJobStatus(jobID, JobPaused))

	a, _ := db.InternURL("https://n.example/a", "n.example")
	db.LogQueueEvent(jobID, ActionEnqueued, a, 1)

	jobs, err := db.IncompleteJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].JobID)
	assert.Equal(t, "https://n.example/", jobs[0].SeedURL)
	assert.Equal(t, JobPaused, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].QueueDepth)

	// Completed jobs drop off the list
	require.NoError(t, db.SetJobStatus(jobID, JobCompleted))
	jobs, err = db.IncompleteJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPlaceMultiParentCapital(t *testing.T) {
	db := openTestDB(t)

	countryA, err := db.InsertPlace(&Place{Kind: PlaceCountry, CountryCode: "AA"})
	require.NoError(t, err)
	countryB, err := db.InsertPlace(&Place{Kind: PlaceCountry, CountryCode: "BB"})
	require.NoError(t, err)
	city, err := db.InsertPlace(&Place{Kind: PlaceCity, CountryCode: "AA"})
	require.NoError(t, err)

	require.NoError(t, db.AddHierarchyEdge(&HierarchyEdge{ParentID: countryA, ChildID: city, Relation: "capital_of"}))
	require.NoError(t, db.AddHierarchyEdge(&HierarchyEdge{ParentID: countryB, ChildID: city, Relation: "capital_of"}))
	// Idempotent re-insert
	require.NoError(t, db.AddHierarchyEdge(&HierarchyEdge{ParentID: countryA, ChildID: city, Relation: "capital_of"}))

	parents, err := db.ParentsOf(city, "capital_of")
	require.NoError(t, err)
	assert.Len(t, parents, 2)
}

func TestPlaceNamesIdempotent(t *testing.T) {
	db := openTestDB(t)

	placeID, err := db.InsertPlace(&Place{Kind: PlaceCountry, CountryCode: "FR"})
	require.NoError(t, err)

	id1, err := db.AddPlaceName(&PlaceName{PlaceID: placeID, Text: "France", Kind: "label"})
	require.NoError(t, err)
	id2, err := db.AddPlaceName(&PlaceName{PlaceID: placeID, Text: "France", Kind: "label"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	names, err := db.PlaceNames(placeID)
	require.NoError(t, err)
	assert.Len(t, names, 1)

	// The first name becomes canonical
	place, err := db.GetPlace(placeID)
	require.NoError(t, err)
	assert.Equal(t, id1, place.CanonicalNameID)
}

func TestIngestionRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.StartIngestionRun("restcountries", "v3.1", false)
	require.NoError(t, err)

	// A run in progress blocks a second start
	_, err = db.StartIngestionRun("restcountries", "v3.1", false)
	assert.ErrorIs(t, err, crawlerr.ErrPreconditionFailed)

	require.NoError(t, db.CompleteIngestionRun(runID, "completed", map[string]int{"written": 5}))

	// A completed run suppresses re-ingestion without force
	_, err = db.StartIngestionRun("restcountries", "v3.1", false)
	assert.ErrorIs(t, err, crawlerr.ErrPreconditionFailed)

	completed, err := db.CheckCompletedRun("restcountries", "v3.1")
	require.NoError(t, err)
	assert.True(t, completed)

	// Force allows a fresh run
	runID2, err := db.StartIngestionRun("restcountries", "v3.1", true)
	require.NoError(t, err)
	assert.NotEqual(t, runID, runID2)
}

func TestExternalIDsIdempotent(t *testing.T) {
	db := openTestDB(t)

	placeID, err := db.InsertPlace(&Place{Kind: PlaceCountry, CountryCode: "DE"})
	require.NoError(t, err)

	require.NoError(t, db.AddExternalID(&ExternalID{PlaceID: placeID, Source: "wikidata", ExtID: "Q183"}))
	require.NoError(t, db.AddExternalID(&ExternalID{PlaceID: placeID, Source: "wikidata", ExtID: "Q183"}))

	found, err := db.FindPlaceByExternalID("wikidata", "Q183")
	require.NoError(t, err)
	assert.Equal(t, placeID, found)

	missing, err := db.FindPlaceByExternalID("wikidata", "Q99999")
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestHeuristicAggregation(t *testing.T) {
	db := openTestDB(t)

	planID, err := db.PutPlan(&PlanRecord{Domain: "n.example", StepsJSON: "[]"})
	require.NoError(t, err)

	require.NoError(t, db.PutPlanStepResult(planID, 0, "explore-hub", 0, 100, 150))
	require.NoError(t, db.PutPlanStepResult(planID, 1, "explore-hub", 0, 100, 50))
	require.NoError(t, db.PutPlanStepResult(planID, 2, "fetch-article", 0, 200, 600))

	require.NoError(t, db.AggregateOutcomes("n.example"))

	weights, err := db.HeuristicWeights("n.example")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weights["explore-hub"], 0.01)
	assert.InDelta(t, 3.0, weights["fetch-article"], 0.01)
}
