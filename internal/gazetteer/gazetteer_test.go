package gazetteer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/storage"
)

func newTestResolver(t *testing.T) (*Resolver, *storage.Database) {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewResolver(db, zap.NewNop()), db
}

func TestUpsertDeduplicatesByExternalID(t *testing.T) {
	r, _ := newTestResolver(t)

	first, created, err := r.Upsert(&Candidate{
		Kind: storage.PlaceCountry, Name: "Germany", CountryCode: "DE",
		ExternalIDs: map[string]string{"wikidata": "Q183"},
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := r.Upsert(&Candidate{
		Kind: storage.PlaceCountry, Name: "Deutschland", CountryCode: "DE",
		ExternalIDs: map[string]string{"wikidata": "Q183"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestUpsertDeduplicatesByNameAndCountry(t *testing.T) {
	r, _ := newTestResolver(t)

	first, _, err := r.Upsert(&Candidate{Kind: storage.PlaceCity, Name: "Springfield", CountryCode: "US"})
	require.NoError(t, err)

	second, created, err := r.Upsert(&Candidate{Kind: storage.PlaceCity, Name: "springfield", CountryCode: "US"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	// Same name, different country stays distinct
	third, created, err := r.Upsert(&Candidate{Kind: storage.PlaceCity, Name: "Springfield", CountryCode: "CA"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first, third)
}

func TestUpsertDeduplicatesByProximity(t *testing.T) {
	r, _ := newTestResolver(t)

	first, _, err := r.Upsert(&Candidate{Kind: storage.PlaceCity, Name: "Alpha", CountryCode: "XX", Lat: 10.0, Lng: 20.0})
	require.NoError(t, err)

	// Different name but within the proximity window
	second, created, err := r.Upsert(&Candidate{Kind: storage.PlaceCity, Name: "Alfa", CountryCode: "XX", Lat: 10.01, Lng: 20.01})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	// Outside the window is a new place
	_, created, err = r.Upsert(&Candidate{Kind: storage.PlaceCity, Name: "Beta", CountryCode: "XX", Lat: 11.0, Lng: 20.0})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestUpsertDeduplicatesByAdminCode(t *testing.T) {
	r, _ := newTestResolver(t)

	first, _, err := r.Upsert(&Candidate{Kind: storage.PlaceRegion, Name: "Bavaria", CountryCode: "DE", AdminCode: "BY"})
	require.NoError(t, err)

	second, created, err := r.Upsert(&Candidate{Kind: storage.PlaceRegion, Name: "Bayern", CountryCode: "DE", AdminCode: "BY"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestMultiCapitalCoordinates(t *testing.T) {
	lat, lng, ok := CapitalCoordinates("ZA", "Cape Town")
	require.True(t, ok)
	assert.InDelta(t, -33.92, lat, 0.1)
	assert.InDelta(t, 18.42, lng, 0.1)

	_, _, ok = CapitalCoordinates("ZA", "Johannesburg")
	assert.False(t, ok)
	_, _, ok = CapitalCoordinates("FR", "Paris")
	assert.False(t, ok)

	// The three South African capitals stay outside each other's
	// proximity windows
	r, _ := newTestResolver(t)
	var ids []int64
	for _, c := range MultiCapitalCountries["ZA"] {
		id, created, err := r.Upsert(&Candidate{
			Kind: storage.PlaceCity, Name: c.Name, CountryCode: "ZA", Lat: c.Lat, Lng: c.Lng,
		})
		require.NoError(t, err)
		assert.True(t, created, c.Name)
		ids = append(ids, id)
	}
	assert.Len(t, ids, 3)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "New York", NormalizeName("  New   York "))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestIndexMatch(t *testing.T) {
	ix := NewIndex()
	ix.Add("United Kingdom", 1)
	ix.Add("UK", 1)
	ix.Add("France", 2)

	assert.Equal(t, []int64{1}, ix.Match("united kingdom"))
	assert.Equal(t, []int64{1}, ix.MatchSlug("united-kingdom"))
	assert.Nil(t, ix.Match("atlantis"))
	assert.Equal(t, "united kingdom", ix.NameOf(1))
}
