// Package gazetteer provides place lookup and deduplication over the
// persisted place tables.
package gazetteer

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/storage"
)

// CoordinateRadius is the proximity window (degrees) within which two
// places of the same kind are treated as one, whatever their names.
const CoordinateRadius = 0.05

// Candidate describes one place encountered during ingestion, carrying
// every signal the resolver can match on.
type Candidate struct {
	Kind        storage.PlaceKind
	Name        string
	CountryCode string
	AdminCode   string
	Lat         float64
	Lng         float64
	Population  int64

	// External identifiers, keyed by source (wikidata, osm, geonames)
	ExternalIDs map[string]string
}

// Resolver deduplicates ingested places. Matching proceeds in order:
// external ID, admin code, normalised name plus country, then
// coordinate proximity.
type Resolver struct {
	db  *storage.Database
	log *zap.Logger
}

// NewResolver creates a place resolver.
func NewResolver(db *storage.Database, log *zap.Logger) *Resolver {
	return &Resolver{db: db, log: log}
}

// Resolve returns the existing place ID matching the candidate, or 0
// when the candidate is new.
func (r *Resolver) Resolve(c *Candidate) (int64, error) {
	for source, extID := range c.ExternalIDs {
		id, err := r.db.FindPlaceByExternalID(source, extID)
		if err != nil {
			return 0, err
		}
		if id > 0 {
			return id, nil
		}
	}

	if c.AdminCode != "" {
		id, err := r.db.FindPlaceByExternalID("admin-code", c.CountryCode+":"+c.AdminCode)
		if err != nil {
			return 0, err
		}
		if id > 0 {
			return id, nil
		}
	}

	if c.Name != "" {
		ids, err := r.db.FindPlacesByName(NormalizeName(c.Name), c.CountryCode)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}

	if c.Lat != 0 || c.Lng != 0 {
		id, err := r.db.FindPlaceNear(c.Kind, c.Lat, c.Lng, CoordinateRadius)
		if err != nil {
			return 0, err
		}
		if id > 0 {
			return id, nil
		}
	}

	return 0, nil
}

// Upsert resolves the candidate against existing places and either
// updates the match or inserts a new place. The returned bool reports
// whether a new place was created.
func (r *Resolver) Upsert(c *Candidate) (int64, bool, error) {
	id, err := r.Resolve(c)
	if err != nil {
		return 0, false, err
	}

	created := false
	if id == 0 {
		id, err = r.db.InsertPlace(&storage.Place{
			Kind:        c.Kind,
			CountryCode: c.CountryCode,
			Lat:         c.Lat,
			Lng:         c.Lng,
			Population:  c.Population,
		})
		if err != nil {
			return 0, false, err
		}
		created = true
	} else if c.Population > 0 {
		place, err := r.db.GetPlace(id)
		if err != nil {
			return 0, false, err
		}
		if place != nil && place.Population == 0 {
			place.Population = c.Population
			if err := r.db.UpdatePlace(place); err != nil {
				return 0, false, err
			}
		}
	}

	if c.Name != "" {
		if _, err := r.db.AddPlaceName(&storage.PlaceName{
			PlaceID: id, Text: NormalizeName(c.Name), Kind: "label",
		}); err != nil {
			return 0, false, err
		}
	}
	for source, extID := range c.ExternalIDs {
		if err := r.db.AddExternalID(&storage.ExternalID{PlaceID: id, Source: source, ExtID: extID}); err != nil {
			return 0, false, err
		}
	}
	if c.AdminCode != "" {
		if err := r.db.AddExternalID(&storage.ExternalID{
			PlaceID: id, Source: "admin-code", ExtID: c.CountryCode + ":" + c.AdminCode,
		}); err != nil {
			return 0, false, err
		}
	}

	return id, created, nil
}

// NormalizeName folds a place name for matching: trimmed, single
// spaces, title case preserved.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(name)), " ")
}

// Index is an in-memory name index the page analyzer consults. It is a
// snapshot; the analyzer never performs storage I/O.
type Index struct {
	mu     sync.RWMutex
	byName map[string][]int64
	byID   map[int64]string
}

// NewIndex builds an empty index.
func NewIndex() *Index {
	return &Index{
		byName: make(map[string][]int64),
		byID:   make(map[int64]string),
	}
}

// Add registers a name for a place. The first name registered for a
// place becomes its primary name.
func (ix *Index) Add(name string, placeID int64) {
	key := strings.ToLower(NormalizeName(name))
	if key == "" {
		return
	}
	ix.mu.Lock()
	ix.byName[key] = append(ix.byName[key], placeID)
	if _, ok := ix.byID[placeID]; !ok {
		ix.byID[placeID] = key
	}
	ix.mu.Unlock()
}

// NameOf returns a place's primary name, or "".
func (ix *Index) NameOf(placeID int64) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.byID[placeID]
}

// Match returns the place IDs registered under a name, or nil.
func (ix *Index) Match(name string) []int64 {
	key := strings.ToLower(NormalizeName(name))
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.byName[key]
}

// MatchSlug matches a URL path segment (dashes become spaces).
func (ix *Index) MatchSlug(slug string) []int64 {
	return ix.Match(strings.ReplaceAll(slug, "-", " "))
}

// Names returns all registered names in no particular order.
func (ix *Index) Names() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	names := make([]string, 0, len(ix.byName))
	for n := range ix.byName {
		names = append(names, n)
	}
	return names
}

// LoadIndex snapshots all place names from storage into an index.
func LoadIndex(db *storage.Database) (*Index, error) {
	ix := NewIndex()
	names, err := db.AllPlaceNames()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		ix.Add(n.Text, n.PlaceID)
	}
	return ix, nil
}
