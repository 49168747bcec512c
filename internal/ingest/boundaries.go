package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

const (
	overpassEndpoint = "https://overpass-api.de/api/interpreter"
	overpassVersion  = "2024-01"
)

// admin_level=4 relations are first-level subdivisions
const boundariesQuery = `[out:json][timeout:180];relation["boundary"="administrative"]["admin_level"="4"]["ISO3166-2"];out tags center;`

type overpassResponse struct {
	Elements []struct {
		ID     int64             `json:"id"`
		Tags   map[string]string `json:"tags"`
		Center struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center"`
	} `json:"elements"`
}

// BoundariesIngestor attaches OSM administrative boundary identifiers
// and centroids to places.
type BoundariesIngestor struct {
	client   *apiClient
	resolver *gazetteer.Resolver
	db       *storage.Database
	log      *zap.Logger
}

// NewBoundariesIngestor creates the Overpass boundary ingestor.
func NewBoundariesIngestor(httpClient *http.Client, c *cache.Cache, resolver *gazetteer.Resolver,
	db *storage.Database, userAgent string, log *zap.Logger) *BoundariesIngestor {
	return &BoundariesIngestor{
		client:   newAPIClient(httpClient, c, userAgent, log),
		resolver: resolver,
		db:       db,
		log:      log,
	}
}

func (i *BoundariesIngestor) Name() string { return "osm-boundaries" }

func (i *BoundariesIngestor) Source() (string, string) { return "osm-boundaries", overpassVersion }

// Execute fetches admin boundary relations and merges them into the
// gazetteer by admin code, name, then proximity.
func (i *BoundariesIngestor) Execute(ictx *Context) (*Summary, error) {
	body, err := i.client.get(ictx.Ctx, overpassEndpoint, "geo-admin", map[string]string{
		"data": boundariesQuery,
	})
	if err != nil {
		return nil, err
	}

	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("overpass decode: %w", err)
	}

	summary := &Summary{}
	for idx, el := range resp.Elements {
		select {
		case <-ictx.Ctx.Done():
			return summary, ictx.Ctx.Err()
		default:
		}

		name := el.Tags["name:en"]
		if name == "" {
			name = el.Tags["name"]
		}
		iso := el.Tags["ISO3166-2"] // e.g. "DE-BY"
		if name == "" || len(iso) < 4 {
			summary.Skipped++
			continue
		}
		countryCode := iso[:2]
		adminCode := iso[3:]

		candidate := &gazetteer.Candidate{
			Kind:        storage.PlaceRegion,
			Name:        name,
			CountryCode: countryCode,
			AdminCode:   adminCode,
			Lat:         el.Center.Lat,
			Lng:         el.Center.Lon,
			ExternalIDs: map[string]string{"osm": strconv.FormatInt(el.ID, 10)},
		}
		if qid := el.Tags["wikidata"]; qid != "" {
			candidate.ExternalIDs["wikidata"] = qid
		}

		_, created, err := i.resolver.Upsert(candidate)
		if err != nil {
			return summary, err
		}
		if created {
			summary.Written++
		} else {
			summary.Updated++
		}

		if idx%200 == 0 {
			ictx.EmitProgress(telemetry.Progress{Current: idx + 1, Total: len(resp.Elements), Details: name})
		}
	}

	ictx.EmitProgress(telemetry.Progress{Current: len(resp.Elements), Total: len(resp.Elements)})
	return summary, nil
}

// GeographyStages assembles the standard stage list for a geography
// crawl: countries, regions, cities, boundaries.
func GeographyStages(httpClient *http.Client, c *cache.Cache, resolver *gazetteer.Resolver,
	db *storage.Database, userAgent string, log *zap.Logger) []Stage {
	return []Stage{
		{
			Name: "countries", Kind: "country", CrawlDepth: 0, Priority: 100,
			Ingestors: []Ingestor{NewCountriesIngestor(httpClient, c, resolver, db, userAgent, log)},
		},
		{
			Name: "regions", Kind: "region", CrawlDepth: 1, Priority: 80,
			Ingestors: []Ingestor{NewRegionsIngestor(httpClient, c, resolver, db, userAgent, log)},
		},
		{
			Name: "cities", Kind: "city", CrawlDepth: 2, Priority: 60,
			Ingestors: []Ingestor{NewCitiesIngestor(httpClient, c, resolver, db, userAgent, log)},
		},
		{
			Name: "boundaries", Kind: "boundary", CrawlDepth: 3, Priority: 40,
			Ingestors: []Ingestor{NewBoundariesIngestor(httpClient, c, resolver, db, userAgent, log)},
		},
	}
}
