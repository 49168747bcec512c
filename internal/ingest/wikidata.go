package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

const (
	wikidataSPARQLEndpoint = "https://query.wikidata.org/sparql"
	wikidataVersion        = "2024-01"
)

const regionsQuery = `
SELECT ?region ?regionLabel ?countryCode ?lat ?lng ?population WHERE {
  ?region wdt:P31 wd:Q10864048 .
  ?region wdt:P17 ?country .
  ?country wdt:P297 ?countryCode .
  OPTIONAL { ?region wdt:P1082 ?population . }
  OPTIONAL {
    ?region p:P625 ?coord .
    ?coord psv:P625 ?coordNode .
    ?coordNode wikibase:geoLatitude ?lat .
    ?coordNode wikibase:geoLongitude ?lng .
  }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en" . }
}`

const citiesQuery = `
SELECT ?city ?cityLabel ?countryCode ?lat ?lng ?population WHERE {
  ?city wdt:P31/wdt:P279* wd:Q515 .
  ?city wdt:P17 ?country .
  ?country wdt:P297 ?countryCode .
  ?city wdt:P1082 ?population .
  FILTER(?population > 100000)
  OPTIONAL {
    ?city p:P625 ?coord .
    ?coord psv:P625 ?coordNode .
    ?coordNode wikibase:geoLatitude ?lat .
    ?coordNode wikibase:geoLongitude ?lng .
  }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en" . }
}`

// sparqlResponse mirrors the SPARQL JSON result shape.
type sparqlResponse struct {
	Results struct {
		Bindings []map[string]struct {
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// WikidataIngestor loads one administrative level from the Wikidata
// SPARQL endpoint.
type WikidataIngestor struct {
	client   *apiClient
	resolver *gazetteer.Resolver
	db       *storage.Database
	log      *zap.Logger

	kind     storage.PlaceKind
	label    string
	query    string
	entity   string // binding name holding the entity IRI
}

// NewRegionsIngestor loads first-level administrative regions.
func NewRegionsIngestor(httpClient *http.Client, c *cache.Cache, resolver *gazetteer.Resolver,
	db *storage.Database, userAgent string, log *zap.Logger) *WikidataIngestor {
	return &WikidataIngestor{
		client:   newAPIClient(httpClient, c, userAgent, log),
		resolver: resolver,
		db:       db,
		log:      log,
		kind:     storage.PlaceRegion,
		label:    "regions",
		query:    regionsQuery,
		entity:   "region",
	}
}

// NewCitiesIngestor loads cities above the population floor.
func NewCitiesIngestor(httpClient *http.Client, c *cache.Cache, resolver *gazetteer.Resolver,
	db *storage.Database, userAgent string, log *zap.Logger) *WikidataIngestor {
	return &WikidataIngestor{
		client:   newAPIClient(httpClient, c, userAgent, log),
		resolver: resolver,
		db:       db,
		log:      log,
		kind:     storage.PlaceCity,
		label:    "cities",
		query:    citiesQuery,
		entity:   "city",
	}
}

func (i *WikidataIngestor) Name() string { return "wikidata-" + i.label }

func (i *WikidataIngestor) Source() (string, string) { return "wikidata-" + i.label, wikidataVersion }

// Execute runs the SPARQL query (cached) and upserts each binding,
// linking places into their country's hierarchy.
func (i *WikidataIngestor) Execute(ictx *Context) (*Summary, error) {
	body, err := i.client.get(ictx.Ctx, wikidataSPARQLEndpoint, "sparql-results", map[string]string{
		"query":  i.query,
		"format": "json",
	})
	if err != nil {
		return nil, err
	}

	var resp sparqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sparql decode: %w", err)
	}

	summary := &Summary{}
	bindings := resp.Results.Bindings
	for idx, b := range bindings {
		select {
		case <-ictx.Ctx.Done():
			return summary, ictx.Ctx.Err()
		default:
		}

		name := b[i.entity+"Label"].Value
		qid := qidOf(b[i.entity].Value)
		if name == "" || qid == "" || name == qid {
			summary.Skipped++
			continue
		}

		candidate := &gazetteer.Candidate{
			Kind:        i.kind,
			Name:        name,
			CountryCode: b["countryCode"].Value,
			ExternalIDs: map[string]string{"wikidata": qid},
		}
		candidate.Lat, _ = strconv.ParseFloat(b["lat"].Value, 64)
		candidate.Lng, _ = strconv.ParseFloat(b["lng"].Value, 64)
		candidate.Population, _ = strconv.ParseInt(b["population"].Value, 10, 64)

		placeID, created, err := i.resolver.Upsert(candidate)
		if err != nil {
			return summary, err
		}
		if created {
			summary.Written++
		} else {
			summary.Updated++
		}

		if countryID, err := i.db.FindPlaceByExternalID("iso-3166", candidate.CountryCode); err == nil && countryID > 0 {
			i.db.AddHierarchyEdge(&storage.HierarchyEdge{
				ParentID: countryID, ChildID: placeID, Relation: "within",
			})
		}

		if idx%200 == 0 {
			ictx.EmitProgress(telemetry.Progress{Current: idx + 1, Total: len(bindings), Details: name})
		}
	}

	ictx.EmitProgress(telemetry.Progress{Current: len(bindings), Total: len(bindings)})
	return summary, nil
}

// qidOf extracts the QID from an entity IRI.
func qidOf(iri string) string {
	if idx := strings.LastIndex(iri, "/"); idx != -1 {
		return iri[idx+1:]
	}
	return iri
}
