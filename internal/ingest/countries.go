package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

const (
	restCountriesURL     = "https://restcountries.com/v3.1/all"
	restCountriesVersion = "v3.1"
)

// restCountry mirrors the restcountries.com payload fields we use.
type restCountry struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	CCA2       string             `json:"cca2"`
	Capital    []string           `json:"capital"`
	CapitalInfo struct {
		LatLng []float64 `json:"latlng"`
	} `json:"capitalInfo"`
	LatLng     []float64          `json:"latlng"`
	Population int64              `json:"population"`
	Altnames   []string           `json:"altSpellings"`
	Translations map[string]struct {
		Common string `json:"common"`
	} `json:"translations"`
}

// CountriesIngestor loads all countries and their capitals.
type CountriesIngestor struct {
	client   *apiClient
	resolver *gazetteer.Resolver
	db       *storage.Database
	log      *zap.Logger
}

// NewCountriesIngestor creates the restcountries ingestor.
func NewCountriesIngestor(httpClient *http.Client, c *cache.Cache, resolver *gazetteer.Resolver,
	db *storage.Database, userAgent string, log *zap.Logger) *CountriesIngestor {
	return &CountriesIngestor{
		client:   newAPIClient(httpClient, c, userAgent, log),
		resolver: resolver,
		db:       db,
		log:      log,
	}
}

func (i *CountriesIngestor) Name() string { return "countries" }

func (i *CountriesIngestor) Source() (string, string) { return "restcountries", restCountriesVersion }

// Execute fetches the country list and upserts countries and capital
// cities. Capitals of multi-capital countries are pinned to their own
// coordinates so the proximity matcher keeps them distinct.
func (i *CountriesIngestor) Execute(ictx *Context) (*Summary, error) {
	body, err := i.client.get(ictx.Ctx, restCountriesURL, "json-entities", map[string]string{
		"fields": "name,cca2,capital,capitalInfo,latlng,population,altSpellings,translations",
	})
	if err != nil {
		return nil, err
	}

	var countries []restCountry
	if err := json.Unmarshal(body, &countries); err != nil {
		return nil, fmt.Errorf("restcountries decode: %w", err)
	}

	summary := &Summary{}
	for idx, rc := range countries {
		select {
		case <-ictx.Ctx.Done():
			return summary, ictx.Ctx.Err()
		default:
		}

		if rc.Name.Common == "" || rc.CCA2 == "" {
			summary.Skipped++
			continue
		}

		candidate := &gazetteer.Candidate{
			Kind:        storage.PlaceCountry,
			Name:        rc.Name.Common,
			CountryCode: rc.CCA2,
			Population:  rc.Population,
			ExternalIDs: map[string]string{"iso-3166": rc.CCA2},
		}
		if len(rc.LatLng) == 2 {
			candidate.Lat = rc.LatLng[0]
			candidate.Lng = rc.LatLng[1]
		}

		countryID, created, err := i.resolver.Upsert(candidate)
		if err != nil {
			return summary, err
		}
		if created {
			summary.Written++
		} else {
			summary.Updated++
		}

		if rc.Name.Official != "" && rc.Name.Official != rc.Name.Common {
			i.db.AddPlaceName(&storage.PlaceName{PlaceID: countryID, Text: rc.Name.Official, Kind: "official"})
		}
		for _, alt := range rc.Altnames {
			if len(alt) > 3 {
				i.db.AddPlaceName(&storage.PlaceName{PlaceID: countryID, Text: alt, Kind: "alias"})
			}
		}

		if err := i.ingestCapitals(rc, countryID, summary); err != nil {
			return summary, err
		}

		if idx%25 == 0 {
			ictx.EmitProgress(telemetry.Progress{Current: idx + 1, Total: len(countries), Details: rc.Name.Common})
		}
	}

	ictx.EmitProgress(telemetry.Progress{Current: len(countries), Total: len(countries)})
	return summary, nil
}

func (i *CountriesIngestor) ingestCapitals(rc restCountry, countryID int64, summary *Summary) error {
	for idx, capital := range rc.Capital {
		lat, lng, pinned := gazetteer.CapitalCoordinates(rc.CCA2, capital)
		if !pinned && idx == 0 && len(rc.CapitalInfo.LatLng) == 2 {
			lat = rc.CapitalInfo.LatLng[0]
			lng = rc.CapitalInfo.LatLng[1]
		}

		cityID, created, err := i.resolver.Upsert(&gazetteer.Candidate{
			Kind:        storage.PlaceCity,
			Name:        capital,
			CountryCode: rc.CCA2,
			Lat:         lat,
			Lng:         lng,
		})
		if err != nil {
			return err
		}
		if created {
			summary.Written++
		}

		if err := i.db.AddHierarchyEdge(&storage.HierarchyEdge{
			ParentID: countryID, ChildID: cityID, Relation: "capital_of",
		}); err != nil {
			return err
		}
		if err := i.db.AddHierarchyEdge(&storage.HierarchyEdge{
			ParentID: countryID, ChildID: cityID, Relation: "within",
		}); err != nil {
			return err
		}
	}
	return nil
}
