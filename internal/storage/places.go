package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
)

// InsertPlace inserts a new gazetteer place.
func (d *Database) InsertPlace(p *Place) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`
		INSERT INTO places (kind, country_code, lat, lng, population, extra_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Kind, p.CountryCode, p.Lat, p.Lng, p.Population, p.ExtraJSON)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.LastInsertId()
}

// UpdatePlace refreshes mutable place fields.
func (d *Database) UpdatePlace(p *Place) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		UPDATE places SET kind = ?, country_code = ?, lat = ?, lng = ?, population = ?, extra_json = ?
		WHERE id = ?
	`, p.Kind, p.CountryCode, p.Lat, p.Lng, p.Population, p.ExtraJSON, p.ID)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// GetPlace loads one place.
func (d *Database) GetPlace(id int64) (*Place, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var p Place
	var canonical sql.NullInt64
	var pop sql.NullInt64
	var extra sql.NullString
	err := d.db.QueryRow(`
		SELECT id, kind, canonical_name_id, country_code, lat, lng, population, extra_json
		FROM places WHERE id = ?
	`, id).Scan(&p.ID, &p.Kind, &canonical, &p.CountryCode, &p.Lat, &p.Lng, &pop, &extra)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	p.CanonicalNameID = canonical.Int64
	p.Population = pop.Int64
	p.ExtraJSON = extra.String
	return &p, nil
}

// AddPlaceName adds a name to a place; duplicates are idempotent.
// The first name added becomes the canonical name if none is set.
func (d *Database) AddPlaceName(n *PlaceName) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO place_names (place_id, text, lang, kind) VALUES (?, ?, ?, ?)
		ON CONFLICT(place_id, text, lang, kind) DO NOTHING
	`, n.PlaceID, n.Text, n.Lang, n.Kind)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	var id int64
	err = d.db.QueryRow(`
		SELECT id FROM place_names WHERE place_id = ? AND text = ? AND lang = ? AND kind = ?
	`, n.PlaceID, n.Text, n.Lang, n.Kind).Scan(&id)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	_, err = d.db.Exec(`
		UPDATE places SET canonical_name_id = ? WHERE id = ? AND canonical_name_id IS NULL
	`, id, n.PlaceID)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return id, nil
}

// PlaceNames lists the names of a place.
func (d *Database) PlaceNames(placeID int64) ([]*PlaceName, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, place_id, text, lang, kind FROM place_names WHERE place_id = ? ORDER BY id
	`, placeID)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var names []*PlaceName
	for rows.Next() {
		var n PlaceName
		if err := rows.Scan(&n.ID, &n.PlaceID, &n.Text, &n.Lang, &n.Kind); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		names = append(names, &n)
	}
	return names, rows.Err()
}

// AllPlaceNames streams every (place_id, text) pair, for building the
// in-memory analyzer index.
func (d *Database) AllPlaceNames() ([]*PlaceName, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT id, place_id, text, lang, kind FROM place_names ORDER BY id`)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var names []*PlaceName
	for rows.Next() {
		var n PlaceName
		if err := rows.Scan(&n.ID, &n.PlaceID, &n.Text, &n.Lang, &n.Kind); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		names = append(names, &n)
	}
	return names, rows.Err()
}

// AddExternalID ties a place to an external identifier; idempotent.
func (d *Database) AddExternalID(e *ExternalID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO place_external_ids (place_id, source, ext_id) VALUES (?, ?, ?)
		ON CONFLICT(source, ext_id) DO NOTHING
	`, e.PlaceID, e.Source, e.ExtID)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// FindPlaceByExternalID resolves a place by (source, ext_id), returning
// 0 when absent.
func (d *Database) FindPlaceByExternalID(source, extID string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var id int64
	err := d.db.QueryRow(`
		SELECT place_id FROM place_external_ids WHERE source = ? AND ext_id = ?
	`, source, extID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return id, nil
}

// FindPlacesByName returns places carrying the given name (any kind),
// optionally filtered by country code.
func (d *Database) FindPlacesByName(text, countryCode string) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `
		SELECT DISTINCT p.id FROM places p
		JOIN place_names n ON n.place_id = p.id
		WHERE n.text = ? COLLATE NOCASE`
	args := []any{text}
	if countryCode != "" {
		query += ` AND p.country_code = ?`
		args = append(args, countryCode)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindPlaceNear returns the first place of the given kind within the
// coordinate box, or 0.
func (d *Database) FindPlaceNear(kind PlaceKind, lat, lng, radius float64) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var id int64
	err := d.db.QueryRow(`
		SELECT id FROM places
		WHERE kind = ? AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
		LIMIT 1
	`, kind, lat-radius, lat+radius, lng-radius, lng+radius).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return id, nil
}

// AddHierarchyEdge relates two places; idempotent. The composite key
// includes relation, so a city may be capital of several polities.
func (d *Database) AddHierarchyEdge(e *HierarchyEdge) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO place_hierarchy (parent_id, child_id, relation) VALUES (?, ?, ?)
		ON CONFLICT(parent_id, child_id, relation) DO NOTHING
	`, e.ParentID, e.ChildID, e.Relation)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// ParentsOf lists hierarchy edges pointing at the child's parents,
// optionally filtered by relation.
func (d *Database) ParentsOf(childID int64, relation string) ([]*HierarchyEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT parent_id, child_id, relation FROM place_hierarchy WHERE child_id = ?`
	args := []any{childID}
	if relation != "" {
		query += ` AND relation = ?`
		args = append(args, relation)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var edges []*HierarchyEdge
	for rows.Next() {
		var e HierarchyEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID, &e.Relation); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// CountPlaces reports places of one kind ('' = all).
func (d *Database) CountPlaces(kind PlaceKind) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	var err error
	if kind == "" {
		err = d.db.QueryRow(`SELECT COUNT(*) FROM places`).Scan(&n)
	} else {
		err = d.db.QueryRow(`SELECT COUNT(*) FROM places WHERE kind = ?`, kind).Scan(&n)
	}
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return n, nil
}

// --- Ingestion runs ---

// StartIngestionRun begins a run for (source, version). A run already
// in progress fails fast; a completed run without force reports
// PreconditionFailed.
func (d *Database) StartIngestionRun(source, version string, force bool) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var status string
	err := d.db.QueryRow(`
		SELECT status FROM ingestion_runs
		WHERE source = ? AND source_version = ?
		ORDER BY id DESC LIMIT 1
	`, source, version).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	if err == nil {
		if status == "running" {
			return 0, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "ingestion %s %s already running", source, version)
		}
		if status == "completed" && !force {
			return 0, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "ingestion %s %s already completed", source, version)
		}
	}

	res, err := d.db.Exec(`
		INSERT INTO ingestion_runs (source, source_version, status) VALUES (?, ?, 'running')
	`, source, version)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.LastInsertId()
}

// CompleteIngestionRun finishes a run with a status and stats.
func (d *Database) CompleteIngestionRun(runID int64, status string, stats map[string]int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	statsJSON, _ := json.Marshal(stats)
	_, err := d.db.Exec(`
		UPDATE ingestion_runs SET status = ?, completed_at = CURRENT_TIMESTAMP, stats_json = ?
		WHERE id = ?
	`, status, string(statsJSON), runID)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// CheckCompletedRun reports whether (source, version) completed before.
func (d *Database) CheckCompletedRun(source, version string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM ingestion_runs
		WHERE source = ? AND source_version = ? AND status = 'completed'
	`, source, version).Scan(&n)
	if err != nil {
		return false, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return n > 0, nil
}
