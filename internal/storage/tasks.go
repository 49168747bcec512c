package storage

import (
	"database/sql"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
)

// UpsertTask persists a background task's status, progress and params.
func (d *Database) UpsertTask(t *TaskRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var started, paused any
	if !t.StartedAt.IsZero() {
		started = t.StartedAt
	}
	if !t.PausedAt.IsZero() {
		paused = t.PausedAt
	}
	_, err := d.db.Exec(`
		INSERT INTO background_tasks (id, kind, status, progress_json, params_json, started_at, paused_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress_json = excluded.progress_json,
			started_at = COALESCE(excluded.started_at, background_tasks.started_at),
			paused_at = excluded.paused_at
	`, t.ID, t.Kind, t.Status, t.ProgressJSON, t.ParamsJSON, started, paused)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// GetTask loads one persisted task, or nil.
func (d *Database) GetTask(id string) (*TaskRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var t TaskRow
	var progress, params sql.NullString
	var started, paused sql.NullTime
	err := d.db.QueryRow(`
		SELECT id, kind, status, progress_json, params_json, started_at, paused_at
		FROM background_tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.Kind, &t.Status, &progress, &params, &started, &paused)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	t.ProgressJSON = progress.String
	t.ParamsJSON = params.String
	if started.Valid {
		t.StartedAt = started.Time
	}
	if paused.Valid {
		t.PausedAt = paused.Time
	}
	return &t, nil
}

// TasksByStatus lists persisted tasks in one status ('' = all).
func (d *Database) TasksByStatus(status string) ([]*TaskRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT id, kind, status, progress_json, params_json, started_at, paused_at FROM background_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var tasks []*TaskRow
	for rows.Next() {
		var t TaskRow
		var progress, params sql.NullString
		var started, paused sql.NullTime
		if err := rows.Scan(&t.ID, &t.Kind, &t.Status, &progress, &params, &started, &paused); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		t.ProgressJSON = progress.String
		t.ParamsJSON = params.String
		if started.Valid {
			t.StartedAt = started.Time
		}
		if paused.Valid {
			t.PausedAt = paused.Time
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// --- Cache entry persistence ---

// PutCacheRow stores one HTTP cache entry.
func (d *Database) PutCacheRow(r *CacheRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO cache_entries (fingerprint, url, sub_type, headers_json, body, compression_preset_id, uncompressed_size, ttl_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			headers_json = excluded.headers_json,
			body = excluded.body,
			compression_preset_id = excluded.compression_preset_id,
			uncompressed_size = excluded.uncompressed_size,
			created_at = CURRENT_TIMESTAMP,
			ttl_seconds = excluded.ttl_seconds,
			last_used_at = CURRENT_TIMESTAMP
	`, r.Fingerprint, r.URL, r.SubType, r.HeadersJSON, r.Body, r.PresetID, r.UncompressedSize, r.TTLSeconds)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// GetCacheRow loads one cache entry and bumps its hit counter.
func (d *Database) GetCacheRow(fingerprint string) (*CacheRow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var r CacheRow
	err := d.db.QueryRow(`
		SELECT fingerprint, url, sub_type, headers_json, body, compression_preset_id, uncompressed_size, created_at, ttl_seconds, hit_count
		FROM cache_entries WHERE fingerprint = ?
	`, fingerprint).Scan(&r.Fingerprint, &r.URL, &r.SubType, &r.HeadersJSON, &r.Body, &r.PresetID, &r.UncompressedSize, &r.CreatedAt, &r.TTLSeconds, &r.HitCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	_, err = d.db.Exec(`
		UPDATE cache_entries SET hit_count = hit_count + 1, last_used_at = CURRENT_TIMESTAMP WHERE fingerprint = ?
	`, fingerprint)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	r.HitCount++
	return &r, nil
}

// DeleteCacheRows removes entries whose fingerprint or URL starts with
// the prefix, returning the count removed.
func (d *Database) DeleteCacheRows(prefix string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`
		DELETE FROM cache_entries WHERE fingerprint LIKE ? || '%' OR url LIKE ? || '%'
	`, prefix, prefix)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.RowsAffected()
}

// CacheSizeBytes reports the total stored cache body size.
func (d *Database) CacheSizeBytes() (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n sql.NullInt64
	err := d.db.QueryRow(`SELECT SUM(LENGTH(body)) FROM cache_entries`).Scan(&n)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return n.Int64, nil
}

// EvictCacheLRU removes least-recently-used entries until the store is
// under maxBytes, returning the count evicted.
func (d *Database) EvictCacheLRU(maxBytes int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var total sql.NullInt64
	if err := d.db.QueryRow(`SELECT SUM(LENGTH(body)) FROM cache_entries`).Scan(&total); err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	var evicted int64
	for total.Int64 > maxBytes {
		var fp string
		var size int64
		err := d.db.QueryRow(`
			SELECT fingerprint, LENGTH(body) FROM cache_entries ORDER BY last_used_at ASC LIMIT 1
		`).Scan(&fp, &size)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return evicted, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		if _, err := d.db.Exec(`DELETE FROM cache_entries WHERE fingerprint = ?`, fp); err != nil {
			return evicted, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		total.Int64 -= size
		evicted++
	}
	return evicted, nil
}

// DeleteExpiredCacheRows prunes entries past their TTL.
func (d *Database) DeleteExpiredCacheRows() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`
		DELETE FROM cache_entries
		WHERE (strftime('%s','now') - strftime('%s', created_at)) > ttl_seconds
	`)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.RowsAffected()
}

// --- Maintenance queries used by background tasks ---

// ContentIDsByPreset lists content rows not using the given preset.
func (d *Database) ContentIDsByPreset(notPresetID int) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT id FROM content WHERE compression_preset_id != ? ORDER BY id`, notPresetID)
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

// UnanalyzedContentIDs lists content rows with no analysis, above a
// starting cursor.
func (d *Database) UnanalyzedContentIDs(afterID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT c.id FROM content c
		LEFT JOIN content_analysis a ON a.content_id = c.id
		WHERE a.content_id IS NULL AND c.id > ?
		ORDER BY c.id
	`, afterID)
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

// URLForContent resolves the URL whose response references a content
// row, or "" when orphaned.
func (d *Database) URLForContent(contentID int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var canonical string
	err := d.db.QueryRow(`
		SELECT u.canonical FROM http_responses r JOIN urls u ON u.id = r.url_id
		WHERE r.content_ref = ? ORDER BY r.id DESC LIMIT 1
	`, contentID).Scan(&canonical)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return canonical, nil
}

// ReplaceContent swaps a content row's payload in place, keeping its ID
// stable for existing references.
func (d *Database) ReplaceContent(id int64, storageType StorageType, presetID int, compressed []byte, uncompressedSize int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer tx.Rollback()

	var inline []byte
	if storageType == StorageInline {
		inline = compressed
	}
	if _, err := tx.Exec(`
		UPDATE content SET storage_type = ?, compression_preset_id = ?, blob = ?, compressed_size = ?, uncompressed_size = ?
		WHERE id = ?
	`, storageType, presetID, inline, int64(len(compressed)), uncompressedSize, id); err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	if _, err := tx.Exec(`DELETE FROM content_buckets WHERE content_id = ?`, id); err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	if storageType == StorageBucket {
		if _, err := tx.Exec(`INSERT INTO content_buckets (content_id, data) VALUES (?, ?)`, id, compressed); err != nil {
			return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// ExportRows returns joined crawl results for the export task.
func (d *Database) ExportRows() (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT u.canonical, r.status_code, r.fetched_at,
			COALESCE(a.classification, ''), COALESCE(a.title, ''), COALESCE(a.word_count, 0), COALESCE(a.language, '')
		FROM http_responses r
		JOIN urls u ON u.id = r.url_id
		LEFT JOIN content_analysis a ON a.content_id = r.content_ref
		ORDER BY r.fetched_at
	`)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return rows, nil
}

// Vacuum reclaims free pages.
func (d *Database) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(`VACUUM`); err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}
