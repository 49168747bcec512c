// Package storage persists every engine entity behind typed operations.
// No other component touches the underlying store.
package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
)

// Content placement thresholds.
const (
	inlineThreshold = 4 * 1024
	bucketThreshold = 1024 * 1024
)

// Database handles all database operations.
type Database struct {
	db         *sql.DB
	mu         sync.RWMutex
	codec      *compression.Codec
	contentDir string
	log        *zap.Logger
}

// Open opens (creating if needed) the engine database.
func Open(path, contentDir string, codec *compression.Codec, log *zap.Logger) (*Database, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=1", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:         db,
		codec:      codec,
		contentDir: contentDir,
		log:        log,
	}

	if _, err := d.db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if contentDir != "" {
		if err := os.MkdirAll(contentDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create content dir: %w", err)
		}
	}

	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// --- URL operations ---

// InternURL inserts or looks up the canonical URL and returns its
// stable ID. Repeated calls with the same canonical form return the
// same ID.
func (d *Database) InternURL(canonical, host string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO urls (canonical, host)
		VALUES (?, ?)
		ON CONFLICT(canonical) DO UPDATE SET last_seen = CURRENT_TIMESTAMP
	`, canonical, host)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	var id int64
	if err := d.db.QueryRow(`SELECT id FROM urls WHERE canonical = ?`, canonical).Scan(&id); err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return id, nil
}

// ResolveURL returns the canonical string and host for a URL ID.
func (d *Database) ResolveURL(id int64) (canonical, host string, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	err = d.db.QueryRow(`SELECT canonical, host FROM urls WHERE id = ?`, id).Scan(&canonical, &host)
	if err == sql.ErrNoRows {
		return "", "", crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown url id %d", id)
	}
	if err != nil {
		return "", "", crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return canonical, host, nil
}

// --- Content operations ---

// PutContent compresses and stores content, choosing the placement
// tier by compressed size: inline below 4 KiB, bucket row below 1 MiB,
// spilled file beyond that.
func (d *Database) PutContent(data []byte, presetName string) (*ContentRef, error) {
	preset, err := d.codec.PresetByName(presetName)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindInvalidInput, err)
	}
	compressed, err := d.codec.Compress(data, preset)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindInternal, err)
	}

	sum := sha256.Sum256(data)
	ref := &ContentRef{
		PresetID:         preset.ID,
		SHA256:           hex.EncodeToString(sum[:]),
		UncompressedSize: int64(len(data)),
		CompressedSize:   int64(len(compressed)),
	}

	switch {
	case len(compressed) < inlineThreshold:
		ref.StorageType = StorageInline
	case len(compressed) < bucketThreshold:
		ref.StorageType = StorageBucket
	default:
		ref.StorageType = StorageFile
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer tx.Rollback()

	var inline []byte
	if ref.StorageType == StorageInline {
		inline = compressed
	}
	res, err := tx.Exec(`
		INSERT INTO content (storage_type, compression_preset_id, sha256, uncompressed_size, compressed_size, blob)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ref.StorageType, ref.PresetID, ref.SHA256, ref.UncompressedSize, ref.CompressedSize, inline)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	ref.ID, _ = res.LastInsertId()

	switch ref.StorageType {
	case StorageBucket:
		if _, err := tx.Exec(`INSERT INTO content_buckets (content_id, data) VALUES (?, ?)`, ref.ID, compressed); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
	case StorageFile:
		path := d.contentFilePath(ref.ID)
		if err := os.WriteFile(path, compressed, 0o644); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		if _, err := tx.Exec(`UPDATE content SET file_path = ? WHERE id = ?`, path, ref.ID); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return ref, nil
}

// GetContent loads and decompresses a content row.
func (d *Database) GetContent(id int64) ([]byte, *ContentRef, error) {
	d.mu.RLock()
	ref := &ContentRef{ID: id}
	var blob []byte
	var filePath sql.NullString
	err := d.db.QueryRow(`
		SELECT storage_type, compression_preset_id, sha256, uncompressed_size, compressed_size, blob, file_path
		FROM content WHERE id = ?
	`, id).Scan(&ref.StorageType, &ref.PresetID, &ref.SHA256, &ref.UncompressedSize, &ref.CompressedSize, &blob, &filePath)
	if err == nil && ref.StorageType == StorageBucket {
		err = d.db.QueryRow(`SELECT data FROM content_buckets WHERE content_id = ?`, id).Scan(&blob)
	}
	d.mu.RUnlock()

	if err == sql.ErrNoRows {
		return nil, nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown content id %d", id)
	}
	if err != nil {
		return nil, nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	if ref.StorageType == StorageFile {
		blob, err = os.ReadFile(filePath.String)
		if err != nil {
			return nil, nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
	}

	preset, err := d.codec.PresetByID(ref.PresetID)
	if err != nil {
		return nil, nil, crawlerr.Wrap(crawlerr.KindInternal, err)
	}
	data, err := d.codec.Decompress(blob, preset)
	if err != nil {
		return nil, nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return data, ref, nil
}

func (d *Database) contentFilePath(id int64) string {
	return filepath.Join(d.contentDir, fmt.Sprintf("c%08d.bin", id))
}

// --- HTTP response operations ---

// PutHTTPResponse records a fetch result referencing stored content.
func (d *Database) PutHTTPResponse(resp *HTTPResponse) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	headersJSON, _ := json.Marshal(resp.Headers)
	var contentRef any
	if resp.ContentRef > 0 {
		contentRef = resp.ContentRef
	}
	res, err := d.db.Exec(`
		INSERT INTO http_responses (url_id, status_code, headers_json, content_ref, response_time_ms, ttfb_ms, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, resp.URLID, resp.StatusCode, string(headersJSON), contentRef, resp.ResponseTimeMS, resp.TTFBMS, resp.Outcome)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.LastInsertId()
}

// LatestResponse returns the newest persisted response for a URL, or
// nil when none exists.
func (d *Database) LatestResponse(urlID int64) (*HTTPResponse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var resp HTTPResponse
	var headersJSON string
	var contentRef sql.NullInt64
	err := d.db.QueryRow(`
		SELECT id, url_id, status_code, fetched_at, headers_json, content_ref, response_time_ms, ttfb_ms, outcome
		FROM http_responses WHERE url_id = ? ORDER BY fetched_at DESC, id DESC LIMIT 1
	`, urlID).Scan(&resp.ID, &resp.URLID, &resp.StatusCode, &resp.FetchedAt, &headersJSON, &contentRef, &resp.ResponseTimeMS, &resp.TTFBMS, &resp.Outcome)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	resp.ContentRef = contentRef.Int64
	json.Unmarshal([]byte(headersJSON), &resp.Headers)
	return &resp, nil
}

// CountResponses reports persisted responses for a URL.
func (d *Database) CountResponses(urlID int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM http_responses WHERE url_id = ?`, urlID).Scan(&n)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return n, nil
}

// --- Analysis and links ---

// PutContentAnalysis records classifier output for a content row.
func (d *Database) PutContentAnalysis(a *Analysis) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	placeIDs, _ := json.Marshal(a.PlaceIDs)
	topicIDs, _ := json.Marshal(a.TopicIDs)
	signals, _ := json.Marshal(a.Signals)

	_, err := d.db.Exec(`
		INSERT INTO content_analysis (content_id, classification, title, published_date, word_count, language,
			nav_link_count, article_link_count, place_ids_json, topic_ids_json, signals_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			classification = excluded.classification,
			title = excluded.title,
			published_date = excluded.published_date,
			word_count = excluded.word_count,
			language = excluded.language,
			nav_link_count = excluded.nav_link_count,
			article_link_count = excluded.article_link_count,
			place_ids_json = excluded.place_ids_json,
			topic_ids_json = excluded.topic_ids_json,
			signals_json = excluded.signals_json
	`, a.ContentID, a.Classification, a.Title, a.PublishedDate, a.WordCount, a.Language,
		a.NavLinkCount, a.ArticleLinkCount, string(placeIDs), string(topicIDs), string(signals))
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// GetAnalysis loads the analysis for a content row, or nil.
func (d *Database) GetAnalysis(contentID int64) (*Analysis, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var a Analysis
	var placeIDs, topicIDs, signals string
	err := d.db.QueryRow(`
		SELECT content_id, classification, title, published_date, word_count, language,
			nav_link_count, article_link_count, place_ids_json, topic_ids_json, signals_json
		FROM content_analysis WHERE content_id = ?
	`, contentID).Scan(&a.ContentID, &a.Classification, &a.Title, &a.PublishedDate, &a.WordCount,
		&a.Language, &a.NavLinkCount, &a.ArticleLinkCount, &placeIDs, &topicIDs, &signals)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	json.Unmarshal([]byte(placeIDs), &a.PlaceIDs)
	json.Unmarshal([]byte(topicIDs), &a.TopicIDs)
	json.Unmarshal([]byte(signals), &a.Signals)
	return &a, nil
}

// PutLink upserts a directed edge between two URLs.
func (d *Database) PutLink(l *Link) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO links (src_url_id, dst_url_id, anchor_text, rel, depth_delta)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(src_url_id, dst_url_id) DO UPDATE SET
			anchor_text = excluded.anchor_text,
			rel = excluded.rel
	`, l.SrcURLID, l.DstURLID, l.AnchorText, l.Rel, l.DepthDelta)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// OutboundLinks returns the outgoing edges of a URL.
func (d *Database) OutboundLinks(srcURLID int64) ([]*Link, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT src_url_id, dst_url_id, anchor_text, rel, depth_delta
		FROM links WHERE src_url_id = ?
	`, srcURLID)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.SrcURLID, &l.DstURLID, &l.AnchorText, &l.Rel, &l.DepthDelta); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}
