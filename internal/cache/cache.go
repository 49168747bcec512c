// Package cache is the unified HTTP cache facade used by the fetch
// pipeline and the structured API clients.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/storage"
)

// LookupState classifies a cache lookup result.
type LookupState int

const (
	Miss LookupState = iota
	Hit
	Expired
)

// Entry is a decoded cache entry.
type Entry struct {
	URL       string
	SubType   string
	Headers   map[string][]string
	Body      []byte
	CreatedAt time.Time
	TTL       time.Duration
	HitCount  int64
}

// Age returns the entry's age.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// Cache stores compressed request/response pairs keyed by request
// fingerprint, with per-sub-type TTLs and an LRU size ceiling.
type Cache struct {
	db    *storage.Database
	codec *compression.Codec
	cfg   *config.Config
	log   *zap.Logger
}

// New creates the cache facade.
func New(db *storage.Database, codec *compression.Codec, cfg *config.Config, log *zap.Logger) *Cache {
	return &Cache{db: db, codec: codec, cfg: cfg, log: log}
}

// Fingerprint computes the deterministic entry key for a request.
// Params are the cache-relevant request parameters (e.g. the SPARQL
// query text); map iteration order does not affect the result.
func Fingerprint(method, canonicalURL string, params map[string]string) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(method))
	sb.WriteByte('\n')
	sb.WriteString(canonicalURL)

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteByte('\n')
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(params[k])
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Lookup retrieves an entry by fingerprint. Expired entries are
// returned alongside the Expired state so callers may serve stale.
func (c *Cache) Lookup(fingerprint string) (*Entry, LookupState, error) {
	row, err := c.db.GetCacheRow(fingerprint)
	if err != nil {
		return nil, Miss, err
	}
	if row == nil {
		return nil, Miss, nil
	}

	preset, err := c.codec.PresetByID(row.PresetID)
	if err != nil {
		return nil, Miss, err
	}
	body, err := c.codec.Decompress(row.Body, preset)
	if err != nil {
		return nil, Miss, err
	}

	entry := &Entry{
		URL:       row.URL,
		SubType:   row.SubType,
		Body:      body,
		CreatedAt: row.CreatedAt,
		TTL:       time.Duration(row.TTLSeconds) * time.Second,
		HitCount:  row.HitCount,
	}
	json.Unmarshal([]byte(row.HeadersJSON), &entry.Headers)

	if entry.Age() > entry.TTL {
		return entry, Expired, nil
	}
	return entry, Hit, nil
}

// Store writes an entry under the fingerprint, compressing the body
// with the sub-type's configured preset. TTL eviction runs
// opportunistically after the write.
func (c *Cache) Store(fingerprint, canonicalURL, subType string, headers map[string][]string, body []byte) error {
	preset, err := c.codec.PresetByName(c.cfg.PresetFor(subType))
	if err != nil {
		return err
	}
	compressed, err := c.codec.Compress(body, preset)
	if err != nil {
		return err
	}

	headersJSON, _ := json.Marshal(headers)
	row := &storage.CacheRow{
		Fingerprint:      fingerprint,
		URL:              canonicalURL,
		SubType:          subType,
		HeadersJSON:      string(headersJSON),
		Body:             compressed,
		PresetID:         preset.ID,
		UncompressedSize: int64(len(body)),
		TTLSeconds:       int64(c.cfg.TTLFor(subType) / time.Second),
	}
	if err := c.db.PutCacheRow(row); err != nil {
		return err
	}

	if c.cfg.CacheMaxBytes > 0 {
		if evicted, err := c.db.EvictCacheLRU(c.cfg.CacheMaxBytes); err != nil {
			c.log.Warn("cache eviction failed", zap.Error(err))
		} else if evicted > 0 {
			c.log.Debug("evicted cache entries", zap.Int64("count", evicted))
		}
	}
	return nil
}

// Invalidate removes entries matching a fingerprint or URL prefix.
func (c *Cache) Invalidate(prefix string) (int64, error) {
	return c.db.DeleteCacheRows(prefix)
}

// PruneExpired removes entries past their TTL.
func (c *Cache) PruneExpired() (int64, error) {
	return c.db.DeleteExpiredCacheRows()
}
