// Package config defines engine configuration options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CrawlType selects the execution strategy for a crawl job.
type CrawlType string

const (
	CrawlBasic            CrawlType = "basic"
	CrawlBasicWithSitemap CrawlType = "basic-with-sitemap"
	CrawlIntelligent      CrawlType = "intelligent"
	CrawlSitemapOnly      CrawlType = "sitemap-only"
	CrawlGeography        CrawlType = "geography"
)

// FetchPolicy controls how the pipeline consults the HTTP cache.
type FetchPolicy string

const (
	PreferCache FetchPolicy = "prefer-cache"
	PreferFresh FetchPolicy = "prefer-fresh"
	CacheOnly   FetchPolicy = "cache-only"
	NetworkOnly FetchPolicy = "network-only"
)

// ValidCrawlType reports whether t is a recognised crawl type.
func ValidCrawlType(t CrawlType) bool {
	switch t {
	case CrawlBasic, CrawlBasicWithSitemap, CrawlIntelligent, CrawlSitemapOnly, CrawlGeography:
		return true
	}
	return false
}

// ValidFetchPolicy reports whether p is a recognised fetch policy.
func ValidFetchPolicy(p FetchPolicy) bool {
	switch p {
	case PreferCache, PreferFresh, CacheOnly, NetworkOnly:
		return true
	}
	return false
}

// Features holds feature toggles recognised by the engine.
type Features struct {
	AdvancedPlanningSuite bool `json:"advanced_planning_suite"`
	GapDriven             bool `json:"gap_driven"`
	PlannerKnowledgeReuse bool `json:"planner_knowledge_reuse"`
	RealTimeCoverage      bool `json:"real_time_coverage"`
	ProblemClustering     bool `json:"problem_clustering"`
	ProblemResolution     bool `json:"problem_resolution"`
}

// Planning holds planner tuning knobs.
type Planning struct {
	// Maximum plan lookahead depth
	MaxLookahead int `json:"max_lookahead"`

	// Branching factor per search node
	MaxBranches int `json:"max_branches"`

	// Wall-clock budget for strategic search
	BudgetMS int `json:"budget_ms"`

	// Hub candidates simulated per article page
	SimulationCandidates int `json:"simulation_candidates"`

	// Maximum backtracks during plan execution
	MaxBacktracks int `json:"max_backtracks"`

	// Whether plan outcomes feed heuristic weights
	LearningEnabled bool `json:"learning_enabled"`
}

// Pacing holds per-host politeness settings.
type Pacing struct {
	// Minimum interval between request starts to one host
	MinInterval time.Duration `json:"min_interval"`

	// Ceiling for exponential backoff
	MaxBackoff time.Duration `json:"max_backoff"`

	// Per-host concurrent request cap
	PerHostInFlight int `json:"per_host_in_flight"`

	// Global requests per second across all hosts (0 = unlimited)
	GlobalRPS float64 `json:"global_rps"`
}

// Config holds all configuration for the engine. It is loaded once at
// startup and passed explicitly to components that need it.
type Config struct {
	// === Basic settings ===

	// Database file path
	DatabasePath string `json:"database_path"`

	// Directory for spilled content files
	ContentDir string `json:"content_dir"`

	// User-Agent string sent on every request
	UserAgent string `json:"user_agent"`

	// === Crawl limits ===

	// Number of concurrent workers per job (clamped >= 1)
	Concurrency int `json:"concurrency"`

	// Depth budget; stages with a higher crawl_depth are skipped
	MaxDepth int `json:"max_depth"`

	// Budget ceilings (0 = unbounded)
	MaxDownloads int `json:"max_downloads"`
	MaxPages     int `json:"max_pages"`

	// Request timeout
	Timeout time.Duration `json:"timeout"`

	// Maximum redirects followed per request
	MaxRedirects int `json:"max_redirects"`

	// Maximum response body size in bytes
	MaxBodySize int64 `json:"max_body_size"`

	// URL patterns (regex) gating enqueue
	AllowPatterns []string `json:"allow_patterns"`
	DenyPatterns  []string `json:"deny_patterns"`

	// Whether discovered cross-origin links are followed
	FollowCrossOrigin bool `json:"follow_cross_origin"`

	// === Cache ===

	// Default fetch policy
	CachePolicy FetchPolicy `json:"cache_policy"`

	// Maximum acceptable cache entry age for adoption (0 = any)
	MaxCacheAgeMS int64 `json:"max_cache_age_ms"`

	// Serve a stale entry when the network fails
	FallbackToCache bool `json:"fallback_to_cache"`

	// Per content sub-type TTLs
	CacheTTL map[string]time.Duration `json:"cache_ttl"`

	// Cache size ceiling in bytes before LRU eviction
	CacheMaxBytes int64 `json:"cache_max_bytes"`

	// === Compression ===

	// Mapping from content sub-type to codec preset name
	CompressionPresets map[string]string `json:"compression_presets"`

	// === URL normalisation ===

	// Query parameters stripped during canonicalisation
	TrackingParams []string `json:"tracking_params"`

	// Fold trailing index.html (and friends) to directory form
	FoldIndexPages bool `json:"fold_index_pages"`

	// === Sub-configs ===

	Pacing   Pacing   `json:"pacing"`
	Planning Planning `json:"planning"`
	Features Features `json:"features"`

	// === Ingestion ===

	// Re-run completed ingestion sources
	IngestionForce bool `json:"ingestion_force"`

	// === Background tasks ===

	// Parallelism of the background task pool
	TaskWorkers int `json:"task_workers"`

	// === Diagnostics ===

	// Persist per-decision explanation traces
	PersistDecisionTraces bool `json:"persist_decision_traces"`
}

// DefaultTrackingParams is the canonicalisation strip list applied when
// none is configured.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "msclkid", "mc_cid", "mc_eid",
	"igshid", "ref_src", "ref_url", "spm", "yclid",
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		DatabasePath: "newscrawl.db",
		ContentDir:   "content",
		UserAgent:    "newscrawl/1.0 (+https://github.com/news-crawler/newscrawl)",

		Concurrency:  1,
		MaxDepth:     3,
		Timeout:      30 * time.Second,
		MaxRedirects: 10,
		MaxBodySize:  10 * 1024 * 1024,

		CachePolicy:     PreferCache,
		FallbackToCache: true,
		CacheTTL: map[string]time.Duration{
			"html":           7 * 24 * time.Hour,
			"sparql-results": 24 * time.Hour,
			"json-entities":  24 * time.Hour,
			"geo-admin":      7 * 24 * time.Hour,
		},
		CacheMaxBytes: 2 << 30,

		CompressionPresets: map[string]string{
			"html":           "zstd-3",
			"sparql-results": "gzip-6",
			"json-entities":  "gzip-6",
			"geo-admin":      "zstd-19",
		},

		TrackingParams: append([]string(nil), DefaultTrackingParams...),
		FoldIndexPages: true,

		Pacing: Pacing{
			MinInterval:     time.Second,
			MaxBackoff:      5 * time.Minute,
			PerHostInFlight: 1,
		},
		Planning: Planning{
			MaxLookahead:         5,
			MaxBranches:          10,
			BudgetMS:             3500,
			SimulationCandidates: 5,
			MaxBacktracks:        3,
			LearningEnabled:      true,
		},
		Features: Features{
			PlannerKnowledgeReuse: true,
			RealTimeCoverage:      true,
			ProblemClustering:     true,
			ProblemResolution:     true,
		},

		TaskWorkers: 2,
	}
}

// LoadFile reads a JSON config file over defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays NEWSCRAWL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("NEWSCRAWL_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("NEWSCRAWL_CONTENT_DIR"); v != "" {
		c.ContentDir = v
	}
	if v := os.Getenv("NEWSCRAWL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("NEWSCRAWL_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxDepth = n
		}
	}
	if v := os.Getenv("NEWSCRAWL_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("NEWSCRAWL_INGESTION_FORCE"); v != "" {
		c.IngestionForce = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if !ValidFetchPolicy(c.CachePolicy) {
		return fmt.Errorf("unknown cache_policy %q", c.CachePolicy)
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Pacing.MinInterval <= 0 {
		c.Pacing.MinInterval = time.Second
	}
	if c.Pacing.PerHostInFlight < 1 {
		c.Pacing.PerHostInFlight = 1
	}
	if c.Planning.MaxLookahead < 1 {
		c.Planning.MaxLookahead = 1
	}
	if c.Planning.MaxBranches < 1 {
		c.Planning.MaxBranches = 1
	}
	if c.TaskWorkers < 1 {
		c.TaskWorkers = 1
	}
	return nil
}

// TTLFor returns the cache TTL for a content sub-type.
func (c *Config) TTLFor(subType string) time.Duration {
	if ttl, ok := c.CacheTTL[subType]; ok {
		return ttl
	}
	return 24 * time.Hour
}

// PresetFor returns the compression preset name for a content sub-type.
func (c *Config) PresetFor(subType string) string {
	if p, ok := c.CompressionPresets[subType]; ok {
		return p
	}
	return "gzip-6"
}
