package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, PreferCache, cfg.CachePolicy)
	assert.True(t, cfg.FallbackToCache)
	assert.Equal(t, 5, cfg.Planning.MaxLookahead)
	assert.Equal(t, 10, cfg.Planning.MaxBranches)
	assert.Equal(t, 3500, cfg.Planning.BudgetMS)
	assert.Equal(t, 3, cfg.Planning.MaxBacktracks)
	assert.True(t, cfg.Planning.LearningEnabled)
	assert.True(t, cfg.Features.PlannerKnowledgeReuse)
	assert.False(t, cfg.Features.AdvancedPlanningSuite)
	assert.Equal(t, 7*24*time.Hour, cfg.TTLFor("html"))
	assert.Equal(t, 24*time.Hour, cfg.TTLFor("sparql-results"))
	assert.Equal(t, "zstd-3", cfg.PresetFor("html"))
	assert.Equal(t, "gzip-6", cfg.PresetFor("mystery-type"))
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"concurrency": 4,
		"max_depth": 5,
		"cache_policy": "prefer-fresh"
	}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.Equal(t, PreferFresh, cfg.CachePolicy)
	// Untouched keys keep their defaults
	assert.Equal(t, 3500, cfg.Planning.BudgetMS)
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Default()
	cfg.CachePolicy = "psychic"
	assert.Error(t, cfg.Validate())
}

func TestValidateClampsConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NEWSCRAWL_CONCURRENCY", "8")
	t.Setenv("NEWSCRAWL_USER_AGENT", "custom-agent/2.0")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "custom-agent/2.0", cfg.UserAgent)
}

func TestCrawlTypeValidity(t *testing.T) {
	for _, ct := range []CrawlType{CrawlBasic, CrawlBasicWithSitemap, CrawlIntelligent, CrawlSitemapOnly, CrawlGeography} {
		assert.True(t, ValidCrawlType(ct), string(ct))
	}
	assert.False(t, ValidCrawlType("quantum"))
}
