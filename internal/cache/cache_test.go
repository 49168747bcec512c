package cache

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/storage"
)

func newTestCache(t *testing.T) (*Cache, *config.Config) {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	return New(db, codec, cfg, zap.NewNop()), cfg
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("GET", "https://example.com/a", map[string]string{"q": "x", "format": "json"})
	b := Fingerprint("GET", "https://example.com/a", map[string]string{"format": "json", "q": "x"})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Fingerprint("POST", "https://example.com/a", map[string]string{"q": "x", "format": "json"}))
	assert.NotEqual(t, a, Fingerprint("GET", "https://example.com/b", map[string]string{"q": "x", "format": "json"}))
	assert.NotEqual(t, a, Fingerprint("GET", "https://example.com/a", map[string]string{"q": "y", "format": "json"}))
}

func TestStoreLookupRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)

	body := []byte("<html><body>hello cache</body></html>")
	headers := map[string][]string{"Content-Type": {"text/html"}}
	fp := Fingerprint("GET", "https://example.com/page", nil)

	require.NoError(t, c.Store(fp, "https://example.com/page", "html", headers, body))

	entry, state, err := c.Lookup(fp)
	require.NoError(t, err)
	require.Equal(t, Hit, state)
	assert.True(t, bytes.Equal(body, entry.Body))
	assert.Equal(t, "html", entry.SubType)
	assert.Equal(t, []string{"text/html"}, entry.Headers["Content-Type"])
}

func TestLookupMiss(t *testing.T) {
	c, _ := newTestCache(t)

	entry, state, err := c.Lookup("nope")
	require.NoError(t, err)
	assert.Equal(t, Miss, state)
	assert.Nil(t, entry)
}

func TestExpiredEntryReturnedAsStale(t *testing.T) {
	c, cfg := newTestCache(t)
	cfg.CacheTTL["html"] = time.Millisecond

	fp := Fingerprint("GET", "https://example.com/old", nil)
	require.NoError(t, c.Store(fp, "https://example.com/old", "html", nil, []byte("stale body")))

	time.Sleep(1100 * time.Millisecond)

	entry, state, err := c.Lookup(fp)
	require.NoError(t, err)
	assert.Equal(t, Expired, state)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("stale body"), entry.Body)
}

func TestInvalidateByPrefix(t *testing.T) {
	c, _ := newTestCache(t)

	require.NoError(t, c.Store(Fingerprint("GET", "https://a.example/1", nil), "https://a.example/1", "html", nil, []byte("x")))
	require.NoError(t, c.Store(Fingerprint("GET", "https://a.example/2", nil), "https://a.example/2", "html", nil, []byte("y")))
	require.NoError(t, c.Store(Fingerprint("GET", "https://b.example/1", nil), "https://b.example/1", "html", nil, []byte("z")))

	removed, err := c.Invalidate("https://a.example/")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, state, err := c.Lookup(Fingerprint("GET", "https://b.example/1", nil))
	require.NoError(t, err)
	assert.Equal(t, Hit, state)
}

func TestHitCounter(t *testing.T) {
	c, _ := newTestCache(t)

	fp := Fingerprint("GET", "https://example.com/counted", nil)
	require.NoError(t, c.Store(fp, "https://example.com/counted", "html", nil, []byte("x")))

	entry, _, err := c.Lookup(fp)
	require.NoError(t, err)
	first := entry.HitCount

	entry, _, err = c.Lookup(fp)
	require.NoError(t, err)
	assert.Equal(t, first+1, entry.HitCount)
}
