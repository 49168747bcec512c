package urlstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/urlutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	codec, err := compression.NewCodec()
	require.NoError(t, err)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"), filepath.Join(dir, "content"), codec, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, urlutil.NewNormalizer([]string{"utm_source"}, true))
}

func TestInternEquivalentFormsShareID(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Intern("https://Example.com/News/")
	require.NoError(t, err)
	b, err := s.Intern("https://example.com/News?utm_source=feed")
	require.NoError(t, err)
	c, err := s.Intern("https://example.com:443/News")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	d, err := s.Intern("https://example.com/Other")
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestInternResolveInverse(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Intern("https://example.com/a/b?x=1")
	require.NoError(t, err)

	canonical, err := s.Resolve(id)
	require.NoError(t, err)

	again, err := s.Intern(canonical)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestHostOf(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Intern("https://News.Example.com/x")
	require.NoError(t, err)

	host, err := s.HostOf(id)
	require.NoError(t, err)
	assert.Equal(t, "news.example.com", host)
}

func TestInternInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Intern("not a url")
	assert.ErrorIs(t, err, crawlerr.ErrInvalidInput)

	_, err = s.Resolve(99999)
	assert.ErrorIs(t, err, crawlerr.ErrInvalidInput)
}
