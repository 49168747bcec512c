package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer([]string{"utm_source", "utm_medium", "gclid"}, true)
}

func TestNormalizeEquivalentForms(t *testing.T) {
	n := newTestNormalizer()

	cases := [][2]string{
		{"HTTP://Example.COM/News", "http://example.com/News"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a/", "https://example.com/a"},
		{"https://example.com/a//b/../c", "https://example.com/a/c"},
		{"https://example.com/dir/index.html", "https://example.com/dir"},
	}
	for _, c := range cases {
		got, err := n.Normalize(c[0])
		require.NoError(t, err, c[0])
		assert.Equal(t, c[1], got, c[0])
	}
}

func TestNormalizeQueryHandling(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Normalize("https://example.com/a?b=2&a=1&utm_source=x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?a=1&b=2", got)

	// Sorted parameters are stable regardless of input order
	other, err := n.Normalize("https://example.com/a?utm_source=y&a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, got, other)
}

func TestNormalizeIdempotent(t *testing.T) {
	n := newTestNormalizer()

	first, err := n.Normalize("HTTPS://Example.com/World/News/?b=2&a=1&gclid=zzz#top")
	require.NoError(t, err)
	second, err := n.Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	n := newTestNormalizer()

	for _, raw := range []string{"", "not a url", "/relative/path", "ftp://example.com/a", "mailto:x@example.com"} {
		_, err := n.Normalize(raw)
		assert.Error(t, err, raw)
	}
}

func TestHostAndDomain(t *testing.T) {
	host, err := Host("https://News.Example.co.uk:8443/x")
	require.NoError(t, err)
	assert.Equal(t, "news.example.co.uk:8443", host)

	assert.Equal(t, "example.com", Domain("news.example.com"))
	assert.Equal(t, "example.com", Domain("example.com:8080"))
	assert.Equal(t, "localhost", Domain("localhost"))
}

func TestResolve(t *testing.T) {
	got, err := Resolve("https://example.com/a/b", "../c")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/c", got)

	got, err = Resolve("https://example.com/a", "https://other.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.com/x", got)
}
