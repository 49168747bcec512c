package analyzer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/news-crawler/newscrawl/internal/gazetteer"
)

func testIndexes() (*gazetteer.Index, *TopicIndex) {
	gaz := gazetteer.NewIndex()
	gaz.Add("France", 1)
	gaz.Add("Paris", 2)
	gaz.Add("Germany", 3)
	return gaz, NewDefaultTopicIndex()
}

func articleHTML() []byte {
	body := strings.Repeat("word ", 500)
	return []byte(fmt.Sprintf(`<html lang="en-GB"><head>
		<title>Storm hits coast</title>
		<meta property="article:published_time" content="2024-03-15T10:00:00Z">
	</head><body><article><p>%s</p></article></body></html>`, body))
}

func hubHTML(links int) []byte {
	var sb strings.Builder
	sb.WriteString(`<html lang="en"><head><title>Section</title></head><body>`)
	for i := 0; i < links; i++ {
		fmt.Fprintf(&sb, `<a href="/news/2024/03/%d/big-story-about-things-%d">Long headline with many words here %d</a>`, i+1, i, i)
	}
	sb.WriteString(`</body></html>`)
	return []byte(sb.String())
}

func TestClassifyArticleByDatedPath(t *testing.T) {
	gaz, topics := testIndexes()
	res, err := Analyze(Input{
		URL:        "https://news.example/2024/03/15/storm-hits-coast",
		StatusCode: 200,
		Body:       articleHTML(),
		Gazetteer:  gaz,
		Topics:     topics,
	})
	require.NoError(t, err)

	assert.Equal(t, ClassArticle, res.Classification)
	assert.Equal(t, "Storm hits coast", res.Title)
	assert.Equal(t, "2024-03-15", res.Date)
	assert.Equal(t, "en", res.Language)
	assert.Greater(t, res.WordCount, 400)
}

func TestClassifyHubLadder(t *testing.T) {
	gaz, topics := testIndexes()

	cases := []struct {
		url  string
		want Classification
	}{
		{"https://news.example/france", ClassPlaceHub},
		{"https://news.example/france/paris", ClassPlacePlaceHub},
		{"https://news.example/politics", ClassTopicHub},
		{"https://news.example/france/politics", ClassPlaceTopicHub},
		{"https://news.example/france/paris/politics", ClassPlacePlaceTopicHub},
		{"https://news.example/weird-section", ClassHub},
	}
	for _, c := range cases {
		res, err := Analyze(Input{URL: c.url, StatusCode: 200, Body: hubHTML(15), Gazetteer: gaz, Topics: topics})
		require.NoError(t, err, c.url)
		assert.Equal(t, c.want, res.Classification, c.url)
	}
}

func TestClassifyByContentType(t *testing.T) {
	cases := []struct {
		contentType string
		want        Classification
	}{
		{"application/pdf", ClassPDF},
		{"image/png", ClassImage},
		{"video/mp4", ClassVideo},
		{"audio/mpeg", ClassAudio},
		{"application/json", ClassAPIResponse},
		{"application/msword", ClassDocument},
	}
	for _, c := range cases {
		res, err := Analyze(Input{URL: "https://x.example/f", ContentType: c.contentType, StatusCode: 200})
		require.NoError(t, err)
		assert.Equal(t, c.want, res.Classification, c.contentType)
	}
}

func TestClassifyErrorAndRedirect(t *testing.T) {
	res, err := Analyze(Input{URL: "https://x.example/gone", StatusCode: 404})
	require.NoError(t, err)
	assert.Equal(t, ClassError, res.Classification)

	res, err = Analyze(Input{URL: "https://x.example/moved", StatusCode: 301})
	require.NoError(t, err)
	assert.Equal(t, ClassRedirect, res.Classification)
}

func TestDeterminism(t *testing.T) {
	gaz, topics := testIndexes()
	in := Input{
		URL:        "https://news.example/france/politics",
		StatusCode: 200,
		Body:       hubHTML(12),
		Gazetteer:  gaz,
		Topics:     topics,
	}

	first, err := Analyze(in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Analyze(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLinkExtraction(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/a">internal</a>
		<a href="https://other.example/x" rel="nofollow">external</a>
		<a href="#frag">skip</a>
		<a href="mailto:x@y.z">skip</a>
		<a href="javascript:void(0)">skip</a>
	</body></html>`)

	res, err := Analyze(Input{URL: "https://news.example/section", StatusCode: 200, Body: body})
	require.NoError(t, err)
	require.Len(t, res.Links, 2)

	assert.Equal(t, "https://news.example/a", res.Links[0].URL)
	assert.True(t, res.Links[0].SameHost)
	assert.Equal(t, "https://other.example/x", res.Links[1].URL)
	assert.False(t, res.Links[1].SameHost)
	assert.Equal(t, "nofollow", res.Links[1].Rel)
}

func TestSignalsExplainClassification(t *testing.T) {
	gaz, topics := testIndexes()
	res, err := Analyze(Input{
		URL:        "https://news.example/france/politics",
		StatusCode: 200,
		Body:       hubHTML(15),
		Gazetteer:  gaz,
		Topics:     topics,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Signals["place_matches"])
	assert.Equal(t, 1, res.Signals["topic_matches"])
	assert.NotZero(t, res.Signals["article_links"])
}
