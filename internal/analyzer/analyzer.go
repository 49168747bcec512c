// Package analyzer classifies fetched pages and extracts structured
// signals.
//
// Classification is a pure function of (url, headers, content,
// gazetteer, topics): identical inputs produce identical output. Hub
// sub-kinds are decided by a fixed rule ladder over URL path segments:
// the count of gazetteer matches (0, 1, 2+) and the presence of a
// topic keyword select among hub, place-hub, place-place-hub,
// topic-hub, place-topic-hub and place-place-topic-hub. Ahead of that
// ladder, a page with a dated path and at least 150 words is an
// article, as is a page whose last path segment is a long slug (three
// or more dashes) with at least 250 words and fewer than words/50+20
// article-like links.
package analyzer

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/news-crawler/newscrawl/internal/gazetteer"
)

// Input is everything the analyzer may consult.
type Input struct {
	URL         string
	ContentType string
	StatusCode  int
	Body        []byte
	Gazetteer   *gazetteer.Index
	Topics      *TopicIndex
}

// Link is one outbound edge extracted from a page.
type Link struct {
	URL        string
	AnchorText string
	Rel        string
	SameHost   bool
}

// Result is the analyzer output.
type Result struct {
	Classification   Classification
	Title            string
	Date             string
	WordCount        int
	Language         string
	PlaceIDs         []int64
	TopicIDs         []string
	NavLinkCount     int
	ArticleLinkCount int
	Links            []Link
	Signals          map[string]any
}

var (
	datePathPattern = regexp.MustCompile(`/(19|20)\d{2}/\d{1,2}(/\d{1,2})?/`)
	dateMetaPattern = regexp.MustCompile(`(19|20)\d{2}-\d{2}-\d{2}`)
)

// Analyze classifies one fetched page. It performs no I/O beyond
// reading the passed-in indexes.
func Analyze(in Input) (*Result, error) {
	res := &Result{Signals: make(map[string]any)}

	if c, ok := classifyByContentType(in.ContentType); ok {
		res.Classification = c
		res.Signals["content_type"] = in.ContentType
		return res, nil
	}

	if in.StatusCode >= 400 {
		res.Classification = ClassError
		res.Signals["status_code"] = in.StatusCode
		return res, nil
	}
	if in.StatusCode >= 300 && in.StatusCode < 400 {
		res.Classification = ClassRedirect
		res.Signals["status_code"] = in.StatusCode
		return res, nil
	}

	u, err := url.Parse(in.URL)
	if err != nil {
		res.Classification = ClassUnknown
		return res, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Body))
	if err != nil {
		return nil, err
	}

	res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		res.Title = strings.TrimSpace(og)
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		res.Language = strings.ToLower(strings.SplitN(lang, "-", 2)[0])
	}
	res.Date = extractDate(doc, u.Path)

	text := visibleText(doc)
	res.WordCount = len(strings.Fields(text))

	res.Links = extractLinks(doc, u)
	for _, l := range res.Links {
		if ArticleLikeLink(l) {
			res.ArticleLinkCount++
		} else {
			res.NavLinkCount++
		}
	}

	segments := pathSegments(u.Path)
	placeMatches, topicMatches := matchSegments(segments, in.Gazetteer, in.Topics)
	res.PlaceIDs = placeMatches
	res.TopicIDs = topicMatches

	res.Classification = classifyPage(u, segments, res, placeMatches, topicMatches)

	res.Signals["path_segments"] = len(segments)
	res.Signals["place_matches"] = len(placeMatches)
	res.Signals["topic_matches"] = len(topicMatches)
	res.Signals["nav_links"] = res.NavLinkCount
	res.Signals["article_links"] = res.ArticleLinkCount
	res.Signals["word_count"] = res.WordCount
	res.Signals["dated_path"] = datePathPattern.MatchString(u.Path)
	return res, nil
}

func classifyByContentType(contentType string) (Classification, bool) {
	ct := strings.ToLower(contentType)
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch {
	case ct == "" || strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml"):
		return "", false
	case ct == "application/pdf":
		return ClassPDF, true
	case strings.HasPrefix(ct, "image/"):
		return ClassImage, true
	case strings.HasPrefix(ct, "video/"):
		return ClassVideo, true
	case strings.HasPrefix(ct, "audio/"):
		return ClassAudio, true
	case ct == "application/json" || strings.HasSuffix(ct, "+json") ||
		ct == "application/sparql-results+xml" || ct == "text/xml" || ct == "application/xml":
		return ClassAPIResponse, true
	case strings.HasPrefix(ct, "application/"):
		return ClassDocument, true
	}
	return "", false
}

// classifyPage applies the rule ladder for HTML pages.
func classifyPage(u *url.URL, segments []string, res *Result, places []int64, topics []string) Classification {
	totalLinks := res.NavLinkCount + res.ArticleLinkCount

	// The root page is an index with ten or more article links, otherwise navigation
	if len(segments) == 0 {
		if res.ArticleLinkCount >= 10 {
			return ClassIndex
		}
		return ClassNav
	}

	// Article: dated path or long slug with substantial text
	lastSeg := segments[len(segments)-1]
	longSlug := strings.Count(lastSeg, "-") >= 3
	if datePathPattern.MatchString(u.Path) && res.WordCount >= 150 {
		return ClassArticle
	}
	if longSlug && res.WordCount >= 250 && res.ArticleLinkCount < res.WordCount/50+20 {
		return ClassArticle
	}

	// Hub ladder from gazetteer/topic matches on path segments
	placeCount := len(places)
	hasTopic := len(topics) > 0
	hubLike := res.ArticleLinkCount >= 5 || totalLinks >= 20
	if hubLike {
		switch {
		case placeCount >= 2 && hasTopic:
			return ClassPlacePlaceTopicHub
		case placeCount >= 2:
			return ClassPlacePlaceHub
		case placeCount == 1 && hasTopic:
			return ClassPlaceTopicHub
		case placeCount == 1:
			return ClassPlaceHub
		case hasTopic:
			return ClassTopicHub
		case res.ArticleLinkCount >= 10:
			return ClassHub
		}
	}

	switch {
	case len(segments) == 1 && hasTopic:
		return ClassCategory
	case totalLinks >= 30 && res.WordCount < 300:
		return ClassListing
	case res.WordCount >= 400:
		return ClassArticle
	case totalLinks > 0 && res.NavLinkCount > res.ArticleLinkCount*3:
		return ClassNav
	}
	return ClassUnknown
}

func pathSegments(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, strings.ToLower(s))
		}
	}
	return segments
}

func matchSegments(segments []string, gaz *gazetteer.Index, topics *TopicIndex) ([]int64, []string) {
	var placeIDs []int64
	var topicIDs []string
	seenPlaces := make(map[int64]struct{})
	seenTopics := make(map[string]struct{})

	for _, seg := range segments {
		if gaz != nil {
			for _, id := range gaz.MatchSlug(seg) {
				if _, ok := seenPlaces[id]; !ok {
					seenPlaces[id] = struct{}{}
					placeIDs = append(placeIDs, id)
				}
			}
		}
		if topics != nil {
			if id := topics.MatchSlug(seg); id != "" {
				if _, ok := seenTopics[id]; !ok {
					seenTopics[id] = struct{}{}
					topicIDs = append(topicIDs, id)
				}
			}
		}
	}
	return placeIDs, topicIDs
}

func extractDate(doc *goquery.Document, path string) string {
	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[itemprop="datePublished"]`,
	} {
		if v, ok := doc.Find(sel).Attr("content"); ok {
			if m := dateMetaPattern.FindString(v); m != "" {
				return m
			}
		}
	}
	if t, ok := doc.Find("time[datetime]").Attr("datetime"); ok {
		if m := dateMetaPattern.FindString(t); m != "" {
			return m
		}
	}
	if m := datePathPattern.FindString(path); m != "" {
		parts := strings.Split(strings.Trim(m, "/"), "/")
		if len(parts) >= 2 {
			for len(parts) < 3 {
				parts = append(parts, "01")
			}
			for i := 1; i < 3; i++ {
				if len(parts[i]) == 1 {
					parts[i] = "0" + parts[i]
				}
			}
			return parts[0] + "-" + parts[1] + "-" + parts[2]
		}
	}
	return ""
}

func extractLinks(doc *goquery.Document, base *url.URL) []Link {
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		rel, _ := s.Attr("rel")
		links = append(links, Link{
			URL:        resolved.String(),
			AnchorText: strings.TrimSpace(s.Text()),
			Rel:        rel,
			SameHost:   strings.EqualFold(resolved.Host, base.Host),
		})
	})
	return links
}

// ArticleLikeLink guesses whether a link points at an article rather
// than navigation, from its target slug and anchor length.
func ArticleLikeLink(l Link) bool {
	u, err := url.Parse(l.URL)
	if err != nil {
		return false
	}
	if datePathPattern.MatchString(u.Path) {
		return true
	}
	last := u.Path
	if idx := strings.LastIndex(last, "/"); idx != -1 {
		last = last[idx+1:]
	}
	return strings.Count(last, "-") >= 3 || len(strings.Fields(l.AnchorText)) >= 5
}

func visibleText(doc *goquery.Document) string {
	clone := doc.Selection.Clone()
	clone.Find("script, style, noscript, nav, header, footer").Remove()
	return clone.Text()
}
