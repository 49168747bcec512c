package fetch

import "github.com/news-crawler/newscrawl/internal/queue"

// Base priorities by request source. Plan-directed work always outranks
// organic discoveries.
var basePriority = map[queue.Source]float64{
	queue.SourcePlan:      1000,
	queue.SourceHub:       600,
	queue.SourceSeed:      500,
	queue.SourceArticle:   400,
	queue.SourceSitemap:   150,
	queue.SourceDiscovery: 100,
}

// ComputePriority assigns the enqueue-time priority: the source's base
// multiplied by an adjustment in [0.5, 2.0] derived from depth,
// gazetteer match, topic match and host news-score. Priority is stable
// for the life of the request.
func ComputePriority(source queue.Source, depth int, gazMatch, topicMatch bool, newsScore float64) float64 {
	base, ok := basePriority[source]
	if !ok {
		base = 100
	}

	adjust := 1.0

	// Deeper pages are worth less
	switch {
	case depth >= 4:
		adjust *= 0.7
	case depth >= 2:
		adjust *= 0.85
	}

	if gazMatch {
		adjust *= 1.25
	}
	if topicMatch {
		adjust *= 1.15
	}
	if newsScore > 0 {
		adjust *= 1.0 + 0.3*newsScore
	}

	if adjust < 0.5 {
		adjust = 0.5
	}
	if adjust > 2.0 {
		adjust = 2.0
	}
	return base * adjust
}
