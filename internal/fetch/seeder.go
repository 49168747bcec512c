package fetch

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/queue"
	"github.com/news-crawler/newscrawl/internal/urlstore"
)

// SimulatedCandidate is a hub candidate ranked by the tactical planner.
type SimulatedCandidate struct {
	URL           string
	Feasible      bool
	ExpectedValue float64
}

// Simulator ranks candidate hub URLs without enqueueing anything. The
// tactical planner satisfies this; the seeder falls back to pattern
// scoring when none is attached.
type Simulator interface {
	SimulateCandidates(ctx context.Context, urls []string) []SimulatedCandidate
}

// Seeder proposes new hub candidates while article pages are
// processed.
type Seeder struct {
	urls      *urlstore.Store
	gaz       *gazetteer.Index
	topics    *analyzer.TopicIndex
	simulator Simulator
	maxPerPage int
	log       *zap.Logger
}

// NewSeeder creates an adaptive seeder. simulator may be nil.
func NewSeeder(urls *urlstore.Store, gaz *gazetteer.Index, topics *analyzer.TopicIndex,
	simulator Simulator, maxPerPage int, log *zap.Logger) *Seeder {
	if maxPerPage <= 0 {
		maxPerPage = 5
	}
	return &Seeder{
		urls:       urls,
		gaz:        gaz,
		topics:     topics,
		simulator:  simulator,
		maxPerPage: maxPerPage,
		log:        log,
	}
}

// ProposeFromArticle proposes up to maxPerPage hub candidates derived
// from the article's detected places and topics, ranks them, and
// enqueues the feasible ones.
func (s *Seeder) ProposeFromArticle(ctx context.Context, req *queue.Request, res *analyzer.Result, out QueueWriter) {
	pageURL, err := s.urls.Resolve(req.URLID)
	if err != nil {
		return
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}

	candidates := s.proposeCandidates(base, res)
	if len(candidates) == 0 {
		return
	}
	if len(candidates) > s.maxPerPage {
		candidates = candidates[:s.maxPerPage]
	}

	ranked := s.rank(ctx, candidates)
	for _, c := range ranked {
		if !c.Feasible {
			continue
		}
		id, err := s.urls.Intern(c.URL)
		if err != nil {
			continue
		}
		host, err := s.urls.HostOf(id)
		if err != nil {
			continue
		}
		out.Enqueue(&queue.Request{
			URLID:         id,
			Host:          host,
			Priority:      ComputePriority(queue.SourceHub, req.Depth, true, false, 0),
			Depth:         req.Depth, // hubs enter at the article's depth
			Source:        queue.SourceHub,
			JobID:         req.JobID,
			ExpectedValue: c.ExpectedValue,
		})
	}
}

// proposeCandidates expands placeholder templates against the page's
// detected places and topics.
func (s *Seeder) proposeCandidates(base *url.URL, res *analyzer.Result) []string {
	root := base.Scheme + "://" + base.Host

	var slugs []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		slugs = append(slugs, root+path)
	}

	var placeSlugs []string
	if s.gaz != nil {
		for _, id := range res.PlaceIDs {
			if name := s.gaz.NameOf(id); name != "" {
				placeSlugs = append(placeSlugs, slugify(name))
			}
			if len(placeSlugs) >= 3 {
				break
			}
		}
	}

	// /{slug}
	for _, p := range placeSlugs {
		add("/" + p)
	}
	for _, t := range res.TopicIDs {
		add("/" + t)
	}
	// /{country}/{slug}
	if len(placeSlugs) >= 2 {
		add("/" + placeSlugs[0] + "/" + placeSlugs[1])
	}
	// /{country}/{topic} and /{country}/{region}/{topic}
	for _, t := range res.TopicIDs {
		if len(placeSlugs) >= 1 {
			add("/" + placeSlugs[0] + "/" + t)
		}
		if len(placeSlugs) >= 2 {
			add("/" + placeSlugs[0] + "/" + placeSlugs[1] + "/" + t)
		}
	}
	return slugs
}

// rank uses the simulator when available, otherwise scores candidates
// by template shape alone.
func (s *Seeder) rank(ctx context.Context, candidates []string) []SimulatedCandidate {
	if s.simulator != nil {
		return s.simulator.SimulateCandidates(ctx, candidates)
	}

	ranked := make([]SimulatedCandidate, 0, len(candidates))
	for _, c := range candidates {
		depth := strings.Count(strings.TrimPrefix(c, "https://"), "/")
		ranked = append(ranked, SimulatedCandidate{
			URL:           c,
			Feasible:      true,
			ExpectedValue: 300 / float64(depth+1),
		})
	}
	return ranked
}

func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
