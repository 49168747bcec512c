package planner

import (
	"net/url"
	"sort"
	"strings"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
)

// State is the search state reasoners propose from.
type State struct {
	Domain  string
	SeedURL string
	Goal    string

	// URLs already targeted by the partial plan
	Targeted map[string]struct{}

	Gazetteer *gazetteer.Index
	Topics    *analyzer.TopicIndex

	// Learned heuristic weights by action-pattern signature
	Weights map[string]float64
}

// weightFor scales a proposal by learned heuristics; 1.0 when unknown.
func (s *State) weightFor(action ActionType) float64 {
	if s.Weights == nil {
		return 1.0
	}
	if w, ok := s.Weights[string(action)]; ok {
		return w
	}
	return 1.0
}

// Reasoner proposes candidate next steps from a state. Reasoners are
// pure; ordering of their proposals must be deterministic.
type Reasoner interface {
	Name() string
	Propose(st *State, partial []Step) []Step
}

// GraphReasoner proposes hub exploration and link discovery based on
// URL shape: section roots, then drill-downs under them.
type GraphReasoner struct{}

func (GraphReasoner) Name() string { return "graph-structure" }

func (GraphReasoner) Propose(st *State, partial []Step) []Step {
	root := "https://" + st.Domain

	var steps []Step
	add := func(action ActionType, target string, value, cost, prob float64) {
		if _, dup := st.Targeted[target]; dup {
			return
		}
		steps = append(steps, Step{
			Action:        action,
			TargetURL:     target,
			ExpectedValue: value * st.weightFor(action),
			Cost:          cost,
			Probability:   prob,
		})
	}

	if len(partial) == 0 {
		add(ActionDiscoverLinks, root+"/", 300, 50, 0.95)
	}

	sections := []string{"news", "latest", "stories", "articles"}
	for _, s := range sections {
		add(ActionExploreHub, root+"/"+s, 500, 80, 0.7)
	}

	// Drill one level under the most recent hub in the partial plan
	for i := len(partial) - 1; i >= 0; i-- {
		if partial[i].Action != ActionExploreHub && partial[i].Action != ActionDiscoverLinks {
			continue
		}
		base := strings.TrimSuffix(partial[i].TargetURL, "/")
		add(ActionFetchArticle, base+"/top-story", 800, 100, 0.5)
		add(ActionDiscoverLinks, base+"/archive", 250, 60, 0.6)
		break
	}
	return steps
}

// GazetteerReasoner proposes place and topic hubs expanded from the
// index snapshots.
type GazetteerReasoner struct {
	// MaxPlaces bounds proposals per node
	MaxPlaces int
}

func (GazetteerReasoner) Name() string { return "gazetteer" }

func (g GazetteerReasoner) Propose(st *State, partial []Step) []Step {
	maxPlaces := g.MaxPlaces
	if maxPlaces <= 0 {
		maxPlaces = 4
	}
	root := "https://" + st.Domain

	var steps []Step
	add := func(target string, value float64) {
		if _, dup := st.Targeted[target]; dup {
			return
		}
		steps = append(steps, Step{
			Action:        ActionExploreHub,
			TargetURL:     target,
			ExpectedValue: value * st.weightFor(ActionExploreHub),
			Cost:          90,
			Probability:   0.55,
		})
	}

	if st.Gazetteer != nil {
		names := st.Gazetteer.Names()
		sort.Strings(names)
		if len(names) > maxPlaces {
			names = names[:maxPlaces]
		}
		for _, name := range names {
			add(root+"/"+slugOf(name), 450)
		}
	}

	if st.Topics != nil {
		topics := st.Topics.TopicIDs()
		sort.Strings(topics)
		if len(topics) > maxPlaces {
			topics = topics[:maxPlaces]
		}
		for _, t := range topics {
			add(root+"/"+t, 400)
		}
	}
	return steps
}

// CostReasoner does not propose; it re-prices candidates from other
// reasoners by path depth, modelling fetch latency and pacing cost.
type CostReasoner struct{}

func (CostReasoner) Name() string { return "cost-estimator" }

func (CostReasoner) Propose(st *State, partial []Step) []Step { return nil }

// Reprice adjusts step costs by URL depth.
func (CostReasoner) Reprice(steps []Step) []Step {
	for i := range steps {
		if u, err := url.Parse(steps[i].TargetURL); err == nil {
			depth := strings.Count(strings.Trim(u.Path, "/"), "/")
			steps[i].Cost += 20 * float64(depth)
		}
	}
	return steps
}

func slugOf(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
