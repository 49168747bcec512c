package planner

import (
	"context"
	"net/url"
	"strings"
)

// Simulation is the tactical planner's prediction for an action
// sequence. Nothing is enqueued.
type Simulation struct {
	Feasible   bool
	TotalValue float64
	TotalCost  float64
}

// Simulate predicts the outcome of a short action sequence. A sequence
// is feasible when every target parses and the cumulative probability
// stays above a floor.
func (p *Planner) Simulate(ctx context.Context, steps []Step) Simulation {
	sim := Simulation{Feasible: true}
	prob := 1.0

	for _, step := range steps {
		select {
		case <-ctx.Done():
			sim.Feasible = false
			return sim
		default:
		}

		u, err := url.Parse(step.TargetURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			sim.Feasible = false
			return sim
		}

		stepProb := step.Probability
		if stepProb <= 0 {
			stepProb = defaultProbability(step)
		}
		prob *= stepProb
		sim.TotalValue += step.ExpectedValue * stepProb
		sim.TotalCost += step.Cost
	}

	if prob < 0.05 {
		sim.Feasible = false
	}
	return sim
}

// SimulatedCandidate mirrors the seeder's candidate shape without
// importing it.
type SimulatedCandidate struct {
	URL           string
	Feasible      bool
	ExpectedValue float64
}

// SimulateCandidates ranks freshly proposed hub URLs by simulating a
// single explore-hub step for each. Used by the adaptive seeder.
func (p *Planner) SimulateCandidates(ctx context.Context, urls []string) []SimulatedCandidate {
	out := make([]SimulatedCandidate, 0, len(urls))
	for _, raw := range urls {
		step := Step{
			Action:        ActionExploreHub,
			TargetURL:     raw,
			ExpectedValue: hubValueEstimate(raw),
			Cost:          90,
			Probability:   0.55,
		}
		sim := p.Simulate(ctx, []Step{step})
		out = append(out, SimulatedCandidate{
			URL:           raw,
			Feasible:      sim.Feasible,
			ExpectedValue: sim.TotalValue,
		})
	}
	return out
}

// hubValueEstimate scores a hub candidate by path shape: shallower
// section pages are worth more.
func hubValueEstimate(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	depth := strings.Count(strings.Trim(u.Path, "/"), "/") + 1
	if u.Path == "" || u.Path == "/" {
		depth = 0
	}
	return 600 / float64(depth+1)
}

func defaultProbability(step Step) float64 {
	switch step.Action {
	case ActionFetchArticle:
		return 0.5
	case ActionExploreHub:
		return 0.55
	case ActionDiscoverLinks:
		return 0.8
	}
	return 0.5
}
