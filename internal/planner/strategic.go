package planner

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/config"
)

// pruneRatio drops branches whose optimistic bound falls below this
// share of the best complete plan found so far.
const pruneRatio = 0.5

// Planner runs strategic search, tactical simulation, and execution
// tracking for one domain.
type Planner struct {
	cfg       config.Planning
	reasoners []Reasoner
	cost      CostReasoner
	log       *zap.Logger
}

// New creates a planner with the standard reasoner set.
func New(cfg config.Planning, reasoners []Reasoner, log *zap.Logger) *Planner {
	if len(reasoners) == 0 {
		reasoners = []Reasoner{GraphReasoner{}, GazetteerReasoner{}}
	}
	return &Planner{cfg: cfg, reasoners: reasoners, log: log}
}

// StageFunc observes search progress (depth reached, branches so far).
type StageFunc func(stage string, details map[string]any)

// GeneratePlan runs branch-and-bound search from the state and returns
// the best plan found within the time budget. When the budget expires
// mid-search the best plan so far is returned with Truncated set.
func (p *Planner) GeneratePlan(ctx context.Context, st *State, onStage StageFunc) (*Plan, error) {
	budget := time.Duration(p.cfg.BudgetMS) * time.Millisecond
	deadline := time.Now().Add(budget)
	if onStage == nil {
		onStage = func(string, map[string]any) {}
	}

	search := &searchRun{
		planner:  p,
		state:    st,
		deadline: deadline,
		ctx:      ctx,
	}

	onStage("search-start", map[string]any{
		"lookahead":    p.cfg.MaxLookahead,
		"max_branches": p.cfg.MaxBranches,
	})

	search.explore(st, nil, 0, 0, 0, 1.0)

	plan := &Plan{
		Domain:           st.Domain,
		Goal:             st.Goal,
		Steps:            search.bestSteps,
		EstimatedValue:   search.bestValue,
		EstimatedCost:    search.bestCost,
		Probability:      search.bestProbability,
		Lookahead:        p.cfg.MaxLookahead,
		BranchesExplored: search.branches,
		Truncated:        search.truncated,
		Status:           StatusStrategic,
	}

	onStage("search-complete", map[string]any{
		"branches_explored": search.branches,
		"estimated_value":   plan.EstimatedValue,
		"truncated":         plan.Truncated,
	})

	return plan, nil
}

type searchRun struct {
	planner  *Planner
	state    *State
	ctx      context.Context
	deadline time.Time

	bestSteps       []Step
	bestValue       float64
	bestCost        float64
	bestProbability float64
	branches        int
	truncated       bool
}

// overBudget checks the planner deadline and context.
func (s *searchRun) overBudget() bool {
	if time.Now().After(s.deadline) {
		s.truncated = true
		return true
	}
	select {
	case <-s.ctx.Done():
		s.truncated = true
		return true
	default:
		return false
	}
}

// explore extends the partial plan depth-first. value/cost/probability
// accumulate along the path; prob multiplies.
func (s *searchRun) explore(st *State, partial []Step, depth int, value, cost float64, prob float64) {
	if depth > 0 {
		// Every partial path is a candidate plan
		if value > s.bestValue {
			s.bestValue = value
			s.bestCost = cost
			s.bestProbability = prob
			s.bestSteps = append([]Step(nil), partial...)
		}
	}
	if depth >= s.planner.cfg.MaxLookahead || s.overBudget() {
		return
	}

	candidates := s.propose(st, partial)
	if len(candidates) > s.planner.cfg.MaxBranches {
		candidates = candidates[:s.planner.cfg.MaxBranches]
	}

	for _, cand := range candidates {
		if s.overBudget() {
			return
		}
		s.branches++

		stepValue := cand.ExpectedValue * cand.Probability
		// Bound: assume every remaining level repeats this
		// candidate's step value
		remaining := float64(s.planner.cfg.MaxLookahead-depth) * stepValue
		if s.bestValue > 0 && value+remaining < s.bestValue*pruneRatio {
			continue
		}

		st.Targeted[cand.TargetURL] = struct{}{}
		s.explore(st, append(partial, cand), depth+1, value+stepValue, cost+cand.Cost, prob*cand.Probability)
		delete(st.Targeted, cand.TargetURL)
	}
}

// propose gathers candidates from every reasoner, reprices them, and
// orders them by expected value density.
func (s *searchRun) propose(st *State, partial []Step) []Step {
	var candidates []Step
	for _, r := range s.planner.reasoners {
		candidates = append(candidates, r.Propose(st, partial)...)
	}
	candidates = s.planner.cost.Reprice(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].ExpectedValue * candidates[i].Probability / (candidates[i].Cost + 1)
		dj := candidates[j].ExpectedValue * candidates[j].Probability / (candidates[j].Cost + 1)
		if di != dj {
			return di > dj
		}
		return candidates[i].TargetURL < candidates[j].TargetURL
	})
	return candidates
}
