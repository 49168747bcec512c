package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
)

func testPlanning() config.Planning {
	return config.Planning{
		MaxLookahead:         3,
		MaxBranches:          5,
		BudgetMS:             500,
		SimulationCandidates: 5,
		MaxBacktracks:        3,
		LearningEnabled:      false,
	}
}

func testState() *State {
	gaz := gazetteer.NewIndex()
	gaz.Add("France", 1)
	gaz.Add("Germany", 2)
	return &State{
		Domain:    "news.example",
		SeedURL:   "https://news.example/",
		Goal:      "maximise article acquisition",
		Targeted:  make(map[string]struct{}),
		Gazetteer: gaz,
		Topics:    analyzer.NewDefaultTopicIndex(),
	}
}

func TestGeneratePlan(t *testing.T) {
	p := New(testPlanning(), nil, zap.NewNop())

	var stages []string
	plan, err := p.GeneratePlan(context.Background(), testState(), func(stage string, _ map[string]any) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)

	require.NotEmpty(t, plan.Steps)
	assert.LessOrEqual(t, len(plan.Steps), 3)
	assert.Greater(t, plan.EstimatedValue, 0.0)
	assert.Greater(t, plan.BranchesExplored, 0)
	assert.Equal(t, StatusStrategic, plan.Status)
	assert.Equal(t, []string{"search-start", "search-complete"}, stages)

	// Every step targets a well-formed URL on the plan's domain
	for _, step := range plan.Steps {
		assert.Contains(t, step.TargetURL, "https://news.example/")
		assert.Greater(t, step.ExpectedValue, 0.0)
	}
}

func TestGeneratePlanDeterministic(t *testing.T) {
	p := New(testPlanning(), nil, zap.NewNop())

	a, err := p.GeneratePlan(context.Background(), testState(), nil)
	require.NoError(t, err)
	b, err := p.GeneratePlan(context.Background(), testState(), nil)
	require.NoError(t, err)
	assert.Equal(t, a.Steps, b.Steps)
}

func TestGeneratePlanBudgetTruncation(t *testing.T) {
	cfg := testPlanning()
	cfg.BudgetMS = 0 // expires immediately
	cfg.MaxLookahead = 5
	p := New(cfg, nil, zap.NewNop())

	start := time.Now()
	plan, err := p.GeneratePlan(context.Background(), testState(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, plan.Truncated)
}

func TestSimulate(t *testing.T) {
	p := New(testPlanning(), nil, zap.NewNop())
	ctx := context.Background()

	sim := p.Simulate(ctx, []Step{
		{Action: ActionExploreHub, TargetURL: "https://news.example/world", ExpectedValue: 400, Cost: 80, Probability: 0.7},
		{Action: ActionFetchArticle, TargetURL: "https://news.example/world/story", ExpectedValue: 800, Cost: 100, Probability: 0.6},
	})
	assert.True(t, sim.Feasible)
	assert.InDelta(t, 400*0.7+800*0.6, sim.TotalValue, 0.01)
	assert.InDelta(t, 180, sim.TotalCost, 0.01)

	sim = p.Simulate(ctx, []Step{{Action: ActionFetchArticle, TargetURL: "::not a url::"}})
	assert.False(t, sim.Feasible)
}

func TestSimulateCandidates(t *testing.T) {
	p := New(testPlanning(), nil, zap.NewNop())

	ranked := p.SimulateCandidates(context.Background(), []string{
		"https://news.example/world",
		"https://news.example/world/europe/politics",
		"not-a-url",
	})
	require.Len(t, ranked, 3)
	assert.True(t, ranked[0].Feasible)
	assert.True(t, ranked[1].Feasible)
	assert.False(t, ranked[2].Feasible)
	// Shallower hubs score higher
	assert.Greater(t, ranked[0].ExpectedValue, ranked[1].ExpectedValue)
}

func TestPlanStateMachine(t *testing.T) {
	plan := &Plan{Status: StatusStrategic}
	require.NoError(t, plan.Transition(StatusSimulated))
	require.NoError(t, plan.Transition(StatusConfirmed))
	require.NoError(t, plan.Transition(StatusExecuting))
	require.NoError(t, plan.Transition(StatusCompleted))

	assert.Error(t, plan.Transition(StatusExecuting))
	assert.Error(t, (&Plan{Status: StatusStrategic}).Transition(StatusExecuting))
}

// Scenario: five equal-value steps, two strong results then two weak
// ones trigger a backtrack onto an alternative branch.
func TestExecutionBacktrack(t *testing.T) {
	steps := make([]Step, 5)
	for i := range steps {
		steps[i] = Step{Action: ActionFetchArticle, TargetURL: "https://news.example/s", ExpectedValue: 800, Probability: 0.6}
	}
	plan := &Plan{Domain: "news.example", Steps: steps, Status: StatusConfirmed}

	exec, err := NewExecution(plan, 3)
	require.NoError(t, err)

	assert.Equal(t, DecisionContinue, exec.RecordStep(900))
	assert.Equal(t, DecisionContinue, exec.RecordStep(850))
	assert.Equal(t, DecisionContinue, exec.RecordStep(50)) // first low step
	assert.Equal(t, DecisionBacktrack, exec.RecordStep(80))
	assert.Equal(t, StatusBacktracking, plan.Status)

	alternative := []Step{{Action: ActionExploreHub, TargetURL: "https://news.example/alt", ExpectedValue: 400, Probability: 0.6}}
	require.NoError(t, exec.ApplyBacktrack(alternative))
	assert.Equal(t, StatusExecuting, plan.Status)

	assert.Equal(t, DecisionComplete, exec.RecordStep(500))

	completed, backtracks, actual, ratio, failure := exec.Outcome()
	assert.Equal(t, 5, completed)
	assert.GreaterOrEqual(t, backtracks, 1)
	assert.InDelta(t, 2380, actual, 0.01)
	assert.Greater(t, ratio, 0.0)
	assert.Empty(t, failure)
}

func TestExecutionBacktrackBudgetExhausted(t *testing.T) {
	steps := make([]Step, 10)
	for i := range steps {
		steps[i] = Step{Action: ActionFetchArticle, TargetURL: "https://news.example/s", ExpectedValue: 800}
	}
	plan := &Plan{Steps: steps, Status: StatusConfirmed}

	exec, err := NewExecution(plan, 0)
	require.NoError(t, err)

	assert.Equal(t, DecisionContinue, exec.RecordStep(10))
	assert.Equal(t, DecisionAbort, exec.RecordStep(10))
	assert.Equal(t, StatusAborted, plan.Status)
	assert.True(t, exec.Done())
}

func TestAlternativeBranchAvoidsFailedTargets(t *testing.T) {
	p := New(testPlanning(), nil, zap.NewNop())
	st := testState()

	failed := []Step{{Action: ActionExploreHub, TargetURL: "https://news.example/news"}}
	alt := p.AlternativeBranch(st, failed)
	require.NotEmpty(t, alt)
	assert.NotEqual(t, "https://news.example/news", alt[0].TargetURL)
}
