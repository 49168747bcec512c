package planner

import (
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/storage"
)

// aggregationEvery folds outcomes into heuristic weights after this
// many completed plans per domain.
const aggregationEvery = 10

// Learner records plan outcomes and periodically aggregates them into
// the heuristic weights reasoners consult.
type Learner struct {
	db      *storage.Database
	enabled bool
	log     *zap.Logger
}

// NewLearner creates the outcome learner.
func NewLearner(db *storage.Database, enabled bool, log *zap.Logger) *Learner {
	return &Learner{db: db, enabled: enabled, log: log}
}

// RecordOutcome persists the execution outcome and its per-step
// results, then aggregates heuristics when the cadence is reached.
func (l *Learner) RecordOutcome(plan *Plan, jobID int64, exec *Execution) error {
	if !l.enabled {
		return nil
	}

	steps, backtracks, actual, ratio, failure := exec.Outcome()
	if err := l.db.PutPlanOutcome(&storage.PlanOutcome{
		PlanID:           plan.ID,
		JobID:            jobID,
		StepsCompleted:   steps,
		Backtracks:       backtracks,
		ActualValue:      actual,
		PerformanceRatio: ratio,
		FailureReason:    failure,
	}); err != nil {
		return err
	}

	count, err := l.db.CountPlanOutcomes(plan.Domain)
	if err != nil {
		return err
	}
	if count%aggregationEvery == 0 {
		if err := l.db.AggregateOutcomes(plan.Domain); err != nil {
			return err
		}
		l.log.Info("aggregated planning heuristics",
			zap.String("domain", plan.Domain),
			zap.Int("outcomes", count))
	}
	return nil
}

// RecordStepResult persists one executed step's actual value.
func (l *Learner) RecordStepResult(plan *Plan, stepIndex int, step Step, actual float64) {
	if !l.enabled {
		return
	}
	if err := l.db.PutPlanStepResult(plan.ID, stepIndex, string(step.Action), step.TargetURLID, step.ExpectedValue, actual); err != nil {
		l.log.Warn("step result persist failed", zap.Error(err))
	}
}

// Weights loads learned weights for a domain; empty when learning is
// disabled or nothing is recorded yet.
func (l *Learner) Weights(domain string) map[string]float64 {
	if !l.enabled {
		return nil
	}
	weights, err := l.db.HeuristicWeights(domain)
	if err != nil {
		l.log.Warn("heuristic load failed", zap.Error(err))
		return nil
	}
	return weights
}
