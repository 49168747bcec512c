package storage

import (
	"database/sql"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
)

// PutPlan persists a generated plan.
func (d *Database) PutPlan(p *PlanRecord) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`
		INSERT INTO plans (domain, goal, steps_json, estimated_value, estimated_cost, probability, lookahead, branches_explored, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Domain, p.Goal, p.StepsJSON, p.EstimatedValue, p.EstimatedCost, p.Probability, p.Lookahead, p.BranchesExplored, p.Truncated)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.LastInsertId()
}

// GetPlan loads a persisted plan.
func (d *Database) GetPlan(id int64) (*PlanRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var p PlanRecord
	err := d.db.QueryRow(`
		SELECT id, domain, goal, steps_json, estimated_value, estimated_cost, probability, lookahead, branches_explored, truncated
		FROM plans WHERE id = ?
	`, id).Scan(&p.ID, &p.Domain, &p.Goal, &p.StepsJSON, &p.EstimatedValue, &p.EstimatedCost, &p.Probability, &p.Lookahead, &p.BranchesExplored, &p.Truncated)
	if err == sql.ErrNoRows {
		return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown plan %d", id)
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return &p, nil
}

// PutPlanOutcome records execution results for heuristic learning.
func (d *Database) PutPlanOutcome(o *PlanOutcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var job any
	if o.JobID > 0 {
		job = o.JobID
	}
	_, err := d.db.Exec(`
		INSERT INTO plan_outcomes (plan_id, job_id, steps_completed, backtracks, actual_value, performance_ratio, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.PlanID, job, o.StepsCompleted, o.Backtracks, o.ActualValue, o.PerformanceRatio, o.FailureReason)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// PutPlanStepResult records one executed plan step.
func (d *Database) PutPlanStepResult(planID int64, stepIndex int, actionType string, targetURLID int64, expected, actual float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var target any
	if targetURLID > 0 {
		target = targetURLID
	}
	_, err := d.db.Exec(`
		INSERT INTO plan_step_results (plan_id, step_index, action_type, target_url_id, expected_value, actual_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, planID, stepIndex, actionType, target, expected, actual)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// CountPlanOutcomes reports recorded outcomes for a domain ('' = all).
func (d *Database) CountPlanOutcomes(domain string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	var err error
	if domain == "" {
		err = d.db.QueryRow(`SELECT COUNT(*) FROM plan_outcomes`).Scan(&n)
	} else {
		err = d.db.QueryRow(`
			SELECT COUNT(*) FROM plan_outcomes o JOIN plans p ON p.id = o.plan_id WHERE p.domain = ?
		`, domain).Scan(&n)
	}
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return n, nil
}

// AggregateOutcomes folds plan outcomes into heuristic weights per
// (domain, action-pattern signature). Weight is the mean performance
// ratio clamped into [0.25, 4].
func (d *Database) AggregateOutcomes(domain string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(`
		SELECT r.action_type, AVG(CASE WHEN r.expected_value > 0 THEN r.actual_value / r.expected_value ELSE 1.0 END), COUNT(*)
		FROM plan_step_results r JOIN plans p ON p.id = r.plan_id
		WHERE p.domain = ?
		GROUP BY r.action_type
	`, domain)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	type agg struct {
		signature string
		weight    float64
		samples   int
	}
	var aggs []agg
	for rows.Next() {
		var a agg
		if err := rows.Scan(&a.signature, &a.weight, &a.samples); err != nil {
			rows.Close()
			return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		if a.weight < 0.25 {
			a.weight = 0.25
		}
		if a.weight > 4 {
			a.weight = 4
		}
		aggs = append(aggs, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}

	for _, a := range aggs {
		_, err := d.db.Exec(`
			INSERT INTO planning_heuristics (domain, pattern_signature, weight, sample_count, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(domain, pattern_signature) DO UPDATE SET
				weight = excluded.weight,
				sample_count = excluded.sample_count,
				updated_at = CURRENT_TIMESTAMP
		`, domain, a.signature, a.weight, a.samples)
		if err != nil {
			return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
	}
	return nil
}

// HeuristicWeights loads the heuristic table for a domain.
func (d *Database) HeuristicWeights(domain string) (map[string]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT pattern_signature, weight FROM planning_heuristics WHERE domain = ?
	`, domain)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var sig string
		var w float64
		if err := rows.Scan(&sig, &w); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		weights[sig] = w
	}
	return weights, rows.Err()
}
