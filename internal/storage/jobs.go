package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
)

// CreateJob inserts a crawl job in the preparing state.
func (d *Database) CreateJob(urlID int64, argsJSON string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(`
		INSERT INTO crawl_jobs (url_id, status, args_json) VALUES (?, ?, ?)
	`, urlID, JobPreparing, argsJSON)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return res.LastInsertId()
}

// SetJobStatus transitions a job's status; terminal states stamp ended_at.
func (d *Database) SetJobStatus(jobID int64, status JobStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	switch status {
	case JobCompleted, JobFailed, JobCancelled:
		_, err = d.db.Exec(`UPDATE crawl_jobs SET status = ?, ended_at = CURRENT_TIMESTAMP WHERE id = ?`, status, jobID)
	default:
		_, err = d.db.Exec(`UPDATE crawl_jobs SET status = ? WHERE id = ?`, status, jobID)
	}
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// SetJobPlan attaches a confirmed plan to a job.
func (d *Database) SetJobPlan(jobID, planID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`UPDATE crawl_jobs SET plan_id = ? WHERE id = ?`, planID, jobID)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// GetJob loads one crawl job.
func (d *Database) GetJob(jobID int64) (*CrawlJob, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var job CrawlJob
	var planID sql.NullInt64
	var ended sql.NullTime
	var args sql.NullString
	err := d.db.QueryRow(`
		SELECT id, url_id, status, plan_id, started_at, ended_at, args_json
		FROM crawl_jobs WHERE id = ?
	`, jobID).Scan(&job.ID, &job.URLID, &job.Status, &planID, &job.StartedAt, &ended, &args)
	if err == sql.ErrNoRows {
		return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown job %d", jobID)
	}
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	job.PlanID = planID.Int64
	if ended.Valid {
		job.EndedAt = ended.Time
	}
	job.ArgsJSON = args.String
	return &job, nil
}

// IncompleteJobs lists jobs that can be resumed, with queue summary
// statistics derived from queue events.
func (d *Database) IncompleteJobs() ([]*IncompleteJob, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT j.id, u.canonical, j.status,
			(SELECT COUNT(DISTINCT q.url_id) FROM queue_events q
				WHERE q.job_id = j.id AND q.action IN ('discovered','enqueued')
				AND q.url_id NOT IN (SELECT url_id FROM queue_events
					WHERE job_id = j.id AND action IN ('visited','saved','skipped','failed'))),
			(SELECT COUNT(DISTINCT q.url_id) FROM queue_events q
				WHERE q.job_id = j.id AND q.action = 'visited')
		FROM crawl_jobs j JOIN urls u ON u.id = j.url_id
		WHERE j.status IN ('running','paused','preparing','planning')
		ORDER BY j.started_at DESC
	`)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var jobs []*IncompleteJob
	for rows.Next() {
		var j IncompleteJob
		if err := rows.Scan(&j.JobID, &j.SeedURL, &j.Status, &j.QueueDepth, &j.VisitedCount); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// LogQueueEvent appends one queue event.
func (d *Database) LogQueueEvent(jobID int64, action QueueAction, urlID int64, depth int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO queue_events (job_id, action, url_id, depth) VALUES (?, ?, ?, ?)
	`, jobID, action, urlID, depth)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// PendingQueueEvents returns, per URL with no terminal follow-up, the
// discovered/enqueued event with the shallowest depth. Used to
// rehydrate a paused job.
func (d *Database) PendingQueueEvents(jobID int64) ([]*QueueEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT q.id, q.job_id, q.action, q.url_id, MIN(q.depth), q.ts
		FROM queue_events q
		WHERE q.job_id = ? AND q.action IN ('discovered','enqueued')
		AND q.url_id NOT IN (
			SELECT url_id FROM queue_events
			WHERE job_id = ? AND action IN ('visited','saved','skipped','failed')
		)
		GROUP BY q.url_id
		ORDER BY q.id ASC
	`, jobID, jobID)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	var events []*QueueEvent
	for rows.Next() {
		var e QueueEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Action, &e.URLID, &e.Depth, &e.TS); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// VisitedURLIDs returns the URL IDs a job has already visited or saved.
func (d *Database) VisitedURLIDs(jobID int64) (map[int64]struct{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT DISTINCT url_id FROM queue_events
		WHERE job_id = ? AND action IN ('visited','saved')
	`, jobID)
	if err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	defer rows.Close()

	visited := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
		}
		visited[id] = struct{}{}
	}
	return visited, rows.Err()
}

// CountQueueEvents counts events of one action for a job.
func (d *Database) CountQueueEvents(jobID int64, action QueueAction) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(DISTINCT url_id) FROM queue_events WHERE job_id = ? AND action = ?
	`, jobID, action).Scan(&n)
	if err != nil {
		return 0, crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return n, nil
}

// PutMilestone persists a milestone event.
func (d *Database) PutMilestone(jobID int64, kind string, details map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	detailsJSON, _ := json.Marshal(details)
	var job any
	if jobID > 0 {
		job = jobID
	}
	_, err := d.db.Exec(`
		INSERT INTO milestones (job_id, kind, details_json) VALUES (?, ?, ?)
	`, job, kind, string(detailsJSON))
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}

// PutProblem persists a problem event.
func (d *Database) PutProblem(jobID int64, severity, code, message string, urlID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var job, url any
	if jobID > 0 {
		job = jobID
	}
	if urlID > 0 {
		url = urlID
	}
	_, err := d.db.Exec(`
		INSERT INTO problems (job_id, severity, code, message, url_id) VALUES (?, ?, ?, ?, ?)
	`, job, severity, code, message, url)
	if err != nil {
		return crawlerr.Wrap(crawlerr.KindStorageFailure, err)
	}
	return nil
}
