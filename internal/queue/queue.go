// Package queue holds the per-job priority queue of pending requests.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/news-crawler/newscrawl/internal/storage"
)

// Bucket orders pending requests by strategic tier.
type Bucket int

const (
	// Discovery holds nav/sitemap pages (lowest priority).
	Discovery Bucket = iota
	// Acquisition holds expected articles and valuable hubs.
	Acquisition
	// PlanDirected holds URLs contributed by a confirmed plan.
	PlanDirected

	bucketCount
)

func (b Bucket) String() string {
	switch b {
	case Discovery:
		return "discovery"
	case Acquisition:
		return "acquisition"
	case PlanDirected:
		return "plan-directed"
	}
	return "unknown"
}

// Source describes how a request entered the queue; it fixes the base
// priority tier.
type Source string

const (
	SourceSeed         Source = "seed"
	SourceDiscovery    Source = "discovery"
	SourceArticle      Source = "article-candidate"
	SourceHub          Source = "hub-candidate"
	SourcePlan         Source = "plan"
	SourceSitemap      Source = "sitemap"
)

// Request is one pending fetch.
type Request struct {
	URLID         int64
	Host          string
	Priority      float64
	Depth         int
	Source        Source
	JobID         int64
	ExpectedValue float64

	// seq breaks ties deterministically by enqueue order
	seq int64
}

// BucketFor maps a source to its queue bucket.
func BucketFor(src Source) Bucket {
	switch src {
	case SourcePlan:
		return PlanDirected
	case SourceHub, SourceArticle, SourceSeed:
		return Acquisition
	default:
		return Discovery
	}
}

// HostGate answers whether a host may start a request now. The pacer
// satisfies this.
type HostGate interface {
	Ready(host string, now time.Time) bool
}

// Queue is a deduplicated, priority-ordered set of pending requests
// split into buckets. It is owned by one crawl job.
type Queue struct {
	mu      sync.Mutex
	buckets [bucketCount][]*Request
	pending map[int64]*Request // url_id -> queued request
	visited map[int64]int      // url_id -> depth visited at
	nextSeq int64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		pending: make(map[int64]*Request),
		visited: make(map[int64]int),
	}
}

// Enqueue adds a request. It returns false when the URL is already
// pending, or was already visited by this job at an equal or shallower
// depth.
func (q *Queue) Enqueue(req *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.pending[req.URLID]; dup {
		return false
	}
	if depth, seen := q.visited[req.URLID]; seen && depth <= req.Depth {
		return false
	}

	req.seq = q.nextSeq
	q.nextSeq++

	b := BucketFor(req.Source)
	items := q.buckets[b]
	idx := sort.Search(len(items), func(i int) bool { return less(req, items[i]) })
	items = append(items, nil)
	copy(items[idx+1:], items[idx:])
	items[idx] = req
	q.buckets[b] = items

	q.pending[req.URLID] = req
	return true
}

// less orders requests within a bucket: priority desc, expected value
// desc, enqueue order asc.
func less(a, b *Request) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.ExpectedValue != b.ExpectedValue {
		return a.ExpectedValue > b.ExpectedValue
	}
	return a.seq < b.seq
}

// DequeueReady removes and returns the highest-priority request whose
// host the gate permits now, scanning plan-directed first. Returns nil
// when nothing is ready.
func (q *Queue) DequeueReady(now time.Time, gate HostGate) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	for b := int(bucketCount) - 1; b >= 0; b-- {
		items := q.buckets[b]
		for i, req := range items {
			if gate != nil && !gate.Ready(req.Host, now) {
				continue
			}
			q.buckets[b] = append(items[:i], items[i+1:]...)
			delete(q.pending, req.URLID)
			return req
		}
	}
	return nil
}

// MarkVisited records that a URL was processed at a depth, blocking
// future re-enqueues at that depth or deeper.
func (q *Queue) MarkVisited(urlID int64, depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.visited[urlID]; !ok || depth < prev {
		q.visited[urlID] = depth
	}
}

// HasVisited reports whether a URL was already processed.
func (q *Queue) HasVisited(urlID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.visited[urlID]
	return ok
}

// Size returns the total pending count.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// SizeByBucket returns pending counts per bucket.
func (q *Queue) SizeByBucket() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sizes := make(map[string]int, bucketCount)
	for b := Bucket(0); b < bucketCount; b++ {
		sizes[b.String()] = len(q.buckets[b])
	}
	return sizes
}

// Domains returns the distinct hosts with pending work.
func (q *Queue) Domains() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{})
	for _, req := range q.pending {
		seen[req.Host] = struct{}{}
	}
	domains := make([]string, 0, len(seen))
	for h := range seen {
		domains = append(domains, h)
	}
	sort.Strings(domains)
	return domains
}

// PendingForHost counts pending requests for one host.
func (q *Queue) PendingForHost(host string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, req := range q.pending {
		if req.Host == host {
			n++
		}
	}
	return n
}

// Resolver maps URL IDs back to hosts during rehydration.
type Resolver interface {
	HostOf(id int64) (string, error)
}

// Rehydrate rebuilds the in-memory queue of a paused job from its
// persisted queue events: every discovered/enqueued URL with no
// terminal follow-up re-enters the discovery bucket at its recorded
// depth, and visited URLs are re-marked so they are never re-fetched.
func (q *Queue) Rehydrate(db *storage.Database, urls Resolver, jobID int64) (int, error) {
	visited, err := db.VisitedURLIDs(jobID)
	if err != nil {
		return 0, err
	}
	events, err := db.PendingQueueEvents(jobID)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	for id := range visited {
		if _, ok := q.visited[id]; !ok {
			q.visited[id] = 0
		}
	}
	q.mu.Unlock()

	restored := 0
	for _, e := range events {
		host, err := urls.HostOf(e.URLID)
		if err != nil {
			continue
		}
		if q.Enqueue(&Request{
			URLID:  e.URLID,
			Host:   host,
			Depth:  e.Depth,
			Source: SourceDiscovery,
			JobID:  jobID,
		}) {
			restored++
		}
	}
	return restored, nil
}
