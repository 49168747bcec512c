package storage

import "time"

// JobStatus enumerates crawl job lifecycle states.
type JobStatus string

const (
	JobPreparing JobStatus = "preparing"
	JobPlanning  JobStatus = "planning"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// QueueAction enumerates queue event actions.
type QueueAction string

const (
	ActionDiscovered QueueAction = "discovered"
	ActionEnqueued   QueueAction = "enqueued"
	ActionVisited    QueueAction = "visited"
	ActionSaved      QueueAction = "saved"
	ActionSkipped    QueueAction = "skipped"
	ActionFailed     QueueAction = "failed"
)

// StorageType enumerates content placement tiers.
type StorageType string

const (
	StorageInline StorageType = "inline"
	StorageBucket StorageType = "bucket"
	StorageFile   StorageType = "file"
)

// URL is a row in the urls table.
type URL struct {
	ID        int64
	Canonical string
	Host      string
	FirstSeen time.Time
	LastSeen  time.Time
}

// HTTPResponse is a persisted fetch result.
type HTTPResponse struct {
	ID             int64
	URLID          int64
	StatusCode     int
	FetchedAt      time.Time
	Headers        map[string][]string
	ContentRef     int64
	ResponseTimeMS int64
	TTFBMS         int64
	Outcome        string
}

// ContentRef describes stored content.
type ContentRef struct {
	ID               int64
	StorageType      StorageType
	PresetID         int
	SHA256           string
	UncompressedSize int64
	CompressedSize   int64
}

// Analysis is the classifier output for one content row.
type Analysis struct {
	ContentID        int64
	Classification   string
	Title            string
	PublishedDate    string
	WordCount        int
	Language         string
	NavLinkCount     int
	ArticleLinkCount int
	PlaceIDs         []int64
	TopicIDs         []string
	Signals          map[string]any
}

// Link is a directed edge between URLs.
type Link struct {
	SrcURLID   int64
	DstURLID   int64
	AnchorText string
	Rel        string
	DepthDelta int
}

// CrawlJob is a row in crawl_jobs.
type CrawlJob struct {
	ID        int64
	URLID     int64
	Status    JobStatus
	PlanID    int64
	StartedAt time.Time
	EndedAt   time.Time
	ArgsJSON  string
}

// QueueEvent is an append-only observation of one URL in one job.
type QueueEvent struct {
	ID     int64
	JobID  int64
	Action QueueAction
	URLID  int64
	Depth  int
	TS     time.Time
}

// IncompleteJob summarises a resumable crawl job.
type IncompleteJob struct {
	JobID        int64
	SeedURL      string
	Status       JobStatus
	QueueDepth   int
	VisitedCount int
}

// PlaceKind enumerates gazetteer place kinds.
type PlaceKind string

const (
	PlaceCountry PlaceKind = "country"
	PlaceRegion  PlaceKind = "region"
	PlaceCity    PlaceKind = "city"
	PlaceOther   PlaceKind = "other"
)

// Place is a gazetteer entity.
type Place struct {
	ID              int64
	Kind            PlaceKind
	CanonicalNameID int64
	CountryCode     string
	Lat             float64
	Lng             float64
	Population      int64
	ExtraJSON       string
}

// PlaceName is one name of a place.
type PlaceName struct {
	ID      int64
	PlaceID int64
	Text    string
	Lang    string
	Kind    string
}

// ExternalID ties a place to an external source identifier.
type ExternalID struct {
	PlaceID int64
	Source  string
	ExtID   string
}

// HierarchyEdge relates a child place to a parent place.
type HierarchyEdge struct {
	ParentID int64
	ChildID  int64
	Relation string
}

// IngestionRun records one run of one ingestion source version.
type IngestionRun struct {
	ID            int64
	Source        string
	SourceVersion string
	StartedAt     time.Time
	CompletedAt   time.Time
	Status        string
	StatsJSON     string
}

// PlanRecord is a persisted plan.
type PlanRecord struct {
	ID               int64
	Domain           string
	Goal             string
	StepsJSON        string
	EstimatedValue   float64
	EstimatedCost    float64
	Probability      float64
	Lookahead        int
	BranchesExplored int
	Truncated        bool
}

// PlanOutcome records post-execution results for learning.
type PlanOutcome struct {
	PlanID           int64
	JobID            int64
	StepsCompleted   int
	Backtracks       int
	ActualValue      float64
	PerformanceRatio float64
	FailureReason    string
}

// HeuristicWeight is an aggregated planning heuristic.
type HeuristicWeight struct {
	Domain           string
	PatternSignature string
	Weight           float64
	SampleCount      int
}

// TaskRow persists a background task.
type TaskRow struct {
	ID           string
	Kind         string
	Status       string
	ProgressJSON string
	ParamsJSON   string
	StartedAt    time.Time
	PausedAt     time.Time
}

// CacheRow persists one HTTP cache entry.
type CacheRow struct {
	Fingerprint      string
	URL              string
	SubType          string
	HeadersJSON      string
	Body             []byte
	PresetID         int
	UncompressedSize int64
	CreatedAt        time.Time
	TTLSeconds       int64
	HitCount         int64
}
