// Package plansession manages transient preview sessions between the
// planner and crawl execution.
package plansession

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/planner"
	"github.com/news-crawler/newscrawl/internal/telemetry"
)

// Status is the planning session lifecycle.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusReady     Status = "ready"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// DefaultTTL bounds how long an unconfirmed session survives.
const DefaultTTL = 10 * time.Minute

// Options are the crawl parameters captured at session creation. The
// fingerprint over them detects stale confirmations.
type Options struct {
	SeedURL   string         `json:"seed_url"`
	CrawlType string         `json:"crawl_type"`
	MaxPages  int            `json:"max_pages"`
	MaxDepth  int            `json:"max_depth"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Fingerprint hashes the options for staleness detection.
func (o Options) Fingerprint() string {
	data, _ := json.Marshal(o)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Blueprint is the finished preview handed to confirmation.
type Blueprint struct {
	Plan       *planner.Plan `json:"plan,omitempty"`
	SeedURLs   []string      `json:"seed_urls"`
	Domain     string        `json:"domain"`
	Estimated  float64       `json:"estimated_value"`
}

// Session is one preview context.
type Session struct {
	ID          string
	Domain      string
	Options     Options
	fingerprint string
	Status      Status
	Blueprint   *Blueprint
	CreatedAt   time.Time
	ExpiresAt   time.Time
	FailureMsg  string
}

// Snapshot is the read-only view of a session.
type Snapshot struct {
	ID        string
	Domain    string
	Status    Status
	Blueprint *Blueprint
	ExpiresAt time.Time
}

// Manager owns the in-memory session map. It is process-wide; one
// mutex guards every session, which makes confirm and cancel mutually
// exclusive.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byDomain map[string]string // domain -> active session id

	ttl            time.Duration
	allowMultiple  bool // relax the one-session-per-domain rule
	bus            *telemetry.Bus
	log            *zap.Logger
}

// NewManager creates a session manager publishing transitions on bus.
func NewManager(bus *telemetry.Bus, log *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byDomain: make(map[string]string),
		ttl:      DefaultTTL,
		bus:      bus,
		log:      log,
	}
}

// SetTTL overrides the session TTL (tests).
func (m *Manager) SetTTL(ttl time.Duration) { m.ttl = ttl }

// AllowMultiplePerDomain relaxes the single-active-session rule.
func (m *Manager) AllowMultiplePerDomain(allow bool) { m.allowMultiple = allow }

// Create opens a session for a target domain. At most one active
// session per domain is permitted by default.
func (m *Manager) Create(domain string, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()

	if !m.allowMultiple {
		if existing, ok := m.byDomain[domain]; ok {
			return nil, crawlerr.Wrapf(crawlerr.KindPreconditionFailed,
				"domain %s already has active session %s", domain, existing)
		}
	}

	s := &Session{
		ID:          uuid.NewString(),
		Domain:      domain,
		Options:     opts,
		fingerprint: opts.Fingerprint(),
		Status:      StatusPlanning,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(m.ttl),
	}
	m.sessions[s.ID] = s
	m.byDomain[domain] = s.ID

	m.bus.PlanStatus(s.ID, string(StatusPlanning))
	return s, nil
}

// AppendStageEvent publishes a planner sub-stage update for a session.
func (m *Manager) AppendStageEvent(sessionID, stage string, details map[string]any) {
	m.bus.PlanStage(sessionID, stage, details)
}

// CompleteWithBlueprint attaches the finished preview and marks the
// session ready.
func (m *Manager) CompleteWithBlueprint(sessionID string, bp *Blueprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.activeLocked(sessionID)
	if err != nil {
		return err
	}
	if s.Status != StatusPlanning {
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s is %s", sessionID, s.Status)
	}
	s.Blueprint = bp
	s.Status = StatusReady

	m.bus.PlanStatus(sessionID, string(StatusReady))
	m.bus.Publish(telemetry.Event{
		SessionID: sessionID,
		Kind:      telemetry.KindPlanPreview,
		Details: map[string]any{
			"domain":          bp.Domain,
			"seed_urls":       bp.SeedURLs,
			"estimated_value": bp.Estimated,
			"has_plan":        bp.Plan != nil,
		},
	})
	return nil
}

// Fail marks a session failed with a reason.
func (m *Manager) Fail(sessionID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.Status = StatusFailed
	s.FailureMsg = reason
	delete(m.byDomain, s.Domain)
	m.bus.PlanStatus(sessionID, string(StatusFailed))
}

// Confirm atomically transitions a ready session to confirmed and
// returns it for crawl-job creation. A session confirms at most once;
// a fingerprint mismatch reports a stale confirmation.
func (m *Manager) Confirm(sessionID, optionFingerprint string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.activeLocked(sessionID)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case StatusReady:
	case StatusConfirmed:
		return nil, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s already confirmed", sessionID)
	default:
		return nil, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s is %s", sessionID, s.Status)
	}

	if optionFingerprint != "" && optionFingerprint != s.fingerprint {
		return nil, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s options changed since preview", sessionID)
	}

	s.Status = StatusConfirmed
	delete(m.byDomain, s.Domain)
	m.bus.PlanStatus(sessionID, string(StatusConfirmed))
	return s, nil
}

// Cancel aborts a session.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.activeLocked(sessionID)
	if err != nil {
		return err
	}
	if s.Status == StatusConfirmed {
		return crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s already confirmed", sessionID)
	}
	s.Status = StatusCancelled
	delete(m.byDomain, s.Domain)
	m.bus.PlanStatus(sessionID, string(StatusCancelled))
	return nil
}

// GetReadOnly returns a snapshot of a session.
func (m *Manager) GetReadOnly(sessionID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown session %s", sessionID)
	}
	return &Snapshot{
		ID:        s.ID,
		Domain:    s.Domain,
		Status:    s.Status,
		Blueprint: s.Blueprint,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// Fingerprint returns the option fingerprint captured at creation.
func (m *Manager) Fingerprint(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown session %s", sessionID)
	}
	return s.fingerprint, nil
}

// activeLocked resolves a session, expiring it first when past TTL.
func (m *Manager) activeLocked(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "unknown session %s", sessionID)
	}
	if s.Status != StatusConfirmed && s.Status != StatusCancelled && s.Status != StatusFailed &&
		time.Now().After(s.ExpiresAt) {
		s.Status = StatusExpired
		delete(m.byDomain, s.Domain)
		m.bus.PlanStatus(s.ID, string(StatusExpired))
	}
	if s.Status == StatusExpired {
		return nil, crawlerr.Wrapf(crawlerr.KindPreconditionFailed, "session %s expired", sessionID)
	}
	return s, nil
}

// expireLocked sweeps sessions past their TTL.
func (m *Manager) expireLocked() {
	now := time.Now()
	for _, s := range m.sessions {
		if s.Status == StatusPlanning || s.Status == StatusReady {
			if now.After(s.ExpiresAt) {
				s.Status = StatusExpired
				delete(m.byDomain, s.Domain)
				m.bus.PlanStatus(s.ID, string(StatusExpired))
			}
		}
	}
}
