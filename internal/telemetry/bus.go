// Package telemetry carries milestones, progress, problems, stage
// updates, and plan events to persistence and live subscribers.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind enumerates event categories on the bus.
type EventKind string

const (
	KindMilestone   EventKind = "milestone"
	KindProgress    EventKind = "progress"
	KindProblem     EventKind = "problem"
	KindPlanStage   EventKind = "plan-stage"
	KindPlanPreview EventKind = "plan-preview"
	KindPlanStatus  EventKind = "plan-status"
)

// Event is the unit carried on the bus.
type Event struct {
	JobID     int64          `json:"job_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Kind      EventKind      `json:"kind"`
	TS        time.Time      `json:"ts"`
	Details   map[string]any `json:"details,omitempty"`
}

// Progress is the payload shape of progress events.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent float64 `json:"percent"`
	Phase   string `json:"phase"`
	Details string `json:"details,omitempty"`
}

// Sink observes every published event. Persistence hangs off the bus
// through a sink.
type Sink interface {
	Consume(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

// Consume implements Sink.
func (f SinkFunc) Consume(e Event) { f(e) }

const subscriberBuffer = 256

// Bus is the process-wide telemetry fan-out.
type Bus struct {
	mu    sync.RWMutex
	subs  map[int64]chan Event
	next  int64
	sinks []Sink
	log   *zap.Logger
}

// NewBus creates a telemetry bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		subs: make(map[int64]chan Event),
		log:  log,
	}
}

// AddSink registers a synchronous sink, called on the publisher's
// goroutine for every event.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe registers a live subscriber. The channel is buffered; when
// a subscriber falls behind the oldest buffered event is dropped so
// publishers never block.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish stamps and fans out an event.
func (b *Bus) Publish(e Event) {
	if e.TS.IsZero() {
		e.TS = time.Now()
	}

	b.mu.RLock()
	sinks := b.sinks
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Consume(e)
	}
}

// Milestone publishes a milestone event.
func (b *Bus) Milestone(jobID int64, kind string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["milestone"] = kind
	b.Publish(Event{JobID: jobID, Kind: KindMilestone, Details: details})
}

// Progress publishes a progress event.
func (b *Bus) Progress(jobID int64, p Progress) {
	if p.Total > 0 {
		p.Percent = float64(p.Current) / float64(p.Total) * 100
	}
	b.Publish(Event{JobID: jobID, Kind: KindProgress, Details: map[string]any{
		"current": p.Current,
		"total":   p.Total,
		"percent": p.Percent,
		"phase":   p.Phase,
		"details": p.Details,
	}})
}

// Problem publishes a problem event.
func (b *Bus) Problem(jobID int64, severity, code, message string, urlID int64) {
	details := map[string]any{
		"severity": severity,
		"code":     code,
		"message":  message,
	}
	if urlID > 0 {
		details["url_id"] = urlID
	}
	b.Publish(Event{JobID: jobID, Kind: KindProblem, Details: details})
}

// PlanStatus publishes a planning-session state transition.
func (b *Bus) PlanStatus(sessionID, status string) {
	b.Publish(Event{SessionID: sessionID, Kind: KindPlanStatus, Details: map[string]any{
		"status": status,
	}})
}

// PlanStage publishes a planner sub-stage update.
func (b *Bus) PlanStage(sessionID, stage string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["stage"] = stage
	b.Publish(Event{SessionID: sessionID, Kind: KindPlanStage, Details: details})
}
