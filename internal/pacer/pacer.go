// Package pacer enforces per-host request intervals, backoff, and
// concurrency caps, and evaluates robots.txt policy.
package pacer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/news-crawler/newscrawl/internal/config"
)

// Outcome reports how a paced request ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeThrottled       // HTTP 429
	OutcomeError           // network error or HTTP >= 500
)

// hostState carries pacing state for one host.
type hostState struct {
	lastFetchAt       time.Time
	minInterval       time.Duration
	consecutiveErrors int
	currentBackoff    time.Duration
	retryAfterUntil   time.Time
	inFlight          int
}

// Pacer schedules request starts per host. It is owned by one crawl
// job and never shared across jobs.
type Pacer struct {
	mu     sync.Mutex
	hosts  map[string]*hostState
	pacing config.Pacing
	global *rate.Limiter
	robots *RobotsCache
	log    *zap.Logger
}

// New creates a pacer with the given pacing policy. robots may be nil
// when policy evaluation happens elsewhere.
func New(pacing config.Pacing, robots *RobotsCache, log *zap.Logger) *Pacer {
	var global *rate.Limiter
	if pacing.GlobalRPS > 0 {
		global = rate.NewLimiter(rate.Limit(pacing.GlobalRPS), int(pacing.GlobalRPS)+1)
	}
	return &Pacer{
		hosts:  make(map[string]*hostState),
		pacing: pacing,
		global: global,
		robots: robots,
		log:    log,
	}
}

func (p *Pacer) state(host string) *hostState {
	st, ok := p.hosts[host]
	if !ok {
		st = &hostState{minInterval: p.pacing.MinInterval}
		p.hosts[host] = st
	}
	return st
}

// NextAllowed returns the earliest instant a request to host may
// start. A host at its in-flight cap reports an instant slightly in
// the future so callers re-poll.
func (p *Pacer) NextAllowed(host string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(host)
	if st.inFlight >= p.pacing.PerHostInFlight {
		return time.Now().Add(50 * time.Millisecond)
	}
	return p.nextAllowedLocked(st)
}

func (p *Pacer) nextAllowedLocked(st *hostState) time.Time {
	wait := st.minInterval
	if st.currentBackoff > wait {
		wait = st.currentBackoff
	}
	next := st.lastFetchAt.Add(wait)
	if st.retryAfterUntil.After(next) {
		next = st.retryAfterUntil
	}
	return next
}

// Ready reports whether host may start a request now.
func (p *Pacer) Ready(host string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(host)
	if st.inFlight >= p.pacing.PerHostInFlight {
		return false
	}
	return !now.Before(p.nextAllowedLocked(st))
}

// Begin records the start of a request to host. The caller must have
// checked readiness; Begin stamps last_fetch_at and takes an in-flight
// slot.
func (p *Pacer) Begin(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(host)
	st.lastFetchAt = time.Now()
	st.inFlight++
}

// End releases the in-flight slot and applies the backoff policy:
// throttles and errors double the backoff up to the ceiling; success
// decays it geometrically back toward the minimum interval.
func (p *Pacer) End(host string, outcome Outcome, retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(host)
	if st.inFlight > 0 {
		st.inFlight--
	}

	switch outcome {
	case OutcomeSuccess:
		st.consecutiveErrors = 0
		st.currentBackoff /= 2
		if st.currentBackoff <= st.minInterval {
			st.currentBackoff = 0
		}
	case OutcomeThrottled, OutcomeError:
		st.consecutiveErrors++
		if st.currentBackoff == 0 {
			st.currentBackoff = st.minInterval
		}
		st.currentBackoff *= 2
		if st.currentBackoff > p.pacing.MaxBackoff {
			st.currentBackoff = p.pacing.MaxBackoff
		}
	}

	// Retry-After is honoured exactly when larger than computed wait
	if retryAfter > 0 {
		until := time.Now().Add(retryAfter)
		if until.After(st.retryAfterUntil) {
			st.retryAfterUntil = until
		}
	}
}

// Lease is a scoped acquisition of one paced request slot. Release is
// idempotent and must run on every exit path.
type Lease struct {
	pacer    *Pacer
	host     string
	once     sync.Once
	outcome  Outcome
	retryAfter time.Duration
}

// SetOutcome records the request outcome before release.
func (l *Lease) SetOutcome(o Outcome, retryAfter time.Duration) {
	l.outcome = o
	l.retryAfter = retryAfter
}

// Release ends the lease, applying the recorded outcome.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pacer.End(l.host, l.outcome, l.retryAfter)
	})
}

// Acquire blocks until the host's interval elapses and an in-flight
// slot is free, then returns a lease. The returned lease defaults to
// OutcomeError so an early return still backs off.
func (p *Pacer) Acquire(ctx context.Context, host string) (*Lease, error) {
	for {
		if p.global != nil {
			if err := p.global.Wait(ctx); err != nil {
				return nil, err
			}
		}

		p.mu.Lock()
		st := p.state(host)
		next := p.nextAllowedLocked(st)
		now := time.Now()
		if st.inFlight < p.pacing.PerHostInFlight && !now.Before(next) {
			st.lastFetchAt = now
			st.inFlight++
			p.mu.Unlock()
			return &Lease{pacer: p, host: host, outcome: OutcomeError}, nil
		}
		wait := next.Sub(now)
		if st.inFlight >= p.pacing.PerHostInFlight && wait < 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		p.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Backoff exposes a host's current backoff (for telemetry).
func (p *Pacer) Backoff(host string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state(host).currentBackoff
}

// ParseRetryAfter interprets a Retry-After header value as either
// delta-seconds or an HTTP date.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Allowed evaluates robots policy for a URL, when a robots cache is
// attached. URLs are allowed when no cache is configured.
func (p *Pacer) Allowed(ctx context.Context, rawURL string) (bool, error) {
	if p.robots == nil {
		return true, nil
	}
	return p.robots.Allowed(ctx, rawURL)
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeError:
		return "error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}
