package pacer

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsCache fetches and caches robots.txt evaluation per host.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	log       *zap.Logger

	mu    sync.Mutex
	hosts map[string]*robotsEntry
}

type robotsEntry struct {
	group    *robotstxt.Group
	sitemaps []string
	fetched  time.Time
}

const robotsTTL = 12 * time.Hour

// NewRobotsCache creates a robots evaluator using the given client.
func NewRobotsCache(client *http.Client, userAgent string, log *zap.Logger) *RobotsCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		log:       log,
		hosts:     make(map[string]*robotsEntry),
	}
}

func (r *RobotsCache) entry(ctx context.Context, scheme, host string) *robotsEntry {
	r.mu.Lock()
	e, ok := r.hosts[host]
	if ok && time.Since(e.fetched) < robotsTTL {
		r.mu.Unlock()
		return e
	}
	r.mu.Unlock()

	e = r.fetch(ctx, scheme, host)

	r.mu.Lock()
	r.hosts[host] = e
	r.mu.Unlock()
	return e
}

func (r *RobotsCache) fetch(ctx context.Context, scheme, host string) *robotsEntry {
	e := &robotsEntry{fetched: time.Now()}

	robotsURL := scheme + "://" + host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return e
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		// Unreachable robots.txt allows everything
		r.log.Debug("robots fetch failed", zap.String("host", host), zap.Error(err))
		return e
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return e
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return e
	}
	e.group = data.FindGroup(r.userAgent)
	e.sitemaps = data.Sitemaps
	return e
}

// Allowed reports whether rawURL passes robots evaluation for the
// configured user agent. Results are cached per host.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return false, nil
	}

	e := r.entry(ctx, u.Scheme, host)
	if e.group == nil {
		return true, nil
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return e.group.Test(path), nil
}

// Sitemaps returns the sitemap URLs declared in a host's robots.txt.
func (r *RobotsCache) Sitemaps(ctx context.Context, scheme, host string) []string {
	e := r.entry(ctx, scheme, host)
	return e.sitemaps
}

// Seed injects a pre-parsed robots.txt for a host (used by tests and
// by the cache import path).
func (r *RobotsCache) Seed(host string, statusCode int, body []byte) {
	e := &robotsEntry{fetched: time.Now()}
	if data, err := robotstxt.FromStatusAndBytes(statusCode, body); err == nil {
		e.group = data.FindGroup(r.userAgent)
		e.sitemaps = data.Sitemaps
	}
	r.mu.Lock()
	r.hosts[host] = e
	r.mu.Unlock()
}
