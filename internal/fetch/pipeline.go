package fetch

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/config"
	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/pacer"
	"github.com/news-crawler/newscrawl/internal/queue"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/telemetry"
	"github.com/news-crawler/newscrawl/internal/urlstore"
)

// FetchOutcome labels how one request was satisfied.
type FetchOutcome string

const (
	OutcomeFetched         FetchOutcome = "fetched"
	OutcomeServedFromCache FetchOutcome = "served-from-cache"
	OutcomeServedStale     FetchOutcome = "served-stale"
	OutcomeSkipped         FetchOutcome = "skipped"
	OutcomeFailed          FetchOutcome = "failed"
)

// Result is the pipeline's verdict on one request.
type Result struct {
	Outcome        FetchOutcome
	Classification analyzer.Classification
	Discovered     int
	Value          float64
	Err            error
}

// QueueWriter is the narrow enqueue capability handed to the pipeline
// and the seeder.
type QueueWriter interface {
	Enqueue(req *queue.Request) bool
}

// Counters aggregates per-job progress shared across workers.
type Counters struct {
	Visited   atomic.Int64
	Saved     atomic.Int64
	Skipped   atomic.Int64
	Failed    atomic.Int64
	Articles  atomic.Int64
	Downloads atomic.Int64
}

// Pipeline processes one request end to end: cache policy, network,
// persistence, classification, link extraction, and enqueueing of
// discoveries.
type Pipeline struct {
	cfg      *config.Config
	urls     *urlstore.Store
	db       *storage.Database
	cache    *cache.Cache
	fetcher  *Fetcher
	pacer    *pacer.Pacer
	bus      *telemetry.Bus
	gaz      *gazetteer.Index
	topics   *analyzer.TopicIndex
	seeder   *Seeder
	log      *zap.Logger

	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// NewPipeline wires a pipeline for one crawl job.
func NewPipeline(cfg *config.Config, urls *urlstore.Store, db *storage.Database, httpCache *cache.Cache,
	fetcher *Fetcher, p *pacer.Pacer, bus *telemetry.Bus, gaz *gazetteer.Index,
	topics *analyzer.TopicIndex, seeder *Seeder, log *zap.Logger) (*Pipeline, error) {

	pl := &Pipeline{
		cfg:     cfg,
		urls:    urls,
		db:      db,
		cache:   httpCache,
		fetcher: fetcher,
		pacer:   p,
		bus:     bus,
		gaz:     gaz,
		topics:  topics,
		seeder:  seeder,
		log:     log,
	}
	for _, pat := range cfg.AllowPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "bad allow pattern %q: %v", pat, err)
		}
		pl.allow = append(pl.allow, re)
	}
	for _, pat := range cfg.DenyPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, crawlerr.Wrapf(crawlerr.KindInvalidInput, "bad deny pattern %q: %v", pat, err)
		}
		pl.deny = append(pl.deny, re)
	}
	return pl, nil
}

// Process runs the pipeline for one dequeued request. The caller holds
// the pacer lease; Process records the outcome on it and the caller
// releases it on every exit path.
func (pl *Pipeline) Process(ctx context.Context, req *queue.Request, lease *pacer.Lease, out QueueWriter, counters *Counters) *Result {
	if lease != nil {
		// Non-network exits must not back the host off
		lease.SetOutcome(pacer.OutcomeSuccess, 0)
	}
	rawURL, err := pl.urls.Resolve(req.URLID)
	if err != nil {
		return pl.fail(req, counters, err)
	}

	// Robots policy: disallow is skipped, not failed
	allowed, err := pl.pacer.Allowed(ctx, rawURL)
	if err == nil && !allowed {
		pl.db.LogQueueEvent(req.JobID, storage.ActionSkipped, req.URLID, req.Depth)
		counters.Skipped.Add(1)
		pl.bus.Problem(req.JobID, "info", "robots-disallow", rawURL, req.URLID)
		return &Result{Outcome: OutcomeSkipped}
	}

	fingerprint := cache.Fingerprint(http.MethodGet, rawURL, nil)
	policy := pl.cfg.CachePolicy

	var body []byte
	var headers map[string][]string
	var statusCode int
	var contentType string
	outcome := OutcomeFetched

	entry, state, cacheErr := pl.cache.Lookup(fingerprint)
	freshEnough := state == cache.Hit && cacheErr == nil &&
		(pl.cfg.MaxCacheAgeMS <= 0 || entry.Age() <= time.Duration(pl.cfg.MaxCacheAgeMS)*time.Millisecond)

	switch policy {
	case config.CacheOnly:
		if entry == nil || !freshEnough {
			pl.db.LogQueueEvent(req.JobID, storage.ActionSkipped, req.URLID, req.Depth)
			counters.Skipped.Add(1)
			return &Result{Outcome: OutcomeSkipped}
		}
		outcome = OutcomeServedFromCache
	case config.PreferCache:
		if !freshEnough {
			entry = nil
		} else {
			outcome = OutcomeServedFromCache
		}
	case config.PreferFresh, config.NetworkOnly:
		entry = nil
	}

	if outcome == OutcomeServedFromCache {
		body = entry.Body
		headers = entry.Headers
		statusCode = http.StatusOK
		contentType = headerValue(headers, "Content-Type")
	} else {
		resp := pl.fetcher.Fetch(ctx, rawURL)
		counters.Downloads.Add(1)
		retryAfter := pacer.ParseRetryAfter(resp.RetryAfter)

		switch {
		case resp.Err != nil || resp.StatusCode >= 500:
			if lease != nil {
				lease.SetOutcome(pacer.OutcomeError, retryAfter)
			}
			// Transient failure may be served from a stale entry
			if pl.cfg.FallbackToCache && policy != config.NetworkOnly {
				if stale, st, err := pl.cache.Lookup(fingerprint); err == nil && st != cache.Miss {
					body = stale.Body
					headers = stale.Headers
					statusCode = http.StatusOK
					contentType = headerValue(headers, "Content-Type")
					outcome = OutcomeServedStale
					break
				}
			}
			err := resp.Err
			if err == nil {
				err = crawlerr.Wrapf(crawlerr.KindTransientNetwork, "http %d from %s", resp.StatusCode, req.Host)
			} else {
				err = crawlerr.Wrap(crawlerr.KindTransientNetwork, err)
			}
			return pl.fail(req, counters, err)

		case resp.StatusCode == http.StatusTooManyRequests:
			if lease != nil {
				lease.SetOutcome(pacer.OutcomeThrottled, retryAfter)
			}
			return pl.fail(req, counters, crawlerr.Wrapf(crawlerr.KindTransientNetwork, "throttled by %s", req.Host))

		case resp.StatusCode >= 400:
			pl.recordResponse(req, resp, 0, string(OutcomeFetched))
			pl.db.LogQueueEvent(req.JobID, storage.ActionFailed, req.URLID, req.Depth)
			counters.Failed.Add(1)
			return &Result{Outcome: OutcomeFailed, Err: crawlerr.Wrapf(crawlerr.KindPermanentHTTP, "http %d", resp.StatusCode)}

		default:
			body = resp.Body
			headers = resp.Headers
			statusCode = resp.StatusCode
			contentType = resp.ContentType
			if err := pl.cache.Store(fingerprint, rawURL, "html", headers, body); err != nil {
				pl.log.Warn("cache store failed", zap.Error(err))
			}
		}
	}

	// Persist response + content (cache adoption does not re-persist)
	var contentID int64
	if outcome == OutcomeFetched || outcome == OutcomeServedStale {
		ref, err := pl.db.PutContent(body, pl.cfg.PresetFor("html"))
		if err != nil {
			return pl.storageFail(req, counters, err)
		}
		contentID = ref.ID
		if _, err := pl.db.PutHTTPResponse(&storage.HTTPResponse{
			URLID:      req.URLID,
			StatusCode: statusCode,
			Headers:    headers,
			ContentRef: contentID,
			Outcome:    string(outcome),
		}); err != nil {
			return pl.storageFail(req, counters, err)
		}
	}

	// Classification; a parse failure is recorded and the crawl continues
	res, err := analyzer.Analyze(analyzer.Input{
		URL:         rawURL,
		ContentType: contentType,
		StatusCode:  statusCode,
		Body:        body,
		Gazetteer:   pl.gaz,
		Topics:      pl.topics,
	})
	if err != nil {
		pl.bus.Problem(req.JobID, "warning", "parse-failure", err.Error(), req.URLID)
		pl.db.LogQueueEvent(req.JobID, storage.ActionVisited, req.URLID, req.Depth)
		counters.Visited.Add(1)
		return &Result{Outcome: outcome, Err: crawlerr.Wrap(crawlerr.KindParseFailure, err)}
	}

	if contentID > 0 {
		if err := pl.db.PutContentAnalysis(&storage.Analysis{
			ContentID:        contentID,
			Classification:   string(res.Classification),
			Title:            res.Title,
			PublishedDate:    res.Date,
			WordCount:        res.WordCount,
			Language:         res.Language,
			NavLinkCount:     res.NavLinkCount,
			ArticleLinkCount: res.ArticleLinkCount,
			PlaceIDs:         res.PlaceIDs,
			TopicIDs:         res.TopicIDs,
			Signals:          res.Signals,
		}); err != nil {
			pl.log.Warn("analysis persist failed", zap.Error(err))
		}
	}

	discovered := pl.processLinks(req, rawURL, res, out)

	pl.db.LogQueueEvent(req.JobID, storage.ActionVisited, req.URLID, req.Depth)
	counters.Visited.Add(1)
	if contentID > 0 {
		pl.db.LogQueueEvent(req.JobID, storage.ActionSaved, req.URLID, req.Depth)
		counters.Saved.Add(1)
	}

	if analyzer.IsArticle(res.Classification) {
		n := counters.Articles.Add(1)
		if n == 1 {
			pl.bus.Milestone(req.JobID, "first-article", map[string]any{"url": rawURL})
		} else if n%25 == 0 {
			pl.bus.Milestone(req.JobID, "article-count", map[string]any{"count": n})
		}

		// Adaptive seeding runs off article pages
		if pl.seeder != nil {
			pl.seeder.ProposeFromArticle(context.Background(), req, res, out)
		}
	}

	pl.bus.Progress(req.JobID, telemetry.Progress{
		Current: int(counters.Visited.Load()),
		Total:   pl.cfg.MaxPages,
		Phase:   "crawling",
		Details: string(res.Classification),
	})

	return &Result{
		Outcome:        outcome,
		Classification: res.Classification,
		Discovered:     discovered,
		Value:          valueOf(res),
	}
}

// processLinks persists extracted edges and enqueues eligible targets.
func (pl *Pipeline) processLinks(req *queue.Request, pageURL string, res *analyzer.Result, out QueueWriter) int {
	discovered := 0
	for _, link := range res.Links {
		if !link.SameHost && !pl.cfg.FollowCrossOrigin {
			continue
		}
		if !pl.urlAllowed(link.URL) {
			continue
		}

		dstID, err := pl.urls.Intern(link.URL)
		if err != nil {
			continue
		}
		pl.db.PutLink(&storage.Link{
			SrcURLID:   req.URLID,
			DstURLID:   dstID,
			AnchorText: link.AnchorText,
			Rel:        link.Rel,
			DepthDelta: 1,
		})

		depth := req.Depth + 1
		if pl.cfg.MaxDepth > 0 && depth > pl.cfg.MaxDepth {
			continue
		}

		host, err := pl.urls.HostOf(dstID)
		if err != nil {
			continue
		}
		source := queue.SourceDiscovery
		if analyzer.ArticleLikeLink(link) {
			source = queue.SourceArticle
		}
		if out.Enqueue(&queue.Request{
			URLID:    dstID,
			Host:     host,
			Priority: ComputePriority(source, depth, pl.gazMatch(link.URL), pl.topicMatch(link.URL), 0),
			Depth:    depth,
			Source:   source,
			JobID:    req.JobID,
		}) {
			pl.db.LogQueueEvent(req.JobID, storage.ActionDiscovered, dstID, depth)
			discovered++
		}
	}
	return discovered
}

func (pl *Pipeline) urlAllowed(rawURL string) bool {
	for _, re := range pl.deny {
		if re.MatchString(rawURL) {
			return false
		}
	}
	if len(pl.allow) == 0 {
		return true
	}
	for _, re := range pl.allow {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

func (pl *Pipeline) gazMatch(rawURL string) bool {
	if pl.gaz == nil {
		return false
	}
	for _, seg := range pathSegmentsOf(rawURL) {
		if len(pl.gaz.MatchSlug(seg)) > 0 {
			return true
		}
	}
	return false
}

func (pl *Pipeline) topicMatch(rawURL string) bool {
	if pl.topics == nil {
		return false
	}
	for _, seg := range pathSegmentsOf(rawURL) {
		if pl.topics.MatchSlug(seg) != "" {
			return true
		}
	}
	return false
}

func (pl *Pipeline) fail(req *queue.Request, counters *Counters, err error) *Result {
	pl.db.LogQueueEvent(req.JobID, storage.ActionFailed, req.URLID, req.Depth)
	counters.Failed.Add(1)
	pl.bus.Problem(req.JobID, "warning", string(crawlerr.KindOf(err)), err.Error(), req.URLID)
	return &Result{Outcome: OutcomeFailed, Err: err}
}

func (pl *Pipeline) storageFail(req *queue.Request, counters *Counters, err error) *Result {
	counters.Failed.Add(1)
	pl.bus.Problem(req.JobID, "error", string(crawlerr.KindStorageFailure), err.Error(), req.URLID)
	return &Result{Outcome: OutcomeFailed, Err: crawlerr.Wrap(crawlerr.KindStorageFailure, err)}
}

func (pl *Pipeline) recordResponse(req *queue.Request, resp *Response, contentID int64, outcome string) {
	_, err := pl.db.PutHTTPResponse(&storage.HTTPResponse{
		URLID:      req.URLID,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		ContentRef: contentID,
		Outcome:    outcome,
	})
	if err != nil {
		pl.log.Warn("response persist failed", zap.Error(err))
	}
}

func headerValue(headers map[string][]string, key string) string {
	if headers == nil {
		return ""
	}
	if vs := http.Header(headers).Get(key); vs != "" {
		return vs
	}
	return ""
}

func pathSegmentsOf(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, strings.ToLower(s))
		}
	}
	return segs
}

// valueOf scores a processed page for plan-performance tracking.
func valueOf(res *analyzer.Result) float64 {
	switch {
	case analyzer.IsArticle(res.Classification):
		return 1000
	case analyzer.IsHub(res.Classification):
		return 200 + 10*float64(res.ArticleLinkCount)
	default:
		return float64(res.ArticleLinkCount)
	}
}
