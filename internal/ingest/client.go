package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/cache"
)

// apiClient fetches structured API responses through the HTTP cache
// facade, so SPARQL and entity lookups share the webpage cache
// plumbing and TTL policy.
type apiClient struct {
	http  *http.Client
	cache *cache.Cache
	agent string
	log   *zap.Logger
}

func newAPIClient(httpClient *http.Client, c *cache.Cache, userAgent string, log *zap.Logger) *apiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &apiClient{http: httpClient, cache: c, agent: userAgent, log: log}
}

// get retrieves a URL with optional query params, serving from cache
// when a fresh entry exists and storing network responses under the
// given content sub-type.
func (a *apiClient) get(ctx context.Context, rawURL, subType string, params map[string]string) ([]byte, error) {
	requestURL := rawURL
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		requestURL = rawURL + "?" + values.Encode()
	}

	fingerprint := cache.Fingerprint(http.MethodGet, rawURL, params)
	if entry, state, err := a.cache.Lookup(fingerprint); err == nil && state == cache.Hit {
		return entry.Body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.agent)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, err
	}

	if err := a.cache.Store(fingerprint, rawURL, subType, resp.Header, body); err != nil {
		a.log.Warn("api cache store failed", zap.Error(err))
	}
	return body, nil
}
