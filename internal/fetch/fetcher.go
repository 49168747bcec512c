// Package fetch performs HTTP retrieval and runs the per-request
// pipeline: cache, network, persistence, analysis, link extraction
// and re-enqueueing.
package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/news-crawler/newscrawl/internal/config"
)

// Response is the outcome of one network fetch.
type Response struct {
	RequestURL   string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	ContentType  string
	Body         []byte
	TTFB         time.Duration
	ResponseTime time.Duration
	RetryAfter   string
	Err          error
	Retryable    bool
}

// Fetcher issues HTTP requests with manual redirect tracking.
type Fetcher struct {
	client      *http.Client
	transport   *http.Transport
	userAgent   string
	maxRedirects int
	maxBodySize int64
}

// NewFetcher creates an HTTP fetcher from engine config.
func NewFetcher(cfg *config.Config) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	f := &Fetcher{
		transport:    transport,
		userAgent:    cfg.UserAgent,
		maxRedirects: cfg.MaxRedirects,
		maxBodySize:  cfg.MaxBodySize,
	}
	f.client = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Redirects are followed manually to track the chain
			return http.ErrUseLastResponse
		},
	}
	return f
}

// Client exposes the underlying HTTP client (robots, API clients).
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Fetch retrieves a URL, following redirects up to the configured cap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Response {
	start := time.Now()
	response := &Response{RequestURL: rawURL}

	currentURL := rawURL
	var ttfbRecorded bool

	for i := 0; i <= f.maxRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			response.Err = fmt.Errorf("failed to create request: %w", err)
			return response
		}
		f.setRequestHeaders(req)

		reqStart := time.Now()
		resp, err := f.client.Do(req)
		if err != nil {
			response.Err = categorizeNetError(err)
			response.Retryable = isRetryableNetError(err)
			response.FinalURL = currentURL
			return response
		}

		if !ttfbRecorded {
			response.TTFB = time.Since(reqStart)
			ttfbRecorded = true
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			if location == "" {
				response.FinalURL = currentURL
				response.StatusCode = resp.StatusCode
				response.Headers = resp.Header
				return response
			}
			redirectURL, err := resolveRedirect(currentURL, location)
			if err != nil {
				response.Err = fmt.Errorf("invalid redirect location: %w", err)
				response.FinalURL = currentURL
				response.StatusCode = resp.StatusCode
				return response
			}
			currentURL = redirectURL
			continue
		}

		response.FinalURL = currentURL
		response.StatusCode = resp.StatusCode
		response.Headers = resp.Header
		response.ContentType = contentTypeOf(resp.Header.Get("Content-Type"))
		response.RetryAfter = resp.Header.Get("Retry-After")
		response.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

		body, err := f.readBody(resp)
		resp.Body.Close()
		if err != nil {
			response.Err = fmt.Errorf("failed to read body: %w", err)
			response.Retryable = true
		} else {
			response.Body = body
		}

		response.ResponseTime = time.Since(start)
		return response
	}

	response.Err = fmt.Errorf("max redirects (%d) exceeded", f.maxRedirects)
	response.FinalURL = currentURL
	return response
}

func (f *Fetcher) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode error: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	// Transcode legacy charsets to UTF-8 for HTML payloads
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "html") || strings.Contains(contentType, "xml") {
		if decoded, err := charset.NewReader(reader, contentType); err == nil {
			reader = decoded
		}
	}

	return io.ReadAll(io.LimitReader(reader, f.maxBodySize))
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

func resolveRedirect(baseURL, location string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}

func contentTypeOf(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

func categorizeNetError(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	if _, ok := err.(*net.DNSError); ok {
		return fmt.Errorf("DNS error: %w", err)
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate") {
		return fmt.Errorf("TLS error: %w", err)
	}
	return err
}

func isRetryableNetError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "no such host", "eof", "broken pipe"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
