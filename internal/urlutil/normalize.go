// Package urlutil provides URL canonicalisation and utility functions.
package urlutil

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Normalizer canonicalises URLs into the single form used for
// identity across the engine.
type Normalizer struct {
	// Query parameters to remove (utm_*, gclid, etc.)
	StripParams map[string]struct{}

	// Map trailing index pages (index.html and friends) to directory form
	FoldIndexPages bool

	// Remove trailing slashes on non-root paths
	TrimTrailingSlash bool
}

var indexPages = map[string]struct{}{
	"index.html": {},
	"index.htm":  {},
	"index.php":  {},
	"default.htm": {},
}

var multiSlash = regexp.MustCompile(`/+`)

// NewNormalizer returns a normalizer stripping the given query
// parameters. Parameter matching is case-insensitive.
func NewNormalizer(stripParams []string, foldIndexPages bool) *Normalizer {
	params := make(map[string]struct{}, len(stripParams))
	for _, p := range stripParams {
		params[strings.ToLower(p)] = struct{}{}
	}
	return &Normalizer{
		StripParams:       params,
		FoldIndexPages:    foldIndexPages,
		TrimTrailingSlash: true,
	}
}

// Normalize canonicalises a raw URL: lower-case scheme and host, strip
// default ports, drop the fragment, resolve dot segments, sort query
// parameters, and drop configured tracking parameters. Path case is
// preserved. Normalize is idempotent.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.User = nil

	path := u.Path
	if path == "" {
		path = "/"
	}
	path = normalizePath(path)

	if n.FoldIndexPages {
		if idx := strings.LastIndex(path, "/"); idx != -1 {
			if _, ok := indexPages[strings.ToLower(path[idx+1:])]; ok {
				path = path[:idx+1]
			}
		}
	}

	if n.TrimTrailingSlash && len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	u.Path = path
	// Drop any pre-encoded form so String() re-encodes per the
	// RFC 3986 reserved set from the decoded path.
	u.RawPath = ""

	if u.RawQuery != "" {
		query := u.Query()
		kept := url.Values{}
		for key, values := range query {
			if _, strip := n.StripParams[strings.ToLower(key)]; strip {
				continue
			}
			for _, v := range values {
				kept.Add(key, v)
			}
		}
		u.RawQuery = sortedQueryString(kept)
	}

	return u.String(), nil
}

// normalizePath collapses duplicate slashes and resolves . and ..
func normalizePath(path string) string {
	path = multiSlash.ReplaceAllString(path, "/")

	parts := strings.Split(path, "/")
	var result []string
	for _, part := range parts {
		switch part {
		case ".":
		case "..":
			if len(result) > 0 && result[len(result)-1] != "" {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, part)
		}
	}

	normalized := strings.Join(result, "/")
	if normalized == "" {
		return "/"
	}
	return normalized
}

// sortedQueryString encodes query values with stable key and value order.
func sortedQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
	}

	return strings.Join(parts, "&")
}

// Host extracts the lower-cased host of a URL.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}

// Domain extracts the registrable domain from a host. Ports are
// removed; no public-suffix awareness.
func Domain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		if !strings.Contains(host, "]") || idx > strings.LastIndex(host, "]") {
			host = host[:idx]
		}
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// Resolve resolves a possibly relative reference against a base URL.
func Resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// SameHost reports whether two URLs share a host.
func SameHost(a, b string) bool {
	ha, err1 := Host(a)
	hb, err2 := Host(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return ha == hb
}
