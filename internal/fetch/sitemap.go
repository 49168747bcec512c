package fetch

import (
	"context"
	"encoding/xml"

	"go.uber.org/zap"
)

// sitemapURLSet mirrors the <urlset> document shape.
type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapIndex mirrors the <sitemapindex> document shape.
type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// LoadSitemap fetches a sitemap (or sitemap index, one level deep) and
// returns the listed URLs.
func (f *Fetcher) LoadSitemap(ctx context.Context, sitemapURL string, log *zap.Logger) []string {
	return f.loadSitemap(ctx, sitemapURL, log, true)
}

func (f *Fetcher) loadSitemap(ctx context.Context, sitemapURL string, log *zap.Logger, followIndex bool) []string {
	resp := f.Fetch(ctx, sitemapURL)
	if resp.Err != nil || resp.StatusCode != 200 {
		log.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(resp.Err))
		return nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(resp.Body, &set); err == nil && len(set.URLs) > 0 {
		urls := make([]string, 0, len(set.URLs))
		for _, u := range set.URLs {
			if u.Loc != "" {
				urls = append(urls, u.Loc)
			}
		}
		return urls
	}

	if followIndex {
		var index sitemapIndex
		if err := xml.Unmarshal(resp.Body, &index); err == nil {
			var urls []string
			for _, sm := range index.Sitemaps {
				if sm.Loc != "" {
					urls = append(urls, f.loadSitemap(ctx, sm.Loc, log, false)...)
				}
			}
			return urls
		}
	}
	return nil
}
