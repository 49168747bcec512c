// Package urlstore assigns stable opaque IDs to canonical URLs.
package urlstore

import (
	"sync"

	"github.com/news-crawler/newscrawl/internal/crawlerr"
	"github.com/news-crawler/newscrawl/internal/storage"
	"github.com/news-crawler/newscrawl/internal/urlutil"
)

// Store interns URLs behind integer IDs. It is a process-wide
// singleton; a given canonical string maps to exactly one ID for the
// lifetime of the system.
type Store struct {
	db         *storage.Database
	normalizer *urlutil.Normalizer

	mu      sync.RWMutex
	byURL   map[string]int64
	byID    map[int64]string
	hostsByID map[int64]string
}

// New creates a URL store over the database.
func New(db *storage.Database, normalizer *urlutil.Normalizer) *Store {
	return &Store{
		db:         db,
		normalizer: normalizer,
		byURL:      make(map[string]int64),
		byID:       make(map[int64]string),
		hostsByID:  make(map[int64]string),
	}
}

// Intern canonicalises rawURL and returns its stable ID, creating it
// on first sight. Equivalent raw forms return the same ID.
func (s *Store) Intern(rawURL string) (int64, error) {
	canonical, err := s.normalizer.Normalize(rawURL)
	if err != nil {
		return 0, crawlerr.Wrapf(crawlerr.KindInvalidInput, "invalid url %q: %v", rawURL, err)
	}

	s.mu.RLock()
	id, ok := s.byURL[canonical]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	host, err := urlutil.Host(canonical)
	if err != nil {
		return 0, crawlerr.Wrapf(crawlerr.KindInvalidInput, "invalid url %q: %v", rawURL, err)
	}

	id, err = s.db.InternURL(canonical, host)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.byURL[canonical] = id
	s.byID[id] = canonical
	s.hostsByID[id] = host
	s.mu.Unlock()
	return id, nil
}

// Resolve returns the canonical string for an ID.
func (s *Store) Resolve(id int64) (string, error) {
	s.mu.RLock()
	canonical, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return canonical, nil
	}

	canonical, host, err := s.db.ResolveURL(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.byURL[canonical] = id
	s.byID[id] = canonical
	s.hostsByID[id] = host
	s.mu.Unlock()
	return canonical, nil
}

// HostOf returns the host of an interned URL.
func (s *Store) HostOf(id int64) (string, error) {
	s.mu.RLock()
	host, ok := s.hostsByID[id]
	s.mu.RUnlock()
	if ok {
		return host, nil
	}

	canonical, host, err := s.db.ResolveURL(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.byURL[canonical] = id
	s.byID[id] = canonical
	s.hostsByID[id] = host
	s.mu.Unlock()
	return host, nil
}
