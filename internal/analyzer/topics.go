package analyzer

import "strings"

// TopicIndex matches URL segments and text against a keyword set. Like
// the gazetteer index it is a snapshot; the analyzer never does I/O.
type TopicIndex struct {
	topics map[string]string // keyword -> topic id
}

// DefaultTopics is the news section vocabulary used when no custom
// topic set is configured.
var DefaultTopics = map[string][]string{
	"politics":      {"politics", "election", "elections", "government", "parliament", "congress", "senate"},
	"business":      {"business", "economy", "economics", "finance", "markets", "money", "trade"},
	"sport":         {"sport", "sports", "football", "soccer", "cricket", "tennis", "rugby", "olympics"},
	"technology":    {"technology", "tech", "science", "ai", "internet"},
	"culture":       {"culture", "arts", "entertainment", "film", "music", "books", "tv"},
	"health":        {"health", "medicine", "covid", "coronavirus", "wellness"},
	"world":         {"world", "international", "global"},
	"environment":   {"environment", "climate", "energy", "weather"},
	"crime":         {"crime", "courts", "justice", "police"},
	"education":     {"education", "schools", "universities"},
}

// NewTopicIndex builds an index from topic -> keywords.
func NewTopicIndex(topics map[string][]string) *TopicIndex {
	ix := &TopicIndex{topics: make(map[string]string)}
	for id, keywords := range topics {
		for _, kw := range keywords {
			ix.topics[strings.ToLower(kw)] = id
		}
	}
	return ix
}

// NewDefaultTopicIndex builds the index over DefaultTopics.
func NewDefaultTopicIndex() *TopicIndex {
	return NewTopicIndex(DefaultTopics)
}

// Match returns the topic ID for a keyword, or "".
func (ix *TopicIndex) Match(keyword string) string {
	return ix.topics[strings.ToLower(strings.TrimSpace(keyword))]
}

// MatchSlug matches a URL path segment (dashes intact, as topic
// keywords are single words).
func (ix *TopicIndex) MatchSlug(slug string) string {
	return ix.Match(slug)
}

// TopicIDs returns the distinct topic identifiers.
func (ix *TopicIndex) TopicIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, id := range ix.topics {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
