// Package analytics tracks how the bulletin search is used. The searcher
// emits one SearchEvent per query and the indexer one IndexCompleteEvent per
// build; events travel over Kafka when it is enabled and are folded into
// in-memory statistics by the Aggregator.
package analytics

import "time"

type EventType string

const (
	EventSearch        EventType = "search"
	EventIndexComplete EventType = "index_complete"
)

// SearchEvent is emitted for every answered query.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Order     string    `json:"order,omitempty"`
	Format    string    `json:"format"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// IndexCompleteEvent is emitted after a snapshot has been written.
type IndexCompleteEvent struct {
	Type           EventType `json:"type"`
	SnapshotPath   string    `json:"snapshot_path"`
	Checksum       string    `json:"checksum"`
	Files          int       `json:"files"`
	Entries        int       `json:"entries"`
	Fallbacks      int       `json:"fallbacks"`
	ConvertedFiles int       `json:"converted_files"`
	DurationMs     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// envelope is decoded first to route a raw event by its type.
type envelope struct {
	Type EventType `json:"type"`
}

func typeOf(event any) EventType {
	switch ev := event.(type) {
	case SearchEvent:
		return ev.Type
	case *SearchEvent:
		return ev.Type
	case IndexCompleteEvent:
		return ev.Type
	case *IndexCompleteEvent:
		return ev.Type
	}
	return ""
}
