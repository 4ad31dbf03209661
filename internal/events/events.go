// Package events publishes index-build and search events to Kafka and
// consumes reindex requests. Publishing is asynchronous and best-effort:
// a slow or missing broker never blocks a search or a build.
package events

import "time"

// Event types, carried in the kafka.TypeHeader message header.
const (
	TypeIndexBuilt       = "index.built"
	TypeSearch           = "search"
	TypeZeroResult       = "search.zero_result"
	TypeReindexRequested = "reindex.requested"
)

// IndexBuilt is published after a new session starts serving.
type IndexBuilt struct {
	SessionID   string    `json:"session_id"`
	Listed      int       `json:"listed"`
	Records     int       `json:"records"`
	Fields      int       `json:"fields"`
	Failures    int       `json:"failures"`
	Saved       int       `json:"saved"`
	Fingerprint uint32    `json:"fingerprint"`
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

type SearchEvent struct {
	Query      string    `json:"query"`
	Normalized string    `json:"normalized"`
	TotalHits  int       `json:"total_hits"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
}

// ReindexRequest asks every searcher consuming the topic to rebuild.
type ReindexRequest struct {
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by"`
	Timestamp   time.Time `json:"timestamp"`
}
