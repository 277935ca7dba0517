package analytics

import "time"

// SearchEvent describes one resolved query.
type SearchEvent struct {
	Query         string    `json:"query"`
	Normalized    string    `json:"normalized"`
	Results       int       `json:"results"`
	ShardsQueried int       `json:"shards_queried"`
	Warnings      int       `json:"warnings"`
	LatencyMs     int64     `json:"latency_ms"`
	RequestID     string    `json:"request_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Tracker receives search events. Implementations must not block.
type Tracker interface {
	Track(SearchEvent)
}

// Trackers fans an event out to several trackers.
type Trackers []Tracker

func (ts Trackers) Track(ev SearchEvent) {
	for _, t := range ts {
		t.Track(ev)
	}
}
