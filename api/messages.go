// Package api defines the URLFrontier wire protocol and serves it over
// grpc. The message shapes and the service descriptor are maintained by hand
// and exchanged through a JSON codec registered under the "json" content
// subtype, so no generated stubs are involved.
package api

import (
	"time"

	frontier "github.com/michaeldinzinger/url-frontier"
)

// URLInfoMsg is the wire form of one schedulable URL.
type URLInfoMsg struct {
	URL      string              `json:"url"`
	CrawlID  string              `json:"crawl_id"`
	Key      string              `json:"key,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

// KnownURLItemMsg wraps a URL the caller asserts is already known, with the
// unix-seconds time it becomes eligible again.
type KnownURLItemMsg struct {
	Info            URLInfoMsg `json:"info"`
	RefetchableFrom int64      `json:"refetchable_from"`
}

// URLItemMsg is one element of a PutURLs stream: exactly one of Discovered
// or Known is set.
type URLItemMsg struct {
	ID         string           `json:"id,omitempty"`
	Discovered *URLInfoMsg      `json:"discovered,omitempty"`
	Known      *KnownURLItemMsg `json:"known,omitempty"`
}

// AckMessageMsg acknowledges one URLItemMsg, correlated by ID.
type AckMessageMsg struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GetParamsMsg shapes one GetURLs request.
type GetParamsMsg struct {
	MaxURLs              int32  `json:"max_urls,omitempty"`
	MaxQueues            int32  `json:"max_queues,omitempty"`
	DelayRequestableSecs int32  `json:"delay_requestable,omitempty"`
	CrawlID              string `json:"crawl_id,omitempty"`
	Key                  string `json:"key,omitempty"`
}

// EmptyMsg is the empty request/response.
type EmptyMsg struct{}

// CrawlRefMsg names a crawl; the empty string means all crawls where a
// method allows it.
type CrawlRefMsg struct {
	CrawlID string `json:"crawl_id,omitempty"`
}

// QueueRefMsg names one queue.
type QueueRefMsg struct {
	CrawlID string `json:"crawl_id"`
	Key     string `json:"key"`
}

// CrawlListMsg is the ListCrawls response.
type CrawlListMsg struct {
	CrawlIDs []string `json:"crawl_ids"`
}

// NodeListMsg is the ListNodes response.
type NodeListMsg struct {
	Nodes []string `json:"nodes"`
}

// PaginationMsg shapes a ListQueues request.
type PaginationMsg struct {
	CrawlID         string `json:"crawl_id,omitempty"`
	IncludeInactive bool   `json:"include_inactive,omitempty"`
}

// QueueStatsMsg is one row of a ListQueues response.
type QueueStatsMsg struct {
	CrawlID        string `json:"crawl_id"`
	Key            string `json:"key"`
	ActiveCount    int64  `json:"active_count"`
	InFlight       int64  `json:"in_flight"`
	CompletedCount int64  `json:"completed_count"`
	LastProducedAt int64  `json:"last_produced_at,omitempty"`
	Status         string `json:"status"`
}

// StatsMsg is the GetStats response.
type StatsMsg struct {
	Queues    int64 `json:"queues"`
	Active    int64 `json:"active"`
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Healthy   bool  `json:"healthy"`
}

// BlockParamsMsg shapes a BlockQueueUntilDate request; Until is unix
// seconds, zero unblocks.
type BlockParamsMsg struct {
	CrawlID string `json:"crawl_id"`
	Key     string `json:"key"`
	Until   int64  `json:"until,omitempty"`
}

// LimitParamsMsg shapes a SetCrawlLimits request.
type LimitParamsMsg struct {
	CrawlID         string `json:"crawl_id"`
	MinDelaySeconds int32  `json:"min_delay_seconds"`
	MaxQueueSize    int32  `json:"max_queue_size,omitempty"`
}

// LongMsg carries a single count, e.g. how many entries a delete removed.
type LongMsg struct {
	Value int64 `json:"value"`
}

//
// Conversions between wire messages and engine types
//

func infoFromWire(m *URLInfoMsg) frontier.URLInfo {
	return frontier.URLInfo{
		URL:      m.URL,
		CrawlID:  m.CrawlID,
		Key:      m.Key,
		Metadata: m.Metadata,
	}
}

func infoToWire(info *frontier.URLInfo) *URLInfoMsg {
	return &URLInfoMsg{
		URL:      info.URL,
		CrawlID:  info.CrawlID,
		Key:      info.Key,
		Metadata: info.Metadata,
	}
}

// ItemFromWire converts a wire item into the engine's representation. An
// item with neither variant set comes back as a Discovered item with an
// empty URL, which ingest fails with a validation FAIL ack.
func ItemFromWire(m *URLItemMsg) *frontier.URLItem {
	item := &frontier.URLItem{ID: m.ID}
	switch {
	case m.Known != nil:
		item.Kind = frontier.ItemKnown
		item.Info = infoFromWire(&m.Known.Info)
		if m.Known.RefetchableFrom > 0 {
			item.RefetchableFrom = time.Unix(m.Known.RefetchableFrom, 0)
		}
	case m.Discovered != nil:
		item.Kind = frontier.ItemDiscovered
		item.Info = infoFromWire(m.Discovered)
	}
	return item
}

// ItemToWire converts an engine item into its wire form.
func ItemToWire(item *frontier.URLItem) *URLItemMsg {
	m := &URLItemMsg{ID: item.ID}
	info := infoToWire(&item.Info)
	if item.Kind == frontier.ItemKnown {
		m.Known = &KnownURLItemMsg{Info: *info}
		if !item.RefetchableFrom.IsZero() {
			m.Known.RefetchableFrom = item.RefetchableFrom.Unix()
		}
	} else {
		m.Discovered = info
	}
	return m
}

func paramsFromWire(m *GetParamsMsg) frontier.GetParams {
	return frontier.GetParams{
		MaxURLs:          int(m.MaxURLs),
		MaxQueues:        int(m.MaxQueues),
		DelayRequestable: time.Duration(m.DelayRequestableSecs) * time.Second,
		CrawlID:          m.CrawlID,
		Key:              m.Key,
	}
}

func queueStatsToWire(q *frontier.QueueStats) *QueueStatsMsg {
	m := &QueueStatsMsg{
		CrawlID:        q.CrawlID,
		Key:            q.Key,
		ActiveCount:    int64(q.ActiveCount),
		InFlight:       int64(q.InFlight),
		CompletedCount: int64(q.CompletedCount),
		Status:         q.Status.String(),
	}
	if !q.LastProducedAt.IsZero() {
		m.LastProducedAt = q.LastProducedAt.Unix()
	}
	return m
}
