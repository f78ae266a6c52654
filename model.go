/*
Package frontier implements the server-side engine of a URL frontier: the
coordination service behind a distributed web crawler. It accepts streams of
discovered URLs from crawler workers, deduplicates and persists them, and
hands back URLs that are ready to fetch while enforcing per-host politeness
and fair scheduling across hosts and crawls.

The engine is specified against the QueueStore interface; see the memstore,
badgerstore and cassandra packages for implementations.
*/
package frontier

import "time"

// URLInfo is the unit of scheduling. Key may be left empty, in which case the
// engine derives it from the URL (see QueueKey). Metadata is opaque to the
// engine and travels with the URL.
type URLInfo struct {
	URL      string
	CrawlID  string
	Key      string
	Metadata map[string][]string
}

// ItemKind tags a URLItem as either freshly discovered or already known to
// the caller.
type ItemKind int

const (
	// ItemDiscovered means the caller has just found this URL and the engine
	// must dedupe it against the known-set.
	ItemDiscovered ItemKind = iota

	// ItemKnown means the caller asserts the URL is already known (e.g.
	// replayed from a prior crawl); the engine must not treat it as new but
	// may schedule it at the provided time.
	ItemKnown
)

// URLItem is one element of an ingest stream.
type URLItem struct {
	// ID is the acknowledgement correlation token. If empty the engine
	// synthesizes it as crawl_id + "_" + url. It is never persisted.
	ID string

	Kind ItemKind
	Info URLInfo

	// RefetchableFrom is only meaningful for ItemKnown and gives the time at
	// which the URL becomes eligible to be served.
	RefetchableFrom time.Time
}

// AckID returns the correlation token for this item, synthesizing one when
// the caller did not set it.
func (it *URLItem) AckID() string {
	if it.ID != "" {
		return it.ID
	}
	return it.Info.CrawlID + "_" + it.Info.URL
}

// AckStatus is the per-item outcome reported on the ingest ack stream.
type AckStatus int

const (
	AckOK AckStatus = iota
	AckSkipped
	AckFail
)

func (s AckStatus) String() string {
	switch s {
	case AckOK:
		return "OK"
	case AckSkipped:
		return "SKIPPED"
	case AckFail:
		return "FAIL"
	}
	return "UNKNOWN"
}

// Ack is the acknowledgement for a single ingested item. There is exactly one
// Ack per item, correlated by ID; ordering relative to the input is not
// guaranteed.
type Ack struct {
	ID     string
	Status AckStatus
}

// QueueRef identifies a queue: the unit of politeness. All URLs sharing a
// queue are rate-limited together.
type QueueRef struct {
	CrawlID string
	Key     string
}

// GetParams shapes one GetURLs request.
type GetParams struct {
	// MaxURLs is the global cap on URLs in the response.
	MaxURLs int

	// MaxQueues caps how many distinct queues the response draws from.
	MaxQueues int

	// DelayRequestable is how long returned URLs stay in-flight before they
	// may be re-served unacked. Zero means the configured default.
	DelayRequestable time.Duration

	// CrawlID and Key optionally restrict the candidate queues.
	CrawlID string
	Key     string
}

// QueueStats is one row of a ListQueues response.
type QueueStats struct {
	CrawlID        string
	Key            string
	ActiveCount    int
	InFlight       int
	CompletedCount int
	LastProducedAt time.Time
	Status         QueueStatus
}

// Stats aggregates engine counters, optionally restricted to one crawl.
type Stats struct {
	Queues    int
	Active    int
	InFlight  int
	Completed int

	// Healthy flips to false once the engine has entered read-only mode
	// after a fatal store error.
	Healthy bool
}

// CrawlLimits carries per-crawl scheduling limits set via SetCrawlLimits.
type CrawlLimits struct {
	// MinDelay is the politeness delay between two successive serves from
	// the same queue.
	MinDelay time.Duration

	// MaxQueueSize rejects further discovered URLs once a queue holds this
	// many active entries. Zero means unlimited.
	MaxQueueSize int
}
