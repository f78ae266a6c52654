package frontier

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleResult reports what PutScheduled did with a URL.
type ScheduleResult int

const (
	// ScheduleInserted means the URL was new: it is now in the known-set and
	// in the queue's scheduled sequence.
	ScheduleInserted ScheduleResult = iota

	// ScheduleAlreadyKnown means the URL was already in the known-set and
	// the write was not applied.
	ScheduleAlreadyKnown

	// ScheduleReplaced means the URL was known and scheduled, and the
	// existing entry's time and metadata were updated in place.
	ScheduleReplaced

	// ScheduleRequeued means the URL was known but no longer scheduled
	// (completed or re-played) and has been re-inserted into the scheduled
	// sequence.
	ScheduleRequeued
)

// ScheduledEntry is one element of a queue's scheduled sequence, as returned
// by FetchDue.
type ScheduledEntry struct {
	URL             string
	RefetchableFrom time.Time
	Metadata        map[string][]string
	InFlight        bool
}

// QueueCounts carries the per-queue counters a store reports through
// IterateQueues.
type QueueCounts struct {
	Scheduled int
	InFlight  int
	Completed int
}

// ErrFatalStore marks store failures the engine cannot recover from
// (corruption, disk loss). Stores wrap such errors so the engine can detect
// them with errors.Is and enter read-only mode; everything else is treated as
// transient.
var ErrFatalStore = errors.New("fatal store error")

// Fatal wraps err so that errors.Is(err, ErrFatalStore) holds.
func Fatal(err error) error {
	return fmt.Errorf("%w: %v", ErrFatalStore, err)
}

// IsFatal reports whether err was wrapped by Fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalStore)
}

// QueueStore defines the interface for the frontier's persistence layer: per
// (crawl, queue) ordered sets of scheduled URLs plus a per-crawl known-set.
//
// Implementations provide their own internal concurrency and must support
// concurrent reads; the engine serializes writes per (crawl_id, url) above
// this layer.
type QueueStore interface {
	// PutScheduled atomically consults the known-set and, depending on the
	// outcome and the replace flag, inserts or updates a scheduled entry:
	//
	//   unknown url            -> add to known-set, insert entry, Inserted
	//   known, !replace        -> no change, AlreadyKnown
	//   known, replace, entry  -> move entry to at if later, merge metadata,
	//                             Replaced
	//   known, replace, gone   -> re-insert entry at at, Requeued
	//
	// If it returns Inserted, a subsequent IsKnown for the same URL returns
	// true. Metadata merge-on-write: keys present in metadata replace
	// existing keys of the same name, other keys are preserved.
	PutScheduled(crawlID, queueKey, url string, at time.Time, metadata map[string][]string, replace bool) (ScheduleResult, error)

	// FetchDue returns up to max entries with RefetchableFrom <= now, in
	// time order (ties by insertion order), without removing them. Entries
	// already in-flight re-appear here once their window has passed.
	FetchDue(crawlID, queueKey string, now time.Time, max int) ([]*ScheduledEntry, error)

	// MarkInFlight flags url as handed to a consumer and moves its
	// RefetchableFrom to until, so it is not re-served before then.
	MarkInFlight(crawlID, queueKey, url string, until time.Time) error

	// MarkCompleted removes url from the scheduled sequence and increments
	// the queue's completed counter.
	MarkCompleted(crawlID, queueKey, url string) error

	// Reschedule moves url's RefetchableFrom to at and clears its in-flight
	// flag.
	Reschedule(crawlID, queueKey, url string, at time.Time) error

	// IsKnown reports whether url has ever been ingested under crawlID.
	IsKnown(crawlID, url string) (bool, error)

	// AddKnown inserts url into crawlID's known-set.
	AddKnown(crawlID, url string) error

	// ListCrawls returns the ids of all crawls present in the store.
	ListCrawls() ([]string, error)

	// IterateQueues calls fn for every queue, restricted to crawlID when it
	// is non-empty. Iteration stops when fn returns false.
	IterateQueues(crawlID string, fn func(ref QueueRef, counts QueueCounts) bool) error

	// DeleteQueue removes a queue and returns how many scheduled entries
	// were dropped. The known-set is left alone.
	DeleteQueue(crawlID, queueKey string) (int, error)

	// DeleteCrawl removes all queues of a crawl and its known-set
	// atomically, returning the number of scheduled entries dropped.
	DeleteCrawl(crawlID string) (int, error)

	// Checkpoint flushes to the durable medium. It returns only after
	// fsync-level durability if the backend supports it.
	Checkpoint() error

	// Close releases the store's resources.
	Close()
}
