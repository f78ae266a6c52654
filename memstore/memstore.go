// Package memstore provides an in-memory QueueStore. It backs tests and
// small single-process deployments; nothing survives a restart.
package memstore

import (
	"sort"
	"sync"
	"time"

	frontier "github.com/michaeldinzinger/url-frontier"
)

type entry struct {
	url      string
	at       time.Time
	seq      uint64
	meta     map[string][]string
	inFlight bool
}

type queue struct {
	// entries is kept sorted by (at, seq); byURL indexes the same entries.
	entries   []*entry
	byURL     map[string]*entry
	completed int
}

type crawl struct {
	known  map[string]struct{}
	queues map[string]*queue
}

// Store is the in-memory frontier.QueueStore implementation.
//
// A single mutex covers all state; the engine above already stripes its
// writes, and in-memory operations are short enough that finer granularity
// has not been worth it.
type Store struct {
	mu     sync.Mutex
	crawls map[string]*crawl
	seq    uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{crawls: make(map[string]*crawl)}
}

var _ frontier.QueueStore = (*Store)(nil)

func (s *Store) crawlFor(crawlID string) *crawl {
	c, ok := s.crawls[crawlID]
	if !ok {
		c = &crawl{known: make(map[string]struct{}), queues: make(map[string]*queue)}
		s.crawls[crawlID] = c
	}
	return c
}

func (c *crawl) queueFor(key string) *queue {
	q, ok := c.queues[key]
	if !ok {
		q = &queue{byURL: make(map[string]*entry)}
		c.queues[key] = q
	}
	return q
}

// insert places en into the queue preserving (at, seq) order.
func (q *queue) insert(en *entry) {
	i := sort.Search(len(q.entries), func(i int) bool {
		e := q.entries[i]
		if !e.at.Equal(en.at) {
			return e.at.After(en.at)
		}
		return e.seq > en.seq
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = en
	q.byURL[en.url] = en
}

func (q *queue) remove(en *entry) {
	for i, e := range q.entries {
		if e == en {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.byURL, en.url)
}

func copyMeta(meta map[string][]string) map[string][]string {
	if meta == nil {
		return nil
	}
	out := make(map[string][]string, len(meta))
	for k, v := range meta {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// PutScheduled is documented on the frontier.QueueStore interface.
func (s *Store) PutScheduled(crawlID, queueKey, url string, at time.Time, meta map[string][]string, replace bool) (frontier.ScheduleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.crawlFor(crawlID)
	_, known := c.known[url]

	if !known {
		c.known[url] = struct{}{}
		s.seq++
		c.queueFor(queueKey).insert(&entry{url: url, at: at, seq: s.seq, meta: copyMeta(meta)})
		return frontier.ScheduleInserted, nil
	}
	if !replace {
		return frontier.ScheduleAlreadyKnown, nil
	}

	q := c.queueFor(queueKey)
	en, scheduled := q.byURL[url]
	if !scheduled {
		s.seq++
		q.insert(&entry{url: url, at: at, seq: s.seq, meta: copyMeta(meta)})
		return frontier.ScheduleRequeued, nil
	}

	if at.After(en.at) {
		q.remove(en)
		en.at = at
		en.inFlight = false
		q.insert(en)
	}
	if len(meta) > 0 {
		if en.meta == nil {
			en.meta = make(map[string][]string, len(meta))
		}
		for k, v := range meta {
			en.meta[k] = append([]string(nil), v...)
		}
	}
	return frontier.ScheduleReplaced, nil
}

// FetchDue is documented on the frontier.QueueStore interface.
func (s *Store) FetchDue(crawlID, queueKey string, now time.Time, max int) ([]*frontier.ScheduledEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.crawls[crawlID]
	if !ok {
		return nil, nil
	}
	q, ok := c.queues[queueKey]
	if !ok {
		return nil, nil
	}

	var out []*frontier.ScheduledEntry
	for _, en := range q.entries {
		if en.at.After(now) {
			break
		}
		out = append(out, &frontier.ScheduledEntry{
			URL:             en.url,
			RefetchableFrom: en.at,
			Metadata:        copyMeta(en.meta),
			InFlight:        en.inFlight,
		})
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

// MarkInFlight is documented on the frontier.QueueStore interface.
func (s *Store) MarkInFlight(crawlID, queueKey, url string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	en := s.lookup(crawlID, queueKey, url)
	if en == nil {
		return nil
	}
	q := s.crawls[crawlID].queues[queueKey]
	q.remove(en)
	en.at = until
	en.inFlight = true
	q.insert(en)
	return nil
}

// MarkCompleted is documented on the frontier.QueueStore interface.
func (s *Store) MarkCompleted(crawlID, queueKey, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	en := s.lookup(crawlID, queueKey, url)
	if en == nil {
		return nil
	}
	q := s.crawls[crawlID].queues[queueKey]
	q.remove(en)
	q.completed++
	return nil
}

// Reschedule is documented on the frontier.QueueStore interface.
func (s *Store) Reschedule(crawlID, queueKey, url string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	en := s.lookup(crawlID, queueKey, url)
	if en == nil {
		return nil
	}
	q := s.crawls[crawlID].queues[queueKey]
	q.remove(en)
	en.at = at
	en.inFlight = false
	q.insert(en)
	return nil
}

func (s *Store) lookup(crawlID, queueKey, url string) *entry {
	c, ok := s.crawls[crawlID]
	if !ok {
		return nil
	}
	q, ok := c.queues[queueKey]
	if !ok {
		return nil
	}
	return q.byURL[url]
}

// IsKnown is documented on the frontier.QueueStore interface.
func (s *Store) IsKnown(crawlID, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[crawlID]
	if !ok {
		return false, nil
	}
	_, known := c.known[url]
	return known, nil
}

// AddKnown is documented on the frontier.QueueStore interface.
func (s *Store) AddKnown(crawlID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crawlFor(crawlID).known[url] = struct{}{}
	return nil
}

// ListCrawls is documented on the frontier.QueueStore interface.
func (s *Store) ListCrawls() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.crawls))
	for id := range s.crawls {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// IterateQueues is documented on the frontier.QueueStore interface.
func (s *Store) IterateQueues(crawlID string, fn func(ref frontier.QueueRef, counts frontier.QueueCounts) bool) error {
	s.mu.Lock()
	type row struct {
		ref    frontier.QueueRef
		counts frontier.QueueCounts
	}
	var rows []row
	for id, c := range s.crawls {
		if crawlID != "" && id != crawlID {
			continue
		}
		for key, q := range c.queues {
			counts := frontier.QueueCounts{Completed: q.completed}
			for _, en := range q.entries {
				if en.inFlight {
					counts.InFlight++
				} else {
					counts.Scheduled++
				}
			}
			rows = append(rows, row{frontier.QueueRef{CrawlID: id, Key: key}, counts})
		}
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ref.CrawlID != rows[j].ref.CrawlID {
			return rows[i].ref.CrawlID < rows[j].ref.CrawlID
		}
		return rows[i].ref.Key < rows[j].ref.Key
	})
	for _, r := range rows {
		if !fn(r.ref, r.counts) {
			break
		}
	}
	return nil
}

// DeleteQueue is documented on the frontier.QueueStore interface.
func (s *Store) DeleteQueue(crawlID, queueKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[crawlID]
	if !ok {
		return 0, nil
	}
	q, ok := c.queues[queueKey]
	if !ok {
		return 0, nil
	}
	delete(c.queues, queueKey)
	return len(q.entries), nil
}

// DeleteCrawl is documented on the frontier.QueueStore interface.
func (s *Store) DeleteCrawl(crawlID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[crawlID]
	if !ok {
		return 0, nil
	}
	removed := 0
	for _, q := range c.queues {
		removed += len(q.entries)
	}
	delete(s.crawls, crawlID)
	return removed, nil
}

// Checkpoint is a no-op: there is no durable medium.
func (s *Store) Checkpoint() error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}
