package frontier

import (
	"sort"
	"sync"
	"time"
)

// QueueStatus is the scheduling state of a queue in the directory.
type QueueStatus int

const (
	// StatusActive queues are eligible for scheduling.
	StatusActive QueueStatus = iota

	// StatusPaused queues are excluded from scheduling until resumed,
	// either manually or when the clock reaches BlockedUntil.
	StatusPaused

	// StatusDraining queues accept no new URLs; scheduled entries are still
	// served, and the queue is deleted once it runs empty.
	StatusDraining
)

func (s QueueStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPaused:
		return "PAUSED"
	case StatusDraining:
		return "DRAINING"
	}
	return "UNKNOWN"
}

// QueueMeta is the in-memory scheduling metadata for one queue. A single
// queue's fields are only read or written under its own lock; the directory
// lock covers insertion and deletion of whole queues.
type QueueMeta struct {
	sync.Mutex

	Ref    QueueRef
	Status QueueStatus

	// NextEligibleAt is the earliest wall-clock time at which a URL from
	// this queue may be returned (politeness).
	NextEligibleAt time.Time

	// BlockedUntil is an optional manual pause timestamp.
	BlockedUntil time.Time

	// LastProducedAt is when this queue last contributed a URL.
	LastProducedAt time.Time

	Scheduled     int
	InFlightCount int
	Completed     int
}

// ActiveCount is the number of scheduled plus in-flight entries. Callers must
// hold the meta lock.
func (m *QueueMeta) ActiveCount() int {
	return m.Scheduled + m.InFlightCount
}

// eligible reports whether this queue may be drawn from at now. Callers must
// hold the meta lock; a lapsed pause is resolved back to Active as a side
// effect.
func (m *QueueMeta) eligible(now time.Time) bool {
	if m.Status == StatusPaused && !m.BlockedUntil.IsZero() && !now.Before(m.BlockedUntil) {
		m.Status = StatusActive
		m.BlockedUntil = time.Time{}
	}
	if m.Status == StatusPaused {
		return false
	}
	if now.Before(m.NextEligibleAt) {
		return false
	}
	return m.ActiveCount() > 0
}

// Directory is the in-memory index of all active queues with their
// scheduling metadata, plus the fairness cursor the scheduler starts each
// candidate scan from. It is rebuilt from the queue store on startup.
type Directory struct {
	mu     sync.RWMutex
	queues map[QueueRef]*QueueMeta

	// ring holds the queue refs in fairness order. cursor indexes the next
	// queue a scan starts from and advances strictly forward with
	// wrap-around; new queues enter immediately after the cursor.
	ring   []QueueRef
	cursor int

	limits map[string]CrawlLimits
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		queues: make(map[QueueRef]*QueueMeta),
		limits: make(map[string]CrawlLimits),
	}
}

// Get returns the metadata for ref, or nil if the queue is not registered.
func (d *Directory) Get(ref QueueRef) *QueueMeta {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.queues[ref]
}

// GetOrCreate returns the metadata for ref, registering the queue first when
// needed. The second return is true if the queue was created by this call.
func (d *Directory) GetOrCreate(ref QueueRef) (*QueueMeta, bool) {
	d.mu.RLock()
	m := d.queues[ref]
	d.mu.RUnlock()
	if m != nil {
		return m, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if m = d.queues[ref]; m != nil {
		return m, false
	}
	m = &QueueMeta{Ref: ref, Status: StatusActive}
	d.queues[ref] = m
	d.insertAfterCursor(ref)
	return m, true
}

// insertAfterCursor splices ref into the ring just after the cursor's current
// position. Callers must hold the directory write lock.
func (d *Directory) insertAfterCursor(ref QueueRef) {
	if len(d.ring) == 0 {
		d.ring = append(d.ring, ref)
		d.cursor = 0
		return
	}
	at := d.cursor + 1
	if at > len(d.ring) {
		at = len(d.ring)
	}
	d.ring = append(d.ring, QueueRef{})
	copy(d.ring[at+1:], d.ring[at:])
	d.ring[at] = ref
}

// Remove unregisters a queue. It reports whether the queue was present.
func (d *Directory) Remove(ref QueueRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queues[ref]; !ok {
		return false
	}
	delete(d.queues, ref)
	d.removeFromRing(ref)
	return true
}

// RemoveCrawl unregisters every queue of a crawl and drops its limits,
// returning how many queues were removed.
func (d *Directory) RemoveCrawl(crawlID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for ref := range d.queues {
		if ref.CrawlID == crawlID {
			delete(d.queues, ref)
			d.removeFromRing(ref)
			removed++
		}
	}
	delete(d.limits, crawlID)
	return removed
}

func (d *Directory) removeFromRing(ref QueueRef) {
	for i, r := range d.ring {
		if r == ref {
			d.ring = append(d.ring[:i], d.ring[i+1:]...)
			if i < d.cursor {
				d.cursor--
			}
			if len(d.ring) == 0 {
				d.cursor = 0
			} else {
				d.cursor %= len(d.ring)
			}
			return
		}
	}
}

// Candidates returns the queue refs in fairness order, starting at the
// cursor. The slice is a snapshot; queues registered or removed afterwards
// are not reflected in it.
func (d *Directory) Candidates() []QueueRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.ring) == 0 {
		return nil
	}
	out := make([]QueueRef, 0, len(d.ring))
	for i := 0; i < len(d.ring); i++ {
		out = append(out, d.ring[(d.cursor+i)%len(d.ring)])
	}
	return out
}

// SetCursorAfter advances the cursor to the position just past ref, so the
// next scan starts with the queue following the last one visited. Queues
// removed since the snapshot are skipped silently.
func (d *Directory) SetCursorAfter(ref QueueRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.ring {
		if r == ref {
			d.cursor = (i + 1) % len(d.ring)
			return
		}
	}
}

// Len returns the number of registered queues.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.queues)
}

// Snapshot returns stats rows for the directory's queues, restricted to
// crawlID when non-empty. Queues with no active entries are omitted unless
// includeInactive is set. Rows are sorted by (crawl, key) so listings are
// reproducible.
func (d *Directory) Snapshot(crawlID string, includeInactive bool) []QueueStats {
	d.mu.RLock()
	metas := make([]*QueueMeta, 0, len(d.queues))
	for ref, m := range d.queues {
		if crawlID != "" && ref.CrawlID != crawlID {
			continue
		}
		metas = append(metas, m)
	}
	d.mu.RUnlock()

	var out []QueueStats
	for _, m := range metas {
		m.Lock()
		st := QueueStats{
			CrawlID:        m.Ref.CrawlID,
			Key:            m.Ref.Key,
			ActiveCount:    m.ActiveCount(),
			InFlight:       m.InFlightCount,
			CompletedCount: m.Completed,
			LastProducedAt: m.LastProducedAt,
			Status:         m.Status,
		}
		m.Unlock()
		if st.ActiveCount == 0 && !includeInactive {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CrawlID != out[j].CrawlID {
			return out[i].CrawlID < out[j].CrawlID
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// SetLimits installs per-crawl scheduling limits.
func (d *Directory) SetLimits(crawlID string, limits CrawlLimits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits[crawlID] = limits
}

// Limits returns the limits for a crawl. Crawls that never called SetLimits
// get the configured default politeness delay and no size cap.
func (d *Directory) Limits(crawlID string) CrawlLimits {
	d.mu.RLock()
	l, ok := d.limits[crawlID]
	d.mu.RUnlock()
	if !ok {
		l.MinDelay = time.Duration(Config.Frontier.DefaultMinDelaySeconds) * time.Second
	}
	return l
}
