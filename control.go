package frontier

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ListCrawls returns the ids of all crawls the store holds state for.
func (e *Engine) ListCrawls() ([]string, error) {
	return e.store.ListCrawls()
}

// ListNodes returns the frontier nodes backing this service. This
// implementation is single-node.
func (e *Engine) ListNodes() []string {
	return []string{e.nodeName}
}

// ListQueues returns per-queue stats, restricted to one crawl when crawlID is
// non-empty. Queues with nothing active are omitted unless includeInactive.
func (e *Engine) ListQueues(crawlID string, includeInactive bool) []QueueStats {
	return e.dir.Snapshot(crawlID, includeInactive)
}

// GetStats aggregates queue counters, optionally restricted to one crawl.
func (e *Engine) GetStats(crawlID string) Stats {
	stats := Stats{Healthy: !e.ReadOnly()}
	for _, q := range e.dir.Snapshot(crawlID, true) {
		stats.Queues++
		stats.Active += q.ActiveCount
		stats.InFlight += q.InFlight
		stats.Completed += q.CompletedCount
	}
	return stats
}

// BlockQueueUntil pauses a queue until t. A zero or past t resumes the queue
// immediately.
func (e *Engine) BlockQueueUntil(crawlID, queueKey string, t time.Time) error {
	m := e.dir.Get(QueueRef{CrawlID: crawlID, Key: queueKey})
	if m == nil {
		return fmt.Errorf("No such queue %v/%v", crawlID, queueKey)
	}
	m.Lock()
	defer m.Unlock()
	if t.IsZero() || !e.now().Before(t) {
		m.BlockedUntil = time.Time{}
		if m.Status == StatusPaused {
			m.Status = StatusActive
		}
		return nil
	}
	m.BlockedUntil = t
	if m.Status == StatusActive {
		m.Status = StatusPaused
	}
	return nil
}

// PauseQueue excludes a queue from scheduling until ResumeQueue is called.
func (e *Engine) PauseQueue(crawlID, queueKey string) error {
	return e.setStatus(crawlID, queueKey, StatusPaused)
}

// ResumeQueue makes a paused queue eligible again.
func (e *Engine) ResumeQueue(crawlID, queueKey string) error {
	return e.setStatus(crawlID, queueKey, StatusActive)
}

// DrainQueue stops a queue from accepting new URLs; its scheduled entries
// are still served and the queue is deleted once it runs empty.
func (e *Engine) DrainQueue(crawlID, queueKey string) error {
	return e.setStatus(crawlID, queueKey, StatusDraining)
}

func (e *Engine) setStatus(crawlID, queueKey string, status QueueStatus) error {
	m := e.dir.Get(QueueRef{CrawlID: crawlID, Key: queueKey})
	if m == nil {
		return fmt.Errorf("No such queue %v/%v", crawlID, queueKey)
	}
	m.Lock()
	defer m.Unlock()
	m.Status = status
	if status != StatusPaused {
		m.BlockedUntil = time.Time{}
	}
	return nil
}

// SetCrawlLimits installs the politeness delay and optional queue size cap
// for a crawl. The limits take effect for the next scheduling decision; they
// are reflected in the directory before this returns.
func (e *Engine) SetCrawlLimits(crawlID string, minDelay time.Duration, maxQueueSize int) error {
	if minDelay < 0 {
		return fmt.Errorf("Crawl limit min_delay must not be negative, got %v", minDelay)
	}
	if maxQueueSize < 0 {
		return fmt.Errorf("Crawl limit max_queue_size must not be negative, got %v", maxQueueSize)
	}
	e.dir.SetLimits(crawlID, CrawlLimits{MinDelay: minDelay, MaxQueueSize: maxQueueSize})
	log.Infof("Crawl %v limits set: min_delay=%v max_queue_size=%v", crawlID, minDelay, maxQueueSize)
	return nil
}

// DeleteQueue removes a queue from the store and the directory, returning
// how many scheduled entries were dropped.
func (e *Engine) DeleteQueue(crawlID, queueKey string) (int, error) {
	if e.ReadOnly() {
		return 0, ErrFatalStore
	}
	removed, err := e.store.DeleteQueue(crawlID, queueKey)
	if err != nil {
		e.noteStoreError("DeleteQueue", err)
		return 0, err
	}
	e.dir.Remove(QueueRef{CrawlID: crawlID, Key: queueKey})
	log.Infof("Deleted queue %v/%v (%v entries)", crawlID, queueKey, removed)
	return removed, nil
}

// DeleteCrawl removes all of a crawl's queues and its known-set atomically,
// returning the number of scheduled entries dropped.
func (e *Engine) DeleteCrawl(crawlID string) (int, error) {
	if e.ReadOnly() {
		return 0, ErrFatalStore
	}
	removed, err := e.store.DeleteCrawl(crawlID)
	if err != nil {
		e.noteStoreError("DeleteCrawl", err)
		return 0, err
	}
	e.dir.RemoveCrawl(crawlID)
	e.dropKnownFilter(crawlID)
	log.Infof("Deleted crawl %v (%v entries)", crawlID, removed)
	return removed, nil
}

// Checkpoint flushes the store to its durable medium.
func (e *Engine) Checkpoint() error {
	if e.ReadOnly() {
		return ErrFatalStore
	}
	if err := e.store.Checkpoint(); err != nil {
		e.noteStoreError("Checkpoint", err)
		return err
	}
	return nil
}
