package frontier

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// GetURLs produces ready-to-fetch URLs under politeness, fairness and
// deadline constraints, calling emit for each one. It returns once the caps
// are reached, no more eligible URLs exist, or the per-request deadline
// elapses; a deadline never surfaces as an error, the response is just
// shorter.
//
// Politeness: after a queue contributes, its NextEligibleAt moves to
// now + min_delay and the queue is skipped until then. Fairness: the scan
// starts at the directory's fairness cursor and visits candidates
// round-robin; no queue contributes more than ceil(max_urls/max_queues) URLs
// per response.
//
// Every emitted URL is marked in-flight until now + delay_requestable; an
// entry whose window passes without MarkCompleted re-becomes eligible
// automatically.
func (e *Engine) GetURLs(ctx context.Context, p GetParams, emit func(*URLInfo) error) error {
	if e.ReadOnly() {
		return ErrFatalStore
	}

	if p.MaxURLs < 1 {
		p.MaxURLs = 1
	}
	if p.MaxQueues < 1 {
		p.MaxQueues = 1
	}
	if p.DelayRequestable <= 0 {
		p.DelayRequestable = e.defaultDelayRequestable
	}
	perQueueCap := (p.MaxURLs + p.MaxQueues - 1) / p.MaxQueues

	// The request deadline is the minimum of the caller's deadline and the
	// server default.
	deadline := e.now().Add(e.fetchDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	served := 0
	queuesUsed := 0
	var lastVisited QueueRef
	visitedAny := false

	for _, ref := range e.dir.Candidates() {
		if served >= p.MaxURLs || queuesUsed >= p.MaxQueues {
			break
		}
		if ctx.Err() != nil || !e.now().Before(deadline) {
			log.Debugf("GetURLs deadline elapsed after %v urls", served)
			break
		}
		if p.CrawlID != "" && ref.CrawlID != p.CrawlID {
			continue
		}
		if p.Key != "" && ref.Key != p.Key {
			continue
		}

		batch, err := e.drawFromQueue(ref, min(perQueueCap, p.MaxURLs-served), p.DelayRequestable)
		lastVisited = ref
		visitedAny = true
		if err != nil {
			e.noteStoreError("FetchDue", err)
			if e.ReadOnly() {
				break
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}

		queuesUsed++
		served += len(batch)
		for _, info := range batch {
			if err := emit(info); err != nil {
				// The peer went away. Entries already marked stay in-flight
				// with their windows unchanged.
				e.dir.SetCursorAfter(ref)
				return err
			}
		}
	}

	if visitedAny {
		e.dir.SetCursorAfter(lastVisited)
	}
	return nil
}

// drawFromQueue pulls up to max due entries from one queue, marking each
// in-flight and updating the queue's politeness clock. The queue lock is held
// across the store reads and writes so concurrent fetches cannot hand the
// same URL to two consumers; it is released before anything is emitted.
func (e *Engine) drawFromQueue(ref QueueRef, max int, delayRequestable time.Duration) ([]*URLInfo, error) {
	m := e.dir.Get(ref)
	if m == nil {
		return nil, nil
	}
	minDelay := e.dir.Limits(ref.CrawlID).MinDelay

	m.Lock()
	defer m.Unlock()

	now := e.now()
	if !m.eligible(now) {
		return nil, nil
	}

	entries, err := e.store.FetchDue(ref.CrawlID, ref.Key, now, max)
	if err != nil {
		return nil, err
	}

	var out []*URLInfo
	for _, entry := range entries {
		if err := e.store.MarkInFlight(ref.CrawlID, ref.Key, entry.URL, now.Add(delayRequestable)); err != nil {
			e.noteStoreError("MarkInFlight", err)
			break
		}
		if !entry.InFlight {
			m.Scheduled--
			m.InFlightCount++
		}
		out = append(out, &URLInfo{
			URL:      entry.URL,
			CrawlID:  ref.CrawlID,
			Key:      ref.Key,
			Metadata: entry.Metadata,
		})
		m.NextEligibleAt = now.Add(minDelay)
		m.LastProducedAt = now

		// With a non-zero politeness delay the queue just became
		// ineligible, so one URL is all it contributes this visit.
		if minDelay > 0 {
			break
		}
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
