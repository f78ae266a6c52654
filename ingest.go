package frontier

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// IngestItem classifies and applies one item of an ingest stream and returns
// its acknowledgement. The decision per item:
//
//	Discovered, unknown        -> schedule now, OK
//	Discovered, known          -> SKIPPED
//	Known, unknown             -> schedule at the provided time, OK
//	Known, known               -> move to the provided time if later, merge
//	                              metadata, OK
//	validation/capacity/store  -> FAIL
//
// Items into Paused or Draining queues fail. IngestItem is safe for
// concurrent use; writes for the same (crawl_id, url) are serialized through
// a striped lock so the dedup check and the schedule write are one atomic
// step.
func (e *Engine) IngestItem(ctx context.Context, item *URLItem) Ack {
	ack := Ack{ID: item.AckID(), Status: AckFail}

	if e.ReadOnly() {
		return ack
	}
	if e.ingestRate != nil {
		if err := e.ingestRate.Wait(ctx); err != nil {
			return ack
		}
	}

	info := &item.Info
	if info.URL == "" || info.CrawlID == "" {
		return ack
	}
	u, err := ParseAndNormalizeURL(info.URL)
	if err != nil {
		log.Debugf("Rejecting malformed URL %v: %v", info.URL, err)
		return ack
	}

	// Everything below operates on the normalized form, so casing and
	// fragment variants of one URL dedup together. The ack id keeps the
	// caller's original spelling.
	urlStr := u.String()

	key := info.Key
	if key == "" {
		key = e.queueKey(u)
	}
	ref := QueueRef{CrawlID: info.CrawlID, Key: key}

	// Admission checks against the directory happen before the store write:
	// paused and draining queues take no new URLs, and a full queue rejects
	// further discovered ones.
	limits := e.dir.Limits(info.CrawlID)
	if m := e.dir.Get(ref); m != nil {
		m.Lock()
		status := m.Status
		active := m.ActiveCount()
		m.Unlock()
		if status != StatusActive {
			return ack
		}
		if item.Kind == ItemDiscovered && limits.MaxQueueSize > 0 && active >= limits.MaxQueueSize {
			return ack
		}
	}

	at := item.RefetchableFrom
	replace := item.Kind == ItemKnown
	if item.Kind == ItemDiscovered {
		at = e.now()
	}

	lock := e.urlLock(info.CrawlID, urlStr)
	lock.Lock()

	// Bloom fast path for the duplicate-heavy case: a filter hit means
	// "maybe known", which a read-only IsKnown settles without paying for a
	// write transaction. A miss goes straight to the write, which still
	// reports AlreadyKnown for a URL the filter has not recorded. The store
	// remains the authority either way.
	if item.Kind == ItemDiscovered && e.knownMaybe(info.CrawlID, urlStr) {
		known, err := e.store.IsKnown(info.CrawlID, urlStr)
		if err != nil {
			lock.Unlock()
			e.noteStoreError("IsKnown", err)
			return ack
		}
		if known {
			lock.Unlock()
			ack.Status = AckSkipped
			return ack
		}
	}

	result, err := e.store.PutScheduled(info.CrawlID, key, urlStr, at, info.Metadata, replace)
	lock.Unlock()
	if err != nil {
		e.noteStoreError("PutScheduled", err)
		return ack
	}

	switch result {
	case ScheduleAlreadyKnown:
		// Can happen despite the fast path, e.g. right after a restart when
		// the filter is cold. Warm it so the next duplicate is cheap.
		e.noteKnown(info.CrawlID, urlStr)
		ack.Status = AckSkipped
		return ack
	case ScheduleInserted, ScheduleRequeued:
		e.noteKnown(info.CrawlID, urlStr)
		m, created := e.dir.GetOrCreate(ref)
		if created {
			log.Debugf("Created queue %v/%v", ref.CrawlID, ref.Key)
		}
		m.Lock()
		m.Scheduled++
		m.Unlock()
	case ScheduleReplaced:
		// Entry moved in place; counts are unchanged.
	}

	ack.Status = AckOK
	return ack
}

// MarkCompleted signals out-of-band that a served URL has been processed: the
// entry leaves the scheduled sequence for good and the queue's completed
// counter grows. Draining queues are reaped once they run empty.
func (e *Engine) MarkCompleted(crawlID, queueKey, url string) error {
	if e.ReadOnly() {
		return ErrFatalStore
	}
	ref := QueueRef{CrawlID: crawlID, Key: queueKey}
	m := e.dir.Get(ref)
	if m == nil {
		return nil
	}

	// The store holds the normalized form.
	if u, err := ParseAndNormalizeURL(url); err == nil {
		url = u.String()
	}

	m.Lock()
	err := e.store.MarkCompleted(crawlID, queueKey, url)
	if err == nil {
		if m.InFlightCount > 0 {
			m.InFlightCount--
		} else if m.Scheduled > 0 {
			m.Scheduled--
		}
		m.Completed++
	}
	drained := m.Status == StatusDraining && m.ActiveCount() == 0
	m.Unlock()

	if err != nil {
		e.noteStoreError("MarkCompleted", err)
		return err
	}
	if drained {
		if _, err := e.DeleteQueue(crawlID, queueKey); err != nil {
			log.Errorf("Failed to reap drained queue %v/%v: %v", crawlID, queueKey, err)
		}
	}
	return nil
}
