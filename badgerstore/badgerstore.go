// Package badgerstore provides the embedded on-disk QueueStore, backed by
// badger's ordered key space.
//
// Key layout (fields separated by 0x00):
//
//	m | crawl                          crawl marker
//	s | crawl | queue | time | seq     scheduled entry (value: entryValue)
//	x | crawl | queue | blake3(url)    url -> (time|seq) suffix of the s key
//	k | crawl | blake3(url)            known-set membership
//	c | crawl | queue                  queue counters (value: countsValue)
//
// Time is encoded as an 8-byte big-endian unix-nano so that ordered key
// iteration yields entries in schedule order; seq breaks ties by insertion
// order.
package badgerstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	frontier "github.com/michaeldinzinger/url-frontier"
)

const (
	prefixMarker = 'm'
	prefixSched  = 's'
	prefixIndex  = 'x'
	prefixKnown  = 'k'
	prefixCounts = 'c'
)

// commitRetries bounds how many times an operation is attempted while badger
// reports a transaction conflict before the error is surfaced.
const commitRetries = 5

type entryValue struct {
	URL      string              `json:"url"`
	Meta     map[string][]string `json:"meta,omitempty"`
	InFlight bool                `json:"in_flight,omitempty"`
}

type countsValue struct {
	Scheduled int `json:"scheduled"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
}

// Store is the badger-backed frontier.QueueStore implementation.
//
// Open should be used to create one.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ frontier.QueueStore = (*Store)(nil)

// Open opens (or creates) the store in the configured badger directory.
func Open() (*Store, error) {
	return OpenDir(frontier.Config.Store.Badger.Directory)
}

// OpenDir opens (or creates) the store under dir.
func OpenDir(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("Failed to open badger store in %v: %v", dir, err)
	}
	seq, err := db.GetSequence([]byte("urlfrontier_seq"), 512)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to open badger sequence: %v", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() {
	if err := s.seq.Release(); err != nil {
		log.Errorf("Failed to release badger sequence: %v", err)
	}
	if err := s.db.Close(); err != nil {
		log.Errorf("Failed to close badger store: %v", err)
	}
}

//
// Key encoding
//

func fieldKey(prefix byte, fields ...[]byte) []byte {
	out := []byte{prefix}
	for _, f := range fields {
		out = append(out, 0)
		out = append(out, f...)
	}
	return out
}

func urlHash(url string) []byte {
	h := blake3.Sum256([]byte(url))
	return h[:]
}

func encodeTimeSeq(at time.Time, seq uint64) []byte {
	// Clamp to the epoch so the unsigned encoding keeps key order.
	ns := at.UnixNano()
	if ns < 0 {
		ns = 0
	}
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], uint64(ns))
	binary.BigEndian.PutUint64(out[8:], seq)
	return out
}

func decodeTime(suffix []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(suffix[:8])))
}

func schedKey(crawlID, queueKey string, timeSeq []byte) []byte {
	k := fieldKey(prefixSched, []byte(crawlID), []byte(queueKey))
	k = append(k, 0)
	return append(k, timeSeq...)
}

func schedPrefix(crawlID, queueKey string) []byte {
	k := fieldKey(prefixSched, []byte(crawlID), []byte(queueKey))
	return append(k, 0)
}

func indexKey(crawlID, queueKey, url string) []byte {
	return fieldKey(prefixIndex, []byte(crawlID), []byte(queueKey), urlHash(url))
}

func knownKey(crawlID, url string) []byte {
	return fieldKey(prefixKnown, []byte(crawlID), urlHash(url))
}

func countsKey(crawlID, queueKey string) []byte {
	return fieldKey(prefixCounts, []byte(crawlID), []byte(queueKey))
}

func markerKey(crawlID string) []byte {
	return fieldKey(prefixMarker, []byte(crawlID))
}

//
// Transaction helpers
//

// update runs fn in a read-write transaction, retrying on conflicts. Other
// commit failures are wrapped as fatal: badger only fails a commit when the
// value log or LSM write goes wrong, which the engine cannot recover from.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < commitRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil && !errors.Is(err, badger.ErrConflict) {
		return frontier.Fatal(err)
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, v)
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

func bumpCounts(txn *badger.Txn, crawlID, queueKey string, delta countsValue) error {
	var counts countsValue
	if _, err := getJSON(txn, countsKey(crawlID, queueKey), &counts); err != nil {
		return err
	}
	counts.Scheduled += delta.Scheduled
	counts.InFlight += delta.InFlight
	counts.Completed += delta.Completed
	return setJSON(txn, countsKey(crawlID, queueKey), &counts)
}

// lookupEntry resolves url to its scheduled key suffix and value, or returns
// ok=false when the url is not scheduled in this queue.
func lookupEntry(txn *badger.Txn, crawlID, queueKey, url string) (suffix []byte, val entryValue, ok bool, err error) {
	item, err := txn.Get(indexKey(crawlID, queueKey, url))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, val, false, nil
	}
	if err != nil {
		return nil, val, false, err
	}
	suffix, err = item.ValueCopy(nil)
	if err != nil {
		return nil, val, false, err
	}
	found, err := getJSON(txn, schedKey(crawlID, queueKey, suffix), &val)
	if err != nil || !found {
		return nil, val, false, err
	}
	return suffix, val, true, nil
}

func putEntry(txn *badger.Txn, crawlID, queueKey string, suffix []byte, val entryValue) error {
	if err := setJSON(txn, schedKey(crawlID, queueKey, suffix), &val); err != nil {
		return err
	}
	return txn.Set(indexKey(crawlID, queueKey, val.URL), suffix)
}

//
// QueueStore implementation
//

// PutScheduled is documented on the frontier.QueueStore interface.
func (s *Store) PutScheduled(crawlID, queueKey, url string, at time.Time, meta map[string][]string, replace bool) (frontier.ScheduleResult, error) {
	seq, err := s.seq.Next()
	if err != nil {
		return 0, frontier.Fatal(err)
	}

	result := frontier.ScheduleInserted
	err = s.update(func(txn *badger.Txn) error {
		_, kerr := txn.Get(knownKey(crawlID, url))
		known := kerr == nil
		if kerr != nil && !errors.Is(kerr, badger.ErrKeyNotFound) {
			return kerr
		}

		if !known {
			result = frontier.ScheduleInserted
			if err := txn.Set(knownKey(crawlID, url), nil); err != nil {
				return err
			}
			if err := txn.Set(markerKey(crawlID), nil); err != nil {
				return err
			}
			if err := putEntry(txn, crawlID, queueKey, encodeTimeSeq(at, seq), entryValue{URL: url, Meta: meta}); err != nil {
				return err
			}
			return bumpCounts(txn, crawlID, queueKey, countsValue{Scheduled: 1})
		}

		if !replace {
			result = frontier.ScheduleAlreadyKnown
			return nil
		}

		suffix, val, scheduled, err := lookupEntry(txn, crawlID, queueKey, url)
		if err != nil {
			return err
		}
		if !scheduled {
			result = frontier.ScheduleRequeued
			if err := putEntry(txn, crawlID, queueKey, encodeTimeSeq(at, seq), entryValue{URL: url, Meta: meta}); err != nil {
				return err
			}
			return bumpCounts(txn, crawlID, queueKey, countsValue{Scheduled: 1})
		}

		result = frontier.ScheduleReplaced
		for k, v := range meta {
			if val.Meta == nil {
				val.Meta = make(map[string][]string, len(meta))
			}
			val.Meta[k] = v
		}
		if at.After(decodeTime(suffix)) {
			if err := txn.Delete(schedKey(crawlID, queueKey, suffix)); err != nil {
				return err
			}
			wasInFlight := val.InFlight
			val.InFlight = false
			if err := putEntry(txn, crawlID, queueKey, encodeTimeSeq(at, seq), val); err != nil {
				return err
			}
			if wasInFlight {
				return bumpCounts(txn, crawlID, queueKey, countsValue{Scheduled: 1, InFlight: -1})
			}
			return nil
		}
		return putEntry(txn, crawlID, queueKey, suffix, val)
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// FetchDue is documented on the frontier.QueueStore interface.
func (s *Store) FetchDue(crawlID, queueKey string, now time.Time, max int) ([]*frontier.ScheduledEntry, error) {
	var out []*frontier.ScheduledEntry
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := schedPrefix(crawlID, queueKey)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < max; it.Next() {
			item := it.Item()
			suffix := item.Key()[len(prefix):]
			at := decodeTime(suffix)
			if at.After(now) {
				break
			}
			var val entryValue
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &val); err != nil {
				return err
			}
			out = append(out, &frontier.ScheduledEntry{
				URL:             val.URL,
				RefetchableFrom: at,
				Metadata:        val.Meta,
				InFlight:        val.InFlight,
			})
		}
		return nil
	})
	return out, err
}

// move shifts url's scheduled entry to at, setting its in-flight flag.
func (s *Store) move(crawlID, queueKey, url string, at time.Time, inFlight bool) error {
	seq, err := s.seq.Next()
	if err != nil {
		return frontier.Fatal(err)
	}
	return s.update(func(txn *badger.Txn) error {
		suffix, val, ok, err := lookupEntry(txn, crawlID, queueKey, url)
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete(schedKey(crawlID, queueKey, suffix)); err != nil {
			return err
		}
		delta := countsValue{}
		if val.InFlight && !inFlight {
			delta = countsValue{Scheduled: 1, InFlight: -1}
		} else if !val.InFlight && inFlight {
			delta = countsValue{Scheduled: -1, InFlight: 1}
		}
		val.InFlight = inFlight
		if err := putEntry(txn, crawlID, queueKey, encodeTimeSeq(at, seq), val); err != nil {
			return err
		}
		if delta != (countsValue{}) {
			return bumpCounts(txn, crawlID, queueKey, delta)
		}
		return nil
	})
}

// MarkInFlight is documented on the frontier.QueueStore interface.
func (s *Store) MarkInFlight(crawlID, queueKey, url string, until time.Time) error {
	return s.move(crawlID, queueKey, url, until, true)
}

// Reschedule is documented on the frontier.QueueStore interface.
func (s *Store) Reschedule(crawlID, queueKey, url string, at time.Time) error {
	return s.move(crawlID, queueKey, url, at, false)
}

// MarkCompleted is documented on the frontier.QueueStore interface.
func (s *Store) MarkCompleted(crawlID, queueKey, url string) error {
	return s.update(func(txn *badger.Txn) error {
		suffix, val, ok, err := lookupEntry(txn, crawlID, queueKey, url)
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete(schedKey(crawlID, queueKey, suffix)); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(crawlID, queueKey, url)); err != nil {
			return err
		}
		delta := countsValue{Completed: 1, Scheduled: -1}
		if val.InFlight {
			delta = countsValue{Completed: 1, InFlight: -1}
		}
		return bumpCounts(txn, crawlID, queueKey, delta)
	})
}

// IsKnown is documented on the frontier.QueueStore interface.
func (s *Store) IsKnown(crawlID, url string) (bool, error) {
	known := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(knownKey(crawlID, url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err == nil {
			known = true
		}
		return err
	})
	return known, err
}

// AddKnown is documented on the frontier.QueueStore interface.
func (s *Store) AddKnown(crawlID, url string) error {
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Set(markerKey(crawlID), nil); err != nil {
			return err
		}
		return txn.Set(knownKey(crawlID, url), nil)
	})
}

// ListCrawls is documented on the frontier.QueueStore interface.
func (s *Store) ListCrawls() ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixMarker, 0}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return out, err
}

// IterateQueues is documented on the frontier.QueueStore interface.
func (s *Store) IterateQueues(crawlID string, fn func(ref frontier.QueueRef, counts frontier.QueueCounts) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixCounts, 0}
		if crawlID != "" {
			prefix = append(append(prefix, []byte(crawlID)...), 0)
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := item.Key()[2:]
			sep := bytes.IndexByte(rest, 0)
			if sep < 0 {
				continue
			}
			ref := frontier.QueueRef{CrawlID: string(rest[:sep]), Key: string(rest[sep+1:])}

			var counts countsValue
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &counts); err != nil {
				return err
			}
			if counts.Scheduled == 0 && counts.InFlight == 0 && counts.Completed == 0 {
				continue
			}
			if !fn(ref, frontier.QueueCounts{
				Scheduled: counts.Scheduled,
				InFlight:  counts.InFlight,
				Completed: counts.Completed,
			}) {
				break
			}
		}
		return nil
	})
}

// deletePrefix drops every key under prefix, in batches, returning how many
// keys were deleted.
func (s *Store) deletePrefix(prefix []byte) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, frontier.Fatal(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, frontier.Fatal(err)
	}
	return len(keys), nil
}

// DeleteQueue is documented on the frontier.QueueStore interface.
func (s *Store) DeleteQueue(crawlID, queueKey string) (int, error) {
	removed, err := s.deletePrefix(schedPrefix(crawlID, queueKey))
	if err != nil {
		return 0, err
	}
	if _, err := s.deletePrefix(append(fieldKey(prefixIndex, []byte(crawlID), []byte(queueKey)), 0)); err != nil {
		return 0, err
	}
	err = s.update(func(txn *badger.Txn) error {
		return txn.Delete(countsKey(crawlID, queueKey))
	})
	return removed, err
}

// DeleteCrawl is documented on the frontier.QueueStore interface.
func (s *Store) DeleteCrawl(crawlID string) (int, error) {
	removed, err := s.deletePrefix(append(fieldKey(prefixSched, []byte(crawlID)), 0))
	if err != nil {
		return 0, err
	}
	for _, prefix := range [][]byte{
		append(fieldKey(prefixIndex, []byte(crawlID)), 0),
		append(fieldKey(prefixKnown, []byte(crawlID)), 0),
		append(fieldKey(prefixCounts, []byte(crawlID)), 0),
	} {
		if _, err := s.deletePrefix(prefix); err != nil {
			return 0, err
		}
	}
	// The marker is deleted as an exact key: as a prefix it would also match
	// crawls whose id starts with crawlID.
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Delete(markerKey(crawlID))
	}); err != nil {
		return 0, err
	}
	return removed, nil
}

// Checkpoint syncs badger's value log to disk.
func (s *Store) Checkpoint() error {
	if err := s.db.Sync(); err != nil {
		return frontier.Fatal(err)
	}
	return nil
}
