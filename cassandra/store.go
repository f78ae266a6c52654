// Package cassandra provides the Cassandra-backed QueueStore, for
// deployments where frontier state must be shared or survive any single
// node. See schema.go for the tables it expects.
package cassandra

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/gocql/gocql"
	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	frontier "github.com/michaeldinzinger/url-frontier"
)

// GetConfig builds a gocql cluster config from the global frontier config.
func GetConfig() *gocql.ClusterConfig {
	timeout, err := time.ParseDuration(frontier.Config.Cassandra.Timeout)
	if err != nil {
		// This shouldn't happen because it is tested in assertConfigInvariants
		panic(err)
	}

	config := gocql.NewCluster(frontier.Config.Cassandra.Hosts...)
	config.Keyspace = frontier.Config.Cassandra.Keyspace
	config.Timeout = timeout
	if frontier.Config.Cassandra.NumConns > 0 {
		config.NumConns = frontier.Config.Cassandra.NumConns
	}
	return config
}

// GetSchema returns the CQL schema for this version of the cassandra store.
// Certain values, like keyspace and replication factor, are dynamically
// inserted.
func GetSchema() string {
	t, err := template.New("schema").Parse(schemaTemplate)
	if err != nil {
		// Really shouldn't happen because we build this in
		panic(fmt.Sprintf("Failure parsing the CQL schema template: %v", err))
	}
	var b bytes.Buffer
	t.Execute(&b, frontier.Config.Cassandra)
	return b.String()
}

// CreateSchema creates the frontier schema in the configured Cassandra
// database. It requires that the keyspace not already exist (so as to not
// lose non-test data), with the exception of the urlfrontier_test keyspace,
// which it will drop automatically.
func CreateSchema() error {
	config := GetConfig()
	config.Keyspace = ""
	db, err := config.CreateSession()
	if err != nil {
		return fmt.Errorf("Could not connect to create cassandra schema: %v", err)
	}
	defer db.Close()

	if frontier.Config.Cassandra.Keyspace == "urlfrontier_test" {
		err := db.Query("DROP KEYSPACE IF EXISTS urlfrontier_test").Exec()
		if err != nil {
			return fmt.Errorf("Failed to drop urlfrontier_test keyspace: %v", err)
		}
	}

	schema := GetSchema()
	for _, q := range strings.Split(schema, ";") {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		err = db.Query(q).Exec()
		if err != nil {
			return fmt.Errorf("Failed to create schema: %v\nStatement:\n%v", err, q)
		}
	}
	return nil
}

// Store is the Cassandra frontier.QueueStore implementation.
//
// NewStore should be used to create one.
type Store struct {
	cf *gocql.ClusterConfig
	db *gocql.Session

	// seq hands out insertion tie-breaks within one timestamp.
	seq atomic.Int64
}

var _ frontier.QueueStore = (*Store)(nil)

// NewStore creates a Cassandra session and initializes a Store.
func NewStore() (*Store, error) {
	s := &Store{cf: GetConfig()}
	var err error
	s.db, err = s.cf.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("Failed to create cassandra store: %v", err)
	}
	s.seq.Store(time.Now().UnixNano())
	return s, nil
}

// Close will close the Store.
func (s *Store) Close() {
	s.db.Close()
}

func urlHash(url string) []byte {
	h := blake3.Sum256([]byte(url))
	return h[:]
}

// joinMeta flattens metadata into the map<text,text> representation, joining
// list values with \000.
func joinMeta(meta map[string][]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = strings.Join(v, "\000")
	}
	return out
}

func splitMeta(meta map[string]string) map[string][]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string][]string, len(meta))
	for k, v := range meta {
		out[k] = strings.Split(v, "\000")
	}
	return out
}

// PutScheduled is documented on the frontier.QueueStore interface. The
// known-set insert is a compare-and-set query, so even two processes racing
// on the same URL agree on which one inserted it.
func (s *Store) PutScheduled(crawlID, queueKey, url string, at time.Time, meta map[string][]string, replace bool) (frontier.ScheduleResult, error) {
	casMap := map[string]interface{}{}
	applied, err := s.db.Query(`INSERT INTO known_urls (crawl, url_hash) VALUES (?, ?) IF NOT EXISTS`,
		crawlID, urlHash(url)).MapScanCAS(casMap)
	if err != nil {
		return 0, fmt.Errorf("Failed to insert into known_urls: %v", err)
	}

	if applied {
		if err := s.insertEntry(crawlID, queueKey, url, at, meta); err != nil {
			return 0, err
		}
		if err := s.db.Query(`INSERT INTO crawl_info (crawl) VALUES (?)`, crawlID).Exec(); err != nil {
			log.Errorf("Failed to record crawl %v in crawl_info: %v", crawlID, err)
		}
		return frontier.ScheduleInserted, nil
	}

	if !replace {
		return frontier.ScheduleAlreadyKnown, nil
	}

	var curAt time.Time
	var curSeq int64
	err = s.db.Query(`SELECT at, seq FROM sched_index WHERE crawl = ? AND queue = ? AND url = ?`,
		crawlID, queueKey, url).Scan(&curAt, &curSeq)
	if err == gocql.ErrNotFound {
		if err := s.insertEntry(crawlID, queueKey, url, at, meta); err != nil {
			return 0, err
		}
		return frontier.ScheduleRequeued, nil
	}
	if err != nil {
		return 0, fmt.Errorf("Failed to read sched_index: %v", err)
	}

	// Merge metadata into the existing row; move it when the new time is
	// later.
	if len(meta) > 0 {
		err = s.db.Query(`UPDATE scheduled SET meta = meta + ? WHERE crawl = ? AND queue = ? AND at = ? AND seq = ?`,
			joinMeta(meta), crawlID, queueKey, curAt, curSeq).Exec()
		if err != nil {
			return 0, fmt.Errorf("Failed to merge metadata: %v", err)
		}
	}
	if at.After(curAt) {
		if err := s.moveEntry(crawlID, queueKey, url, curAt, curSeq, at, false); err != nil {
			return 0, err
		}
	}
	return frontier.ScheduleReplaced, nil
}

func (s *Store) insertEntry(crawlID, queueKey, url string, at time.Time, meta map[string][]string) error {
	seq := s.seq.Add(1)
	err := s.db.Query(`INSERT INTO scheduled (crawl, queue, at, seq, url, meta, in_flight)
						VALUES (?, ?, ?, ?, ?, ?, false)`,
		crawlID, queueKey, at, seq, url, joinMeta(meta)).Exec()
	if err != nil {
		return fmt.Errorf("Failed to insert scheduled entry: %v", err)
	}
	err = s.db.Query(`INSERT INTO sched_index (crawl, queue, url, at, seq) VALUES (?, ?, ?, ?, ?)`,
		crawlID, queueKey, url, at, seq).Exec()
	if err != nil {
		return fmt.Errorf("Failed to insert sched_index entry: %v", err)
	}
	return s.db.Query(`UPDATE queue_counters SET scheduled = scheduled + 1 WHERE crawl = ? AND queue = ?`,
		crawlID, queueKey).Exec()
}

// moveEntry relocates a scheduled row to a new clustering position.
func (s *Store) moveEntry(crawlID, queueKey, url string, fromAt time.Time, fromSeq int64, to time.Time, inFlight bool) error {
	var meta map[string]string
	var wasInFlight bool
	err := s.db.Query(`SELECT meta, in_flight FROM scheduled WHERE crawl = ? AND queue = ? AND at = ? AND seq = ?`,
		crawlID, queueKey, fromAt, fromSeq).Scan(&meta, &wasInFlight)
	if err == gocql.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("Failed to read scheduled entry: %v", err)
	}

	seq := s.seq.Add(1)
	err = s.db.Query(`INSERT INTO scheduled (crawl, queue, at, seq, url, meta, in_flight)
						VALUES (?, ?, ?, ?, ?, ?, ?)`,
		crawlID, queueKey, to, seq, url, meta, inFlight).Exec()
	if err != nil {
		return fmt.Errorf("Failed to rewrite scheduled entry: %v", err)
	}
	err = s.db.Query(`DELETE FROM scheduled WHERE crawl = ? AND queue = ? AND at = ? AND seq = ?`,
		crawlID, queueKey, fromAt, fromSeq).Exec()
	if err != nil {
		return fmt.Errorf("Failed to delete old scheduled entry: %v", err)
	}
	err = s.db.Query(`INSERT INTO sched_index (crawl, queue, url, at, seq) VALUES (?, ?, ?, ?, ?)`,
		crawlID, queueKey, url, to, seq).Exec()
	if err != nil {
		return fmt.Errorf("Failed to update sched_index: %v", err)
	}

	if wasInFlight != inFlight {
		q := `UPDATE queue_counters SET scheduled = scheduled - 1, in_flight = in_flight + 1
				WHERE crawl = ? AND queue = ?`
		if wasInFlight {
			q = `UPDATE queue_counters SET scheduled = scheduled + 1, in_flight = in_flight - 1
					WHERE crawl = ? AND queue = ?`
		}
		if err := s.db.Query(q, crawlID, queueKey).Exec(); err != nil {
			return fmt.Errorf("Failed to update queue_counters: %v", err)
		}
	}
	return nil
}

// FetchDue is documented on the frontier.QueueStore interface.
func (s *Store) FetchDue(crawlID, queueKey string, now time.Time, max int) ([]*frontier.ScheduledEntry, error) {
	// Clustering order (at, seq) is already the schedule order.
	iter := s.db.Query(`SELECT at, url, meta, in_flight FROM scheduled
						WHERE crawl = ? AND queue = ? AND at <= ?
						LIMIT ?`,
		crawlID, queueKey, now, max).Iter()

	var out []*frontier.ScheduledEntry
	var at time.Time
	var url string
	var meta map[string]string
	var inFlight bool
	for iter.Scan(&at, &url, &meta, &inFlight) {
		out = append(out, &frontier.ScheduledEntry{
			URL:             url,
			RefetchableFrom: at,
			Metadata:        splitMeta(meta),
			InFlight:        inFlight,
		})
		meta = nil
	}
	if err := iter.Close(); err != nil {
		return out, fmt.Errorf("Failed to iterate scheduled entries: %v", err)
	}
	return out, nil
}

func (s *Store) lookupIndex(crawlID, queueKey, url string) (at time.Time, seq int64, ok bool, err error) {
	err = s.db.Query(`SELECT at, seq FROM sched_index WHERE crawl = ? AND queue = ? AND url = ?`,
		crawlID, queueKey, url).Scan(&at, &seq)
	if err == gocql.ErrNotFound {
		return at, seq, false, nil
	}
	if err != nil {
		return at, seq, false, fmt.Errorf("Failed to read sched_index: %v", err)
	}
	return at, seq, true, nil
}

// MarkInFlight is documented on the frontier.QueueStore interface.
func (s *Store) MarkInFlight(crawlID, queueKey, url string, until time.Time) error {
	at, seq, ok, err := s.lookupIndex(crawlID, queueKey, url)
	if err != nil || !ok {
		return err
	}
	return s.moveEntry(crawlID, queueKey, url, at, seq, until, true)
}

// Reschedule is documented on the frontier.QueueStore interface.
func (s *Store) Reschedule(crawlID, queueKey, url string, at time.Time) error {
	curAt, seq, ok, err := s.lookupIndex(crawlID, queueKey, url)
	if err != nil || !ok {
		return err
	}
	return s.moveEntry(crawlID, queueKey, url, curAt, seq, at, false)
}

// MarkCompleted is documented on the frontier.QueueStore interface.
func (s *Store) MarkCompleted(crawlID, queueKey, url string) error {
	at, seq, ok, err := s.lookupIndex(crawlID, queueKey, url)
	if err != nil || !ok {
		return err
	}

	var inFlight bool
	err = s.db.Query(`SELECT in_flight FROM scheduled WHERE crawl = ? AND queue = ? AND at = ? AND seq = ?`,
		crawlID, queueKey, at, seq).Scan(&inFlight)
	if err != nil && err != gocql.ErrNotFound {
		return fmt.Errorf("Failed to read scheduled entry: %v", err)
	}

	err = s.db.Query(`DELETE FROM scheduled WHERE crawl = ? AND queue = ? AND at = ? AND seq = ?`,
		crawlID, queueKey, at, seq).Exec()
	if err != nil {
		return fmt.Errorf("Failed to delete scheduled entry: %v", err)
	}
	err = s.db.Query(`DELETE FROM sched_index WHERE crawl = ? AND queue = ? AND url = ?`,
		crawlID, queueKey, url).Exec()
	if err != nil {
		return fmt.Errorf("Failed to delete sched_index entry: %v", err)
	}

	col := "scheduled"
	if inFlight {
		col = "in_flight"
	}
	return s.db.Query(fmt.Sprintf(`UPDATE queue_counters SET %s = %s - 1, completed = completed + 1
						WHERE crawl = ? AND queue = ?`, col, col),
		crawlID, queueKey).Exec()
}

// IsKnown is documented on the frontier.QueueStore interface.
func (s *Store) IsKnown(crawlID, url string) (bool, error) {
	var count int
	err := s.db.Query(`SELECT COUNT(*) FROM known_urls WHERE crawl = ? AND url_hash = ?`,
		crawlID, urlHash(url)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("Failed to query known_urls: %v", err)
	}
	return count > 0, nil
}

// AddKnown is documented on the frontier.QueueStore interface.
func (s *Store) AddKnown(crawlID, url string) error {
	err := s.db.Query(`INSERT INTO known_urls (crawl, url_hash) VALUES (?, ?)`,
		crawlID, urlHash(url)).Exec()
	if err != nil {
		return fmt.Errorf("Failed to insert into known_urls: %v", err)
	}
	return s.db.Query(`INSERT INTO crawl_info (crawl) VALUES (?)`, crawlID).Exec()
}

// ListCrawls is documented on the frontier.QueueStore interface.
func (s *Store) ListCrawls() ([]string, error) {
	iter := s.db.Query(`SELECT crawl FROM crawl_info`).Iter()
	var out []string
	var crawl string
	for iter.Scan(&crawl) {
		out = append(out, crawl)
	}
	return out, iter.Close()
}

// IterateQueues is documented on the frontier.QueueStore interface.
func (s *Store) IterateQueues(crawlID string, fn func(ref frontier.QueueRef, counts frontier.QueueCounts) bool) error {
	var iter *gocql.Iter
	if crawlID != "" {
		iter = s.db.Query(`SELECT crawl, queue, scheduled, in_flight, completed
							FROM queue_counters WHERE crawl = ?`, crawlID).Iter()
	} else {
		iter = s.db.Query(`SELECT crawl, queue, scheduled, in_flight, completed
							FROM queue_counters`).Iter()
	}

	var crawl, queue string
	var scheduled, inFlight, completed int64
	for iter.Scan(&crawl, &queue, &scheduled, &inFlight, &completed) {
		if scheduled == 0 && inFlight == 0 && completed == 0 {
			continue
		}
		if !fn(frontier.QueueRef{CrawlID: crawl, Key: queue}, frontier.QueueCounts{
			Scheduled: int(scheduled),
			InFlight:  int(inFlight),
			Completed: int(completed),
		}) {
			break
		}
	}
	return iter.Close()
}

// DeleteQueue is documented on the frontier.QueueStore interface.
func (s *Store) DeleteQueue(crawlID, queueKey string) (int, error) {
	var count int
	err := s.db.Query(`SELECT COUNT(*) FROM scheduled WHERE crawl = ? AND queue = ?`,
		crawlID, queueKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("Failed to count scheduled entries: %v", err)
	}

	for _, q := range []string{
		`DELETE FROM scheduled WHERE crawl = ? AND queue = ?`,
		`DELETE FROM sched_index WHERE crawl = ? AND queue = ?`,
		`DELETE FROM queue_counters WHERE crawl = ? AND queue = ?`,
	} {
		if err := s.db.Query(q, crawlID, queueKey).Exec(); err != nil {
			return 0, fmt.Errorf("Failed to delete queue %v/%v: %v", crawlID, queueKey, err)
		}
	}
	return count, nil
}

// DeleteCrawl is documented on the frontier.QueueStore interface.
func (s *Store) DeleteCrawl(crawlID string) (int, error) {
	removed := 0
	var queues []string
	err := s.IterateQueues(crawlID, func(ref frontier.QueueRef, counts frontier.QueueCounts) bool {
		queues = append(queues, ref.Key)
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, queue := range queues {
		n, err := s.DeleteQueue(crawlID, queue)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	err = s.db.Query(`DELETE FROM known_urls WHERE crawl = ?`, crawlID).Exec()
	if err != nil {
		return removed, fmt.Errorf("Failed to delete known-set for %v: %v", crawlID, err)
	}
	err = s.db.Query(`DELETE FROM crawl_info WHERE crawl = ?`, crawlID).Exec()
	if err != nil {
		return removed, fmt.Errorf("Failed to delete crawl_info for %v: %v", crawlID, err)
	}
	return removed, nil
}

// Checkpoint is a no-op: Cassandra writes are durable on commit.
func (s *Store) Checkpoint() error {
	return nil
}
