package frontier

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// urlLockStripes is the size of the striped lock set serializing known-set
// and schedule writes per (crawl_id, url).
const urlLockStripes = 256

// Engine is the frontier engine: it owns the queue directory, fronts the
// queue store, and implements ingest (PutURLs), scheduling (GetURLs) and the
// control surface. One Engine serves many concurrent RPC streams.
//
// NewEngine should be used to create one.
type Engine struct {
	store QueueStore
	dir   *Directory

	// now is the engine's clock. Tests swap it for a fake.
	now func() time.Time

	// nodeName identifies this process in ListNodes responses.
	nodeName string

	// keyCache memoizes url -> queue key derivations.
	keyCache *lru.Cache

	// known holds one bloom filter per crawl, recording the URLs this
	// process has ingested. A positive answer still goes to the store; the
	// filter only short-cuts the duplicate fast path.
	knownMu sync.Mutex
	known   map[string]*bloom.BloomFilter

	// urlLocks serializes ingest per (crawl_id, url) so the known-set check
	// and the schedule write behave as one atomic step.
	urlLocks [urlLockStripes]sync.Mutex

	// ingestRate, when non-nil, caps accepted items per second process-wide.
	ingestRate *rate.Limiter

	// readOnly is set after a fatal store error; all operations that write
	// to the store refuse until an operator restarts the process.
	readOnly atomic.Bool

	defaultDelayRequestable time.Duration
	fetchDeadline           time.Duration
}

// NewEngine builds an engine on top of store and rebuilds the queue
// directory from it.
func NewEngine(store QueueStore) (*Engine, error) {
	keyCache, err := lru.New(Config.Frontier.KeyCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:                   store,
		dir:                     NewDirectory(),
		now:                     time.Now,
		nodeName:                fmt.Sprintf("urlfrontier-%v", uuid.New()),
		keyCache:                keyCache,
		known:                   make(map[string]*bloom.BloomFilter),
		defaultDelayRequestable: time.Duration(Config.Frontier.DefaultDelayRequestableSeconds) * time.Second,
		fetchDeadline:           time.Duration(Config.Frontier.FetchDeadlineMs) * time.Millisecond,
	}
	if r := Config.Frontier.MaxIngestRate; r > 0 {
		e.ingestRate = rate.NewLimiter(rate.Limit(r), r)
	}

	if err := e.rebuildDirectory(); err != nil {
		return nil, fmt.Errorf("Failed to rebuild queue directory: %v", err)
	}
	log.Infof("Engine started as %v with %v queues", e.nodeName, e.dir.Len())
	return e, nil
}

// rebuildDirectory restores the in-memory queue metadata from the store, as
// happens on startup.
func (e *Engine) rebuildDirectory() error {
	return e.store.IterateQueues("", func(ref QueueRef, counts QueueCounts) bool {
		m, _ := e.dir.GetOrCreate(ref)
		m.Lock()
		m.Scheduled = counts.Scheduled
		m.InFlightCount = counts.InFlight
		m.Completed = counts.Completed
		m.Unlock()
		return true
	})
}

// Close releases the engine's store.
func (e *Engine) Close() {
	e.store.Close()
}

// ReadOnly reports whether the engine has entered read-only mode after a
// fatal store error.
func (e *Engine) ReadOnly() bool {
	return e.readOnly.Load()
}

// NodeName returns the identity this process reports through ListNodes.
func (e *Engine) NodeName() string {
	return e.nodeName
}

// noteStoreError inspects a store error and flips the engine into read-only
// mode when it is fatal.
func (e *Engine) noteStoreError(op string, err error) {
	if IsFatal(err) {
		if e.readOnly.CompareAndSwap(false, true) {
			log.Errorf("Fatal store error during %v, entering read-only mode: %v", op, err)
		}
		return
	}
	log.Errorf("Store error during %v: %v", op, err)
}

// urlLock returns the striped lock covering (crawlID, url).
func (e *Engine) urlLock(crawlID, url string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(crawlID))
	h.Write([]byte{0})
	h.Write([]byte(url))
	return &e.urlLocks[h.Sum32()%urlLockStripes]
}

// queueKey derives (and memoizes) the queue key for a parsed URL.
func (e *Engine) queueKey(u *URL) string {
	raw := u.String()
	if v, ok := e.keyCache.Get(raw); ok {
		return v.(string)
	}
	key := u.QueueKey()
	e.keyCache.Add(raw, key)
	return key
}

// knownMaybe reports whether url may already be in crawlID's known-set. A
// false answer only means this process has not recorded url (the filter
// starts empty after a restart); a true answer still needs the store. The
// filter is not safe for concurrent use, so all access stays under knownMu.
func (e *Engine) knownMaybe(crawlID, url string) bool {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	f, ok := e.known[crawlID]
	if !ok {
		return false
	}
	return f.TestString(url)
}

// noteKnown records url in crawlID's bloom filter, creating the filter on
// first use.
func (e *Engine) noteKnown(crawlID, url string) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	f, ok := e.known[crawlID]
	if !ok {
		f = bloom.NewWithEstimates(Config.Frontier.KnownCacheCapacity, 0.01)
		e.known[crawlID] = f
	}
	f.AddString(url)
}

// dropKnownFilter forgets a crawl's bloom filter, after DeleteCrawl.
func (e *Engine) dropKnownFilter(crawlID string) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	delete(e.known, crawlID)
}
