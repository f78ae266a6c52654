package frontier_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	frontier "github.com/michaeldinzinger/url-frontier"
	"github.com/michaeldinzinger/url-frontier/memstore"
)

// testClock is a hand-driven clock for steering politeness windows and
// refetch times.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*frontier.Engine, *testClock) {
	t.Helper()
	frontier.SetDefaultConfig()
	e, err := frontier.NewEngine(memstore.New())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	clock := newTestClock()
	e.SetClock(clock.Now)
	return e, clock
}

func discovered(crawl, url string) *frontier.URLItem {
	return &frontier.URLItem{
		Kind: frontier.ItemDiscovered,
		Info: frontier.URLInfo{URL: url, CrawlID: crawl},
	}
}

func known(crawl, url string, at time.Time) *frontier.URLItem {
	return &frontier.URLItem{
		Kind:            frontier.ItemKnown,
		Info:            frontier.URLInfo{URL: url, CrawlID: crawl},
		RefetchableFrom: at,
	}
}

func fetch(t *testing.T, e *frontier.Engine, p frontier.GetParams) []string {
	t.Helper()
	var urls []string
	err := e.GetURLs(context.Background(), p, func(info *frontier.URLInfo) error {
		urls = append(urls, info.URL)
		return nil
	})
	if err != nil {
		t.Fatalf("GetURLs failed: %v", err)
	}
	return urls
}

func TestDedup(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var acks []frontier.AckStatus
	for i := 0; i < 3; i++ {
		acks = append(acks, e.IngestItem(ctx, discovered("default", "http://a.com/x")).Status)
	}
	expect := []frontier.AckStatus{frontier.AckOK, frontier.AckSkipped, frontier.AckSkipped}
	for i := range expect {
		if acks[i] != expect[i] {
			t.Errorf("Ack %v mismatch got %v, expected %v", i, acks[i], expect[i])
		}
	}

	urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10})
	if len(urls) != 1 || urls[0] != "http://a.com/x" {
		t.Errorf("Expected exactly one url back, got %v", urls)
	}
}

func TestAckIDSynthesis(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	ack := e.IngestItem(ctx, discovered("default", "http://a.com/x"))
	if ack.ID != "default_http://a.com/x" {
		t.Errorf("Synthesized id mismatch, got %q", ack.ID)
	}

	item := discovered("default", "http://a.com/y")
	item.ID = "my-token"
	ack = e.IngestItem(ctx, item)
	if ack.ID != "my-token" {
		t.Errorf("Caller id should pass through, got %q", ack.ID)
	}
}

func TestValidationFailures(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		tag  string
		item *frontier.URLItem
	}{
		{"EmptyURL", discovered("default", "")},
		{"EmptyCrawl", discovered("", "http://a.com/x")},
		{"NoScheme", discovered("default", "a.com/x")},
	}
	for _, tst := range tests {
		if got := e.IngestItem(ctx, tst.item).Status; got != frontier.AckFail {
			t.Errorf("For tag %q expected FAIL, got %v", tst.tag, got)
		}
	}
}

func TestPoliteness(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("http://b.com/p%d", i)
		if got := e.IngestItem(ctx, discovered("default", url)).Status; got != frontier.AckOK {
			t.Fatalf("Ingest of %v failed with %v", url, got)
		}
	}

	first := fetch(t, e, frontier.GetParams{MaxURLs: 5, MaxQueues: 1})
	if len(first) != 1 {
		t.Fatalf("First fetch should respect politeness and return 1 url, got %v", len(first))
	}

	clock.Advance(300 * time.Millisecond)
	second := fetch(t, e, frontier.GetParams{MaxURLs: 5, MaxQueues: 1})
	if len(second) != 0 {
		t.Errorf("Fetch 0.3s later should return nothing, got %v", second)
	}

	clock.Advance(800 * time.Millisecond)
	third := fetch(t, e, frontier.GetParams{MaxURLs: 5, MaxQueues: 1})
	if len(third) != 1 {
		t.Errorf("Fetch after the politeness delay should return 1 url, got %v", third)
	}
	if len(first) == 1 && len(third) == 1 && first[0] == third[0] {
		t.Errorf("Second serve should move on to the next scheduled url, got %v twice", first[0])
	}
}

func TestFairness(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	hosts := []string{"a.com", "b.com", "c.com", "d.com", "e.com"}
	for _, h := range hosts {
		for i := 0; i < 2; i++ {
			url := fmt.Sprintf("http://%v/p%d", h, i)
			if got := e.IngestItem(ctx, discovered("default", url)).Status; got != frontier.AckOK {
				t.Fatalf("Ingest of %v failed with %v", url, got)
			}
		}
	}

	urls := fetch(t, e, frontier.GetParams{MaxURLs: 5, MaxQueues: 5})
	if len(urls) != 5 {
		t.Fatalf("Expected 5 urls across 5 hosts, got %v", len(urls))
	}
	seen := map[string]int{}
	for _, u := range urls {
		parsed, err := frontier.ParseURL(u)
		if err != nil {
			t.Fatalf("Fetched unparseable url %v: %v", u, err)
		}
		seen[parsed.Host]++
	}
	if len(seen) != 5 {
		t.Errorf("Expected each host to contribute exactly once, got %v", seen)
	}

	// Immediately after, every queue is inside its politeness window.
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 5, MaxQueues: 5}); len(urls) != 0 {
		t.Errorf("Back-to-back fetch should respect politeness, got %v", urls)
	}

	// After the delay the remaining URL of every host comes out.
	clock.Advance(1100 * time.Millisecond)
	urls = fetch(t, e, frontier.GetParams{MaxURLs: 5, MaxQueues: 5})
	if len(urls) != 5 {
		t.Errorf("Expected the remaining 5 urls, got %v", len(urls))
	}
}

func TestRoundRobinCoverage(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	// 6 hosts, fetch cap of 2 queues per response: every queue must be
	// served within ceil(6/2) = 3 responses.
	const hosts = 6
	for i := 0; i < hosts; i++ {
		url := fmt.Sprintf("http://h%d.com/", i)
		if got := e.IngestItem(ctx, discovered("default", url)).Status; got != frontier.AckOK {
			t.Fatalf("Ingest of %v failed with %v", url, got)
		}
	}

	seen := map[string]bool{}
	for resp := 0; resp < 3; resp++ {
		for _, u := range fetch(t, e, frontier.GetParams{MaxURLs: 2, MaxQueues: 2}) {
			seen[u] = true
		}
		clock.Advance(10 * time.Millisecond)
	}
	if len(seen) != hosts {
		t.Errorf("Round-robin should have visited all %v queues in 3 responses, got %v", hosts, len(seen))
	}
}

func TestRoundTripDrain(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetCrawlLimits("default", 0, 0); err != nil {
		t.Fatalf("SetCrawlLimits failed: %v", err)
	}

	sent := map[string]bool{}
	for h := 0; h < 4; h++ {
		for i := 0; i < 5; i++ {
			url := fmt.Sprintf("http://host%d.com/page%d", h, i)
			sent[url] = true
			if got := e.IngestItem(ctx, discovered("default", url)).Status; got != frontier.AckOK {
				t.Fatalf("Ingest of %v failed with %v", url, got)
			}
		}
	}

	got := map[string]bool{}
	for i := 0; i < 10; i++ {
		urls := fetch(t, e, frontier.GetParams{MaxURLs: 100, MaxQueues: 100})
		if len(urls) == 0 {
			break
		}
		for _, u := range urls {
			if got[u] {
				t.Errorf("URL %v served twice within its in-flight window", u)
			}
			got[u] = true
		}
		clock.Advance(time.Millisecond)
	}

	if len(got) != len(sent) {
		t.Fatalf("Drained %v urls, expected %v", len(got), len(sent))
	}
	for u := range sent {
		if !got[u] {
			t.Errorf("URL %v was ingested but never served", u)
		}
	}
}

func TestReserviceAfterWindow(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if got := e.IngestItem(ctx, discovered("default", "http://c.com/y")).Status; got != frontier.AckOK {
		t.Fatalf("Ingest failed with %v", got)
	}

	urls := fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1})
	if len(urls) != 1 {
		t.Fatalf("Expected the url back, got %v", urls)
	}

	// Within the in-flight window nothing comes back.
	clock.Advance(5 * time.Second)
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1}); len(urls) != 0 {
		t.Errorf("URL should still be in flight, got %v", urls)
	}

	// Past the window without an ack it is served again.
	clock.Advance(26 * time.Second)
	urls = fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1})
	if len(urls) != 1 || urls[0] != "http://c.com/y" {
		t.Errorf("Unacked url should be re-served after its window, got %v", urls)
	}
}

func TestCompletedStaysGone(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if got := e.IngestItem(ctx, discovered("default", "http://c.com/y")).Status; got != frontier.AckOK {
		t.Fatalf("Ingest failed with %v", got)
	}
	urls := fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1})
	if len(urls) != 1 {
		t.Fatalf("Expected the url back, got %v", urls)
	}

	if err := e.MarkCompleted("default", "c.com", "http://c.com/y"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	clock.Advance(time.Hour)
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1}); len(urls) != 0 {
		t.Errorf("Completed url should not be re-served, got %v", urls)
	}

	// A re-discovery of a completed url is still a duplicate.
	if got := e.IngestItem(ctx, discovered("default", "http://c.com/y")).Status; got != frontier.AckSkipped {
		t.Errorf("Re-discovery of a completed url should be SKIPPED, got %v", got)
	}

	// But a Known replay brings it back.
	if got := e.IngestItem(ctx, known("default", "http://c.com/y", clock.Now())).Status; got != frontier.AckOK {
		t.Errorf("Known replay of a completed url should be OK, got %v", got)
	}
	clock.Advance(time.Second)
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1}); len(urls) != 1 {
		t.Errorf("Replayed url should be served again, got %v", urls)
	}
}

func TestKnownReplayScheduling(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	at := clock.Now().Add(time.Hour)
	if got := e.IngestItem(ctx, known("default", "http://d.com/z", at)).Status; got != frontier.AckOK {
		t.Fatalf("Known ingest failed with %v", got)
	}

	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10}); len(urls) != 0 {
		t.Errorf("URL scheduled for the future should not be served, got %v", urls)
	}

	clock.Advance(time.Hour + time.Second)
	urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10})
	if len(urls) != 1 || urls[0] != "http://d.com/z" {
		t.Errorf("URL should be served once its time arrives, got %v", urls)
	}
}

func TestKnownPushesTimeForward(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if got := e.IngestItem(ctx, discovered("default", "http://d.com/z")).Status; got != frontier.AckOK {
		t.Fatalf("Ingest failed with %v", got)
	}

	// Known with a later time postpones the entry ...
	if got := e.IngestItem(ctx, known("default", "http://d.com/z", clock.Now().Add(time.Hour))).Status; got != frontier.AckOK {
		t.Fatalf("Known update failed with %v", got)
	}
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10}); len(urls) != 0 {
		t.Errorf("Postponed url should not be served, got %v", urls)
	}

	// ... and a Known with an earlier time does not pull it back in.
	if got := e.IngestItem(ctx, known("default", "http://d.com/z", clock.Now())).Status; got != frontier.AckOK {
		t.Fatalf("Known update failed with %v", got)
	}
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10}); len(urls) != 0 {
		t.Errorf("Earlier Known time should not reschedule, got %v", urls)
	}
}

func TestCrawlIsolation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if got := e.IngestItem(ctx, discovered("A", "http://e.com/")).Status; got != frontier.AckOK {
		t.Fatalf("Ingest under crawl A failed with %v", got)
	}
	if got := e.IngestItem(ctx, discovered("B", "http://e.com/")).Status; got != frontier.AckOK {
		t.Fatalf("Ingest under crawl B failed with %v", got)
	}

	removed, err := e.DeleteCrawl("A")
	if err != nil {
		t.Fatalf("DeleteCrawl failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 entry removed with crawl A, got %v", removed)
	}

	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10, CrawlID: "A"}); len(urls) != 0 {
		t.Errorf("Crawl A should be empty after deletion, got %v", urls)
	}
	urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10, CrawlID: "B"})
	if len(urls) != 1 {
		t.Errorf("Crawl B should have survived, got %v", urls)
	}

	// Deleting A's known-set means the url can be discovered fresh there.
	if got := e.IngestItem(ctx, discovered("A", "http://e.com/")).Status; got != frontier.AckOK {
		t.Errorf("Re-discovery after DeleteCrawl should be OK, got %v", got)
	}
}

func TestExplicitKeyWins(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	item := discovered("default", "http://www.example.com/x")
	item.Info.Key = "my-shard"
	if got := e.IngestItem(ctx, item).Status; got != frontier.AckOK {
		t.Fatalf("Ingest failed with %v", got)
	}

	queues := e.ListQueues("default", true)
	if len(queues) != 1 || queues[0].Key != "my-shard" {
		t.Errorf("Expected the caller's key to win, got %+v", queues)
	}

	// The same URL with a different key is still a duplicate: a URL lives in
	// at most one queue.
	other := discovered("default", "http://www.example.com/x")
	other.Info.Key = "other-shard"
	if got := e.IngestItem(ctx, other).Status; got != frontier.AckSkipped {
		t.Errorf("Same url under another key should be SKIPPED, got %v", got)
	}
	if n := len(e.ListQueues("default", true)); n != 1 {
		t.Errorf("URL must not appear in two queues, got %v queues", n)
	}
}

func TestMaxQueueSize(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetCrawlLimits("default", time.Second, 2); err != nil {
		t.Fatalf("SetCrawlLimits failed: %v", err)
	}

	statuses := []frontier.AckStatus{}
	for i := 0; i < 4; i++ {
		url := fmt.Sprintf("http://full.com/p%d", i)
		statuses = append(statuses, e.IngestItem(ctx, discovered("default", url)).Status)
	}
	expect := []frontier.AckStatus{frontier.AckOK, frontier.AckOK, frontier.AckFail, frontier.AckFail}
	for i := range expect {
		if statuses[i] != expect[i] {
			t.Errorf("Ack %v mismatch got %v, expected %v", i, statuses[i], expect[i])
		}
	}
}

func TestPausedQueueFailsIngest(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	if got := e.IngestItem(ctx, discovered("default", "http://p.com/1")).Status; got != frontier.AckOK {
		t.Fatalf("Ingest failed with %v", got)
	}
	until := clock.Now().Add(time.Hour)
	if err := e.BlockQueueUntil("default", "p.com", until); err != nil {
		t.Fatalf("BlockQueueUntil failed: %v", err)
	}

	if got := e.IngestItem(ctx, discovered("default", "http://p.com/2")).Status; got != frontier.AckFail {
		t.Errorf("Ingest into a paused queue should FAIL, got %v", got)
	}
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10}); len(urls) != 0 {
		t.Errorf("Paused queue should not serve, got %v", urls)
	}

	// Once the block lapses the queue serves and ingests again.
	clock.Advance(time.Hour + time.Second)
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10}); len(urls) != 1 {
		t.Errorf("Queue should serve after the block lapses, got %v", urls)
	}
	if got := e.IngestItem(ctx, discovered("default", "http://p.com/2")).Status; got != frontier.AckOK {
		t.Errorf("Ingest after the block lapses should be OK, got %v", got)
	}
}

func TestMetadataMergeOnWrite(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	item := discovered("default", "http://m.com/x")
	item.Info.Metadata = map[string][]string{"depth": {"1"}, "seed": {"s1"}}
	if got := e.IngestItem(ctx, item).Status; got != frontier.AckOK {
		t.Fatalf("Ingest failed with %v", got)
	}

	update := known("default", "http://m.com/x", time.Time{})
	update.Info.Metadata = map[string][]string{"depth": {"2"}}
	if got := e.IngestItem(ctx, update).Status; got != frontier.AckOK {
		t.Fatalf("Known update failed with %v", got)
	}

	urls := fetchInfos(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1})
	if len(urls) != 1 {
		t.Fatalf("Expected the url back, got %v", len(urls))
	}
	meta := urls[0].Metadata
	if got := meta["depth"]; len(got) != 1 || got[0] != "2" {
		t.Errorf("Key depth should have been replaced, got %v", got)
	}
	if got := meta["seed"]; len(got) != 1 || got[0] != "s1" {
		t.Errorf("Key seed should have been preserved, got %v", got)
	}
}

func fetchInfos(t *testing.T, e *frontier.Engine, p frontier.GetParams) []*frontier.URLInfo {
	t.Helper()
	var infos []*frontier.URLInfo
	err := e.GetURLs(context.Background(), p, func(info *frontier.URLInfo) error {
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		t.Fatalf("GetURLs failed: %v", err)
	}
	return infos
}

func TestRestartRecovery(t *testing.T) {
	frontier.SetDefaultConfig()
	store := memstore.New()
	clock := newTestClock()

	e1, err := frontier.NewEngine(store)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	e1.SetClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e1.IngestItem(ctx, discovered("default", fmt.Sprintf("http://r.com/p%d", i)))
	}
	e1.IngestItem(ctx, discovered("default", "http://other.com/x"))
	if err := e1.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	before := e1.ListQueues("", true)

	// A new engine on the same store stands in for a process restart.
	e2, err := frontier.NewEngine(store)
	if err != nil {
		t.Fatalf("Failed to recreate engine: %v", err)
	}
	e2.SetClock(clock.Now)
	after := e2.ListQueues("", true)

	if len(after) != len(before) {
		t.Fatalf("Queue count mismatch after restart: got %v, expected %v", len(after), len(before))
	}
	for i := range before {
		if after[i].Key != before[i].Key || after[i].ActiveCount != before[i].ActiveCount {
			t.Errorf("Queue %v mismatch after restart: got %+v, expected %+v",
				i, after[i], before[i])
		}
	}
}

func TestGetStats(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.IngestItem(ctx, discovered("default", fmt.Sprintf("http://s.com/p%d", i)))
	}
	e.IngestItem(ctx, discovered("other", "http://t.com/x"))
	fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1, CrawlID: "default"})

	stats := e.GetStats("")
	if stats.Queues != 2 || stats.Active != 4 || stats.InFlight != 1 {
		t.Errorf("Global stats mismatch: %+v", stats)
	}
	if !stats.Healthy {
		t.Errorf("Engine should report healthy")
	}

	stats = e.GetStats("default")
	if stats.Queues != 1 || stats.Active != 3 {
		t.Errorf("Crawl stats mismatch: %+v", stats)
	}
}

func TestDeleteQueue(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.IngestItem(ctx, discovered("default", fmt.Sprintf("http://q.com/p%d", i)))
	}
	removed, err := e.DeleteQueue("default", "q.com")
	if err != nil {
		t.Fatalf("DeleteQueue failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 entries removed, got %v", removed)
	}
	if urls := fetch(t, e, frontier.GetParams{MaxURLs: 10, MaxQueues: 10}); len(urls) != 0 {
		t.Errorf("Deleted queue should serve nothing, got %v", urls)
	}
}

func TestDrainingQueueLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.IngestItem(ctx, discovered("default", "http://dr.com/1"))
	if err := e.DrainQueue("default", "dr.com"); err != nil {
		t.Fatalf("DrainQueue failed: %v", err)
	}

	// No new URLs ...
	if got := e.IngestItem(ctx, discovered("default", "http://dr.com/2")).Status; got != frontier.AckFail {
		t.Errorf("Ingest into draining queue should FAIL, got %v", got)
	}

	// ... but scheduled entries still serve.
	urls := fetch(t, e, frontier.GetParams{MaxURLs: 1, MaxQueues: 1})
	if len(urls) != 1 {
		t.Fatalf("Draining queue should still serve, got %v", urls)
	}

	// Completion empties it, which reaps it.
	if err := e.MarkCompleted("default", "dr.com", "http://dr.com/1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if got := len(e.ListQueues("default", true)); got != 0 {
		t.Errorf("Drained queue should be deleted once empty, still have %v queues", got)
	}
}

func TestListCrawls(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.IngestItem(ctx, discovered("beta", "http://x.com/"))
	e.IngestItem(ctx, discovered("alpha", "http://y.com/"))

	crawls, err := e.ListCrawls()
	if err != nil {
		t.Fatalf("ListCrawls failed: %v", err)
	}
	if len(crawls) != 2 || crawls[0] != "alpha" || crawls[1] != "beta" {
		t.Errorf("Crawl list mismatch, got %v", crawls)
	}

	nodes := e.ListNodes()
	if len(nodes) != 1 || nodes[0] == "" {
		t.Errorf("Expected one named node, got %v", nodes)
	}
}
