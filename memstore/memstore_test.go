package memstore

import (
	"fmt"
	"testing"
	"time"

	frontier "github.com/michaeldinzinger/url-frontier"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestPutScheduledDedup(t *testing.T) {
	s := New()

	res, err := s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, false)
	if err != nil || res != frontier.ScheduleInserted {
		t.Fatalf("First put got (%v, %v), expected Inserted", res, err)
	}

	known, err := s.IsKnown("c", "http://a.com/x")
	if err != nil || !known {
		t.Errorf("URL should be known right after Inserted, got (%v, %v)", known, err)
	}

	res, err = s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, false)
	if err != nil || res != frontier.ScheduleAlreadyKnown {
		t.Errorf("Second put got (%v, %v), expected AlreadyKnown", res, err)
	}
}

func TestFetchDueOrdering(t *testing.T) {
	s := New()

	// Inserted out of time order; fetch must come back sorted by time with
	// insertion order breaking ties.
	s.PutScheduled("c", "a.com", "http://a.com/late", t0.Add(time.Hour), nil, false)
	s.PutScheduled("c", "a.com", "http://a.com/first", t0, nil, false)
	s.PutScheduled("c", "a.com", "http://a.com/second", t0, nil, false)
	s.PutScheduled("c", "a.com", "http://a.com/future", t0.Add(48*time.Hour), nil, false)

	entries, err := s.FetchDue("c", "a.com", t0.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("FetchDue failed: %v", err)
	}
	expect := []string{"http://a.com/first", "http://a.com/second", "http://a.com/late"}
	if len(entries) != len(expect) {
		t.Fatalf("Expected %v due entries, got %v", len(expect), len(entries))
	}
	for i := range expect {
		if entries[i].URL != expect[i] {
			t.Errorf("Entry %v mismatch got %v, expected %v", i, entries[i].URL, expect[i])
		}
	}

	// FetchDue does not remove.
	again, _ := s.FetchDue("c", "a.com", t0.Add(2*time.Hour), 10)
	if len(again) != len(entries) {
		t.Errorf("FetchDue should be non-destructive, second read got %v entries", len(again))
	}

	// The max parameter truncates.
	capped, _ := s.FetchDue("c", "a.com", t0.Add(2*time.Hour), 2)
	if len(capped) != 2 {
		t.Errorf("Expected 2 entries with max=2, got %v", len(capped))
	}
}

func TestInFlightWindow(t *testing.T) {
	s := New()
	s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, false)

	until := t0.Add(30 * time.Second)
	if err := s.MarkInFlight("c", "a.com", "http://a.com/x", until); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	if entries, _ := s.FetchDue("c", "a.com", t0.Add(time.Second), 10); len(entries) != 0 {
		t.Errorf("In-flight entry should not be due inside its window, got %v", len(entries))
	}

	entries, _ := s.FetchDue("c", "a.com", until.Add(time.Second), 10)
	if len(entries) != 1 || !entries[0].InFlight {
		t.Errorf("Entry should re-become due after its window, got %+v", entries)
	}
}

func TestMarkCompletedAndRequeue(t *testing.T) {
	s := New()
	s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, false)

	if err := s.MarkCompleted("c", "a.com", "http://a.com/x"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if entries, _ := s.FetchDue("c", "a.com", t0.Add(time.Hour), 10); len(entries) != 0 {
		t.Errorf("Completed entry should be gone, got %v", len(entries))
	}

	// Still known, so a plain put is a duplicate ...
	res, _ := s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, false)
	if res != frontier.ScheduleAlreadyKnown {
		t.Errorf("Completed url should still dedup, got %v", res)
	}

	// ... but a replace put re-queues it.
	res, _ = s.PutScheduled("c", "a.com", "http://a.com/x", t0.Add(time.Minute), nil, true)
	if res != frontier.ScheduleRequeued {
		t.Errorf("Replace put of a completed url should Requeue, got %v", res)
	}
	if entries, _ := s.FetchDue("c", "a.com", t0.Add(time.Hour), 10); len(entries) != 1 {
		t.Errorf("Requeued entry should be due again, got %v", len(entries))
	}
}

func TestReplaceSemantics(t *testing.T) {
	s := New()
	s.PutScheduled("c", "a.com", "http://a.com/x", t0,
		map[string][]string{"depth": {"1"}, "seed": {"s"}}, false)

	// Later time moves the entry and merges metadata.
	res, err := s.PutScheduled("c", "a.com", "http://a.com/x", t0.Add(time.Hour),
		map[string][]string{"depth": {"2"}}, true)
	if err != nil || res != frontier.ScheduleReplaced {
		t.Fatalf("Replace got (%v, %v), expected Replaced", res, err)
	}

	if entries, _ := s.FetchDue("c", "a.com", t0, 10); len(entries) != 0 {
		t.Errorf("Moved entry should not be due at its old time")
	}
	entries, _ := s.FetchDue("c", "a.com", t0.Add(2*time.Hour), 10)
	if len(entries) != 1 {
		t.Fatalf("Expected the moved entry, got %v", len(entries))
	}
	if got := entries[0].Metadata["depth"]; len(got) != 1 || got[0] != "2" {
		t.Errorf("Metadata key depth should be replaced, got %v", got)
	}
	if got := entries[0].Metadata["seed"]; len(got) != 1 || got[0] != "s" {
		t.Errorf("Metadata key seed should be preserved, got %v", got)
	}

	// Earlier time does not move the entry back.
	res, _ = s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, true)
	if res != frontier.ScheduleReplaced {
		t.Errorf("Earlier replace got %v, expected Replaced", res)
	}
	if entries, _ := s.FetchDue("c", "a.com", t0.Add(time.Minute), 10); len(entries) != 0 {
		t.Errorf("Entry should have kept its later time")
	}
}

func TestIterateQueuesCounts(t *testing.T) {
	s := New()
	s.PutScheduled("c", "a.com", "http://a.com/1", t0, nil, false)
	s.PutScheduled("c", "a.com", "http://a.com/2", t0, nil, false)
	s.PutScheduled("c", "b.com", "http://b.com/1", t0, nil, false)
	s.PutScheduled("d", "a.com", "http://a.com/other", t0, nil, false)
	s.MarkInFlight("c", "a.com", "http://a.com/1", t0.Add(time.Minute))
	s.MarkCompleted("c", "b.com", "http://b.com/1")

	got := map[frontier.QueueRef]frontier.QueueCounts{}
	err := s.IterateQueues("c", func(ref frontier.QueueRef, counts frontier.QueueCounts) bool {
		got[ref] = counts
		return true
	})
	if err != nil {
		t.Fatalf("IterateQueues failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 queues for crawl c, got %v", len(got))
	}
	a := got[frontier.QueueRef{CrawlID: "c", Key: "a.com"}]
	if a.Scheduled != 1 || a.InFlight != 1 || a.Completed != 0 {
		t.Errorf("Counts for c/a.com mismatch: %+v", a)
	}
	b := got[frontier.QueueRef{CrawlID: "c", Key: "b.com"}]
	if b.Scheduled != 0 || b.Completed != 1 {
		t.Errorf("Counts for c/b.com mismatch: %+v", b)
	}

	// Unfiltered iteration covers both crawls.
	count := 0
	s.IterateQueues("", func(frontier.QueueRef, frontier.QueueCounts) bool {
		count++
		return true
	})
	if count != 3 {
		t.Errorf("Expected 3 queues across crawls, got %v", count)
	}
}

func TestDeleteCrawlAtomicity(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		s.PutScheduled("c", "a.com", fmt.Sprintf("http://a.com/p%d", i), t0, nil, false)
	}
	s.PutScheduled("c", "b.com", "http://b.com/x", t0, nil, false)
	s.PutScheduled("other", "a.com", "http://a.com/p0", t0, nil, false)

	removed, err := s.DeleteCrawl("c")
	if err != nil {
		t.Fatalf("DeleteCrawl failed: %v", err)
	}
	if removed != 4 {
		t.Errorf("Expected 4 entries removed, got %v", removed)
	}

	// Queues and known-set are gone together.
	if known, _ := s.IsKnown("c", "http://a.com/p0"); known {
		t.Errorf("Known-set should be gone with the crawl")
	}
	if entries, _ := s.FetchDue("c", "a.com", t0.Add(time.Hour), 10); len(entries) != 0 {
		t.Errorf("Queues should be gone with the crawl")
	}

	// The other crawl is untouched.
	if known, _ := s.IsKnown("other", "http://a.com/p0"); !known {
		t.Errorf("Other crawl's known-set should survive")
	}
}

func TestDeleteQueueKeepsKnownSet(t *testing.T) {
	s := New()
	s.PutScheduled("c", "a.com", "http://a.com/x", t0, nil, false)

	removed, err := s.DeleteQueue("c", "a.com")
	if err != nil || removed != 1 {
		t.Fatalf("DeleteQueue got (%v, %v), expected 1 removed", removed, err)
	}
	if known, _ := s.IsKnown("c", "http://a.com/x"); !known {
		t.Errorf("DeleteQueue must leave the known-set alone")
	}
}

func TestListCrawls(t *testing.T) {
	s := New()
	s.PutScheduled("beta", "a.com", "http://a.com/x", t0, nil, false)
	s.PutScheduled("alpha", "a.com", "http://a.com/x", t0, nil, false)

	crawls, err := s.ListCrawls()
	if err != nil {
		t.Fatalf("ListCrawls failed: %v", err)
	}
	if len(crawls) != 2 || crawls[0] != "alpha" || crawls[1] != "beta" {
		t.Errorf("Crawl list mismatch, got %v", crawls)
	}
}
