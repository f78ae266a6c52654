package api_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	frontier "github.com/michaeldinzinger/url-frontier"
	"github.com/michaeldinzinger/url-frontier/api"
	"github.com/michaeldinzinger/url-frontier/memstore"
)

// startFrontier brings up an in-process frontier over a bufconn listener and
// returns a connected client.
func startFrontier(t *testing.T) *api.Client {
	t.Helper()
	frontier.SetDefaultConfig()
	frontier.Config.Frontier.DefaultMinDelaySeconds = 0

	engine, err := frontier.NewEngine(memstore.New())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	api.NewServer(engine).Attach(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	cc, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufconn: %v", err)
	}
	t.Cleanup(func() { cc.Close() })
	return api.NewClient(cc)
}

func putAll(t *testing.T, client *api.Client, items []*api.URLItemMsg) map[string]string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.PutURLs(ctx)
	if err != nil {
		t.Fatalf("Failed to open PutURLs stream: %v", err)
	}
	for _, item := range items {
		if err := stream.Send(item); err != nil {
			t.Fatalf("Failed to send item: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("Failed to half-close: %v", err)
	}

	acks := map[string]string{}
	for {
		ack, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Ack stream failed: %v", err)
		}
		acks[ack.ID] = ack.Status
	}
	return acks
}

func TestPutURLsAckCorrespondence(t *testing.T) {
	client := startFrontier(t)

	var items []*api.URLItemMsg
	for i := 0; i < 20; i++ {
		items = append(items, &api.URLItemMsg{
			ID:         fmt.Sprintf("item-%d", i),
			Discovered: &api.URLInfoMsg{URL: fmt.Sprintf("http://h%d.com/x", i%5), CrawlID: "default"},
		})
	}

	acks := putAll(t, client, items)
	if len(acks) != len(items) {
		t.Fatalf("Expected one ack per item, got %v acks for %v items", len(acks), len(items))
	}
	for _, item := range items {
		if _, ok := acks[item.ID]; !ok {
			t.Errorf("No ack for item %v", item.ID)
		}
	}
}

func TestEndToEndDedupAndFetch(t *testing.T) {
	client := startFrontier(t)
	ctx := context.Background()

	items := []*api.URLItemMsg{
		{ID: "1", Discovered: &api.URLInfoMsg{URL: "http://a.com/x", CrawlID: "default"}},
		{ID: "2", Discovered: &api.URLInfoMsg{URL: "http://a.com/x", CrawlID: "default"}},
		{ID: "3", Discovered: &api.URLInfoMsg{URL: "http://a.com/x", CrawlID: "default"}},
	}
	acks := putAll(t, client, items)

	ok, skipped := 0, 0
	for _, status := range acks {
		switch status {
		case "OK":
			ok++
		case "SKIPPED":
			skipped++
		}
	}
	if ok != 1 || skipped != 2 {
		t.Errorf("Expected acks [OK, SKIPPED, SKIPPED], got %v", acks)
	}

	urls, err := client.GetAllURLs(ctx, &api.GetParamsMsg{MaxURLs: 10, MaxQueues: 10})
	if err != nil {
		t.Fatalf("GetURLs failed: %v", err)
	}
	if len(urls) != 1 || urls[0].URL != "http://a.com/x" {
		t.Errorf("Expected exactly one url back, got %+v", urls)
	}
	if urls[0].Key != "a.com" {
		t.Errorf("Expected derived key a.com, got %q", urls[0].Key)
	}
}

func TestControlSurface(t *testing.T) {
	client := startFrontier(t)
	ctx := context.Background()

	items := []*api.URLItemMsg{
		{Discovered: &api.URLInfoMsg{URL: "http://a.com/1", CrawlID: "crawlA"}},
		{Discovered: &api.URLInfoMsg{URL: "http://a.com/2", CrawlID: "crawlA"}},
		{Discovered: &api.URLInfoMsg{URL: "http://b.com/1", CrawlID: "crawlB"}},
	}
	putAll(t, client, items)

	crawls, err := client.ListCrawls(ctx)
	if err != nil {
		t.Fatalf("ListCrawls failed: %v", err)
	}
	if len(crawls) != 2 {
		t.Errorf("Expected 2 crawls, got %v", crawls)
	}

	nodes, err := client.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("Expected a single node, got %v", nodes)
	}

	stats, err := client.GetStats(ctx, "crawlA")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Queues != 1 || stats.Active != 2 || !stats.Healthy {
		t.Errorf("crawlA stats mismatch: %+v", stats)
	}

	queues, err := client.ListQueues(ctx, &api.PaginationMsg{CrawlID: "crawlA"})
	if err != nil {
		t.Fatalf("ListQueues failed: %v", err)
	}
	if len(queues) != 1 || queues[0].Key != "a.com" || queues[0].ActiveCount != 2 {
		t.Errorf("crawlA queues mismatch: %+v", queues)
	}

	if err := client.SetCrawlLimits(ctx, &api.LimitParamsMsg{CrawlID: "crawlA", MinDelaySeconds: 2}); err != nil {
		t.Fatalf("SetCrawlLimits failed: %v", err)
	}
	if err := client.BlockQueueUntilDate(ctx, &api.BlockParamsMsg{
		CrawlID: "crawlA", Key: "a.com", Until: time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("BlockQueueUntilDate failed: %v", err)
	}
	urls, err := client.GetAllURLs(ctx, &api.GetParamsMsg{MaxURLs: 10, MaxQueues: 10, CrawlID: "crawlA"})
	if err != nil {
		t.Fatalf("GetURLs failed: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("Blocked queue should serve nothing, got %+v", urls)
	}

	removed, err := client.DeleteCrawl(ctx, "crawlA")
	if err != nil {
		t.Fatalf("DeleteCrawl failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 entries removed, got %v", removed)
	}
	if err := client.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
}

func TestKnownItemOverWire(t *testing.T) {
	client := startFrontier(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour).Unix()
	acks := putAll(t, client, []*api.URLItemMsg{{
		ID: "replay",
		Known: &api.KnownURLItemMsg{
			Info:            api.URLInfoMsg{URL: "http://d.com/z", CrawlID: "default"},
			RefetchableFrom: future,
		},
	}})
	if acks["replay"] != "OK" {
		t.Fatalf("Known replay should ack OK, got %v", acks)
	}

	urls, err := client.GetAllURLs(ctx, &api.GetParamsMsg{MaxURLs: 10, MaxQueues: 10})
	if err != nil {
		t.Fatalf("GetURLs failed: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("Future-scheduled url should not be served yet, got %+v", urls)
	}

	stats, err := client.GetStats(ctx, "default")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Active != 1 {
		t.Errorf("The replayed url should be counted active, got %+v", stats)
	}
}

func TestValidationFailuresOverWire(t *testing.T) {
	client := startFrontier(t)

	acks := putAll(t, client, []*api.URLItemMsg{
		{ID: "no-url", Discovered: &api.URLInfoMsg{CrawlID: "default"}},
		{ID: "no-crawl", Discovered: &api.URLInfoMsg{URL: "http://a.com/x"}},
		{ID: "no-variant"},
		{ID: "fine", Discovered: &api.URLInfoMsg{URL: "http://a.com/x", CrawlID: "default"}},
	})

	for _, id := range []string{"no-url", "no-crawl", "no-variant"} {
		if acks[id] != "FAIL" {
			t.Errorf("Item %v should FAIL, got %v", id, acks[id])
		}
	}
	if acks["fine"] != "OK" {
		t.Errorf("Valid item should be OK despite failing neighbors, got %v", acks["fine"])
	}
}
