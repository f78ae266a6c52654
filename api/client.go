package api

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a typed client for the URLFrontier service.
//
// Dial should be used to create one.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a frontier at addr and returns a Client speaking the
// frontier's JSON content subtype.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	cc, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("Failed to dial frontier at %v: %v", addr, err)
	}
	return &Client{cc: cc}, nil
}

// NewClient wraps an existing connection. The connection must have been
// dialed with grpc.CallContentSubtype(CodecName).
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) method(name string) string {
	return "/" + ServiceName + "/" + name
}

// PutURLsStream is the client side of the bidirectional ingest stream.
type PutURLsStream struct {
	grpc.ClientStream
}

// Send submits one item.
func (s *PutURLsStream) Send(m *URLItemMsg) error {
	return s.ClientStream.SendMsg(m)
}

// Recv reads the next ack. After CloseSend, Recv returns io.EOF once every
// ack has been delivered.
func (s *PutURLsStream) Recv() (*AckMessageMsg, error) {
	m := new(AckMessageMsg)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// PutURLs opens the ingest stream.
func (c *Client) PutURLs(ctx context.Context) (*PutURLsStream, error) {
	stream, err := c.cc.NewStream(ctx, &URLFrontierServiceDesc.Streams[0], c.method("PutURLs"))
	if err != nil {
		return nil, err
	}
	return &PutURLsStream{stream}, nil
}

// GetURLsStream is the client side of the fetch stream.
type GetURLsStream struct {
	grpc.ClientStream
}

// Recv reads the next URL; io.EOF signals a cleanly closed response.
func (s *GetURLsStream) Recv() (*URLInfoMsg, error) {
	m := new(URLInfoMsg)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetURLs requests ready-to-fetch URLs.
func (c *Client) GetURLs(ctx context.Context, params *GetParamsMsg) (*GetURLsStream, error) {
	stream, err := c.cc.NewStream(ctx, &URLFrontierServiceDesc.Streams[1], c.method("GetURLs"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(params); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &GetURLsStream{stream}, nil
}

// GetAllURLs drains one GetURLs response into a slice.
func (c *Client) GetAllURLs(ctx context.Context, params *GetParamsMsg) ([]*URLInfoMsg, error) {
	stream, err := c.GetURLs(ctx, params)
	if err != nil {
		return nil, err
	}
	var out []*URLInfoMsg
	for {
		m, err := stream.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}

// ListQueues retrieves queue stats rows.
func (c *Client) ListQueues(ctx context.Context, params *PaginationMsg) ([]*QueueStatsMsg, error) {
	stream, err := c.cc.NewStream(ctx, &URLFrontierServiceDesc.Streams[2], c.method("ListQueues"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(params); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var out []*QueueStatsMsg
	for {
		m := new(QueueStatsMsg)
		if err := stream.RecvMsg(m); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}

// ListCrawls returns the ids of all crawls.
func (c *Client) ListCrawls(ctx context.Context) ([]string, error) {
	out := new(CrawlListMsg)
	err := c.cc.Invoke(ctx, c.method("ListCrawls"), &EmptyMsg{}, out)
	return out.CrawlIDs, err
}

// ListNodes returns the frontier's node names.
func (c *Client) ListNodes(ctx context.Context) ([]string, error) {
	out := new(NodeListMsg)
	err := c.cc.Invoke(ctx, c.method("ListNodes"), &EmptyMsg{}, out)
	return out.Nodes, err
}

// GetStats returns aggregate counters, optionally for one crawl.
func (c *Client) GetStats(ctx context.Context, crawlID string) (*StatsMsg, error) {
	out := new(StatsMsg)
	err := c.cc.Invoke(ctx, c.method("GetStats"), &CrawlRefMsg{CrawlID: crawlID}, out)
	return out, err
}

// BlockQueueUntilDate pauses a queue until the given unix time.
func (c *Client) BlockQueueUntilDate(ctx context.Context, params *BlockParamsMsg) error {
	return c.cc.Invoke(ctx, c.method("BlockQueueUntilDate"), params, &EmptyMsg{})
}

// SetCrawlLimits installs per-crawl scheduling limits.
func (c *Client) SetCrawlLimits(ctx context.Context, params *LimitParamsMsg) error {
	return c.cc.Invoke(ctx, c.method("SetCrawlLimits"), params, &EmptyMsg{})
}

// DeleteQueue removes one queue, returning how many entries were dropped.
func (c *Client) DeleteQueue(ctx context.Context, crawlID, key string) (int64, error) {
	out := new(LongMsg)
	err := c.cc.Invoke(ctx, c.method("DeleteQueue"), &QueueRefMsg{CrawlID: crawlID, Key: key}, out)
	return out.Value, err
}

// DeleteCrawl removes all state of one crawl.
func (c *Client) DeleteCrawl(ctx context.Context, crawlID string) (int64, error) {
	out := new(LongMsg)
	err := c.cc.Invoke(ctx, c.method("DeleteCrawl"), &CrawlRefMsg{CrawlID: crawlID}, out)
	return out.Value, err
}

// Checkpoint flushes the frontier's store.
func (c *Client) Checkpoint(ctx context.Context) error {
	return c.cc.Invoke(ctx, c.method("Checkpoint"), &EmptyMsg{}, &EmptyMsg{})
}
