package api

import (
	"context"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	frontier "github.com/michaeldinzinger/url-frontier"
	"github.com/michaeldinzinger/url-frontier/semaphore"
)

// ServiceName is the fully qualified grpc service name.
const ServiceName = "urlfrontier.URLFrontier"

// FrontierServer is the server-side surface of the URLFrontier service.
type FrontierServer interface {
	PutURLs(URLFrontier_PutURLsServer) error
	GetURLs(*GetParamsMsg, URLFrontier_GetURLsServer) error
	ListQueues(*PaginationMsg, URLFrontier_ListQueuesServer) error
	ListCrawls(context.Context, *EmptyMsg) (*CrawlListMsg, error)
	ListNodes(context.Context, *EmptyMsg) (*NodeListMsg, error)
	GetStats(context.Context, *CrawlRefMsg) (*StatsMsg, error)
	BlockQueueUntilDate(context.Context, *BlockParamsMsg) (*EmptyMsg, error)
	SetCrawlLimits(context.Context, *LimitParamsMsg) (*EmptyMsg, error)
	DeleteQueue(context.Context, *QueueRefMsg) (*LongMsg, error)
	DeleteCrawl(context.Context, *CrawlRefMsg) (*LongMsg, error)
	Checkpoint(context.Context, *EmptyMsg) (*EmptyMsg, error)
}

// URLFrontier_PutURLsServer is the server view of the bidirectional ingest
// stream.
type URLFrontier_PutURLsServer interface {
	Send(*AckMessageMsg) error
	Recv() (*URLItemMsg, error)
	grpc.ServerStream
}

type putURLsServer struct {
	grpc.ServerStream
}

func (s *putURLsServer) Send(m *AckMessageMsg) error {
	return s.ServerStream.SendMsg(m)
}

func (s *putURLsServer) Recv() (*URLItemMsg, error) {
	m := new(URLItemMsg)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// URLFrontier_GetURLsServer is the server view of the fetch stream.
type URLFrontier_GetURLsServer interface {
	Send(*URLInfoMsg) error
	grpc.ServerStream
}

type getURLsServer struct {
	grpc.ServerStream
}

func (s *getURLsServer) Send(m *URLInfoMsg) error {
	return s.ServerStream.SendMsg(m)
}

// URLFrontier_ListQueuesServer is the server view of the queue stats stream.
type URLFrontier_ListQueuesServer interface {
	Send(*QueueStatsMsg) error
	grpc.ServerStream
}

type listQueuesServer struct {
	grpc.ServerStream
}

func (s *listQueuesServer) Send(m *QueueStatsMsg) error {
	return s.ServerStream.SendMsg(m)
}

//
// Stream handlers
//

func _URLFrontier_PutURLs_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(FrontierServer).PutURLs(&putURLsServer{stream})
}

func _URLFrontier_GetURLs_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(GetParamsMsg)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FrontierServer).GetURLs(m, &getURLsServer{stream})
}

func _URLFrontier_ListQueues_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(PaginationMsg)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FrontierServer).ListQueues(m, &listQueuesServer{stream})
}

//
// Unary handlers
//

func unaryHandler(method string, call func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error), newReq func() interface{}) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, srv.(FrontierServer), in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, srv.(FrontierServer), req)
		})
	}
}

// URLFrontierServiceDesc is the hand-maintained grpc service descriptor for
// the URLFrontier service.
var URLFrontierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrontierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListCrawls",
			Handler: unaryHandler("ListCrawls", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.ListCrawls(ctx, req.(*EmptyMsg))
			}, func() interface{} { return new(EmptyMsg) }),
		},
		{
			MethodName: "ListNodes",
			Handler: unaryHandler("ListNodes", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.ListNodes(ctx, req.(*EmptyMsg))
			}, func() interface{} { return new(EmptyMsg) }),
		},
		{
			MethodName: "GetStats",
			Handler: unaryHandler("GetStats", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.GetStats(ctx, req.(*CrawlRefMsg))
			}, func() interface{} { return new(CrawlRefMsg) }),
		},
		{
			MethodName: "BlockQueueUntilDate",
			Handler: unaryHandler("BlockQueueUntilDate", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.BlockQueueUntilDate(ctx, req.(*BlockParamsMsg))
			}, func() interface{} { return new(BlockParamsMsg) }),
		},
		{
			MethodName: "SetCrawlLimits",
			Handler: unaryHandler("SetCrawlLimits", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.SetCrawlLimits(ctx, req.(*LimitParamsMsg))
			}, func() interface{} { return new(LimitParamsMsg) }),
		},
		{
			MethodName: "DeleteQueue",
			Handler: unaryHandler("DeleteQueue", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.DeleteQueue(ctx, req.(*QueueRefMsg))
			}, func() interface{} { return new(QueueRefMsg) }),
		},
		{
			MethodName: "DeleteCrawl",
			Handler: unaryHandler("DeleteCrawl", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.DeleteCrawl(ctx, req.(*CrawlRefMsg))
			}, func() interface{} { return new(CrawlRefMsg) }),
		},
		{
			MethodName: "Checkpoint",
			Handler: unaryHandler("Checkpoint", func(ctx context.Context, srv FrontierServer, req interface{}) (interface{}, error) {
				return srv.Checkpoint(ctx, req.(*EmptyMsg))
			}, func() interface{} { return new(EmptyMsg) }),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PutURLs",
			Handler:       _URLFrontier_PutURLs_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "GetURLs",
			Handler:       _URLFrontier_GetURLs_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "ListQueues",
			Handler:       _URLFrontier_ListQueues_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "urlfrontier.proto",
}

// Server adapts a frontier.Engine to the URLFrontier grpc service.
//
// NewServer should be used to create one; Attach registers it on a grpc
// server.
type Server struct {
	engine *frontier.Engine
}

// NewServer wraps an engine.
func NewServer(e *frontier.Engine) *Server {
	return &Server{engine: e}
}

var _ FrontierServer = (*Server)(nil)

// Attach registers the service on g.
func (s *Server) Attach(g *grpc.Server) {
	g.RegisterService(&URLFrontierServiceDesc, s)
}

func errReadOnly() error {
	return status.Error(codes.Unavailable, "frontier is in read-only mode")
}

// PutURLs serves the bidirectional ingest stream. One reader loop pulls
// items and dispatches each as its own unit of work against the engine; acks
// go out on the shared stream as the writes complete, so they may be
// reordered relative to the input. A counted semaphore bounds the
// outstanding writes: once full, the loop stops reading until acks drain,
// which is the backpressure the transport's flow control then propagates to
// the caller.
func (s *Server) PutURLs(stream URLFrontier_PutURLsServer) error {
	sem := semaphore.New(frontier.Config.Frontier.IngestOutstandingLimit)
	var wg sync.WaitGroup
	var sendMu sync.Mutex
	ctx := stream.Context()

	for {
		m, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Caller cancelled or the transport died: already-submitted
			// items complete, nothing rolls back.
			wg.Wait()
			return err
		}
		if s.engine.ReadOnly() {
			wg.Wait()
			return errReadOnly()
		}

		sem.Acquire()
		wg.Add(1)
		go func(item *frontier.URLItem) {
			defer wg.Done()
			defer sem.Release()
			ack := s.engine.IngestItem(ctx, item)
			sendMu.Lock()
			defer sendMu.Unlock()
			stream.Send(&AckMessageMsg{ID: ack.ID, Status: ack.Status.String()})
		}(ItemFromWire(m))
	}

	// Half-close: drain in-flight writes, then close the ack stream.
	wg.Wait()
	return nil
}

// GetURLs serves the fetch stream.
func (s *Server) GetURLs(m *GetParamsMsg, stream URLFrontier_GetURLsServer) error {
	err := s.engine.GetURLs(stream.Context(), paramsFromWire(m), func(info *frontier.URLInfo) error {
		return stream.Send(infoToWire(info))
	})
	if frontier.IsFatal(err) {
		return errReadOnly()
	}
	return err
}

// ListQueues streams per-queue stats.
func (s *Server) ListQueues(m *PaginationMsg, stream URLFrontier_ListQueuesServer) error {
	for _, q := range s.engine.ListQueues(m.CrawlID, m.IncludeInactive) {
		q := q
		if err := stream.Send(queueStatsToWire(&q)); err != nil {
			return err
		}
	}
	return nil
}

// ListCrawls returns the ids of all crawls.
func (s *Server) ListCrawls(ctx context.Context, _ *EmptyMsg) (*CrawlListMsg, error) {
	ids, err := s.engine.ListCrawls()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to list crawls: %v", err)
	}
	return &CrawlListMsg{CrawlIDs: ids}, nil
}

// ListNodes returns the frontier nodes backing this service.
func (s *Server) ListNodes(ctx context.Context, _ *EmptyMsg) (*NodeListMsg, error) {
	return &NodeListMsg{Nodes: s.engine.ListNodes()}, nil
}

// GetStats aggregates engine counters.
func (s *Server) GetStats(ctx context.Context, m *CrawlRefMsg) (*StatsMsg, error) {
	stats := s.engine.GetStats(m.CrawlID)
	return &StatsMsg{
		Queues:    int64(stats.Queues),
		Active:    int64(stats.Active),
		InFlight:  int64(stats.InFlight),
		Completed: int64(stats.Completed),
		Healthy:   stats.Healthy,
	}, nil
}

// BlockQueueUntilDate pauses a queue until the given time.
func (s *Server) BlockQueueUntilDate(ctx context.Context, m *BlockParamsMsg) (*EmptyMsg, error) {
	var until time.Time
	if m.Until > 0 {
		until = time.Unix(m.Until, 0)
	}
	if err := s.engine.BlockQueueUntil(m.CrawlID, m.Key, until); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &EmptyMsg{}, nil
}

// SetCrawlLimits installs per-crawl scheduling limits.
func (s *Server) SetCrawlLimits(ctx context.Context, m *LimitParamsMsg) (*EmptyMsg, error) {
	err := s.engine.SetCrawlLimits(m.CrawlID, time.Duration(m.MinDelaySeconds)*time.Second, int(m.MaxQueueSize))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &EmptyMsg{}, nil
}

// DeleteQueue removes one queue.
func (s *Server) DeleteQueue(ctx context.Context, m *QueueRefMsg) (*LongMsg, error) {
	removed, err := s.engine.DeleteQueue(m.CrawlID, m.Key)
	if err != nil {
		if frontier.IsFatal(err) {
			return nil, errReadOnly()
		}
		return nil, status.Errorf(codes.Internal, "Failed to delete queue: %v", err)
	}
	return &LongMsg{Value: int64(removed)}, nil
}

// DeleteCrawl removes all state of one crawl.
func (s *Server) DeleteCrawl(ctx context.Context, m *CrawlRefMsg) (*LongMsg, error) {
	removed, err := s.engine.DeleteCrawl(m.CrawlID)
	if err != nil {
		if frontier.IsFatal(err) {
			return nil, errReadOnly()
		}
		return nil, status.Errorf(codes.Internal, "Failed to delete crawl: %v", err)
	}
	return &LongMsg{Value: int64(removed)}, nil
}

// Checkpoint flushes the store.
func (s *Server) Checkpoint(ctx context.Context, _ *EmptyMsg) (*EmptyMsg, error) {
	if err := s.engine.Checkpoint(); err != nil {
		if frontier.IsFatal(err) {
			return nil, errReadOnly()
		}
		return nil, status.Errorf(codes.Internal, "Checkpoint failed: %v", err)
	}
	return &EmptyMsg{}, nil
}
