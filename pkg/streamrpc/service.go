package streamrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Fully-qualified names.
const (
	ServiceName  = "pulsekit.v1.Ingest"
	SendMethod   = "/" + ServiceName + "/Send"
	StreamMethod = "/" + ServiceName + "/Stream"
	CloseMethod  = "/" + ServiceName + "/Close"
)

// IngestServer is implemented by the engine.
type IngestServer interface {
	Send(context.Context, *SampleBatch) (*SendResponse, error)
	Stream(IngestStreamServer) error
	Close(context.Context, *CloseRequest) (*CloseResponse, error)
}

// IngestStreamServer is the server side of the Stream call.
type IngestStreamServer interface {
	Recv() (*SampleBatch, error)
	SendAndClose(*StreamSummary) error
	grpc.ServerStream
}

// ServiceDesc describes pulsekit.v1.Ingest for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
		{MethodName: "Close", Handler: closeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ClientStreams: true},
	},
	Metadata: "pulsekit/v1/ingest",
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func sendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SampleBatch)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).Send(ctx, req.(*SampleBatch))
	})
}

func closeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Close(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CloseMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).Close(ctx, req.(*CloseRequest))
	})
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(IngestServer).Stream(&streamServer{stream})
}

type streamServer struct {
	grpc.ServerStream
}

func (s *streamServer) Recv() (*SampleBatch, error) {
	m := new(SampleBatch)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *streamServer) SendAndClose(m *StreamSummary) error {
	return s.ServerStream.SendMsg(m)
}
