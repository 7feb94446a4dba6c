package streamrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls pulsekit.v1.Ingest with the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// Send delivers one batch.
func (c *Client) Send(ctx context.Context, in *SampleBatch, opts ...grpc.CallOption) (*SendResponse, error) {
	out := new(SendResponse)
	if err := c.cc.Invoke(ctx, SendMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Close ends a session on the engine.
func (c *Client) Close(ctx context.Context, in *CloseRequest, opts ...grpc.CallOption) (*CloseResponse, error) {
	out := new(CloseResponse)
	if err := c.cc.Invoke(ctx, CloseMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Stream opens a client stream of batches.
func (c *Client) Stream(ctx context.Context, opts ...grpc.CallOption) (*BatchStream, error) {
	s, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &BatchStream{s: s}, nil
}

// BatchStream is the client side of the Stream call.
type BatchStream struct {
	s grpc.ClientStream
}

// Send queues one batch on the stream.
func (b *BatchStream) Send(m *SampleBatch) error {
	return b.s.SendMsg(m)
}

// CloseAndRecv half-closes the stream and waits for the summary.
func (b *BatchStream) CloseAndRecv() (*StreamSummary, error) {
	if err := b.s.CloseSend(); err != nil {
		return nil, err
	}
	m := new(StreamSummary)
	if err := b.s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
