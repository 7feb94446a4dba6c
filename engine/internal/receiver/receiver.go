package receiver

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/engine/internal/metrics"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/pkg/streamrpc"
)

// Transport labels for the ingested-samples counter.
const (
	TransportGRPC = "grpc"
	TransportMQTT = "mqtt"
)

// Receiver implements streamrpc.IngestServer.
type Receiver struct {
	sessions *session.Registry
	metrics  *metrics.Registry
}

// New creates a Receiver. Batches without a sample rate open sessions at
// the registry's default rate. m may be nil.
func New(sessions *session.Registry, m *metrics.Registry) *Receiver {
	return &Receiver{sessions: sessions, metrics: m}
}

// Ingest validates b, opens its session if needed and pushes its samples.
// Errors carry a gRPC status code.
func (r *Receiver) Ingest(b *streamrpc.SampleBatch, transport string) (*session.Stream, error) {
	if err := b.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s, err := r.sessions.Open(b.SessionID, b.SampleRate)
	switch {
	case errors.Is(err, session.ErrRateMismatch):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, dsp.ErrConfiguration):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}

	n := s.PushBatch(b.Normalized())
	if r.metrics != nil {
		r.metrics.AddSamples(transport, n)
	}
	slog.Debug("receiver: batch ingested",
		"session", b.SessionID,
		"transport", transport,
		"samples", n,
	)
	return s, nil
}

// Send is the unary ingest RPC.
func (r *Receiver) Send(ctx context.Context, b *streamrpc.SampleBatch) (*streamrpc.SendResponse, error) {
	s, err := r.Ingest(b, TransportGRPC)
	if err != nil {
		return nil, err
	}
	return &streamrpc.SendResponse{Accepted: len(b.Samples), BPM: s.Snapshot().BPM}, nil
}

// Stream ingests batches until the client half-closes. The summary carries
// a fresh heart-rate estimate for the last session seen.
func (r *Receiver) Stream(stream streamrpc.IngestStreamServer) error {
	var (
		sum  streamrpc.StreamSummary
		last *session.Stream
	)
	for {
		b, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		s, err := r.Ingest(b, TransportGRPC)
		if err != nil {
			return err
		}
		last = s
		sum.SessionID = b.SessionID
		sum.Batches++
		sum.Accepted += int64(len(b.Samples))
	}
	if last != nil {
		sum.BPM = last.HeartRate()
	}
	slog.Info("receiver: stream complete",
		"session", sum.SessionID,
		"batches", sum.Batches,
		"samples", sum.Accepted,
	)
	return stream.SendAndClose(&sum)
}

// Close ends a session.
func (r *Receiver) Close(ctx context.Context, req *streamrpc.CloseRequest) (*streamrpc.CloseResponse, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	u, err := r.sessions.Close(req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &streamrpc.CloseResponse{
		SessionID:    u.SessionID,
		Samples:      u.Samples,
		BPM:          u.BPM,
		MeasuredRate: u.MeasuredRate,
	}, nil
}
