package receiver_test

import (
	"context"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pulsekit/pulsekit/engine/internal/auth"
	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/engine/internal/metrics"
	"github.com/pulsekit/pulsekit/engine/internal/receiver"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/pkg/streamrpc"
	"github.com/pulsekit/pulsekit/pkg/types"
)

const testKey = "supersecret"

type fixture struct {
	client   *streamrpc.Client
	sessions *session.Registry
	metrics  *metrics.Registry
}

// startServer starts an Ingest server on a random TCP port. mode "apikey"
// enforces testKey.
func startServer(t *testing.T, mode string) fixture {
	t.Helper()

	reg := session.NewRegistry(session.Options{DSP: dsp.DefaultConfig()})
	m := metrics.New()
	rec := receiver.New(reg, m)

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(mode, "x-api-key", testKey)),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(mode, "x-api-key", testKey)),
	)
	streamrpc.RegisterIngestServer(srv, rec)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return fixture{client: streamrpc.NewClient(conn), sessions: reg, metrics: m}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// pulse returns n samples of a 1.2 Hz pulse at 30 Hz starting at sample i0.
func pulse(i0, n int) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		ts := float64(i0+i) / 30
		out[i] = types.Sample{
			Timestamp: 1_700_000_000_000 + int64(math.Round(ts*1000)),
			Value:     0.5 + 0.1*math.Sin(2*math.Pi*1.2*ts),
		}
	}
	return out
}

func TestSend_OpensAndPushes(t *testing.T) {
	f := startServer(t, "none")
	ctx := testCtx(t)

	resp, err := f.client.Send(ctx, &streamrpc.SampleBatch{
		SessionID:  "s1",
		SampleRate: 30,
		Source:     types.SourceBLE,
		DeviceID:   "band-7",
		Samples:    pulse(0, 90),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Accepted != 90 {
		t.Errorf("accepted: got %d, want 90", resp.Accepted)
	}

	s, ok := f.sessions.Get("s1")
	if !ok {
		t.Fatal("session s1 not opened")
	}
	u := s.Snapshot()
	if u.Samples != 90 || u.Source != types.SourceBLE || u.DeviceID != "band-7" {
		t.Errorf("snapshot: %+v", u)
	}

	var buf strings.Builder
	if err := f.metrics.Write(&buf); err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !strings.Contains(buf.String(), `pulsekit_samples_ingested_total{transport="grpc"} 90`) {
		t.Errorf("ingest counter missing from:\n%s", buf.String())
	}
}

func TestSend_DefaultRate(t *testing.T) {
	f := startServer(t, "none")
	if _, err := f.client.Send(testCtx(t), &streamrpc.SampleBatch{SessionID: "d", Samples: pulse(0, 3)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	s, _ := f.sessions.Get("d")
	if s.SampleRate() != 30 {
		t.Errorf("sample rate: got %g, want 30", s.SampleRate())
	}
}

func TestSend_DefaultRateFollowsReload(t *testing.T) {
	f := startServer(t, "none")
	ctx := testCtx(t)
	if _, err := f.client.Send(ctx, &streamrpc.SampleBatch{SessionID: "before", Samples: pulse(0, 3)}); err != nil {
		t.Fatalf("Send before: %v", err)
	}

	f.sessions.SetDefaults(60, dsp.DefaultConfig())

	if _, err := f.client.Send(ctx, &streamrpc.SampleBatch{SessionID: "after", Samples: pulse(0, 3)}); err != nil {
		t.Fatalf("Send after: %v", err)
	}
	if s, _ := f.sessions.Get("after"); s.SampleRate() != 60 {
		t.Errorf("new session rate: got %g, want 60", s.SampleRate())
	}

	// The earlier session keeps its rate and still accepts rate-less batches.
	if _, err := f.client.Send(ctx, &streamrpc.SampleBatch{SessionID: "before", Samples: pulse(3, 3)}); err != nil {
		t.Fatalf("Send to earlier session: %v", err)
	}
	if s, _ := f.sessions.Get("before"); s.SampleRate() != 30 {
		t.Errorf("earlier session rate: got %g, want 30", s.SampleRate())
	}
}

func TestSend_Errors(t *testing.T) {
	f := startServer(t, "none")
	ctx := testCtx(t)
	if _, err := f.client.Send(ctx, &streamrpc.SampleBatch{SessionID: "m", SampleRate: 30}); err != nil {
		t.Fatalf("open: %v", err)
	}

	cases := []struct {
		name  string
		batch *streamrpc.SampleBatch
		want  codes.Code
	}{
		{"missing id", &streamrpc.SampleBatch{SampleRate: 30}, codes.InvalidArgument},
		{"bad source", &streamrpc.SampleBatch{SessionID: "x", Source: "ecg"}, codes.InvalidArgument},
		{"rate too low", &streamrpc.SampleBatch{SessionID: "y", SampleRate: 8}, codes.InvalidArgument},
		{"rate too high", &streamrpc.SampleBatch{SessionID: "z", SampleRate: 1e15}, codes.InvalidArgument},
		{"rate mismatch", &streamrpc.SampleBatch{SessionID: "m", SampleRate: 60}, codes.FailedPrecondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.client.Send(ctx, tc.batch)
			if code := status.Code(err); code != tc.want {
				t.Errorf("code: got %v, want %v (%v)", code, tc.want, err)
			}
		})
	}
}

func TestStream_Summary(t *testing.T) {
	f := startServer(t, "none")
	stream, err := f.client.Stream(testCtx(t))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for i := 0; i < 3; i++ {
		b := &streamrpc.SampleBatch{SessionID: "live", SampleRate: 30, Samples: pulse(i*300, 300)}
		if err := stream.Send(b); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	sum, err := stream.CloseAndRecv()
	if err != nil {
		t.Fatalf("CloseAndRecv: %v", err)
	}
	if sum.SessionID != "live" || sum.Batches != 3 || sum.Accepted != 900 {
		t.Errorf("summary: %+v", sum)
	}
	if sum.BPM < 70 || sum.BPM > 74 {
		t.Errorf("bpm: got %d, want 70..74", sum.BPM)
	}
}

func TestStream_InvalidBatchAborts(t *testing.T) {
	f := startServer(t, "none")
	stream, err := f.client.Stream(testCtx(t))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	_ = stream.Send(&streamrpc.SampleBatch{SampleRate: 30})
	_, err = stream.CloseAndRecv()
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("code: got %v, want InvalidArgument", code)
	}
}

func TestClose(t *testing.T) {
	f := startServer(t, "none")
	ctx := testCtx(t)
	if _, err := f.client.Send(ctx, &streamrpc.SampleBatch{SessionID: "c", SampleRate: 30, Samples: pulse(0, 31)}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	resp, err := f.client.Close(ctx, &streamrpc.CloseRequest{SessionID: "c"})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if resp.Samples != 31 {
		t.Errorf("samples: got %d, want 31", resp.Samples)
	}
	if math.Abs(resp.MeasuredRate-30) > 0.5 {
		t.Errorf("measured rate: got %g, want ~30", resp.MeasuredRate)
	}
	if f.sessions.Count() != 0 {
		t.Errorf("session still open")
	}

	_, err = f.client.Close(ctx, &streamrpc.CloseRequest{SessionID: "c"})
	if code := status.Code(err); code != codes.NotFound {
		t.Errorf("second close: got %v, want NotFound", code)
	}
	_, err = f.client.Close(ctx, &streamrpc.CloseRequest{})
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("empty id: got %v, want InvalidArgument", code)
	}
}

func TestAuth_Enforced(t *testing.T) {
	f := startServer(t, "apikey")
	ctx := testCtx(t)
	b := &streamrpc.SampleBatch{SessionID: "a", SampleRate: 30}

	_, err := f.client.Send(ctx, b)
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("no key: got %v, want Unauthenticated", code)
	}

	stream, err := f.client.Stream(ctx)
	if err == nil {
		_ = stream.Send(b)
		_, err = stream.CloseAndRecv()
	}
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("stream without key: got %v, want Unauthenticated", code)
	}

	authed := metadata.AppendToOutgoingContext(ctx, "x-api-key", testKey)
	if _, err := f.client.Send(authed, b); err != nil {
		t.Errorf("with key: %v", err)
	}
	if f.sessions.Count() != 1 {
		t.Errorf("sessions: got %d, want 1", f.sessions.Count())
	}
}
