// Command feeder replays a recorded PPG session into a running engine.
//
// Transports:
//
//	send    buffered unary batches with retry (default)
//	stream  one client stream, no retry
//	mqtt    one message per sample on the BLE bridge topic
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/pulsekit/feeder/internal/replay"
	"github.com/pulsekit/pulsekit/feeder/internal/shipper"
	"github.com/pulsekit/pulsekit/pkg/recording"
	"github.com/pulsekit/pulsekit/pkg/streamrpc"
	"github.com/pulsekit/pulsekit/pkg/types"
)

type flags struct {
	input      string
	endpoint   string
	transport  string
	sessionID  string
	deviceID   string
	source     string
	batchSize  int
	speed      float64
	clipStart  time.Duration
	clipEnd    time.Duration
	closeAfter bool

	authMode string
	keyEnv   string
	header   string
	certFile string
	keyFile  string
	caFile   string

	mqttBroker string
	mqttTopic  string
}

func main() {
	var f flags
	flag.StringVar(&f.input, "input", "", "recording CSV to replay (required)")
	flag.StringVar(&f.endpoint, "endpoint", "localhost:50051", "engine gRPC address")
	flag.StringVar(&f.transport, "transport", "send", "send | stream | mqtt")
	flag.StringVar(&f.sessionID, "session", "", "session ID (default: new UUID)")
	flag.StringVar(&f.deviceID, "device", "", "device ID attached to every sample")
	flag.StringVar(&f.source, "source", string(types.SourceCamera), "camera | ble")
	flag.IntVar(&f.batchSize, "batch", replay.DefaultBatchSize, "samples per batch")
	flag.Float64Var(&f.speed, "speed", 1, "playback speed, 0 = as fast as possible")
	flag.DurationVar(&f.clipStart, "clip-start", 0, "skip this much of the recording")
	flag.DurationVar(&f.clipEnd, "clip-end", 0, "stop this far into the recording (0 = end)")
	flag.BoolVar(&f.closeAfter, "close", true, "close the session when the replay finishes")
	flag.StringVar(&f.authMode, "auth", "none", "none | apikey | mtls")
	flag.StringVar(&f.keyEnv, "key-env", "PULSEKIT_API_KEY", "environment variable holding the API key")
	flag.StringVar(&f.header, "header", "x-api-key", "API key metadata header")
	flag.StringVar(&f.certFile, "cert", "", "client certificate for mtls")
	flag.StringVar(&f.keyFile, "key", "", "client key for mtls")
	flag.StringVar(&f.caFile, "ca", "", "CA bundle for mtls")
	flag.StringVar(&f.mqttBroker, "mqtt-broker", "tcp://localhost:1883", "broker for -transport mqtt")
	flag.StringVar(&f.mqttTopic, "mqtt-topic", "pulsekit/ble/samples", "topic for -transport mqtt")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f); err != nil {
		slog.Error("feeder failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	if f.input == "" {
		return errors.New("-input is required")
	}
	rec, err := load(f.input, f.clipStart, f.clipEnd)
	if err != nil {
		return err
	}
	if f.sessionID == "" {
		f.sessionID = uuid.NewString()
	}
	opts := replay.Options{
		SessionID:  f.sessionID,
		SampleRate: rec.SampleRate,
		Source:     types.Source(f.source),
		DeviceID:   f.deviceID,
		BatchSize:  f.batchSize,
		Speed:      f.speed,
	}
	if !opts.Source.Valid() {
		return fmt.Errorf("unknown source %q", f.source)
	}

	slog.Info("feeder starting",
		"input", f.input,
		"session", f.sessionID,
		"transport", f.transport,
		"samples", len(rec.Samples),
		"sample_rate", rec.SampleRate,
		"speed", f.speed,
	)

	auth := shipper.Auth{
		Mode:     f.authMode,
		Header:   f.header,
		Key:      os.Getenv(f.keyEnv),
		CertFile: f.certFile,
		KeyFile:  f.keyFile,
		CAFile:   f.caFile,
	}

	switch f.transport {
	case "send":
		return runSend(ctx, f, opts, auth, rec.Samples)
	case "stream":
		return runStream(ctx, f, opts, auth, rec.Samples)
	case "mqtt":
		return runMQTT(ctx, f, opts, rec.Samples)
	}
	return fmt.Errorf("unknown transport %q", f.transport)
}

func load(path string, clipStart, clipEnd time.Duration) (*recording.Recording, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rec, err := recording.Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if clipStart > 0 || clipEnd > 0 {
		t0 := rec.Samples[0].Timestamp
		end := rec.Samples[len(rec.Samples)-1].Timestamp
		if clipEnd > 0 {
			end = t0 + clipEnd.Milliseconds()
		}
		rec.Samples = recording.Clip(rec.Samples, t0+clipStart.Milliseconds(), end)
		if len(rec.Samples) == 0 {
			return nil, errors.New("clip selects no samples")
		}
	}
	return rec, nil
}

func runSend(ctx context.Context, f flags, opts replay.Options, auth shipper.Auth, samples []types.Sample) error {
	// Unpaced replays enqueue everything at once; size the buffer so nothing
	// is evicted.
	size := shipper.DefaultBufferSize
	if n := len(replay.Batches(samples, opts)); opts.Speed <= 0 && n > size {
		size = n
	}
	s := shipper.New(shipper.Options{Endpoint: f.endpoint, BufferSize: size, Auth: auth})
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.Run(runCtx)

	p := replay.NewPlayer(opts, func(_ context.Context, b *streamrpc.SampleBatch) error {
		s.Ship(b)
		return nil
	})
	n, err := p.Play(ctx, samples)
	if err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	slog.Info("replay delivered",
		"batches", n,
		"delivered", s.Delivered(),
		"discarded", s.Discarded(),
	)

	if f.closeAfter {
		resp, err := s.CloseSession(ctx, opts.SessionID)
		if err != nil {
			return err
		}
		slog.Info("session closed",
			"session", resp.SessionID,
			"samples", resp.Samples,
			"bpm", resp.BPM,
			"measured_rate", resp.MeasuredRate,
		)
	}
	return nil
}

func runStream(ctx context.Context, f flags, opts replay.Options, auth shipper.Auth, samples []types.Sample) error {
	conn, err := shipper.Dial(ctx, f.endpoint, auth)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := streamrpc.NewClient(conn)
	callCtx := shipper.OutgoingContext(ctx, auth)
	stream, err := client.Stream(callCtx)
	if err != nil {
		return err
	}
	p := replay.NewPlayer(opts, func(_ context.Context, b *streamrpc.SampleBatch) error {
		return stream.Send(b)
	})
	if _, err := p.Play(ctx, samples); err != nil {
		return err
	}
	sum, err := stream.CloseAndRecv()
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	slog.Info("stream complete",
		"session", sum.SessionID,
		"batches", sum.Batches,
		"samples", sum.Accepted,
		"bpm", sum.BPM,
	)

	if f.closeAfter {
		if _, err := client.Close(callCtx, &streamrpc.CloseRequest{SessionID: opts.SessionID}); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	return nil
}

func runMQTT(ctx context.Context, f flags, opts replay.Options, samples []types.Sample) error {
	br, client, err := replay.DialBridge(f.mqttBroker, "pulsekit-feeder-"+opts.SessionID, f.mqttTopic, 1)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	n, err := replay.NewPlayer(opts, br.Send).Play(ctx, samples)
	if err != nil {
		return err
	}
	slog.Info("bridge replay complete", "batches", n, "topic", f.mqttTopic)
	return nil
}
