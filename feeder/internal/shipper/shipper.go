package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pulsekit/pulsekit/pkg/streamrpc"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	flushPoll         = 20 * time.Millisecond

	// DefaultBufferSize is used when Options.BufferSize is zero.
	DefaultBufferSize = 1000
)

// Auth configures how the shipper authenticates to the engine.
type Auth struct {
	// Mode is one of: mtls | apikey | none.
	Mode string

	// Header and Key are used when Mode == "apikey".
	Header string
	Key    string

	// CertFile, KeyFile and CAFile are used when Mode == "mtls".
	CertFile string
	KeyFile  string
	CAFile   string
}

// Options configures a Shipper.
type Options struct {
	Endpoint   string
	BufferSize int
	Auth       Auth
}

// Shipper buffers batches and ships them to the engine via gRPC.
type Shipper struct {
	opts   Options
	buf    chan *streamrpc.SampleBatch
	dialFn dialFunc // injectable for tests

	// retry holds a batch that failed transiently. Only Run touches it.
	retry *streamrpc.SampleBatch

	pending   atomic.Int64 // shipped but not yet delivered or discarded
	delivered atomic.Int64
	discarded atomic.Int64
}

// dialFunc opens a gRPC connection. Tests replace it to reach a local server.
type dialFunc func(ctx context.Context, endpoint string, auth Auth) (*grpc.ClientConn, error)

// New creates a Shipper.
func New(opts Options) *Shipper {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Auth.Header == "" {
		opts.Auth.Header = "x-api-key"
	}
	return &Shipper{
		opts:   opts,
		buf:    make(chan *streamrpc.SampleBatch, opts.BufferSize),
		dialFn: defaultDial,
	}
}

// Ship enqueues b. If the buffer is full the oldest entry is evicted.
func (s *Shipper) Ship(b *streamrpc.SampleBatch) {
	s.pending.Add(1)
	select {
	case s.buf <- b:
	default:
		select {
		case old := <-s.buf:
			s.discarded.Add(1)
			s.pending.Add(-1)
			slog.Warn("shipper: buffer full, evicted oldest batch",
				"session", old.SessionID, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- b
	}
}

// Delivered returns how many batches the engine accepted.
func (s *Shipper) Delivered() int64 { return s.delivered.Load() }

// Discarded returns how many batches were evicted or permanently rejected.
func (s *Shipper) Discarded() int64 { return s.discarded.Load() }

// Flush blocks until every shipped batch has been delivered or discarded,
// or ctx is done. Run must be running.
func (s *Shipper) Flush(ctx context.Context) error {
	t := time.NewTicker(flushPoll)
	defer t.Stop()
	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shipper: flush: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// Run drains the buffer, sending batches to the engine. It reconnects with
// exponential backoff when the connection is lost and blocks until ctx is
// cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dialFn(ctx, s.opts.Endpoint, s.opts.Auth)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.opts.Endpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}
		slog.Info("shipper: connected", "endpoint", s.opts.Endpoint)
		bo.reset()

		err = s.drain(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.opts.Endpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// next returns the held retry batch or the next buffered one.
func (s *Shipper) next(ctx context.Context) (*streamrpc.SampleBatch, bool) {
	if b := s.retry; b != nil {
		s.retry = nil
		return b, true
	}
	select {
	case <-ctx.Done():
		return nil, false
	case b := <-s.buf:
		return b, true
	}
}

// drain sends batches until the connection fails or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn) error {
	client := streamrpc.NewClient(conn)
	for {
		b, ok := s.next(ctx)
		if !ok {
			return nil
		}
		sendCtx, cancel := context.WithTimeout(s.outgoing(ctx), sendTimeout)
		resp, err := client.Send(sendCtx, b)
		cancel()
		if err != nil {
			if isPermanentError(err) {
				slog.Error("shipper: permanent send error, discarding batch",
					"session", b.SessionID, "err", err)
				s.discarded.Add(1)
				s.pending.Add(-1)
				continue
			}
			s.retry = b
			return fmt.Errorf("send: %w", err)
		}
		s.delivered.Add(1)
		s.pending.Add(-1)
		slog.Debug("shipper: batch delivered",
			"session", b.SessionID, "accepted", resp.Accepted, "bpm", resp.BPM)
	}
}

// CloseSession asks the engine to end sessionID and returns its final state.
func (s *Shipper) CloseSession(ctx context.Context, sessionID string) (*streamrpc.CloseResponse, error) {
	conn, err := s.dialFn(ctx, s.opts.Endpoint, s.opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("shipper: dial: %w", err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(s.outgoing(ctx), sendTimeout)
	defer cancel()
	resp, err := streamrpc.NewClient(conn).Close(callCtx, &streamrpc.CloseRequest{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("shipper: close %s: %w", sessionID, err)
	}
	return resp, nil
}

// outgoing attaches the API key header when configured.
func (s *Shipper) outgoing(ctx context.Context) context.Context {
	return OutgoingContext(ctx, s.opts.Auth)
}

// OutgoingContext attaches auth's API key to ctx when Mode is "apikey".
func OutgoingContext(ctx context.Context, auth Auth) context.Context {
	if auth.Mode != "apikey" || auth.Key == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, auth.Header, auth.Key)
}

// isPermanentError returns true for gRPC errors that indicate the batch itself
// is invalid and should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.FailedPrecondition:
		return true
	}
	return false
}

// Dial opens a gRPC connection to endpoint with transport credentials from auth.
func Dial(ctx context.Context, endpoint string, auth Auth) (*grpc.ClientConn, error) {
	return defaultDial(ctx, endpoint, auth)
}

func defaultDial(ctx context.Context, endpoint string, auth Auth) (*grpc.ClientConn, error) {
	opts, err := dialOptions(auth)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc 1.62
}

// dialOptions builds the transport credentials for auth.
func dialOptions(auth Auth) ([]grpc.DialOption, error) {
	if auth.Mode == "mtls" {
		creds, err := buildMTLSCreds(auth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey is sent per call; none is local development.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads the client certificate and optional CA.
func buildMTLSCreds(auth Auth) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
