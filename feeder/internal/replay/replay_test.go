package replay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pulsekit/pulsekit/pkg/streamrpc"
	"github.com/pulsekit/pulsekit/pkg/types"
)

func series(n int, stepMs int64) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		out[i] = types.Sample{Timestamp: 1000 + int64(i)*stepMs, Value: float64(i)}
	}
	return out
}

func TestBatches(t *testing.T) {
	got := Batches(series(7, 10), Options{SessionID: "s", SampleRate: 100, BatchSize: 3, DeviceID: "d"})
	if len(got) != 3 {
		t.Fatalf("batches: got %d, want 3", len(got))
	}
	sizes := []int{3, 3, 1}
	for i, b := range got {
		if len(b.Samples) != sizes[i] {
			t.Errorf("batch %d: %d samples, want %d", i, len(b.Samples), sizes[i])
		}
		if b.SessionID != "s" || b.SampleRate != 100 || b.DeviceID != "d" {
			t.Errorf("batch %d header: %+v", i, b)
		}
	}
	if got[2].Samples[0].Value != 6 {
		t.Errorf("last batch starts at %v, want 6", got[2].Samples[0].Value)
	}
}

func TestBatches_DefaultSizeAndEmpty(t *testing.T) {
	if got := Batches(series(61, 33), Options{}); len(got) != 3 {
		t.Errorf("default batches: got %d, want 3", len(got))
	}
	if got := Batches(nil, Options{}); len(got) != 0 {
		t.Errorf("empty input gave %d batches", len(got))
	}
}

func TestPlayer_PacesByTimestamps(t *testing.T) {
	var sent []*streamrpc.SampleBatch
	p := NewPlayer(Options{SessionID: "s", BatchSize: 30, Speed: 2}, func(_ context.Context, b *streamrpc.SampleBatch) error {
		sent = append(sent, b)
		return nil
	})
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	n, err := p.Play(context.Background(), series(90, 33))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if n != 3 || len(sent) != 3 {
		t.Fatalf("sent %d (%d), want 3", n, len(sent))
	}
	// 30 samples of 33 ms at double speed.
	want := 495 * time.Millisecond
	if len(slept) != 2 || slept[0] != want || slept[1] != want {
		t.Errorf("sleeps = %v, want two of %v", slept, want)
	}
}

func TestPlayer_FastModeDoesNotSleep(t *testing.T) {
	p := NewPlayer(Options{SessionID: "s", BatchSize: 10}, func(context.Context, *streamrpc.SampleBatch) error { return nil })
	p.sleep = func(context.Context, time.Duration) error {
		t.Fatal("sleep called with Speed 0")
		return nil
	}
	if _, err := p.Play(context.Background(), series(50, 33)); err != nil {
		t.Fatalf("Play: %v", err)
	}
}

func TestPlayer_Errors(t *testing.T) {
	if _, err := NewPlayer(Options{}, nil).Play(context.Background(), series(3, 10)); err == nil {
		t.Error("missing session id: expected error")
	}

	boom := errors.New("boom")
	calls := 0
	p := NewPlayer(Options{SessionID: "s", BatchSize: 1}, func(context.Context, *streamrpc.SampleBatch) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	n, err := p.Play(context.Background(), series(5, 10))
	if !errors.Is(err, boom) || n != 1 {
		t.Errorf("Play = %d, %v; want 1, boom", n, err)
	}
}

func TestPlayer_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPlayer(Options{SessionID: "s", BatchSize: 1, Speed: 1}, func(context.Context, *streamrpc.SampleBatch) error {
		cancel()
		return nil
	})
	n, err := p.Play(ctx, series(3, 1000))
	if !errors.Is(err, context.Canceled) || n != 1 {
		t.Errorf("Play = %d, %v; want 1, context.Canceled", n, err)
	}
}

// fakeToken completes immediately with err.
type fakeToken struct{ err error }

func (f fakeToken) Wait() bool                     { return true }
func (f fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f fakeToken) Error() error { return f.err }

type fakeClient struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return fakeToken{err: f.err}
}

func TestBridge_Send(t *testing.T) {
	fc := &fakeClient{}
	br := NewBridge(fc, "pulsekit/ble/samples", 1)
	b := Batches(series(3, 40), Options{SessionID: "ble-1", SampleRate: 25, DeviceID: "band"})[0]

	if err := br.Send(context.Background(), b); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fc.payloads) != 3 {
		t.Fatalf("published %d messages, want 3", len(fc.payloads))
	}
	var m bridgeMessage
	if err := json.Unmarshal(fc.payloads[2], &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m.SessionID != "ble-1" || m.SampleRate != 25 || m.Timestamp != 1080 || m.Value != 2 || m.DeviceID != "band" {
		t.Errorf("message = %+v", m)
	}
	if fc.topics[0] != "pulsekit/ble/samples" {
		t.Errorf("topic = %q", fc.topics[0])
	}
}

func TestBridge_PublishError(t *testing.T) {
	fc := &fakeClient{err: errors.New("not connected")}
	br := NewBridge(fc, "t", 0)
	b := Batches(series(2, 40), Options{SessionID: "s"})[0]
	if err := br.Send(context.Background(), b); err == nil {
		t.Error("expected error")
	}
	if len(fc.payloads) != 1 {
		t.Errorf("published %d, want to stop after the first failure", len(fc.payloads))
	}
}
