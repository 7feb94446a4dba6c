// Package replay turns a recorded PPG series into timed batches and hands
// them to a sink, optionally paced at the recording's own speed.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsekit/pulsekit/pkg/streamrpc"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// DefaultBatchSize is one second of samples at 30 Hz.
const DefaultBatchSize = 30

// Options configures a replay.
type Options struct {
	SessionID  string
	SampleRate float64
	Source     types.Source
	DeviceID   string

	// BatchSize is the number of samples per batch.
	BatchSize int

	// Speed scales playback: 1 is real time, 2 twice as fast. Zero or
	// negative sends as fast as the sink accepts.
	Speed float64
}

// Sink receives batches in recording order.
type Sink func(context.Context, *streamrpc.SampleBatch) error

// Batches splits samples into consecutive batches.
func Batches(samples []types.Sample, opts Options) []*streamrpc.SampleBatch {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([]*streamrpc.SampleBatch, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, &streamrpc.SampleBatch{
			SessionID:  opts.SessionID,
			SampleRate: opts.SampleRate,
			Source:     opts.Source,
			DeviceID:   opts.DeviceID,
			Samples:    samples[start:end],
		})
	}
	return out
}

// Player sends batches to a sink.
type Player struct {
	opts  Options
	sink  Sink
	sleep func(context.Context, time.Duration) error
}

// NewPlayer returns a Player for opts.
func NewPlayer(opts Options, sink Sink) *Player {
	return &Player{opts: opts, sink: sink, sleep: sleepCtx}
}

// Play replays samples and returns how many batches were sent. With a
// positive Speed each batch waits for the recorded gap since the previous
// batch divided by Speed.
func (p *Player) Play(ctx context.Context, samples []types.Sample) (int, error) {
	if p.opts.SessionID == "" {
		return 0, errors.New("replay: session id is required")
	}
	batches := Batches(samples, p.opts)
	for i, b := range batches {
		if i > 0 && p.opts.Speed > 0 {
			gap := b.Samples[0].Timestamp - batches[i-1].Samples[0].Timestamp
			if gap > 0 {
				d := time.Duration(float64(gap) * float64(time.Millisecond) / p.opts.Speed)
				if err := p.sleep(ctx, d); err != nil {
					return i, err
				}
			}
		}
		if err := p.sink(ctx, b); err != nil {
			return i, fmt.Errorf("replay: batch %d: %w", i, err)
		}
	}
	return len(batches), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
