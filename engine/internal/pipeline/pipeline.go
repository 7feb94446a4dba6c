package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/pulsekit/engine/internal/features"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// Default window geometry: 10 s windows with 5 s hop at 30 Hz.
const (
	DefaultWindowSize = 300
	DefaultStride     = 150
)

// Options controls window geometry. Zero or negative fields take defaults.
type Options struct {
	WindowSize int `json:"window_size"`
	Stride     int `json:"stride"`
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.Stride <= 0 {
		o.Stride = DefaultStride
	}
	return o
}

// Scorer maps one feature vector to an estimate.
type Scorer[T any] func(features.Vector) (T, error)

// Window identifies the samples a result was derived from.
type Window struct {
	Index        int   `json:"index"`
	Start        int   `json:"start"` // first sample index, inclusive
	End          int   `json:"end"`   // last sample index, exclusive
	EndTimestamp int64 `json:"end_timestamp"`
}

// Estimate pairs a scorer result with its window.
type Estimate[T any] struct {
	Window   Window          `json:"window"`
	Features features.Vector `json:"features"`
	Value    T               `json:"value"`
}

// WindowError records a scorer failure for a single window.
type WindowError struct {
	Window Window `json:"window"`
	Err    error  `json:"-"`
}

func (e WindowError) Error() string {
	return fmt.Sprintf("pipeline: window %d [%d,%d): %v", e.Window.Index, e.Window.Start, e.Window.End, e.Err)
}

func (e WindowError) Unwrap() error { return e.Err }

// Result is the ordered output of one Run.
type Result[T any] struct {
	RunID     string        `json:"run_id"`
	Options   Options       `json:"options"`
	Windows   int           `json:"windows"`
	Estimates []Estimate[T] `json:"estimates"`
	Errors    []WindowError `json:"-"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// WindowCount returns how many full windows n samples produce.
func WindowCount(n int, opts Options) int {
	opts = opts.withDefaults()
	if n < opts.WindowSize {
		return 0
	}
	return (n-opts.WindowSize)/opts.Stride + 1
}

// Run extracts features from every full window of samples and scores them.
func Run[T any](samples []types.Sample, opts Options, score Scorer[T]) Result[T] {
	opts = opts.withDefaults()
	n := WindowCount(len(samples), opts)

	res := Result[T]{
		RunID:     uuid.NewString(),
		Options:   opts,
		Windows:   n,
		Estimates: make([]Estimate[T], 0, n),
		StartedAt: time.Now(),
	}

	values := types.Values(samples)
	for i := 0; i < n; i++ {
		start := i * opts.Stride
		end := start + opts.WindowSize
		w := Window{
			Index:        i,
			Start:        start,
			End:          end,
			EndTimestamp: samples[end-1].Timestamp,
		}

		vec := features.Extract(values[start:end])
		val, err := safeScore(score, vec)
		if err != nil {
			res.Errors = append(res.Errors, WindowError{Window: w, Err: err})
			continue
		}
		res.Estimates = append(res.Estimates, Estimate[T]{Window: w, Features: vec, Value: val})
	}

	res.Duration = time.Since(res.StartedAt)
	if len(res.Errors) > 0 {
		slog.Warn("pipeline: scorer failed on some windows",
			"run_id", res.RunID, "windows", n, "failed", len(res.Errors))
	}
	return res
}

// safeScore calls score, converting a panic into an error.
func safeScore[T any](score Scorer[T], vec features.Vector) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scorer panic: %v", r)
		}
	}()
	return score(vec)
}
