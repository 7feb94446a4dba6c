package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/engine/internal/heartrate"
	"github.com/pulsekit/pulsekit/engine/internal/pipeline"
	"github.com/pulsekit/pulsekit/pkg/recording"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// settleSeconds of filtered output are discarded before the whole-recording
// heart-rate estimate; the 0 to baseline step rings through the band-pass.
const settleSeconds = 1

// ErrNoSampleRate is returned when a recording has neither a declared nor a
// measurable sample rate.
var ErrNoSampleRate = errors.New("analysis: recording has no usable sample rate")

// Window is the report entry for one pipeline window.
type Window struct {
	pipeline.Window
	HeartRate uint32            `json:"heart_rate"`
	Features  []float64         `json:"features,omitempty"`
	Estimate  *types.BPEstimate `json:"estimate,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Report is the result of analysing one recording.
type Report struct {
	RunID      string             `json:"run_id"`
	Metadata   recording.Metadata `json:"metadata"`
	Samples    int                `json:"samples"`
	SampleRate float64            `json:"sample_rate"`
	HeartRate  uint32             `json:"heart_rate"`
	Options    pipeline.Options   `json:"options"`
	Windows    []Window           `json:"windows"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Duration   time.Duration      `json:"duration_ns"`
}

// Analyze processes rec with a fresh filter built from cfg at the
// recording's sample rate.
func Analyze(rec *recording.Recording, cfg dsp.Config, opts pipeline.Options, score pipeline.Scorer[types.BPEstimate]) (*Report, error) {
	fs := rec.SampleRate
	if !(fs > 0) {
		fs = recording.SampleRate(rec.Samples)
	}
	if !(fs > 0) {
		return nil, ErrNoSampleRate
	}

	f, err := dsp.NewStreamFilter(fs, cfg)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	filtered := f.ProcessBatch(nil, types.Values(rec.Samples))

	res := pipeline.Run(rec.Samples, opts, score)

	rep := &Report{
		RunID:      res.RunID,
		Metadata:   rec.Metadata,
		Samples:    len(rec.Samples),
		SampleRate: fs,
		HeartRate:  overallHeartRate(filtered, fs),
		Options:    res.Options,
		Windows:    make([]Window, 0, res.Windows),
		Succeeded:  len(res.Estimates),
		Failed:     len(res.Errors),
		Duration:   res.Duration,
	}

	// Estimates and errors are each in window order; merge them back.
	ei, xi := 0, 0
	for i := 0; i < res.Windows; i++ {
		var w Window
		switch {
		case ei < len(res.Estimates) && res.Estimates[ei].Window.Index == i:
			est := res.Estimates[ei]
			v := est.Value
			w = Window{Window: est.Window, Features: est.Features[:], Estimate: &v}
			ei++
		case xi < len(res.Errors) && res.Errors[xi].Window.Index == i:
			w = Window{Window: res.Errors[xi].Window, Error: res.Errors[xi].Err.Error()}
			xi++
		default:
			continue
		}
		w.HeartRate = heartrate.Estimate(filtered[w.Start:w.End], fs)
		rep.Windows = append(rep.Windows, w)
	}
	return rep, nil
}

func overallHeartRate(filtered []float64, fs float64) uint32 {
	skip := int(settleSeconds * fs)
	if skip >= len(filtered) {
		return heartrate.Unknown
	}
	return heartrate.Estimate(filtered[skip:], fs)
}
