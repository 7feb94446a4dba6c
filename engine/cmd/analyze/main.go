// Command analyze runs the offline PPG pipeline over a MIMIC-style CSV
// recording and prints a JSON report.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pulsekit/pulsekit/engine/internal/analysis"
	"github.com/pulsekit/pulsekit/engine/internal/config"
	"github.com/pulsekit/pulsekit/engine/internal/pipeline"
	"github.com/pulsekit/pulsekit/engine/internal/scorer"
	"github.com/pulsekit/pulsekit/pkg/recording"
	"github.com/pulsekit/pulsekit/pkg/types"
)

type output struct {
	*analysis.Report
	Accuracy *pipeline.Accuracy `json:"accuracy,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "engine config file for DSP and window settings (optional)")
	input := flag.String("input", "-", "recording CSV path, - for stdin")
	windowSize := flag.Int("window", 0, "window size in samples (default from config)")
	stride := flag.Int("stride", 0, "window stride in samples (default from config)")
	clipStart := flag.Duration("clip-start", 0, "skip this much of the recording")
	clipEnd := flag.Duration("clip-end", 0, "stop this far into the recording (0 = end)")
	truthPath := flag.String("truth", "", "JSON array of reference BP estimates, one per successful window")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(os.Stdout, *configPath, *input, *truthPath, *windowSize, *stride, *clipStart, *clipEnd); err != nil {
		slog.Error("analyze failed", "err", err)
		os.Exit(1)
	}
}

func run(w io.Writer, configPath, input, truthPath string, windowSize, stride int, clipStart, clipEnd time.Duration) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	opts := pipeline.Options{WindowSize: cfg.Engine.WindowSize, Stride: cfg.Engine.Stride}
	if windowSize > 0 {
		opts.WindowSize = windowSize
	}
	if stride > 0 {
		opts.Stride = stride
	}

	rec, err := readRecording(input)
	if err != nil {
		return err
	}
	if clipStart > 0 || clipEnd > 0 {
		t0 := rec.Samples[0].Timestamp
		end := rec.Samples[len(rec.Samples)-1].Timestamp
		if clipEnd > 0 {
			end = t0 + clipEnd.Milliseconds()
		}
		rec.Samples = recording.Clip(rec.Samples, t0+clipStart.Milliseconds(), end)
		if len(rec.Samples) == 0 {
			return errors.New("clip selects no samples")
		}
	}

	report, err := analysis.Analyze(rec, cfg.Engine.DSP, opts, scorer.Baseline{}.Score)
	if err != nil {
		return err
	}
	out := output{Report: report}

	if truthPath != "" {
		acc, err := compare(report, truthPath)
		if err != nil {
			return err
		}
		out.Accuracy = &acc
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readRecording(path string) (*recording.Recording, error) {
	if path == "-" {
		return recording.Read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return recording.Read(f)
}

func compare(report *analysis.Report, truthPath string) (pipeline.Accuracy, error) {
	data, err := os.ReadFile(truthPath)
	if err != nil {
		return pipeline.Accuracy{}, err
	}
	var truth []types.BPEstimate
	if err := json.Unmarshal(data, &truth); err != nil {
		return pipeline.Accuracy{}, fmt.Errorf("truth %s: %w", truthPath, err)
	}
	var pred []types.BPEstimate
	for _, win := range report.Windows {
		if win.Estimate != nil {
			pred = append(pred, *win.Estimate)
		}
	}
	return pipeline.CompareBP(pred, truth)
}
