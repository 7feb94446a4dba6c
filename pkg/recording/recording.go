package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pulsekit/pulsekit/pkg/types"
)

// ErrNoData is returned when a recording contains no sample rows.
var ErrNoData = errors.New("recording: no data rows")

// Columns is the data header row.
const Columns = "timestamp_ms,elapsed_seconds,PLETH,source"

const (
	title      = "MIMIC-III Compatible PPG Recording"
	keySubject = "Subject ID"
	keyStart   = "Start Time"
	keyRate    = "Sample Rate"
	keySignal  = "Signal"
	keyUnits   = "Units"

	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

// Metadata is the information carried in the comment header.
type Metadata struct {
	SubjectID  string    `json:"subject_id"`
	StartTime  time.Time `json:"start_time"`
	SampleRate float64   `json:"sample_rate"`
}

// Recording is a parsed CSV recording.
type Recording struct {
	Metadata
	Samples []types.Sample `json:"samples"`
}

// ParseError reports a malformed data row.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recording: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Write encodes samples as a recording. A zero StartTime defaults to the
// first sample's timestamp and a zero SampleRate to the measured rate.
func Write(w io.Writer, meta Metadata, samples []types.Sample) error {
	if len(samples) == 0 {
		return ErrNoData
	}
	first := samples[0].Timestamp
	if meta.StartTime.IsZero() {
		meta.StartTime = time.UnixMilli(first).UTC()
	}
	if meta.SampleRate == 0 {
		meta.SampleRate = SampleRate(samples)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s\n", title)
	fmt.Fprintf(bw, "# %s: %s\n", keySubject, meta.SubjectID)
	fmt.Fprintf(bw, "# %s: %s\n", keyStart, meta.StartTime.UTC().Format(isoMillis))
	fmt.Fprintf(bw, "# %s: %.4f Hz\n", keyRate, meta.SampleRate)
	fmt.Fprintf(bw, "# %s: PLETH\n", keySignal)
	fmt.Fprintf(bw, "# %s: NU\n", keyUnits)
	fmt.Fprintf(bw, "\n%s\n", Columns)

	for _, s := range samples {
		src := s.Source
		if src == "" {
			src = types.SourceCamera
		}
		elapsed := float64(s.Timestamp-first) / 1000
		fmt.Fprintf(bw, "%d,%.4f,%.6f,%s\n", s.Timestamp, elapsed, s.Value, src)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("recording: write: %w", err)
	}
	return nil
}

// Read parses a recording. Metadata missing from the header is left zero,
// except SampleRate which falls back to the measured rate.
func Read(r io.Reader) (*Recording, error) {
	rec := &Recording{}
	sc := bufio.NewScanner(r)
	inData := false
	line := 0

	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if err := rec.Metadata.parseComment(strings.TrimSpace(text[1:])); err != nil {
				return nil, &ParseError{Line: line, Err: err}
			}
			continue
		}
		if !inData {
			if strings.Contains(text, "timestamp") || strings.Contains(text, "PLETH") {
				inData = true
			}
			continue
		}

		s, err := parseRow(text)
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		rec.Samples = append(rec.Samples, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("recording: read: %w", err)
	}
	if len(rec.Samples) == 0 {
		return nil, ErrNoData
	}
	if rec.SampleRate == 0 {
		rec.SampleRate = SampleRate(rec.Samples)
	}
	return rec, nil
}

func (m *Metadata) parseComment(c string) error {
	key, val, ok := strings.Cut(c, ":")
	if !ok {
		return nil
	}
	val = strings.TrimSpace(val)
	switch strings.TrimSpace(key) {
	case keySubject:
		m.SubjectID = val
	case keyStart:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return fmt.Errorf("start time: %w", err)
		}
		m.StartTime = t.UTC()
	case keyRate:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(val, "Hz")), 64)
		if err != nil {
			return fmt.Errorf("sample rate: %w", err)
		}
		m.SampleRate = f
	}
	return nil
}

func parseRow(text string) (types.Sample, error) {
	parts := strings.Split(text, ",")
	if len(parts) < 3 {
		return types.Sample{}, fmt.Errorf("expected at least 3 columns, got %d", len(parts))
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return types.Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return types.Sample{}, fmt.Errorf("value: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return types.Sample{}, fmt.Errorf("value: not finite")
	}
	s := types.Sample{Timestamp: ts, Value: v, Source: types.SourceCamera}
	if len(parts) > 3 {
		if src := types.Source(strings.TrimSpace(parts[3])); src != "" {
			if !src.Valid() {
				return types.Sample{}, fmt.Errorf("unknown source %q", src)
			}
			s.Source = src
		}
	}
	return s, nil
}

// SampleRate measures the rate of samples as (N-1) over their duration in
// seconds. Fewer than two samples, or zero duration, gives 0.
func SampleRate(samples []types.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	d := samples[len(samples)-1].Timestamp - samples[0].Timestamp
	if d <= 0 {
		return 0
	}
	return float64(len(samples)-1) / (float64(d) / 1000)
}

// Clip returns the samples with startMs <= Timestamp <= endMs. samples must
// be in timestamp order; the result shares their storage.
func Clip(samples []types.Sample, startMs, endMs int64) []types.Sample {
	lo, hi := -1, -1
	for i, s := range samples {
		if s.Timestamp < startMs || s.Timestamp > endMs {
			continue
		}
		if lo < 0 {
			lo = i
		}
		hi = i
	}
	if lo < 0 {
		return nil
	}
	return samples[lo : hi+1]
}
