package recording

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pulsekit/pulsekit/pkg/types"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func synth(n int, start int64, stepMs int64) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		out[i] = types.Sample{
			Timestamp: start + int64(i)*stepMs,
			Value:     0.5 + 0.25*math.Sin(float64(i)/5),
		}
	}
	return out
}

func TestWrite_Format(t *testing.T) {
	samples := []types.Sample{
		{Timestamp: 1767225600000, Value: 0.5},
		{Timestamp: 1767225600100, Value: 0.25, Source: types.SourceBLE},
	}
	var buf bytes.Buffer
	if err := Write(&buf, Metadata{SubjectID: "s-001"}, samples); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := strings.Join([]string{
		"# MIMIC-III Compatible PPG Recording",
		"# Subject ID: s-001",
		"# Start Time: 2026-01-01T00:00:00.000Z",
		"# Sample Rate: 10.0000 Hz",
		"# Signal: PLETH",
		"# Units: NU",
		"",
		"timestamp_ms,elapsed_seconds,PLETH,source",
		"1767225600000,0.0000,0.500000,camera",
		"1767225600100,0.1000,0.250000,ble",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("output mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWrite_Empty(t *testing.T) {
	if err := Write(&bytes.Buffer{}, Metadata{}, nil); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestRoundTrip(t *testing.T) {
	in := synth(90, 1767225600000, 33)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := Write(&buf, Metadata{SubjectID: "42", StartTime: start, SampleRate: 30}, in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.SubjectID != "42" {
		t.Errorf("SubjectID = %q", rec.SubjectID)
	}
	if !rec.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", rec.StartTime, start)
	}
	if rec.SampleRate != 30 {
		t.Errorf("SampleRate = %v, want 30", rec.SampleRate)
	}
	if len(rec.Samples) != len(in) {
		t.Fatalf("len = %d, want %d", len(rec.Samples), len(in))
	}
	for i, s := range rec.Samples {
		if s.Timestamp != in[i].Timestamp {
			t.Errorf("[%d] timestamp = %d, want %d", i, s.Timestamp, in[i].Timestamp)
		}
		if !almostEqual(s.Value, in[i].Value, 5e-7) {
			t.Errorf("[%d] value = %v, want %v", i, s.Value, in[i].Value)
		}
		if s.Source != types.SourceCamera {
			t.Errorf("[%d] source = %q", i, s.Source)
		}
	}
}

func TestRead_Lenient(t *testing.T) {
	src := `
# free-form comment
timestamp_ms,elapsed_seconds,PLETH

1000,0.0,0.1

2000,1.0,0.2
3000,2.0,0.3
`
	rec, err := Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rec.Samples) != 3 {
		t.Fatalf("len = %d, want 3", len(rec.Samples))
	}
	if rec.SampleRate != 1 {
		t.Errorf("measured SampleRate = %v, want 1", rec.SampleRate)
	}
	if rec.Samples[2].Value != 0.3 {
		t.Errorf("value = %v", rec.Samples[2].Value)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"too few columns", "timestamp_ms,elapsed_seconds,PLETH,source\n1000,0.0\n", 2},
		{"bad value", "timestamp_ms,elapsed_seconds,PLETH,source\n1000,0.0,abc,camera\n", 2},
		{"bad timestamp", "# x\ntimestamp_ms,elapsed_seconds,PLETH,source\n1000,0,1,camera\nnope,0,1,camera\n", 4},
		{"nan value", "timestamp_ms,elapsed_seconds,PLETH,source\n1000,0.0,NaN,camera\n", 2},
		{"unknown source", "timestamp_ms,elapsed_seconds,PLETH,source\n1000,0.0,0.5,radar\n", 2},
		{"bad rate", "# Sample Rate: fast Hz\ntimestamp_ms,elapsed_seconds,PLETH\n1,0,0.5\n", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.src))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ParseError", err)
			}
			if pe.Line != tc.line {
				t.Errorf("line = %d, want %d", pe.Line, tc.line)
			}
		})
	}
}

func TestRead_NoData(t *testing.T) {
	for _, src := range []string{
		"",
		"# Subject ID: 1\n\n",
		"# header only\ntimestamp_ms,elapsed_seconds,PLETH,source\n",
		"1000,0.0,0.5,camera\n",
	} {
		if _, err := Read(strings.NewReader(src)); !errors.Is(err, ErrNoData) {
			t.Errorf("Read(%q) err = %v, want ErrNoData", src, err)
		}
	}
}

func TestSampleRate(t *testing.T) {
	if got := SampleRate(synth(301, 0, 10)); !almostEqual(got, 100, 1e-9) {
		t.Errorf("SampleRate = %v, want 100", got)
	}
	if got := SampleRate(synth(1, 0, 10)); got != 0 {
		t.Errorf("single sample rate = %v, want 0", got)
	}
	if got := SampleRate(synth(5, 0, 0)); got != 0 {
		t.Errorf("zero duration rate = %v, want 0", got)
	}
}

func TestClip(t *testing.T) {
	s := synth(10, 0, 100) // 0..900 ms
	got := Clip(s, 250, 600)
	if len(got) != 4 || got[0].Timestamp != 300 || got[3].Timestamp != 600 {
		t.Errorf("Clip = %v", got)
	}
	if got := Clip(s, 2000, 3000); got != nil {
		t.Errorf("out of range clip = %v, want nil", got)
	}
	if got := Clip(s, 0, 900); len(got) != 10 {
		t.Errorf("full clip len = %d", len(got))
	}
}
