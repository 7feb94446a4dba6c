package types

import "time"

// Source identifies the acquisition collaborator that produced a sample.
type Source string

const (
	SourceCamera Source = "camera"
	SourceBLE    Source = "ble"
)

// Valid reports whether s is a known source. The empty source is accepted
// and treated as camera, matching the recording format default.
func (s Source) Valid() bool {
	switch s {
	case SourceCamera, SourceBLE, "":
		return true
	}
	return false
}

// Sample is one normalized PPG reading.
type Sample struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// Value is the normalized amplitude, expected in roughly [0, 1].
	Value float64 `json:"value"`

	Source   Source `json:"source,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Time returns the sample timestamp as a time.Time in UTC.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// Values copies the Value field of every sample into a new slice.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// BPEstimate is one blood-pressure estimate produced by a scorer.
type BPEstimate struct {
	Systolic   float64 `json:"systolic"`
	Diastolic  float64 `json:"diastolic"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}
