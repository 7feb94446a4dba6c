package streamrpc

import (
	"errors"
	"fmt"
	"math"

	"github.com/pulsekit/pulsekit/pkg/types"
)

// MaxSampleRate is the highest sample rate a batch may declare. It matches
// the engine's filter design limit.
const MaxSampleRate = 1000.0

// SampleBatch is a run of consecutive samples for one session.
type SampleBatch struct {
	SessionID string `json:"session_id"`

	// SampleRate is the nominal rate in Hz. Zero lets the engine use its
	// configured default when it opens the session.
	SampleRate float64 `json:"sample_rate,omitempty"`

	Source   types.Source   `json:"source,omitempty"`
	DeviceID string         `json:"device_id,omitempty"`
	Samples  []types.Sample `json:"samples"`
}

// Validate reports the first structural problem with b.
func (b *SampleBatch) Validate() error {
	if b.SessionID == "" {
		return errors.New("session_id is required")
	}
	if b.SampleRate < 0 || b.SampleRate > MaxSampleRate || math.IsNaN(b.SampleRate) {
		return fmt.Errorf("sample_rate %g is invalid: want 0 (engine default) up to %g Hz", b.SampleRate, MaxSampleRate)
	}
	if !b.Source.Valid() {
		return fmt.Errorf("unknown source %q", b.Source)
	}
	for i, s := range b.Samples {
		if !s.Source.Valid() {
			return fmt.Errorf("samples[%d]: unknown source %q", i, s.Source)
		}
	}
	return nil
}

// Normalized returns the samples with the batch-level source and device
// applied where a sample carries none.
func (b *SampleBatch) Normalized() []types.Sample {
	out := make([]types.Sample, len(b.Samples))
	for i, s := range b.Samples {
		if s.Source == "" {
			s.Source = b.Source
		}
		if s.DeviceID == "" {
			s.DeviceID = b.DeviceID
		}
		out[i] = s
	}
	return out
}

// SendResponse acknowledges one batch.
type SendResponse struct {
	Accepted int    `json:"accepted"`
	BPM      uint32 `json:"bpm"`
}

// StreamSummary is returned when a client stream completes.
type StreamSummary struct {
	SessionID string `json:"session_id"`
	Batches   int64  `json:"batches"`
	Accepted  int64  `json:"accepted"`
	BPM       uint32 `json:"bpm"`
}

// CloseRequest ends a session.
type CloseRequest struct {
	SessionID string `json:"session_id"`
}

// CloseResponse is the final state of a closed session.
type CloseResponse struct {
	SessionID    string  `json:"session_id"`
	Samples      int64   `json:"samples"`
	BPM          uint32  `json:"bpm"`
	MeasuredRate float64 `json:"measured_rate"`
}
