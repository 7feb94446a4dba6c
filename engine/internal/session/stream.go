package session

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/engine/internal/heartrate"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// DefaultBufferSeconds is the length of the rolling buffers.
const DefaultBufferSeconds = 10

// MaxBufferSeconds caps the rolling buffers; longer requests are clamped.
const MaxBufferSeconds = 600

// Update is a point-in-time view of one session, published after every
// heart-rate tick.
type Update struct {
	SessionID     string       `json:"session_id"`
	BPM           uint32       `json:"bpm"`
	SampleRate    float64      `json:"sample_rate"`
	MeasuredRate  float64      `json:"measured_rate"`
	Samples       int64        `json:"samples"`
	Buffered      int          `json:"buffered"`
	Source        types.Source `json:"source,omitempty"`
	DeviceID      string       `json:"device_id,omitempty"`
	LastTimestamp int64        `json:"last_timestamp"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Stream is the live state of one session. All methods are safe for
// concurrent use.
type Stream struct {
	mu sync.Mutex

	id         string
	sampleRate float64
	source     types.Source
	deviceID   string

	filter   *dsp.StreamFilter
	raw      *ring
	filtered *ring

	count     int64
	first     int64
	last      int64
	bpm       uint32
	updatedAt time.Time

	now func() time.Time
}

// NewStream creates a stream for a session sampled at sampleRate Hz with
// rolling buffers of bufferSeconds. bufferSeconds <= 0 uses the default.
func NewStream(id string, sampleRate float64, cfg dsp.Config, bufferSeconds float64) (*Stream, error) {
	f, err := dsp.NewStreamFilter(sampleRate, cfg)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if bufferSeconds <= 0 {
		bufferSeconds = DefaultBufferSeconds
	}
	if bufferSeconds > MaxBufferSeconds {
		bufferSeconds = MaxBufferSeconds
	}
	size := int(math.Ceil(bufferSeconds * sampleRate))
	if size < 1 {
		size = 1
	}
	return &Stream{
		id:         id,
		sampleRate: sampleRate,
		filter:     f,
		raw:        newRing(size),
		filtered:   newRing(size),
		now:        time.Now,
	}, nil
}

// ID returns the session ID.
func (s *Stream) ID() string { return s.id }

// SampleRate returns the nominal rate the stream's filter was designed for.
func (s *Stream) SampleRate() float64 { return s.sampleRate }

// Push filters one sample, appends it to the rolling buffers and returns the
// filtered value.
func (s *Stream) Push(sm types.Sample) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushLocked(sm)
}

// PushBatch pushes samples in order and returns how many were accepted.
func (s *Stream) PushBatch(samples []types.Sample) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range samples {
		s.pushLocked(sm)
	}
	return len(samples)
}

func (s *Stream) pushLocked(sm types.Sample) float64 {
	y := s.filter.Process(sm.Value)
	s.raw.push(sm.Value)
	s.filtered.push(y)

	if s.count == 0 {
		s.first = sm.Timestamp
	}
	s.last = sm.Timestamp
	s.count++
	if sm.Source != "" {
		s.source = sm.Source
	}
	if sm.DeviceID != "" {
		s.deviceID = sm.DeviceID
	}
	s.updatedAt = s.now()
	return y
}

// HeartRate re-estimates the heart rate over the filtered buffer. Until the
// buffer holds more than two seconds of samples it returns heartrate.Unknown.
func (s *Stream) HeartRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if float64(s.filtered.len()) <= 2*s.sampleRate {
		s.bpm = heartrate.Unknown
		return s.bpm
	}
	s.bpm = heartrate.Estimate(s.filtered.values(), s.sampleRate)
	return s.bpm
}

// Filtered returns a copy of the filtered buffer, oldest first.
func (s *Stream) Filtered() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtered.values()
}

// Raw returns a copy of the raw buffer, oldest first.
func (s *Stream) Raw() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw.values()
}

// Reset clears the filter state and buffers but keeps the sample counters.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Reset()
	s.raw.reset()
	s.filtered.reset()
	s.bpm = heartrate.Unknown
}

// Snapshot returns the current state without re-estimating.
func (s *Stream) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stream) snapshotLocked() Update {
	return Update{
		SessionID:     s.id,
		BPM:           s.bpm,
		SampleRate:    s.sampleRate,
		MeasuredRate:  measuredRate(s.count, s.first, s.last),
		Samples:       s.count,
		Buffered:      s.filtered.len(),
		Source:        s.source,
		DeviceID:      s.deviceID,
		LastTimestamp: s.last,
		UpdatedAt:     s.updatedAt,
	}
}

func (s *Stream) lastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// measuredRate is (N-1) over the elapsed seconds between first and last.
func measuredRate(n, first, last int64) float64 {
	if n < 2 || last <= first {
		return 0
	}
	return float64(n-1) / (float64(last-first) / 1000)
}
