package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/pulsekit/engine/internal/dsp"
	"github.com/pulsekit/pulsekit/pkg/types"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session: not found")

	// ErrRateMismatch is returned when an open session is reopened with a
	// different sample rate.
	ErrRateMismatch = errors.New("session: sample rate mismatch")
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 2 * time.Minute

// DefaultSampleRate is the rate used for sessions opened without one when
// Options.SampleRate is zero.
const DefaultSampleRate = 30.0

// Options configures a Registry.
type Options struct {
	DSP dsp.Config
	// SampleRate is the nominal rate for sessions opened without one.
	SampleRate    float64
	BufferSeconds float64
	TTL           time.Duration
}

// Registry is a thread-safe set of live sessions keyed by session ID.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	opts    Options
	now     func() time.Time // injectable for deterministic tests
}

// NewRegistry creates an empty Registry. Zero TTL, SampleRate and
// BufferSeconds use the package defaults.
func NewRegistry(opts Options) *Registry {
	if opts.SampleRate == 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.BufferSeconds <= 0 {
		opts.BufferSeconds = DefaultBufferSeconds
	}
	return &Registry{
		streams: make(map[string]*Stream),
		opts:    opts,
		now:     time.Now,
	}
}

// SetDefaults replaces the default sample rate and the filter configuration
// used for sessions opened from now on. Existing sessions keep their rate and
// their filters.
func (r *Registry) SetDefaults(sampleRate float64, cfg dsp.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sampleRate != r.opts.SampleRate {
		slog.Info("session: default sample rate changed", "from", r.opts.SampleRate, "to", sampleRate)
	}
	r.opts.SampleRate = sampleRate
	r.opts.DSP = cfg
}

// SampleRate returns the rate sessions opened without one will use.
func (r *Registry) SampleRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.SampleRate
}

// DSP returns the filter configuration new sessions will use.
func (r *Registry) DSP() dsp.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.DSP
}

// Open returns the session id, creating it if needed. An empty id is
// replaced by a new UUID. A zero sampleRate opens new sessions at the
// registry's default rate and matches any rate on reopen. Reopening with the
// same sample rate is a no-op.
func (r *Registry) Open(id string, sampleRate float64) (*Stream, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[id]; ok {
		if sampleRate != 0 && s.sampleRate != sampleRate {
			return nil, fmt.Errorf("%w: %s opened at %g Hz, got %g Hz",
				ErrRateMismatch, id, s.sampleRate, sampleRate)
		}
		return s, nil
	}

	if sampleRate == 0 {
		sampleRate = r.opts.SampleRate
	}
	s, err := NewStream(id, sampleRate, r.opts.DSP, r.opts.BufferSeconds)
	if err != nil {
		return nil, err
	}
	s.now = r.now
	s.updatedAt = r.now()
	r.streams[id] = s
	slog.Info("session: opened", "session", id, "sample_rate", sampleRate)
	return s, nil
}

// Get returns the stream for id.
func (r *Registry) Get(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// Push appends samples to an open session.
func (r *Registry) Push(id string, samples ...types.Sample) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.PushBatch(samples)
	return nil
}

// Close removes a session and returns its final state.
func (r *Registry) Close(id string) (Update, error) {
	r.mu.Lock()
	s, ok := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()

	if !ok {
		return Update{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	slog.Info("session: closed", "session", id)
	return s.Snapshot(), nil
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// List returns a snapshot of every session, ordered by ID.
func (r *Registry) List() []Update {
	streams := r.all()
	out := make([]Update, len(streams))
	for i, s := range streams {
		out[i] = s.Snapshot()
	}
	return out
}

// Tick re-estimates the heart rate of every session and returns the
// resulting updates, ordered by ID.
func (r *Registry) Tick() []Update {
	streams := r.all()
	out := make([]Update, len(streams))
	for i, s := range streams {
		s.HeartRate()
		out[i] = s.Snapshot()
	}
	return out
}

func (r *Registry) all() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Evict removes sessions whose last sample is older than now minus TTL.
// It returns the number of sessions removed.
func (r *Registry) Evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.opts.TTL)
	removed := 0
	for id, s := range r.streams {
		if !s.lastUpdate().After(cutoff) {
			delete(r.streams, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.opts.TTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Evict(now); n > 0 {
				slog.Debug("session: evicted idle sessions", "count", n)
			}
		}
	}
}

// Monitor calls Tick every interval and hands the updates to fn. It blocks
// until ctx is cancelled.
func (r *Registry) Monitor(ctx context.Context, interval time.Duration, fn func([]Update)) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if updates := r.Tick(); len(updates) > 0 {
				fn(updates)
			}
		}
	}
}
