package dsp

import (
	"log/slog"
)

// history is a 3-slot ring holding the most recent values of a signal.
// at(0) is the newest entry, at(2) the oldest.
type history struct {
	buf  [3]float64
	head int
}

func (h *history) push(v float64) {
	h.head++
	if h.head == len(h.buf) {
		h.head = 0
	}
	h.buf[h.head] = v
}

func (h *history) at(lag int) float64 {
	i := h.head - lag
	if i < 0 {
		i += len(h.buf)
	}
	return h.buf[i]
}

func (h *history) reset() {
	*h = history{}
}

// smoother is a fixed-capacity FIFO that reports the mean of its contents.
type smoother struct {
	buf   []float64
	next  int
	count int
	sum   float64
}

func newSmoother(size int) smoother {
	return smoother{buf: make([]float64, size)}
}

// add pushes v, evicting the oldest entry when full, and returns the mean.
func (s *smoother) add(v float64) float64 {
	if s.count == len(s.buf) {
		s.sum -= s.buf[s.next]
	} else {
		s.count++
	}
	s.buf[s.next] = v
	s.sum += v

	s.next++
	if s.next == len(s.buf) {
		s.next = 0
		// Re-sum once per lap so the running total cannot drift.
		s.sum = 0
		for _, b := range s.buf[:s.count] {
			s.sum += b
		}
	}
	return s.sum / float64(s.count)
}

func (s *smoother) reset() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.next, s.count, s.sum = 0, 0, 0
}

// StreamFilter applies the bandpass resonator followed by a moving average
// to one sample stream.
//
// A StreamFilter is not safe for concurrent use.
type StreamFilter struct {
	cfg        Config
	sampleRate float64
	coef       Coefficients

	x, y   history
	smooth smoother
	notch  *notch
}

// NewStreamFilter validates cfg against sampleRate and returns a filter with
// zeroed state.
func NewStreamFilter(sampleRate float64, cfg Config) (*StreamFilter, error) {
	if err := cfg.Validate(sampleRate); err != nil {
		return nil, err
	}
	coef, _ := Design(sampleRate, cfg.BandpassLow, cfg.BandpassHigh)

	f := &StreamFilter{
		cfg:        cfg,
		sampleRate: sampleRate,
		coef:       coef,
		smooth:     newSmoother(cfg.SmoothingWindow),
	}

	if cfg.NotchFrequency != nil {
		n, ok := newNotch(sampleRate, *cfg.NotchFrequency)
		if ok {
			f.notch = n
		} else {
			slog.Warn("dsp: notch frequency at or above nyquist, notch stage disabled",
				"notch_hz", *cfg.NotchFrequency, "sample_rate", sampleRate)
		}
	}
	return f, nil
}

// Config returns the configuration the filter was built with.
func (f *StreamFilter) Config() Config { return f.cfg }

// SampleRate returns the sample rate the filter was designed for.
func (f *StreamFilter) SampleRate() float64 { return f.sampleRate }

// Coefficients returns the bandpass taps.
func (f *StreamFilter) Coefficients() Coefficients { return f.coef }

// Process consumes one raw sample and returns one filtered sample.
func (f *StreamFilter) Process(raw float64) float64 {
	if f.notch != nil {
		raw = f.notch.process(raw)
	}

	f.x.push(raw)
	b, a := &f.coef.B, &f.coef.A
	y := (b[0]*f.x.at(0) + b[1]*f.x.at(1) + b[2]*f.x.at(2) -
		a[1]*f.y.at(0) - a[2]*f.y.at(1)) / a[0]
	f.y.push(y)

	return f.smooth.add(y)
}

// ProcessBatch filters src in order, appending results to dst.
func (f *StreamFilter) ProcessBatch(dst, src []float64) []float64 {
	for _, v := range src {
		dst = append(dst, f.Process(v))
	}
	return dst
}

// Reset returns the filter to its freshly constructed state.
func (f *StreamFilter) Reset() {
	f.x.reset()
	f.y.reset()
	f.smooth.reset()
	if f.notch != nil {
		f.notch.reset()
	}
}
