package dsp

import (
	"errors"
	"fmt"
	"math"
)

// Defaults mirror the acquisition app's signal-processing constants.
const (
	DefaultBandpassLow     = 0.5 // Hz
	DefaultBandpassHigh    = 5.0 // Hz
	DefaultSmoothingWindow = 5   // samples
)

// MaxSampleRate bounds the rates a filter can be designed for. PPG sources
// run well below it; anything higher is a malformed request.
const MaxSampleRate = 1000.0 // Hz

// ErrConfiguration is matched by every *ConfigurationError.
var ErrConfiguration = errors.New("invalid dsp configuration")

// ConfigurationError reports an invalid cutoff / sample-rate relationship.
// It is only ever returned at construction time.
type ConfigurationError struct {
	SampleRate float64
	Low        float64
	High       float64
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dsp: %s (sample_rate=%g low=%g high=%g)",
		e.Reason, e.SampleRate, e.Low, e.High)
}

// Is makes errors.Is(err, ErrConfiguration) succeed.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config holds the filter settings for one stream.
type Config struct {
	// BandpassLow is the lower cutoff in Hz. Must be > 0.
	BandpassLow float64 `yaml:"bandpass_low" json:"bandpass_low"`

	// BandpassHigh is the upper cutoff in Hz. Must be > BandpassLow and below
	// Nyquist (sampleRate/2).
	BandpassHigh float64 `yaml:"bandpass_high" json:"bandpass_high"`

	// NotchFrequency is the optional powerline frequency to reject (50/60 Hz).
	// Nil disables the notch stage.
	NotchFrequency *float64 `yaml:"notch_frequency" json:"notch_frequency,omitempty"`

	// SmoothingWindow is the moving-average length in samples. Must be >= 1.
	SmoothingWindow int `yaml:"smoothing_window" json:"smoothing_window"`
}

// DefaultConfig returns the 0.5–5 Hz band with a 5-sample smoother and no notch.
func DefaultConfig() Config {
	return Config{
		BandpassLow:     DefaultBandpassLow,
		BandpassHigh:    DefaultBandpassHigh,
		SmoothingWindow: DefaultSmoothingWindow,
	}
}

// Validate checks cfg against sampleRate.
func (c Config) Validate(sampleRate float64) error {
	if _, err := Design(sampleRate, c.BandpassLow, c.BandpassHigh); err != nil {
		return err
	}
	if c.SmoothingWindow < 1 {
		return &ConfigurationError{
			SampleRate: sampleRate, Low: c.BandpassLow, High: c.BandpassHigh,
			Reason: fmt.Sprintf("smoothing window must be >= 1, got %d", c.SmoothingWindow),
		}
	}
	return nil
}

// Coefficients are the feedforward (B) and feedback (A) taps of a
// second-order section.
type Coefficients struct {
	B [3]float64
	A [3]float64
}

// Design derives bandpass resonator coefficients for the given sample rate
// and cutoffs. It requires 0 < low < high < sampleRate/2 and
// sampleRate <= MaxSampleRate.
func Design(sampleRate, low, high float64) (Coefficients, error) {
	fail := func(reason string) (Coefficients, error) {
		return Coefficients{}, &ConfigurationError{
			SampleRate: sampleRate, Low: low, High: high, Reason: reason,
		}
	}

	// Negated comparisons also reject NaN.
	switch {
	case !(sampleRate > 0) || math.IsInf(sampleRate, 0):
		return fail("sample rate must be positive and finite")
	case sampleRate > MaxSampleRate:
		return fail(fmt.Sprintf("sample rate must be at most %g Hz", MaxSampleRate))
	case !(low > 0):
		return fail("bandpass low must be > 0")
	case !(high > low):
		return fail("bandpass high must be > bandpass low")
	case !(high < sampleRate/2):
		return fail("bandpass high must be below nyquist")
	}

	w1 := 2 * math.Pi * low / sampleRate
	w2 := 2 * math.Pi * high / sampleRate
	w0 := math.Sqrt(w1 * w2)
	bw := w2 - w1
	r := math.Exp(-bw / 2)
	k := math.Cos(w0)

	return Coefficients{
		B: [3]float64{1 - r, 0, -(1 - r)},
		A: [3]float64{1, -2 * r * k, r * r},
	}, nil
}
