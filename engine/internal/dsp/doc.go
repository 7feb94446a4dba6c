// Package dsp turns a raw PPG sample stream into a continuously filtered
// waveform.
//
// design.go provides Design, a pure function deriving second-order bandpass
// resonator coefficients from the sample rate and the cutoff frequencies:
//
//	w1 = 2π·low/fs   w2 = 2π·high/fs   w0 = sqrt(w1·w2)   bw = w2 - w1
//	r  = exp(-bw/2)  k  = cos(w0)
//	b  = [1-r, 0, -(1-r)]
//	a  = [1, -2·r·k, r²]
//
// This is a lightweight resonator approximation, not a Butterworth design. It
// keeps the per-sample cost at a handful of multiplies.
//
// filter.go provides StreamFilter, which owns the per-stream state: 3-slot
// input and output histories and a moving-average ring of SmoothingWindow
// entries. Process is O(1) and never allocates. A StreamFilter is single
// writer; independent streams must use independent instances.
//
// notch.go provides the optional powerline notch stage, enabled only when
// Config.NotchFrequency is set and lies below Nyquist.
//
// Invalid cutoffs are reported at construction as a *ConfigurationError that
// matches ErrConfiguration with errors.Is. Nothing on the per-sample path
// returns an error.
package dsp
