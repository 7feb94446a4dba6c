package heartrate

import "math"

// Unknown is the sentinel returned when no plausible rate can be derived.
const Unknown uint32 = 0

const (
	// MinBPM and MaxBPM bound the plausible resting/exercise range.
	MinBPM = 40
	MaxBPM = 200

	// minSeconds of data required before an estimate is attempted.
	minSeconds = 2

	// flatRange below which the buffer is treated as carrying no signal.
	flatRange = 1e-4

	// thresholdOffset is added to the normalized mean to form the peak threshold.
	thresholdOffset = 0.4

	// refractoryDivisor sets the minimum peak spacing to fs/4 samples,
	// a hard ceiling of 240 bpm.
	refractoryDivisor = 4
)

// Estimate returns the heart rate in bpm for buf sampled at sampleRate Hz,
// or Unknown.
func Estimate(buf []float64, sampleRate float64) uint32 {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return Unknown
	}
	if float64(len(buf)) < minSeconds*sampleRate || len(buf) < 3 {
		return Unknown
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range buf {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Unknown
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span < flatRange {
		return Unknown
	}

	// norm maps v into [-1, 1]; computed on the fly to avoid an allocation.
	norm := func(v float64) float64 { return 2*(v-lo)/span - 1 }

	var sum float64
	for _, v := range buf {
		sum += norm(v)
	}
	threshold := sum/float64(len(buf)) + thresholdOffset
	refractory := sampleRate / refractoryDivisor

	var (
		peaks int
		first int
		last  = -1
	)
	for i := 1; i < len(buf)-1; i++ {
		v := norm(buf[i])
		if v <= norm(buf[i-1]) || v <= norm(buf[i+1]) || v <= threshold {
			continue
		}
		if last >= 0 && float64(i-last) <= refractory {
			continue
		}
		if last < 0 {
			first = i
		}
		peaks++
		last = i
	}
	if peaks < 2 {
		return Unknown
	}

	// The mean of consecutive intervals telescopes to (last-first)/(peaks-1).
	meanInterval := float64(last-first) / float64(peaks-1)
	bpm := math.Round(60 * sampleRate / meanInterval)
	if bpm < MinBPM || bpm > MaxBPM {
		return Unknown
	}
	return uint32(bpm)
}
