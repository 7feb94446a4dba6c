package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// Dim is the length of every feature vector.
	Dim = 20

	// MinWindow is the shortest window that produces non-zero features.
	MinWindow = 100

	// Bands is the number of segment-energy features.
	Bands = 10

	// peakFraction positions the peak threshold between mean and max.
	peakFraction = 0.3
)

// Positions of the named features within a Vector.
const (
	Mean = iota
	Variance
	StdDev
	Amplitude
	MaxRisingSlope
	MeanPeakInterval
	PeakIntervalStdDev
	PeakCount
	Max
	Min
	BandEnergy // first of Bands consecutive entries
)

// Vector is an ordered feature vector.
type Vector [Dim]float64

// IsZero reports whether v is the insufficient-data sentinel.
func (v Vector) IsZero() bool {
	return v == Vector{}
}

var names = [Dim]string{
	"mean", "variance", "std", "amplitude", "max_rising_slope",
	"mean_peak_interval", "peak_interval_std", "peak_count", "max", "min",
	"band_energy_0", "band_energy_1", "band_energy_2", "band_energy_3", "band_energy_4",
	"band_energy_5", "band_energy_6", "band_energy_7", "band_energy_8", "band_energy_9",
}

// Names returns the feature names in vector order.
func Names() [Dim]string { return names }

// Map returns v keyed by feature name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, Dim)
	for i, n := range names {
		out[n] = v[i]
	}
	return out
}

// Extract computes the feature vector of window.
func Extract(window []float64) Vector {
	var v Vector
	if len(window) < MinWindow {
		return v
	}

	mean := stat.Mean(window, nil)
	variance := stat.PopVariance(window, nil)
	hi := floats.Max(window)
	lo := floats.Min(window)

	var slope float64
	for i := 1; i < len(window); i++ {
		if d := window[i] - window[i-1]; d > slope {
			slope = d
		}
	}

	peaks := findPeaks(window, mean+peakFraction*(hi-mean))
	intervalMean, intervalStd := intervalStats(peaks)

	v[Mean] = mean
	v[Variance] = variance
	v[StdDev] = math.Sqrt(variance)
	v[Amplitude] = hi - lo
	v[MaxRisingSlope] = slope
	v[MeanPeakInterval] = intervalMean
	v[PeakIntervalStdDev] = intervalStd
	v[PeakCount] = float64(len(peaks))
	v[Max] = hi
	v[Min] = lo

	size := len(window) / Bands
	for b := 0; b < Bands; b++ {
		seg := window[b*size : (b+1)*size]
		v[BandEnergy+b] = floats.Dot(seg, seg) / float64(size)
	}

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
	return v
}

// findPeaks returns the indices of strict local maxima above threshold.
func findPeaks(values []float64, threshold float64) []int {
	var peaks []int
	for i := 1; i < len(values)-1; i++ {
		if values[i] > values[i-1] && values[i] > values[i+1] && values[i] > threshold {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// intervalStats returns the mean and population std dev of the spacing
// between consecutive peaks, or zeros when fewer than two peaks exist.
func intervalStats(peaks []int) (mean, std float64) {
	if len(peaks) < 2 {
		return 0, 0
	}
	intervals := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i] - peaks[i-1])
	}
	mean = stat.Mean(intervals, nil)
	if len(intervals) < 2 {
		return mean, 0
	}
	return mean, stat.PopStdDev(intervals, nil)
}
