package scorer

import (
	"errors"
	"math"
	"time"

	"github.com/pulsekit/pulsekit/engine/internal/features"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// ErrInsufficientSignal is returned for the all-zero feature vector.
var ErrInsufficientSignal = errors.New("scorer: insufficient signal")

// Output clamps, in mmHg.
const (
	minSystolic  = 90
	maxSystolic  = 180
	minDiastolic = 60
	maxDiastolic = 120
)

// Baseline estimates blood pressure from the mean and amplitude features:
//
//	systolic  = round(100 + mean·50)      clamped to [90, 180]
//	diastolic = round(60 + amplitude·30)  clamped to [60, 120]
//
// Confidence falls from 0.95 toward 0.5 as peak spacing becomes irregular.
type Baseline struct {
	// Now stamps each estimate. Defaults to time.Now.
	Now func() time.Time
}

// Score implements pipeline.Scorer[types.BPEstimate].
func (b Baseline) Score(v features.Vector) (types.BPEstimate, error) {
	if v.IsZero() {
		return types.BPEstimate{}, ErrInsufficientSignal
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	sys := clamp(math.Round(100+v[features.Mean]*50), minSystolic, maxSystolic)
	dia := clamp(math.Round(60+v[features.Amplitude]*30), minDiastolic, maxDiastolic)

	return types.BPEstimate{
		Systolic:   sys,
		Diastolic:  dia,
		Confidence: confidence(v),
		Timestamp:  now().UnixMilli(),
	}, nil
}

// confidence maps the coefficient of variation of peak intervals onto
// [0.5, 0.95]. Fewer than two peaks gives the floor.
func confidence(v features.Vector) float64 {
	mean := v[features.MeanPeakInterval]
	if v[features.PeakCount] < 2 || mean <= 0 {
		return 0.5
	}
	cv := v[features.PeakIntervalStdDev] / mean
	return 0.95 - 0.45*clamp(cv, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
