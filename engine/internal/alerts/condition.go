package alerts

import (
	"strconv"
	"strings"

	"github.com/pulsekit/pulsekit/engine/internal/session"
)

// Signal states reported by the "signal" field.
const (
	SignalWarming = "warming" // not enough buffered samples for an estimate
	SignalLost    = "lost"    // enough samples, but no plausible heart rate
	SignalOK      = "ok"
)

// signalState classifies an update. The estimator needs more than two
// seconds of buffered samples.
func signalState(u session.Update) string {
	if float64(u.Buffered) <= 2*u.SampleRate {
		return SignalWarming
	}
	if u.BPM == 0 {
		return SignalLost
	}
	return SignalOK
}

// evalCondition evaluates a rule condition against an update.
//
// Supported expressions (field operator value):
//
//	bpm > 120
//	bpm < 45
//	measured_rate < 25
//	samples >= 1000
//	signal == lost
//	signal != ok
//
// bpm comparisons only fire once the session has a heart rate, so a session
// that is still warming up never trips "bpm < 45".
//
// Returns (fires bool, triggering value float64). Unparseable expressions and
// unknown fields never fire.
func evalCondition(cond string, u session.Update) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "signal" {
		state := signalState(u)
		switch op {
		case "==":
			return state == rhs, float64(u.BPM)
		case "!=":
			return state != rhs, float64(u.BPM)
		}
		return false, 0
	}

	v, ok := numericField(field, u)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

func numericField(field string, u session.Update) (float64, bool) {
	switch field {
	case "bpm":
		if u.BPM == 0 {
			return 0, false
		}
		return float64(u.BPM), true
	case "sample_rate":
		return u.SampleRate, true
	case "measured_rate":
		return u.MeasuredRate, true
	case "samples":
		return float64(u.Samples), true
	case "buffered":
		return float64(u.Buffered), true
	}
	return 0, false
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	}
	return false
}
