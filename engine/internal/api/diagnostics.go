package api

import (
	"fmt"
	"math"
	"sort"

	"github.com/pulsekit/pulsekit/engine/internal/session"
)

// Thresholds for the signal-quality hints.
const (
	lowAmplitude   = 0.01 // raw peak-to-peak, normalized units
	clipFraction   = 0.05 // share of buffered samples at 0 or 1
	rateDriftRatio = 0.10 // |measured-nominal| / nominal
)

// DiagnosticHint is one human-readable insight about a session's signal.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number associated with the hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives signal-quality hints from a session's state and
// raw buffer, critical first.
func computeDiagnostics(u session.Update, raw []float64) []DiagnosticHint {
	if float64(u.Buffered) <= 2*u.SampleRate {
		need := math.Ceil(2*u.SampleRate) + 1
		return []DiagnosticHint{{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: fmt.Sprintf("Collecting samples: %d of %.0f needed before a heart rate can be estimated.",
				u.Buffered, need),
		}}
	}

	var hints []DiagnosticHint

	if u.BPM == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "signal_lost",
			Level: "critical",
			Title: "No pulse detected",
			Detail: "The buffer holds enough samples but no plausible heart rate (40-200 bpm) " +
				"could be found. Check finger placement or sensor contact.",
		})
	}

	if len(raw) > 0 {
		lo, hi := raw[0], raw[0]
		clipped := 0
		for _, v := range raw {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			if v <= 0 || v >= 1 {
				clipped++
			}
		}
		if p2p := hi - lo; p2p < lowAmplitude {
			hints = append(hints, DiagnosticHint{
				Key:    "low_amplitude",
				Level:  "warning",
				Title:  "Weak signal",
				Detail: fmt.Sprintf("Raw peak-to-peak amplitude is %.4f; the pulse may be buried in noise.", p2p),
				Value:  ptr(p2p),
			})
		}
		if frac := float64(clipped) / float64(len(raw)); frac > clipFraction {
			hints = append(hints, DiagnosticHint{
				Key:    "clipping",
				Level:  "warning",
				Title:  fmt.Sprintf("%.0f%% clipped", frac*100),
				Detail: "Samples are saturating at the ends of the normalized range. Reduce exposure or gain.",
				Value:  ptr(frac),
			})
		}
	}

	if u.MeasuredRate > 0 && u.SampleRate > 0 {
		drift := math.Abs(u.MeasuredRate-u.SampleRate) / u.SampleRate
		if drift > rateDriftRatio {
			hints = append(hints, DiagnosticHint{
				Key:   "rate_drift",
				Level: "warning",
				Title: "Sample rate drift",
				Detail: fmt.Sprintf("Samples arrive at %.2f Hz but the filter was designed for %.2f Hz. "+
					"Heart-rate estimates will be scaled by the same error.", u.MeasuredRate, u.SampleRate),
				Value: ptr(u.MeasuredRate),
			})
		}
	}

	if len(hints) == 0 {
		bpm := float64(u.BPM)
		hints = append(hints, DiagnosticHint{
			Key:    "ok",
			Level:  "ok",
			Title:  fmt.Sprintf("%d bpm", u.BPM),
			Detail: "Signal quality is good.",
			Value:  &bpm,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func ptr(v float64) *float64 { return &v }
