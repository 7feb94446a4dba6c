package dsp

import "math"

// notchQ sets the notch width; 30 gives about 2 Hz at 60 Hz.
const notchQ = 30.0

// notch is a biquad band-reject stage from the RBJ audio EQ cookbook,
// run in direct form I.
type notch struct {
	coef Coefficients
	x, y history
}

// newNotch returns false when freq cannot be represented at sampleRate.
func newNotch(sampleRate, freq float64) (*notch, bool) {
	if !(freq > 0) || !(freq < sampleRate/2) {
		return nil, false
	}
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * notchQ)
	cos := math.Cos(w0)
	a0 := 1 + alpha

	return &notch{coef: Coefficients{
		B: [3]float64{1 / a0, -2 * cos / a0, 1 / a0},
		A: [3]float64{1, -2 * cos / a0, (1 - alpha) / a0},
	}}, true
}

func (n *notch) process(v float64) float64 {
	n.x.push(v)
	b, a := &n.coef.B, &n.coef.A
	y := b[0]*n.x.at(0) + b[1]*n.x.at(1) + b[2]*n.x.at(2) -
		a[1]*n.y.at(0) - a[2]*n.y.at(1)
	n.y.push(y)
	return y
}

func (n *notch) reset() {
	n.x.reset()
	n.y.reset()
}
