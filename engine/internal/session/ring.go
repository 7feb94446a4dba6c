package session

// ring is a fixed-capacity FIFO of float64 that overwrites its oldest value.
type ring struct {
	buf  []float64
	head int // next write position
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) len() int { return r.n }

// values returns the contents oldest first in a new slice.
func (r *ring) values() []float64 {
	out := make([]float64, r.n)
	start := (r.head - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) reset() {
	r.head, r.n = 0, 0
}
