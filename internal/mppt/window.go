package mppt

// window is a fixed-capacity ring of the most recent trial voltages.
type window struct {
	buf  []float64
	next int
	n    int
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *window) full() bool { return w.n == len(w.buf) }

func (w *window) len() int { return w.n }

func (w *window) reset() {
	w.next, w.n = 0, 0
}

// spread returns max - min over the stored samples, 0 when empty.
func (w *window) spread() float64 {
	if w.n == 0 {
		return 0
	}
	lo, hi := w.buf[0], w.buf[0]
	for _, v := range w.buf[1:w.n] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return hi - lo
}
