package aggregate

// sample is one window entry. Failed probes occupy a slot (they count toward
// loss) but contribute nothing to the running sums.
type sample struct {
	value float64
	ok    bool
}

// ring is a fixed-capacity window over recent samples. Mean and variance come
// from running sum / sum-of-squares so append and evict are O(1); min and max
// are scanned at snapshot time, which is cheap at window sizes in the
// hundreds.
type ring struct {
	buf   []sample
	head  int // index of the oldest sample
	count int

	sum   float64 // over successful samples only
	sumsq float64
	succ  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]sample, capacity)}
}

func (r *ring) push(s sample) {
	if r.count == len(r.buf) {
		old := r.buf[r.head]
		if old.ok {
			r.sum -= old.value
			r.sumsq -= old.value * old.value
			r.succ--
		}
		r.buf[r.head] = s
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
	}
	if s.ok {
		r.sum += s.value
		r.sumsq += s.value * s.value
		r.succ++
	}
}

func (r *ring) mean() float64 {
	if r.succ == 0 {
		return 0
	}
	return r.sum / float64(r.succ)
}

// variance is the population variance of successful samples in the window.
func (r *ring) variance() float64 {
	if r.succ < 2 {
		return 0
	}
	m := r.mean()
	v := r.sumsq/float64(r.succ) - m*m
	if v < 0 {
		// floating point drift from the incremental update
		return 0
	}
	return v
}

func (r *ring) minMax() (min, max float64) {
	first := true
	for i := 0; i < r.count; i++ {
		s := r.buf[(r.head+i)%len(r.buf)]
		if !s.ok {
			continue
		}
		if first {
			min, max = s.value, s.value
			first = false
			continue
		}
		if s.value < min {
			min = s.value
		}
		if s.value > max {
			max = s.value
		}
	}
	return min, max
}

func (r *ring) lossRatio() float64 {
	if r.count == 0 {
		return 0
	}
	return float64(r.count-r.succ) / float64(r.count)
}
