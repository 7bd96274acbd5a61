package resilience

import "time"

// Backoff retardo exponencial con tope y jitter.
// Delay(n) = min(Max, Base·2ⁿ + jitter), jitter ∈ [0, Base·2ⁿ/2), por lo que es no decreciente.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay retardo antes del reintento n (0 = primer reintento). r debe estar en [0, 1).
func (b Backoff) Delay(n int, r float64) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		d *= 2
	}
	d += time.Duration(r * float64(d) / 2)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
