package txn

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBackoffBase is the default backoff unit.
const DefaultBackoffBase = 100 * time.Millisecond

// NewBackOffFunc creates the backoff schedule of one transaction run. The executor resets it before the first
// attempt and asks it for a wait after every conflict.
type NewBackOffFunc func() backoff.BackOff

// LinearBackOff waits Base*n after the n-th conflict. With Jitter set it adds a random delay in [0, Base), which
// keeps transactions that collided together from retrying in lockstep. Either way, with a positive Base, every wait
// is longer than the previous one and the total time slept grows strictly with every conflict.
type LinearBackOff struct {
	Base   time.Duration
	Jitter bool

	n int
}

// NewLinearBackOff returns a schedule factory for LinearBackOff.
func NewLinearBackOff(base time.Duration, jitter bool) NewBackOffFunc {
	return func() backoff.BackOff {
		return &LinearBackOff{Base: base, Jitter: jitter}
	}
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.n = 0
}

// NextBackOff implements backoff.BackOff. It never returns backoff.Stop; a run retries until it commits or its
// context ends.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.Base * time.Duration(b.n)
	if b.Jitter && b.Base > 0 {
		d += time.Duration(rand.Int63n(int64(b.Base)))
	}
	return d
}
